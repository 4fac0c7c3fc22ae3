package command

import (
	"github.com/gameraccoon/tank-game-sub000/networking/shared/wire"
	"github.com/gameraccoon/tank-game-sub000/networking/world"
)

// CreateProjectile spawns a projectile entity (§4.3). Grounded on
// original_source/.../CreateProjectileCommand.cpp: unlike CreatePlayerEntity
// its serialization is not receiver-dependent (the original's ConnectionId
// parameter goes unused).
type CreateProjectile struct {
	Pos                  world.Vec2
	Dir                  world.Vec2
	Speed                float32
	NetworkEntityID      world.NetworkEntityID
	OwnerNetworkEntityID world.NetworkEntityID
}

func NewCreateProjectile(pos, dir world.Vec2, speed float32, networkEntityID, ownerNetworkEntityID world.NetworkEntityID) *CreateProjectile {
	return &CreateProjectile{Pos: pos, Dir: dir, Speed: speed, NetworkEntityID: networkEntityID, OwnerNetworkEntityID: ownerNetworkEntityID}
}

func (c *CreateProjectile) Kind() Kind { return KindCreateProjectile }

func (c *CreateProjectile) Execute(snap *world.Snapshot) error {
	return snap.Add(&world.Entity{
		NetworkID:       c.NetworkEntityID,
		Position:        c.Pos,
		Direction:       c.Dir,
		Speed:           c.Speed,
		IsProjectile:    true,
		OwnerNetworkID:  c.OwnerNetworkEntityID,
		OwnerConnection: world.InvalidConnectionID,
	})
}

// ServerSerialize writes the same bytes to every receiver (not
// receiver-dependent), matching the original's commented-out ConnectionId
// parameter.
func (c *CreateProjectile) ServerSerialize(w *wire.Writer, _ world.ConnectionID) {
	w.PutU64(uint64(c.NetworkEntityID))
	w.PutF32(c.Pos.X)
	w.PutF32(c.Pos.Y)
	w.PutF32(c.Speed)
	w.PutU64(uint64(c.OwnerNetworkEntityID))
	w.PutF32(c.Dir.X)
	w.PutF32(c.Dir.Y)
}

func DeserializeCreateProjectile(r *wire.Reader) (Command, error) {
	netID, err := r.GetU64()
	if err != nil {
		return nil, err
	}
	x, err := r.GetF32()
	if err != nil {
		return nil, err
	}
	y, err := r.GetF32()
	if err != nil {
		return nil, err
	}
	speed, err := r.GetF32()
	if err != nil {
		return nil, err
	}
	ownerID, err := r.GetU64()
	if err != nil {
		return nil, err
	}
	dx, err := r.GetF32()
	if err != nil {
		return nil, err
	}
	dy, err := r.GetF32()
	if err != nil {
		return nil, err
	}
	return &CreateProjectile{
		Pos:                  world.Vec2{X: x, Y: y},
		Dir:                  world.Vec2{X: dx, Y: dy},
		Speed:                speed,
		NetworkEntityID:      world.NetworkEntityID(netID),
		OwnerNetworkEntityID: world.NetworkEntityID(ownerID),
	}, nil
}
