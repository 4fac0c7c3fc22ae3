package command

import (
	"github.com/gameraccoon/tank-game-sub000/networking/shared/wire"
	"github.com/gameraccoon/tank-game-sub000/networking/world"
)

// CreatePlayerEntity spawns a player-controlled entity (§4.3). Grounded on
// original_source/.../CreatePlayerEntityCommand.cpp: createServerSide sets
// OwnerConnection and leaves IsOwner for per-receiver serialization;
// createClientSide (ClientDeserialize) never learns the owner connection at
// all, only the already-resolved is_owner bit.
type CreatePlayerEntity struct {
	Pos             world.Vec2
	NetworkEntityID world.NetworkEntityID
	IsOwner         bool
	OwnerConnection world.ConnectionID
}

// NewCreatePlayerEntityServerSide mirrors createServerSide: the owner
// connection is known and IsOwner is resolved later, per receiver, during
// ServerSerialize.
func NewCreatePlayerEntityServerSide(pos world.Vec2, networkEntityID world.NetworkEntityID, owner world.ConnectionID) *CreatePlayerEntity {
	return &CreatePlayerEntity{Pos: pos, NetworkEntityID: networkEntityID, OwnerConnection: owner}
}

func (c *CreatePlayerEntity) Kind() Kind { return KindCreatePlayerEntity }

// Execute creates the entity in snap. Every spawned player entity gets
// InterpolationEnabled, owner or not (§16: MoveInterpolationComponent is
// added unconditionally on the client side in the reference implementation).
func (c *CreatePlayerEntity) Execute(snap *world.Snapshot) error {
	return snap.Add(&world.Entity{
		NetworkID:            c.NetworkEntityID,
		Position:             c.Pos,
		IsOwner:              c.IsOwner,
		OwnerConnection:      c.OwnerConnection,
		InterpolationEnabled: true,
	})
}

// ServerSerialize writes the is_owner bit resolved for this specific
// receiver, then the network id and position. Never writes OwnerConnection
// onto the wire (§4.3).
func (c *CreatePlayerEntity) ServerSerialize(w *wire.Writer, receiver world.ConnectionID) {
	isOwner := receiver == c.OwnerConnection
	if isOwner {
		w.PutU8(1)
	} else {
		w.PutU8(0)
	}
	w.PutU64(uint64(c.NetworkEntityID))
	w.PutF32(c.Pos.X)
	w.PutF32(c.Pos.Y)
}

// DeserializeCreatePlayerEntity mirrors ClientDeserialize: reads is_owner,
// network id, and position; never reads an owner connection.
func DeserializeCreatePlayerEntity(r *wire.Reader) (Command, error) {
	isOwnerByte, err := r.GetU8()
	if err != nil {
		return nil, err
	}
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
	return &CreatePlayerEntity{
		Pos:             world.Vec2{X: x, Y: y},
		NetworkEntityID: world.NetworkEntityID(netID),
		IsOwner:         isOwnerByte != 0,
		OwnerConnection: world.InvalidConnectionID,
	}, nil
}
