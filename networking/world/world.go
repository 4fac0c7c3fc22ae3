// Package world defines the minimal entity-state shape the netcode core
// needs from the "entity container" external collaborator named in §1. The
// real game's ECS lives outside the core; this package is the small,
// concrete stand-in the rewinder clones per update and gameplay commands
// mutate, grounded on original_source's CreatePlayerEntityCommand/
// CreateProjectileCommand execute() bodies (GameUtils/Network/GameplayCommands).
package world

import (
	"fmt"
	"math"
)

// NetworkEntityID is the server-minted, globally unique wire handle for an
// entity visible to more than one peer (§3). Clients must never mint these.
type NetworkEntityID uint64

// ConnectionID is a transport-local id for a connected peer (§3).
type ConnectionID uint32

// InvalidConnectionID marks "no owning connection" (e.g. a non-player
// projectile, or a CreatePlayerEntity deserialized client-side where the
// owner connection is never transmitted, per §4.3).
const InvalidConnectionID ConnectionID = math.MaxUint32

// Vec2 is a wire-precision (float32) 2D value: a position or direction.
type Vec2 struct {
	X, Y float32
}

// Entity is the subset of entity state the core touches directly. Gameplay
// systems outside the core may attach more components; the core only needs
// enough to drive CreatePlayerEntity/CreateProjectile and MoveHash.
type Entity struct {
	NetworkID            NetworkEntityID
	Position             Vec2
	Direction            Vec2
	IsOwner              bool
	OwnerConnection      ConnectionID
	IsProjectile         bool
	Speed                float32
	OwnerNetworkID       NetworkEntityID
	InterpolationEnabled bool
}

// Snapshot is the full entity-component state at the end of one update
// (§3's per-update "snapshot"). It satisfies I5: NetworkID -> *Entity is a
// Go map, hence bijective by construction as long as Add rejects duplicates.
type Snapshot struct {
	Entities map[NetworkEntityID]*Entity
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{Entities: make(map[NetworkEntityID]*Entity)}
}

// Clone deep-copies the snapshot. Grounded on the rewinder's "clone on
// advance" key algorithm (§4.4): subsequent frames mutate the clone in
// place, never the original.
func (s *Snapshot) Clone() *Snapshot {
	clone := NewSnapshot()
	for id, e := range s.Entities {
		copied := *e
		clone.Entities[id] = &copied
	}
	return clone
}

// Add inserts a new entity, failing if its network id is already mapped
// (I5).
func (s *Snapshot) Add(e *Entity) error {
	if _, exists := s.Entities[e.NetworkID]; exists {
		return fmt.Errorf("world: network entity id %d already present", e.NetworkID)
	}
	s.Entities[e.NetworkID] = e
	return nil
}

// Remove drops an entity by network id. A no-op if absent.
func (s *Snapshot) Remove(id NetworkEntityID) {
	delete(s.Entities, id)
}

// Clear removes every entity. Used when applying a WorldSnapshot message,
// which the reference implementation treats as a full authoritative
// replacement rather than a merge (§16, CleanBeforeApplyingSnapshot).
func (s *Snapshot) Clear() {
	s.Entities = make(map[NetworkEntityID]*Entity)
}
