package rewinder

import (
	"math"
	"sort"

	"github.com/gameraccoon/tank-game-sub000/networking/world"
)

// MoveEntry is one entity's confirmed or simulated position/direction for a
// given update (§3's "moves" field).
type MoveEntry struct {
	NetworkID world.NetworkEntityID
	Position  world.Vec2
	Direction world.Vec2
}

// MoveHash is the quantised, entity-sorted fingerprint used for fast desync
// detection (§4.4's "Key algorithm — desync detection"). Position quantises
// to integer world units; direction quantises to round(dir * 16384).
//
// The reference C++ (original_source/src/GameData/Network/MovementHistory.h)
// instead casts the direction component to s32 *before* multiplying by
// 16384, which truncates any unit-length direction to zero — almost
// certainly an unintentional defect, since it makes direction hashing
// discriminate nothing. This port implements the spec's stated
// round(dir*16384) semantics instead of replicating that truncation
// (documented in DESIGN.md, open question 2).
type MoveHash struct {
	EntityID   world.NetworkEntityID
	PosX, PosY int32
	DirX, DirY int32
}

func quantizePosition(v float32) int32 {
	return int32(math.Round(float64(v)))
}

func quantizeDirection(v float32) int32 {
	return int32(math.Round(float64(v) * 16384))
}

// ComputeMoveHash quantises one MoveEntry.
func ComputeMoveHash(e MoveEntry) MoveHash {
	return MoveHash{
		EntityID: e.NetworkID,
		PosX:     quantizePosition(e.Position.X),
		PosY:     quantizePosition(e.Position.Y),
		DirX:     quantizeDirection(e.Direction.X),
		DirY:     quantizeDirection(e.Direction.Y),
	}
}

// MovementUpdate bundles the raw move entries for one update with their
// sorted hash vector, as stored in a rewinder slot (§3).
type MovementUpdate struct {
	Moves  []MoveEntry
	Hashes []MoveHash
}

// BuildMovementUpdate computes and sorts the hash vector for entries.
func BuildMovementUpdate(entries []MoveEntry) MovementUpdate {
	hashes := make([]MoveHash, len(entries))
	for i, e := range entries {
		hashes[i] = ComputeMoveHash(e)
	}
	sortHashes(hashes)
	return MovementUpdate{Moves: entries, Hashes: hashes}
}

func sortHashes(hashes []MoveHash) {
	sort.Slice(hashes, func(i, j int) bool { return hashes[i].EntityID < hashes[j].EntityID })
}

// hashesEqual implements the vector-equality comparison backing P7: two
// MoveHash vectors are equal iff they have the same length and every
// (entity_id, position_rounded, direction_quantised) tuple matches in order.
func hashesEqual(a, b []MoveHash) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
