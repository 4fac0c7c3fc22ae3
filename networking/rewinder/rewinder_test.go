package rewinder

import (
	"errors"
	"testing"

	"github.com/gameraccoon/tank-game-sub000/networking/shared/input"
	"github.com/gameraccoon/tank-game-sub000/networking/world"
)

func newTestSnapshot() *world.Snapshot {
	snap := world.NewSnapshot()
	_ = snap.Add(&world.Entity{NetworkID: 1, Position: world.Vec2{X: 10, Y: 20}})
	return snap
}

// P1: after AdvanceToNextUpdate then UnwindTo back to the same index, the
// snapshot content is byte-for-byte (field-for-field) identical to what it
// was before advancing, since UnwindTo never mutates stored records.
func TestUnwindPreservesSnapshot(t *testing.T) {
	r := New(newTestSnapshot())
	before, _ := r.SnapshotAt(0)
	beforeEntity := *before.Entities[1]

	if err := r.AdvanceToNextUpdate(1); err != nil {
		t.Fatalf("AdvanceToNextUpdate: %v", err)
	}
	// mutate the new head to prove Clone actually copied, not aliased.
	r.CurrentSnapshot().Entities[1].Position.X = 999

	if err := r.UnwindTo(0); err != nil {
		t.Fatalf("UnwindTo: %v", err)
	}
	after, _ := r.SnapshotAt(0)
	if *after.Entities[1] != beforeEntity {
		t.Fatalf("update 0 snapshot mutated by advancing past it: got %+v, want %+v", *after.Entities[1], beforeEntity)
	}
}

func TestAdvanceRejectsNonSequential(t *testing.T) {
	r := New(newTestSnapshot())
	if err := r.AdvanceToNextUpdate(5); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("expected ErrPrecondition, got %v", err)
	}
}

func TestUnwindThenAdvanceOverwritesStaleSlot(t *testing.T) {
	r := New(newTestSnapshot())
	for u := uint32(1); u <= 3; u++ {
		if err := r.AdvanceToNextUpdate(u); err != nil {
			t.Fatalf("advance to %d: %v", u, err)
		}
	}
	r.CurrentSnapshot().Entities[1].Position.X = 42 // update 3's (stale-to-be) state

	if err := r.UnwindTo(1); err != nil {
		t.Fatalf("UnwindTo: %v", err)
	}
	if err := r.AdvanceToNextUpdate(2); err != nil {
		t.Fatalf("re-advance to 2: %v", err)
	}
	snap, ok := r.SnapshotAt(2)
	if !ok {
		t.Fatalf("update 2 should still be stored")
	}
	if snap.Entities[1].Position.X == 42 {
		t.Fatalf("resimulated update 2 should not carry the stale pre-unwind value")
	}
	if r.Current() != 2 {
		t.Fatalf("current = %d, want 2", r.Current())
	}
}

func TestTrimOldUpdatesRespectsFirstStored(t *testing.T) {
	r := New(newTestSnapshot())
	for u := uint32(1); u <= 5; u++ {
		if err := r.AdvanceToNextUpdate(u); err != nil {
			t.Fatalf("advance to %d: %v", u, err)
		}
	}
	if err := r.TrimOldUpdates(3); err != nil {
		t.Fatalf("TrimOldUpdates: %v", err)
	}
	if r.FirstStoredUpdateIdx() != 3 {
		t.Fatalf("firstStored = %d, want 3", r.FirstStoredUpdateIdx())
	}
	if _, ok := r.SnapshotAt(2); ok {
		t.Fatalf("update 2 should have been trimmed")
	}
	if _, ok := r.SnapshotAt(3); !ok {
		t.Fatalf("update 3 should still be stored")
	}
}

func TestTrimOldUpdatesIsIdempotent(t *testing.T) {
	r := New(newTestSnapshot())
	for u := uint32(1); u <= 3; u++ {
		_ = r.AdvanceToNextUpdate(u)
	}
	if err := r.TrimOldUpdates(2); err != nil {
		t.Fatalf("first trim: %v", err)
	}
	if err := r.TrimOldUpdates(1); err != nil {
		t.Fatalf("trim below firstStored should be a no-op, got: %v", err)
	}
	if r.FirstStoredUpdateIdx() != 2 {
		t.Fatalf("firstStored = %d, want 2", r.FirstStoredUpdateIdx())
	}
}

func TestTrimOldUpdatesRefusesToDropPendingDesync(t *testing.T) {
	r := New(newTestSnapshot())
	for u := uint32(1); u <= 5; u++ {
		_ = r.AdvanceToNextUpdate(u)
	}
	_ = r.ApplyAuthoritativeMoves(2, MovementUpdate{Hashes: []MoveHash{{EntityID: 1, PosX: 1}}})
	if r.FirstDesyncedUpdateIdx() != 2 {
		t.Fatalf("expected desync flagged at 2, got %d", r.FirstDesyncedUpdateIdx())
	}
	if err := r.TrimOldUpdates(4); !errors.Is(err, ErrWouldTrimConfirmed) {
		t.Fatalf("expected ErrWouldTrimConfirmed, got %v", err)
	}
}

// P6/P7: ApplyAuthoritativeMoves flags a desync exactly when the hash
// vectors differ, and advances lastConfirmedClientUpdate only on a match.
func TestApplyAuthoritativeMovesConfirmsOnMatch(t *testing.T) {
	r := New(newTestSnapshot())
	_ = r.AdvanceToNextUpdate(1)
	simulated := BuildMovementUpdate([]MoveEntry{{NetworkID: 1, Position: world.Vec2{X: 5, Y: 5}}})
	if err := r.SetSimulatedMoves(1, simulated); err != nil {
		t.Fatalf("SetSimulatedMoves: %v", err)
	}

	if err := r.ApplyAuthoritativeMoves(1, simulated); err != nil {
		t.Fatalf("ApplyAuthoritativeMoves: %v", err)
	}
	if r.FirstDesyncedUpdateIdx() != InvalidUpdateIdx {
		t.Fatalf("expected no desync on matching hashes, got %d", r.FirstDesyncedUpdateIdx())
	}
	if r.LastConfirmedClientUpdateIdx() != 1 {
		t.Fatalf("lastConfirmedClientUpdate = %d, want 1", r.LastConfirmedClientUpdateIdx())
	}
	if !r.HasConfirmedMovesFor(1) {
		t.Fatalf("expected update 1 to be marked confirmed")
	}
}

func TestApplyAuthoritativeMovesFlagsDesyncOnMismatch(t *testing.T) {
	r := New(newTestSnapshot())
	_ = r.AdvanceToNextUpdate(1)
	simulated := BuildMovementUpdate([]MoveEntry{{NetworkID: 1, Position: world.Vec2{X: 5, Y: 5}}})
	_ = r.SetSimulatedMoves(1, simulated)

	authoritative := BuildMovementUpdate([]MoveEntry{{NetworkID: 1, Position: world.Vec2{X: 6, Y: 5}}})
	if err := r.ApplyAuthoritativeMoves(1, authoritative); err != nil {
		t.Fatalf("ApplyAuthoritativeMoves: %v", err)
	}
	if r.FirstDesyncedUpdateIdx() != 1 {
		t.Fatalf("firstDesyncedUpdate = %d, want 1", r.FirstDesyncedUpdateIdx())
	}
	if r.LastConfirmedClientUpdateIdx() != InvalidUpdateIdx {
		t.Fatalf("lastConfirmedClientUpdate should remain unset after a mismatch")
	}
}

func TestResolveDesyncUpToClearsFlag(t *testing.T) {
	r := New(newTestSnapshot())
	_ = r.AdvanceToNextUpdate(1)
	_ = r.ApplyAuthoritativeMoves(1, BuildMovementUpdate([]MoveEntry{{NetworkID: 1, Position: world.Vec2{X: 1}}}))
	if r.FirstDesyncedUpdateIdx() == InvalidUpdateIdx {
		t.Fatalf("expected desync flagged before resolving")
	}
	r.ResolveDesyncUpTo(1)
	if r.FirstDesyncedUpdateIdx() != InvalidUpdateIdx {
		t.Fatalf("expected desync cleared after ResolveDesyncUpTo")
	}
}

// P5: GetOrPredictPlayerInput never regresses last_known_input_idx, and
// gap-filled updates repeat the connection's last received input.
func TestServerInputGapFillRepeatsLastKnown(t *testing.T) {
	r := New(newTestSnapshot())
	conn := world.ConnectionID(7)

	first := input.FrameInput{Axes: [input.AxisCount]float32{1, 0}}
	if err := r.AddPlayerInput(conn, 10, first); err != nil {
		t.Fatalf("AddPlayerInput: %v", err)
	}
	// Jump ahead by 3 updates without intermediate packets (simulated loss).
	latest := input.FrameInput{Axes: [input.AxisCount]float32{0, 1}}
	if err := r.AddPlayerInput(conn, 13, latest); err != nil {
		t.Fatalf("AddPlayerInput: %v", err)
	}

	for u := uint32(11); u <= 12; u++ {
		got := r.GetOrPredictPlayerInput(conn, u)
		if got != first {
			t.Fatalf("update %d: expected gap-filled input %+v, got %+v", u, first, got)
		}
	}
	if got := r.GetOrPredictPlayerInput(conn, 13); got != latest {
		t.Fatalf("update 13: expected %+v, got %+v", latest, got)
	}

	last, ok := r.LastKnownInputIdx(conn)
	if !ok || last != 13 {
		t.Fatalf("LastKnownInputIdx = (%d, %v), want (13, true)", last, ok)
	}
}

func TestClientInputPredictionRepeatsLastSet(t *testing.T) {
	r := New(newTestSnapshot())
	fi := input.FrameInput{Axes: [input.AxisCount]float32{0.5, 0}}
	if err := r.SetInputFor(0, fi); err != nil {
		t.Fatalf("SetInputFor: %v", err)
	}
	if got := r.GetInputForUpdate(4); got != fi {
		t.Fatalf("predicted input = %+v, want repeated %+v", got, fi)
	}
}

func TestLastInputsZerosUntrimmedMissingTail(t *testing.T) {
	r := New(newTestSnapshot())
	fi := input.FrameInput{Axes: [input.AxisCount]float32{1, 1}}
	if err := r.SetInputFor(0, fi); err != nil {
		t.Fatalf("SetInputFor: %v", err)
	}
	got := r.LastInputs(3, 0)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[2] != fi {
		t.Fatalf("last slot = %+v, want %+v", got[2], fi)
	}
	if got[0] != (input.FrameInput{}) || got[1] != (input.FrameInput{}) {
		t.Fatalf("expected zeroed frames before firstStored, got %+v", got)
	}
}
