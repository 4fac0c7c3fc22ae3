package arbiter

import (
	"testing"

	"github.com/gameraccoon/tank-game-sub000/networking/rewinder"
	"github.com/gameraccoon/tank-game-sub000/networking/shared/input"
	"github.com/gameraccoon/tank-game-sub000/networking/world"
)

func newTestArbiter() (*Arbiter, *rewinder.Rewinder) {
	r := rewinder.New(world.NewSnapshot())
	return New(r, nil), r
}

func frameWithAxis(x float32) input.FrameInput {
	return input.FrameInput{Axes: [input.AxisCount]float32{x, 0}}
}

func TestHandlePlayerInputMessageFillsWindow(t *testing.T) {
	a, r := newTestArbiter()
	conn := world.ConnectionID(1)

	window := []input.FrameInput{frameWithAxis(1), frameWithAxis(2), frameWithAxis(3)}
	if err := a.HandlePlayerInputMessage(conn, 3, window); err != nil {
		t.Fatalf("HandlePlayerInputMessage: %v", err)
	}

	for i, u := range []uint32{1, 2, 3} {
		got := r.GetOrPredictPlayerInput(conn, u)
		if got != window[i] {
			t.Fatalf("update %d: got %+v, want %+v", u, got, window[i])
		}
	}
}

func TestHandlePlayerInputMessageIgnoresStale(t *testing.T) {
	a, r := newTestArbiter()
	conn := world.ConnectionID(1)

	// advance server to update 5 first.
	for u := uint32(1); u <= 5; u++ {
		_ = r.AdvanceToNextUpdate(u)
	}

	if err := a.HandlePlayerInputMessage(conn, 3, []input.FrameInput{frameWithAxis(9)}); err != nil {
		t.Fatalf("HandlePlayerInputMessage: %v", err)
	}
	if _, ok := r.LastKnownInputIdx(conn); ok {
		t.Fatalf("stale input message should not have been applied")
	}
	// but the timing shift must still have been updated (spec step 2's
	// explicit exception).
	if got := a.IndexShiftFor(conn); got == 0 {
		t.Fatalf("expected a nonzero timing shift to be recorded even for a stale message")
	}
}

func TestHandlePlayerInputMessageDiscardsFarFuture(t *testing.T) {
	a, r := newTestArbiter()
	conn := world.ConnectionID(1)

	if err := a.HandlePlayerInputMessage(conn, farFutureToleranceUpdates+1, []input.FrameInput{frameWithAxis(1)}); err != nil {
		t.Fatalf("HandlePlayerInputMessage: %v", err)
	}
	if _, ok := r.LastKnownInputIdx(conn); ok {
		t.Fatalf("far-future input message should not have been applied")
	}
	if got := a.IndexShiftFor(conn); got != 0 {
		t.Fatalf("far-future message should be discarded entirely, including timing shift; got shift=%d", got)
	}
}

func TestHandlePlayerInputMessageBackfillsGapBeforeWindow(t *testing.T) {
	a, r := newTestArbiter()
	conn := world.ConnectionID(1)

	first := frameWithAxis(1)
	if err := a.HandlePlayerInputMessage(conn, 1, []input.FrameInput{first}); err != nil {
		t.Fatalf("seed message: %v", err)
	}
	if err := r.AdvanceToNextUpdate(1); err != nil {
		t.Fatalf("advance: %v", err)
	}

	// next packet jumps far ahead with a short window, leaving a true gap
	// between server_now+1 and the window's start that must be backfilled
	// by repeating the connection's last known input.
	later := frameWithAxis(2)
	if err := a.HandlePlayerInputMessage(conn, 6, []input.FrameInput{later}); err != nil {
		t.Fatalf("gap message: %v", err)
	}

	for u := uint32(1); u <= 5; u++ {
		got := r.GetOrPredictPlayerInput(conn, u)
		if got != first {
			t.Fatalf("update %d: expected backfilled %+v, got %+v", u, first, got)
		}
	}
	if got := r.GetOrPredictPlayerInput(conn, 6); got != later {
		t.Fatalf("update 6: got %+v, want %+v", got, later)
	}
}

// TestIndexShiftUnderSustainedLoss is the regression test named in
// DESIGN.md's open question 3: the timing shift must track the server
// falling behind its ideal headroom without oscillating once the server
// itself advances (the server's own tick advancing is independent of
// whether new input arrived).
func TestIndexShiftUnderSustainedLoss(t *testing.T) {
	a, r := newTestArbiter()
	conn := world.ConnectionID(1)

	if err := a.HandlePlayerInputMessage(conn, 2, []input.FrameInput{frameWithAxis(1), frameWithAxis(1)}); err != nil {
		t.Fatalf("seed message: %v", err)
	}
	initialShift := a.IndexShiftFor(conn)

	// server advances several ticks with no further input packets arriving
	// (simulated sustained loss) - server_now grows, but no
	// HandlePlayerInputMessage call happens, so the shift must not change
	// on its own; it only updates in response to a new message.
	for u := uint32(1); u <= 4; u++ {
		_ = r.AdvanceToNextUpdate(u)
	}
	if got := a.IndexShiftFor(conn); got != initialShift {
		t.Fatalf("shift drifted without a new input message: got %d, want unchanged %d", got, initialShift)
	}

	// a late packet finally arrives, reporting the same old last-input
	// index relative to the now-advanced server_now: the shift should grow
	// more negative (client is falling further behind), not oscillate back
	// toward zero.
	if err := a.HandlePlayerInputMessage(conn, 2, []input.FrameInput{frameWithAxis(1), frameWithAxis(1)}); err != nil {
		t.Fatalf("stale catch-up message: %v", err)
	}
	laterShift := a.IndexShiftFor(conn)
	if laterShift >= initialShift {
		t.Fatalf("expected shift to grow more negative as server_now outpaced last_input_idx: initial=%d later=%d", initialShift, laterShift)
	}
}
