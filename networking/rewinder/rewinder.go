// Package rewinder implements the State Rewinder (§4.4): the ring buffer of
// per-update snapshot/input/moves/command records that both client
// prediction/reconciliation and server input arbitration are built on top
// of. Grounded on original_source/src/Utils/Network/GameStateRewinder.{h,cpp}
// (the ring's clone-on-advance/trim/unwind shape) and
// original_source/src/GameData/Network/MovementHistory.h (the MoveHash
// quantisation scheme, see movehash.go).
//
// A single Rewinder instance serves both roles named in §4.4: on a client it
// tracks one local connection's input under LocalConnectionID; on a server it
// tracks one FrameInput history per remote ConnectionID. Nothing here decides
// which role applies — networking/client, networking/server and
// networking/arbiter make the right calls for each side.
package rewinder

import (
	"fmt"
	"math"

	"github.com/gameraccoon/tank-game-sub000/networking/shared/command"
	"github.com/gameraccoon/tank-game-sub000/networking/shared/input"
	"github.com/gameraccoon/tank-game-sub000/networking/world"
)

// InvalidUpdateIdx marks "no such update" (e.g. no desync yet observed).
const InvalidUpdateIdx uint32 = math.MaxUint32

// LocalConnectionID is the key a client uses for its own input in each
// update record's input map. Server-side per-connection input lives in a
// separate store (AddPlayerInput), so a remote peer that is assigned
// connection id 0 does not collide with it.
const LocalConnectionID world.ConnectionID = 0

// CommandSet splits a record's gameplay commands by origin (§3): commands
// the simulation itself produced this update versus commands that arrived
// from the network (server-authoritative on a client, or client-submitted on
// a server).
type CommandSet struct {
	GameplayGenerated []command.Command
	External          []command.Command
}

type updateRecord struct {
	snapshot       *world.Snapshot
	inputs         map[world.ConnectionID]input.FrameInput
	moves          MovementUpdate
	movesConfirmed bool
	commands       CommandSet
}

// Rewinder is the ring buffer of per-update records described in §3 and
// §4.4.
type Rewinder struct {
	records     []*updateRecord
	firstStored uint32
	current     uint32

	firstDesyncedUpdate       uint32
	lastConfirmedClientUpdate uint32

	// serverInputs and lastKnownInputIdx track per-connection player input
	// independently of the snapshot ring, since a server may receive input
	// for updates it has not simulated yet (§4.6).
	serverInputs     map[world.ConnectionID]map[uint32]input.FrameInput
	lastKnownInputIdx map[world.ConnectionID]uint32

	// lastLocalInputIdx/Val cache the most recently set local (client-side)
	// input so GetInputForUpdate can repeat it for prediction (§4.4).
	lastLocalInputIdx uint32
	lastLocalInputVal input.FrameInput
}

// New returns a Rewinder seeded with initialSnapshot as update 0's state
// (I1: a rewinder always owns at least one record).
func New(initialSnapshot *world.Snapshot) *Rewinder {
	if initialSnapshot == nil {
		initialSnapshot = world.NewSnapshot()
	}
	return &Rewinder{
		records: []*updateRecord{{
			snapshot: initialSnapshot,
			inputs:   make(map[world.ConnectionID]input.FrameInput),
		}},
		firstStored:               0,
		current:                   0,
		firstDesyncedUpdate:       InvalidUpdateIdx,
		lastConfirmedClientUpdate: InvalidUpdateIdx,
		serverInputs:              make(map[world.ConnectionID]map[uint32]input.FrameInput),
		lastKnownInputIdx:         make(map[world.ConnectionID]uint32),
		lastLocalInputIdx:         InvalidUpdateIdx,
	}
}

// SeedAt discards every stored record and reinitializes the ring with u as
// both the first stored and current update, holding snapshot. A client uses
// this once, right after ConnectionAccepted, to jump its otherwise-empty
// ring straight to the server-estimated starting update index (§4.8) rather
// than simulating every update from 0.
func (r *Rewinder) SeedAt(u uint32, snapshot *world.Snapshot) {
	if snapshot == nil {
		snapshot = world.NewSnapshot()
	}
	r.records = []*updateRecord{{
		snapshot: snapshot,
		inputs:   make(map[world.ConnectionID]input.FrameInput),
	}}
	r.firstStored = u
	r.current = u
	r.firstDesyncedUpdate = InvalidUpdateIdx
	r.lastConfirmedClientUpdate = InvalidUpdateIdx
	r.serverInputs = make(map[world.ConnectionID]map[uint32]input.FrameInput)
	r.lastKnownInputIdx = make(map[world.ConnectionID]uint32)
	r.lastLocalInputIdx = InvalidUpdateIdx
}

func (r *Rewinder) indexOf(u uint32) int { return int(u - r.firstStored) }

func (r *Rewinder) recordAt(u uint32) (*updateRecord, bool) {
	if u < r.firstStored {
		return nil, false
	}
	idx := r.indexOf(u)
	if idx < 0 || idx >= len(r.records) {
		return nil, false
	}
	return r.records[idx], true
}

// Current returns the update index the rewinder is simulating/holding as its
// latest record.
func (r *Rewinder) Current() uint32 { return r.current }

// FirstStoredUpdateIdx returns the oldest update index still retained.
func (r *Rewinder) FirstStoredUpdateIdx() uint32 { return r.firstStored }

// FirstDesyncedUpdateIdx returns the earliest update whose authoritative
// moves/commands disagreed with what was locally simulated, or
// InvalidUpdateIdx if none is pending.
func (r *Rewinder) FirstDesyncedUpdateIdx() uint32 { return r.firstDesyncedUpdate }

// LastConfirmedClientUpdateIdx returns the greatest update index whose
// authoritative moves matched the local simulation, or InvalidUpdateIdx if
// none has been confirmed yet.
func (r *Rewinder) LastConfirmedClientUpdateIdx() uint32 { return r.lastConfirmedClientUpdate }

// SnapshotAt returns the stored snapshot for u, for tests and for the
// "send current world state" path (§4.8 WorldSnapshot).
func (r *Rewinder) SnapshotAt(u uint32) (*world.Snapshot, bool) {
	rec, ok := r.recordAt(u)
	if !ok {
		return nil, false
	}
	return rec.snapshot, true
}

// CurrentSnapshot returns the snapshot for Current().
func (r *Rewinder) CurrentSnapshot() *world.Snapshot {
	rec, _ := r.recordAt(r.current)
	return rec.snapshot
}

// AdvanceToNextUpdate clones the current snapshot forward into a fresh
// record for u = current+1 (§4.4's "clone on advance"). If a record already
// occupies that slot (left over from before an earlier UnwindTo), it is
// overwritten rather than appended, since resimulation starts over from
// current's snapshot.
func (r *Rewinder) AdvanceToNextUpdate(u uint32) error {
	if u != r.current+1 {
		return fmt.Errorf("%w: AdvanceToNextUpdate(%d) but current is %d", ErrPrecondition, u, r.current)
	}
	curRec, ok := r.recordAt(r.current)
	if !ok {
		return fmt.Errorf("%w: current update %d not stored", ErrStaleUpdate, r.current)
	}
	fresh := &updateRecord{
		snapshot: curRec.snapshot.Clone(),
		inputs:   make(map[world.ConnectionID]input.FrameInput),
	}
	idx := r.indexOf(u)
	if idx < len(r.records) {
		r.records[idx] = fresh
	} else {
		r.records = append(r.records, fresh)
	}
	r.current = u
	return nil
}

// UnwindTo moves current back to u without discarding records above u: they
// stay in the ring, invalidated, until AdvanceToNextUpdate overwrites them
// during resimulation. Per I3/I4 this never needs to go below
// lastConfirmedClientUpdate, since firstDesyncedUpdate is always strictly
// greater than it; UnwindTo rejects an attempt to do so anyway.
func (r *Rewinder) UnwindTo(u uint32) error {
	if u > r.current {
		return fmt.Errorf("%w: UnwindTo(%d) is ahead of current %d", ErrFutureUpdate, u, r.current)
	}
	if u < r.firstStored {
		return fmt.Errorf("%w: UnwindTo(%d) before firstStored %d", ErrStaleUpdate, u, r.firstStored)
	}
	if r.lastConfirmedClientUpdate != InvalidUpdateIdx && u < r.lastConfirmedClientUpdate {
		return fmt.Errorf("%w: UnwindTo(%d) would rewind past confirmed update %d", ErrPrecondition, u, r.lastConfirmedClientUpdate)
	}
	r.current = u
	return nil
}

// firstRequiredUpdateIdx is the lowest update index TrimOldUpdates must keep:
// a pending desync anchors it (the resimulation will need every record from
// firstDesyncedUpdate onward), otherwise everything below current may be
// dropped; current itself is always kept.
func (r *Rewinder) firstRequiredUpdateIdx() uint32 {
	if r.firstDesyncedUpdate != InvalidUpdateIdx {
		return r.firstDesyncedUpdate
	}
	return r.current
}

// TrimOldUpdates drops records with index < firstToKeep. It is idempotent: a
// firstToKeep at or below the current firstStored is a no-op. It fails with
// ErrWouldTrimConfirmed if firstToKeep would discard a record still needed
// for a pending reconciliation (I3).
func (r *Rewinder) TrimOldUpdates(firstToKeep uint32) error {
	if firstToKeep > r.firstRequiredUpdateIdx() {
		return fmt.Errorf("%w: firstToKeep=%d exceeds required floor %d", ErrWouldTrimConfirmed, firstToKeep, r.firstRequiredUpdateIdx())
	}
	if firstToKeep <= r.firstStored {
		return nil
	}
	drop := r.indexOf(firstToKeep)
	if drop > len(r.records) {
		drop = len(r.records)
	}
	r.records = r.records[drop:]
	r.firstStored = firstToKeep

	for conn, hist := range r.serverInputs {
		for u := range hist {
			if u < firstToKeep {
				delete(hist, u)
			}
		}
		if len(hist) == 0 {
			delete(r.serverInputs, conn)
		}
	}
	return nil
}

// ResolveDesyncUpTo clears the pending-desync marker once resimulation has
// caught back up through u: a driver calls this after successfully
// resimulating every update from firstDesyncedUpdate through u.
func (r *Rewinder) ResolveDesyncUpTo(u uint32) {
	if r.firstDesyncedUpdate != InvalidUpdateIdx && r.firstDesyncedUpdate <= u {
		r.firstDesyncedUpdate = InvalidUpdateIdx
	}
}

// HasConfirmedMovesFor reports whether u's moves have been set via
// ApplyAuthoritativeMoves.
func (r *Rewinder) HasConfirmedMovesFor(u uint32) bool {
	rec, ok := r.recordAt(u)
	return ok && rec.movesConfirmed
}

// MovesFor returns the stored MovementUpdate for u (simulated if not yet
// confirmed, authoritative once ApplyAuthoritativeMoves has run).
func (r *Rewinder) MovesFor(u uint32) (MovementUpdate, bool) {
	rec, ok := r.recordAt(u)
	if !ok {
		return MovementUpdate{}, false
	}
	return rec.moves, true
}

// SetSimulatedMoves records the locally-simulated MovementUpdate for u,
// before any authoritative data has arrived for it.
func (r *Rewinder) SetSimulatedMoves(u uint32, moves MovementUpdate) error {
	rec, ok := r.recordAt(u)
	if !ok {
		return fmt.Errorf("%w: %d", ErrStaleUpdate, u)
	}
	rec.moves = moves
	return nil
}

// ApplyAuthoritativeMoves compares authoritative's hash vector against
// whatever was simulated for u. A mismatch marks u (or an earlier still
// undiscovered mismatch) as the first desynced update (§4.4 "Key algorithm —
// desync detection"); a match advances lastConfirmedClientUpdate.
func (r *Rewinder) ApplyAuthoritativeMoves(u uint32, authoritative MovementUpdate) error {
	rec, ok := r.recordAt(u)
	if !ok {
		return fmt.Errorf("%w: %d", ErrStaleUpdate, u)
	}
	matched := hashesEqual(rec.moves.Hashes, authoritative.Hashes)
	rec.moves = authoritative
	rec.movesConfirmed = true
	if !matched {
		if r.firstDesyncedUpdate == InvalidUpdateIdx || u < r.firstDesyncedUpdate {
			r.firstDesyncedUpdate = u
		}
		return nil
	}
	if r.lastConfirmedClientUpdate == InvalidUpdateIdx || u > r.lastConfirmedClientUpdate {
		r.lastConfirmedClientUpdate = u
	}
	return nil
}

// commandKindsMatch is a cheap structural comparison used by
// ApplyAuthoritativeCommands to decide whether the locally-recorded external
// commands for u agree with the authoritative list: same length, same kinds
// in the same order. It does not compare field-by-field payloads, since
// commands are opaque interface values here, so two lists with the same
// kinds in the same order but different payloads compare as equal.
func commandKindsMatch(a, b []command.Command) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Kind() != b[i].Kind() {
			return false
		}
	}
	return true
}

// ApplyAuthoritativeCommands records the authoritative external command list
// for u, flagging a desync if it differs from what had already been
// recorded and u falls within the already-simulated range.
func (r *Rewinder) ApplyAuthoritativeCommands(u uint32, cmds []command.Command) error {
	rec, ok := r.recordAt(u)
	if !ok {
		return fmt.Errorf("%w: %d", ErrStaleUpdate, u)
	}
	mismatch := len(rec.commands.External) > 0 && !commandKindsMatch(rec.commands.External, cmds)
	rec.commands.External = cmds
	if mismatch && u <= r.current {
		if r.firstDesyncedUpdate == InvalidUpdateIdx || u < r.firstDesyncedUpdate {
			r.firstDesyncedUpdate = u
		}
	}
	return nil
}

// WriteSimulatedCommands records the commands the local simulation itself
// produced for u (as opposed to commands received from the network).
func (r *Rewinder) WriteSimulatedCommands(u uint32, cmds []command.Command) error {
	rec, ok := r.recordAt(u)
	if !ok {
		return fmt.Errorf("%w: %d", ErrStaleUpdate, u)
	}
	rec.commands.GameplayGenerated = cmds
	return nil
}

// CommandsFor returns the full CommandSet stored for u.
func (r *Rewinder) CommandsFor(u uint32) (CommandSet, bool) {
	rec, ok := r.recordAt(u)
	if !ok {
		return CommandSet{}, false
	}
	return rec.commands, true
}

// SetInputFor records the local client's input for u (must be a currently
// stored update, ordinarily current).
func (r *Rewinder) SetInputFor(u uint32, fi input.FrameInput) error {
	rec, ok := r.recordAt(u)
	if !ok {
		return fmt.Errorf("%w: %d", ErrStaleUpdate, u)
	}
	rec.inputs[LocalConnectionID] = fi
	if r.lastLocalInputIdx == InvalidUpdateIdx || u > r.lastLocalInputIdx {
		r.lastLocalInputIdx = u
		r.lastLocalInputVal = fi
	}
	return nil
}

// GetInputForUpdate returns the local client's input for u: the stored value
// if u is within the ring, otherwise the last known input repeated forward
// (§4.4's client-side input prediction).
func (r *Rewinder) GetInputForUpdate(u uint32) input.FrameInput {
	if rec, ok := r.recordAt(u); ok {
		if fi, ok2 := rec.inputs[LocalConnectionID]; ok2 {
			return fi
		}
	}
	if r.lastLocalInputIdx != InvalidUpdateIdx && u > r.lastLocalInputIdx {
		return r.lastLocalInputVal
	}
	return input.FrameInput{}
}

// LastInputs returns the n most recent local inputs ending at endUpdate,
// oldest first, for the client's outgoing PlayerInput window (§6). Frames
// older than firstStored (already trimmed) are left as the zero FrameInput.
func (r *Rewinder) LastInputs(n int, endUpdate uint32) []input.FrameInput {
	out := make([]input.FrameInput, n)
	start := endUpdate - uint32(n) + 1
	for i := 0; i < n; i++ {
		u := start + uint32(i)
		if rec, ok := r.recordAt(u); ok {
			if fi, ok2 := rec.inputs[LocalConnectionID]; ok2 {
				out[i] = fi
				continue
			}
		}
		out[i] = input.FrameInput{}
	}
	return out
}

// AddPlayerInput records a remote connection's input for u (§4.6 server
// arbitration). When u arrives ahead of the connection's previously known
// update by more than one, the gap is backfilled by repeating the last known
// input, so GetOrPredictPlayerInput never has to guess for an update this
// connection has already "passed".
func (r *Rewinder) AddPlayerInput(conn world.ConnectionID, u uint32, fi input.FrameInput) error {
	hist, ok := r.serverInputs[conn]
	if !ok {
		hist = make(map[uint32]input.FrameInput)
		r.serverInputs[conn] = hist
	}

	last, hasLast := r.lastKnownInputIdx[conn]
	if hasLast && u > last+1 {
		fallback := hist[last]
		for gap := last + 1; gap < u; gap++ {
			if _, exists := hist[gap]; !exists {
				hist[gap] = fallback
			}
		}
	}

	hist[u] = fi
	if !hasLast || u > last {
		r.lastKnownInputIdx[conn] = u
	}
	return nil
}

// GetOrPredictPlayerInput returns conn's input for u: the received value if
// present, otherwise the most recently known input for that connection, or
// the zero FrameInput if none has ever been received (§4.6).
func (r *Rewinder) GetOrPredictPlayerInput(conn world.ConnectionID, u uint32) input.FrameInput {
	hist, ok := r.serverInputs[conn]
	if !ok {
		return input.FrameInput{}
	}
	if fi, ok2 := hist[u]; ok2 {
		return fi
	}
	if last, ok2 := r.lastKnownInputIdx[conn]; ok2 {
		if fi, ok3 := hist[last]; ok3 {
			return fi
		}
	}
	return input.FrameInput{}
}

// LastKnownInputIdx returns the highest update index received for conn, and
// whether any input has been received at all.
func (r *Rewinder) LastKnownInputIdx(conn world.ConnectionID) (uint32, bool) {
	u, ok := r.lastKnownInputIdx[conn]
	return u, ok
}

// ForgetConnection drops all input history for conn (on disconnect).
func (r *Rewinder) ForgetConnection(conn world.ConnectionID) {
	delete(r.serverInputs, conn)
	delete(r.lastKnownInputIdx, conn)
}
