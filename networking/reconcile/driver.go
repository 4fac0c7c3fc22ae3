// Package reconcile implements the client reconciliation driver (§4.5) and
// the frame-time corrector (§4.7), grounded on
// original_source/src/GameLogic/Game/TankClientGame.cpp (processCorrections,
// correctUpdates, removeOldUpdates).
package reconcile

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/gameraccoon/tank-game-sub000/networking/rewinder"
	"github.com/gameraccoon/tank-game-sub000/networking/world"
)

// maxStoredUpdatesCount mirrors the C++ original's
// MAX_STORED_UPDATES_COUNT constant in removeOldUpdates().
const maxStoredUpdatesCount = 60

// noInterpolationDistance/Sq is NO_INTERPOLATION_DISTANCE from §4.5 step 7.
const (
	noInterpolationDistance   = 1.5
	noInterpolationDistanceSq = noInterpolationDistance * noInterpolationDistance
)

// InterpolationUpdates is ⌈0.2s / one_update⌉ at the reference 16,000µs tick
// (§4.5 step 7): 0.2e6 / 16000 = 12.5, rounded up to 13.
const InterpolationUpdates = 13

// Simulator is the host's fixed-step simulation, supplied by the caller
// (cmd/client passes one to networking/client, which hands it to the
// driver). FixedStep must
// itself call rewinder.AdvanceToNextUpdate(u), consult
// GetInputForUpdate/GetOrPredictPlayerInput and the command accessors for u,
// and produce the resulting snapshot and MovementUpdate — the driver only
// orchestrates which updates get resimulated.
type Simulator interface {
	FixedStep(u uint32) error
}

// InterpolationResetter receives a callback for every entity whose
// resimulated position moved far enough from its pre-correction position
// that visual interpolation should restart from the old position rather
// than smoothly blend across the correction (§4.5 step 7). The driver
// itself holds no rendering state; it only decides which entities qualify.
type InterpolationResetter interface {
	ResetInterpolation(entityID world.NetworkEntityID, fromPosition world.Vec2, atUpdate uint32, smoothingWindowUpdates int)
}

// Driver runs one §4.5 reconciliation pass per client fixed update.
type Driver struct {
	rewinder  *rewinder.Rewinder
	simulator Simulator
	resetter  InterpolationResetter
	log       logrus.FieldLogger
}

// New returns a Driver. resetter may be nil if the caller has no visual
// interpolation to reset (e.g. headless tests); log may be nil, in which
// case a logrus.New() instance with output discarded is used.
func New(r *rewinder.Rewinder, simulator Simulator, resetter InterpolationResetter, log logrus.FieldLogger) *Driver {
	if log == nil {
		silent := logrus.New()
		silent.SetOutput(nullWriter{})
		log = silent
	}
	return &Driver{rewinder: r, simulator: simulator, resetter: resetter, log: log}
}

type nullWriter struct{}

func (nullWriter) Write(p []byte) (int, error) { return len(p), nil }

// ProcessCorrections runs the full §4.5 algorithm for the current tick: it
// resimulates from the first desynced update (if any and if not already
// handled) through the rewinder's current update, resets interpolation for
// entities that jumped, then trims old history (§4.5 step 8).
func (d *Driver) ProcessCorrections() error {
	lastFixedUpdateIdx := d.rewinder.Current()
	if lastFixedUpdateIdx == 0 || lastFixedUpdateIdx == rewinder.InvalidUpdateIdx {
		return nil
	}

	firstStored := d.rewinder.FirstStoredUpdateIdx()
	firstDesynced := d.rewinder.FirstDesyncedUpdateIdx()

	if firstDesynced == rewinder.InvalidUpdateIdx || firstDesynced > lastFixedUpdateIdx {
		return d.removeOldUpdates()
	}

	if firstDesynced <= firstStored {
		d.log.WithFields(logrus.Fields{
			"first_desynced": firstDesynced,
			"first_stored":   firstStored,
		}).Warn("reconcile: cannot resimulate before the oldest stored update, clamping")
		firstDesynced = firstStored + 1
		if firstDesynced > lastFixedUpdateIdx {
			return d.removeOldUpdates()
		}
	}

	if err := d.correctUpdates(firstDesynced, lastFixedUpdateIdx); err != nil {
		return err
	}

	return d.removeOldUpdates()
}

// correctUpdates implements §4.5 steps 3, 5, 6, 7: snapshot the stale moves
// for interpolation, unwind to the last known-good update, resimulate
// forward, then reset interpolation anchors for entities that jumped too
// far.
func (d *Driver) correctUpdates(firstUpdateToResimulateIdx, lastUpdateToResimulateIdx uint32) error {
	d.log.WithFields(logrus.Fields{
		"from": firstUpdateToResimulateIdx,
		"to":   lastUpdateToResimulateIdx,
	}).Info("reconcile: correcting client updates")

	oldMoves, _ := d.rewinder.MovesFor(lastUpdateToResimulateIdx)

	if err := d.rewinder.UnwindTo(firstUpdateToResimulateIdx - 1); err != nil {
		return fmt.Errorf("reconcile: unwind to %d: %w", firstUpdateToResimulateIdx-1, err)
	}

	for u := firstUpdateToResimulateIdx; u <= lastUpdateToResimulateIdx; u++ {
		if err := d.simulator.FixedStep(u); err != nil {
			return fmt.Errorf("reconcile: resimulating update %d: %w", u, err)
		}
	}

	d.rewinder.ResolveDesyncUpTo(lastUpdateToResimulateIdx)
	d.applyInterpolationReset(oldMoves, lastUpdateToResimulateIdx)
	return nil
}

func (d *Driver) applyInterpolationReset(oldMoves rewinder.MovementUpdate, atUpdate uint32) {
	if d.resetter == nil {
		return
	}
	newMoves, ok := d.rewinder.MovesFor(atUpdate)
	if !ok {
		return
	}
	newPositionByID := make(map[world.NetworkEntityID]world.Vec2, len(newMoves.Moves))
	for _, m := range newMoves.Moves {
		newPositionByID[m.NetworkID] = m.Position
	}
	for _, old := range oldMoves.Moves {
		newPos, ok := newPositionByID[old.NetworkID]
		if !ok {
			continue
		}
		if distanceSq(old.Position, newPos) > noInterpolationDistanceSq {
			d.resetter.ResetInterpolation(old.NetworkID, old.Position, atUpdate, InterpolationUpdates)
		}
	}
}

func distanceSq(a, b world.Vec2) float32 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return dx*dx + dy*dy
}

// removeOldUpdates implements §4.5 step 8 using the C++ original's exact
// clamp formula (DESIGN.md open question 1): trim to
// clamp(lastConfirmed, lastUpdateIdx+1-min(storedCount,60), lastUpdateIdx-1),
// never discarding the still-current update.
func (d *Driver) removeOldUpdates() error {
	lastUpdateIdx := d.rewinder.Current()
	firstUpdateIdx := d.rewinder.FirstStoredUpdateIdx()
	lastConfirmed := d.rewinder.LastConfirmedClientUpdateIdx()

	if lastUpdateIdx == rewinder.InvalidUpdateIdx || lastConfirmed == rewinder.InvalidUpdateIdx {
		return nil
	}
	if lastUpdateIdx == 0 {
		return nil
	}

	updatesCountBeforeTrim := uint64(lastUpdateIdx) - uint64(firstUpdateIdx) + 1
	maxUpdateToStore := updatesCountBeforeTrim
	if maxUpdateToStore > maxStoredUpdatesCount {
		maxUpdateToStore = maxStoredUpdatesCount
	}
	minBound := uint32(uint64(lastUpdateIdx) + 1 - maxUpdateToStore)
	maxBound := lastUpdateIdx - 1
	if minBound > maxBound {
		return fmt.Errorf("reconcile: invalid trim bounds min=%d max=%d", minBound, maxBound)
	}

	firstToKeep := clampU32(lastConfirmed, minBound, maxBound)
	if err := d.rewinder.TrimOldUpdates(firstToKeep); err != nil {
		return fmt.Errorf("reconcile: trim to %d: %w", firstToKeep, err)
	}
	return nil
}

func clampU32(v, lo, hi uint32) uint32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
