// Package arbiter implements the server input arbitrator (§4.6), grounded
// on original_source/.../GameUtils/Network/Messages/ClientServer/
// PlayerInputMessage.cpp's ApplyPlayerInputMessage.
package arbiter

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/gameraccoon/tank-game-sub000/networking/rewinder"
	"github.com/gameraccoon/tank-game-sub000/networking/shared/input"
	"github.com/gameraccoon/tank-game-sub000/networking/world"
)

// farFutureToleranceUpdates and idealHeadroomUpdates are the constants
// named in §4.6 steps 3 and 6.
const (
	farFutureToleranceUpdates = 10
	idealHeadroomUpdates      = 2
)

// Arbiter tracks, per connection, the timing shift the server advises the
// client to apply, and arbitrates incoming PlayerInput messages against the
// rewinder's per-connection input history.
type Arbiter struct {
	rewinder   *rewinder.Rewinder
	log        logrus.FieldLogger
	indexShift map[world.ConnectionID]int32
}

// New returns an Arbiter backed by r. log may be nil.
func New(r *rewinder.Rewinder, log logrus.FieldLogger) *Arbiter {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Arbiter{rewinder: r, log: log, indexShift: make(map[world.ConnectionID]int32)}
}

// HandlePlayerInputMessage implements §4.6 steps 1-6 for one received
// PlayerInput message: lastReceivedInputUpdateIdx and window are already
// decoded (the compressed-input decode happens in networking/handlers,
// ahead of this call, per the original's "don't waste time decoding if not
// needed" comment — this port always decodes first since Go's decoder is
// cheap relative to the allocation of keeping raw bytes around, but the
// decision of whether to *apply* the result still follows the original's
// staleness/far-future gates exactly).
func (a *Arbiter) HandlePlayerInputMessage(conn world.ConnectionID, lastReceivedInputUpdateIdx uint32, window []input.FrameInput) error {
	serverNow := a.rewinder.Current()

	if lastReceivedInputUpdateIdx > serverNow+farFutureToleranceUpdates {
		a.log.WithFields(logrus.Fields{
			"connection": conn,
			"last_input": lastReceivedInputUpdateIdx,
			"server_now": serverNow,
		}).Debug("arbiter: discarding far-future input message")
		return nil
	}

	if lastReceivedInputUpdateIdx > serverNow {
		if err := a.fillFromWindow(conn, serverNow, lastReceivedInputUpdateIdx, window); err != nil {
			return fmt.Errorf("arbiter: applying input window for connection %d: %w", conn, err)
		}
	} else {
		a.log.WithFields(logrus.Fields{
			"connection": conn,
			"last_input": lastReceivedInputUpdateIdx,
			"server_now": serverNow,
		}).Debug("arbiter: ignoring stale input message")
	}

	a.updateIndexShift(conn, lastReceivedInputUpdateIdx, serverNow)
	return nil
}

// fillFromWindow implements §4.6 steps 4-5: the received window, plus
// backfilling any gap between the server's own tick and the window's start
// by repeating the connection's last known input.
func (a *Arbiter) fillFromWindow(conn world.ConnectionID, serverNow, lastReceivedInputUpdateIdx uint32, window []input.FrameInput) error {
	count := uint32(len(window))
	if count == 0 {
		return nil
	}
	firstReceivedUpdateIdx := lastReceivedInputUpdateIdx - count + 1

	if firstReceivedUpdateIdx > serverNow+1 {
		firstStored := a.rewinder.FirstStoredUpdateIdx()
		var lastKnown input.FrameInput
		if serverNow > firstStored {
			lastKnown = a.rewinder.GetOrPredictPlayerInput(conn, serverNow)
		}
		for u := serverNow + 1; u < firstReceivedUpdateIdx; u++ {
			if err := a.rewinder.AddPlayerInput(conn, u, lastKnown); err != nil {
				return err
			}
		}
	}

	firstUpdateToFill := firstReceivedUpdateIdx
	if serverNow+1 > firstUpdateToFill {
		firstUpdateToFill = serverNow + 1
	}
	for u := firstUpdateToFill; u <= lastReceivedInputUpdateIdx; u++ {
		idx := u - firstReceivedUpdateIdx
		if err := a.rewinder.AddPlayerInput(conn, u, window[idx]); err != nil {
			return err
		}
	}
	return nil
}

// updateIndexShift implements §4.6 step 6: the server wants two updates of
// input headroom per connection; the gap between what was actually
// received and that ideal becomes the advisory timing shift.
func (a *Arbiter) updateIndexShift(conn world.ConnectionID, lastReceivedInputUpdateIdx, serverNow uint32) {
	ideal := int64(serverNow) + idealHeadroomUpdates
	shift := int64(lastReceivedInputUpdateIdx) - ideal
	a.indexShift[conn] = int32(shift)
}

// IndexShiftFor returns the most recently computed timing shift for conn,
// piggy-backed onto outbound EntityMove messages (§4.8) so the client can
// adjust its tick phase. Zero if the connection has never sent input.
func (a *Arbiter) IndexShiftFor(conn world.ConnectionID) int32 {
	return a.indexShift[conn]
}

// ForgetConnection drops all per-connection arbitration state (on
// disconnect).
func (a *Arbiter) ForgetConnection(conn world.ConnectionID) {
	delete(a.indexShift, conn)
	a.rewinder.ForgetConnection(conn)
}
