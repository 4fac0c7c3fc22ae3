package reconcile

import "time"

// SpreadUpdates is the number of fixed updates a timing-shift correction is
// spread across (§4.7).
const SpreadUpdates = 10

// OneFixedUpdateUs is the reference tick duration in microseconds (GLOSSARY).
const OneFixedUpdateUs = 16000

// maxCorrectionFraction caps a single update's correction to ±50% of one
// update's duration (§4.7).
const maxCorrectionFraction = 0.5

// FrameTimeCorrector smooths a server-reported timing shift over
// SpreadUpdates frames instead of applying it in one jump, grounded on
// TankClientGame's mFrameTimeCorrector (getFrameLengthCorrection,
// advanceOneUpdate).
type FrameTimeCorrector struct {
	perUpdateCorrectionUs int64
	remainingSpread       int
}

// ApplyShift records a new timing shift s (positive: client too far ahead,
// negative: too far behind) received on the most recent MovesMessage. It
// resets the spread window; any partially-applied previous correction is
// discarded in favor of the fresh one.
func (c *FrameTimeCorrector) ApplyShift(shift int32) {
	correctionUs := int64(shift) * OneFixedUpdateUs
	perUpdate := correctionUs / SpreadUpdates

	maxAbs := int64(OneFixedUpdateUs * maxCorrectionFraction)
	if perUpdate > maxAbs {
		perUpdate = maxAbs
	} else if perUpdate < -maxAbs {
		perUpdate = -maxAbs
	}

	c.perUpdateCorrectionUs = perUpdate
	c.remainingSpread = SpreadUpdates
}

// FrameLengthCorrection returns the correction to apply to the next frame's
// length; zero once the spread window has been fully consumed.
func (c *FrameTimeCorrector) FrameLengthCorrection() time.Duration {
	if c.remainingSpread <= 0 {
		return 0
	}
	return time.Duration(c.perUpdateCorrectionUs) * time.Microsecond
}

// AdvanceOneUpdate decrements the remaining-spread counter, called once per
// fixed update regardless of whether a correction is active.
func (c *FrameTimeCorrector) AdvanceOneUpdate() {
	if c.remainingSpread > 0 {
		c.remainingSpread--
	}
}
