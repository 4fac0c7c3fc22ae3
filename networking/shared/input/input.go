// Package input implements the delta-compressed input codec (§4.2),
// grounded on original_source/src/GameUtils/Network/CompressedInput.cpp:
// AppendInputHistory/ReadInputHistory. Most axes are zero in most frames and
// most keys change state far less often than once per frame, so the wire
// encoding is a sparse axis list plus a run-length key history rather than a
// flat per-frame dump (the superseded approach still present in
// original_source/src/Utils/Network/CompressedInput.cpp).
package input

import (
	"errors"
	"fmt"

	"github.com/gameraccoon/tank-game-sub000/networking/shared/wire"
)

// AxisCount and KeyCount fix the shape of a FrameInput. The reference game
// exposes two movement axes (forward/back, turn left/right) and four keys
// (primary fire, secondary fire, interact, reserved).
const (
	AxisCount = 2
	KeyCount  = 4

	// MaxInputHistorySendSize bounds the window length carried by a single
	// PlayerInput message (§6).
	MaxInputHistorySendSize = 10
)

// KeyState is the four-way activation state of one input key (§3).
type KeyState uint8

const (
	KeyInactive KeyState = iota
	KeyJustActivated
	KeyActive
	KeyJustDeactivated
)

// KeyInfo is one key's state plus the timestamp it last changed.
type KeyInfo struct {
	State      KeyState
	LastFlipTS uint32
}

// FrameInput is one fixed update's worth of player input (§3). The zero
// value is the all-inactive, all-zero-axis frame.
type FrameInput struct {
	Axes [AxisCount]float32
	Keys [KeyCount]KeyInfo
}

var (
	// ErrMalformedTiling is a protocol error: a key's run-length groups did
	// not tile [0, windowLen) exactly (non-monotonic end index, overshoot,
	// or a gap).
	ErrMalformedTiling = errors.New("input: key history groups do not tile the window")
)

// Encode writes a window of up to MaxInputHistorySendSize frames, ordered
// oldest-to-newest, following the three-step algorithm in §4.2.
func Encode(w *wire.Writer, window []FrameInput) error {
	if len(window) > MaxInputHistorySendSize {
		return fmt.Errorf("input: window of %d frames exceeds MaxInputHistorySendSize", len(window))
	}

	var changedAxes []int
	for axis := 0; axis < AxisCount; axis++ {
		for _, frame := range window {
			if frame.Axes[axis] != 0 {
				changedAxes = append(changedAxes, axis)
				break
			}
		}
	}

	if err := w.PutU8FromInt(len(changedAxes)); err != nil {
		return err
	}
	for _, axis := range changedAxes {
		if err := w.PutU8FromInt(axis); err != nil {
			return err
		}
		for _, frame := range window {
			w.PutF32(frame.Axes[axis])
		}
	}

	for key := 0; key < KeyCount; key++ {
		groupStart := 0
		for groupStart < len(window) {
			state := window[groupStart].Keys[key].State
			flip := window[groupStart].Keys[key].LastFlipTS
			end := groupStart + 1
			for end < len(window) && window[end].Keys[key].State == state && window[end].Keys[key].LastFlipTS == flip {
				end++
			}
			if err := w.PutU8FromInt(end); err != nil {
				return err
			}
			w.PutU8(uint8(state))
			w.PutU32(flip)
			groupStart = end
		}
	}

	return nil
}

// Decode reverses Encode, reading exactly windowLen frames. Axes not listed
// in the stream are implicitly zero. A key whose groups do not tile
// [0, windowLen) exactly is reported as ErrMalformedTiling, per §4.2's
// "malformed stream ... is a protocol error."
func Decode(r *wire.Reader, windowLen int) ([]FrameInput, error) {
	if windowLen < 0 || windowLen > MaxInputHistorySendSize {
		return nil, fmt.Errorf("input: windowLen %d out of range", windowLen)
	}

	result := make([]FrameInput, windowLen)

	nAxes, err := r.GetU8()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(nAxes); i++ {
		axis, err := r.GetU8()
		if err != nil {
			return nil, err
		}
		if int(axis) >= AxisCount {
			return nil, fmt.Errorf("input: axis index %d out of range", axis)
		}
		for frame := 0; frame < windowLen; frame++ {
			v, err := r.GetF32()
			if err != nil {
				return nil, err
			}
			result[frame].Axes[axis] = v
		}
	}

	for key := 0; key < KeyCount; key++ {
		nextFrame := 0
		for nextFrame < windowLen {
			end, err := r.GetU8()
			if err != nil {
				return nil, err
			}
			state, err := r.GetU8()
			if err != nil {
				return nil, err
			}
			flip, err := r.GetU32()
			if err != nil {
				return nil, err
			}
			if int(end) <= nextFrame || int(end) > windowLen {
				return nil, fmt.Errorf("%w: key %d group end %d after %d (window %d)", ErrMalformedTiling, key, end, nextFrame, windowLen)
			}
			for f := nextFrame; f < int(end); f++ {
				result[f].Keys[key] = KeyInfo{State: KeyState(state), LastFlipTS: flip}
			}
			nextFrame = int(end)
		}
	}

	return result, nil
}
