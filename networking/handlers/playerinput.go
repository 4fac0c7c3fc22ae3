package handlers

import (
	"fmt"

	"github.com/gameraccoon/tank-game-sub000/networking/shared/input"
	"github.com/gameraccoon/tank-game-sub000/networking/shared/wire"
)

// PlayerInputPayload is the decoded PlayerInput message (§4.8, id 3): a
// client's confirmed input window, newest frame at LastInputUpdateIdx.
type PlayerInputPayload struct {
	LastInputUpdateIdx uint32
	Window             []input.FrameInput
}

// EncodePlayerInput writes the client's most recent window of up to
// input.MaxInputHistorySendSize frames.
func EncodePlayerInput(lastInputUpdateIdx uint32, window []input.FrameInput) ([]byte, error) {
	w := wire.NewWriter()
	w.PutU32(lastInputUpdateIdx)
	if err := w.PutU8FromInt(len(window)); err != nil {
		return nil, fmt.Errorf("handlers: encode player input window length: %w", err)
	}
	if err := input.Encode(w, window); err != nil {
		return nil, fmt.Errorf("handlers: encode player input window: %w", err)
	}
	return wire.EncodeFrame(wire.MessagePlayerInput, w.Bytes()), nil
}

// DecodePlayerInput reverses EncodePlayerInput.
func DecodePlayerInput(payload []byte) (PlayerInputPayload, error) {
	r := wire.NewReader(payload)
	lastIdx, err := r.GetU32()
	if err != nil {
		return PlayerInputPayload{}, fmt.Errorf("handlers: decode player input last idx: %w", err)
	}
	windowLen, err := r.GetU8()
	if err != nil {
		return PlayerInputPayload{}, fmt.Errorf("handlers: decode player input window length: %w", err)
	}
	window, err := input.Decode(r, int(windowLen))
	if err != nil {
		return PlayerInputPayload{}, fmt.Errorf("handlers: decode player input window: %w", err)
	}
	return PlayerInputPayload{LastInputUpdateIdx: lastIdx, Window: window}, nil
}
