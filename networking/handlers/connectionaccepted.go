package handlers

import (
	"fmt"

	"github.com/gameraccoon/tank-game-sub000/networking/shared/wire"
)

// ConnectionAcceptedPayload is the decoded ConnectionAccepted message
// (§4.8, id 2).
type ConnectionAcceptedPayload struct {
	ServerUpdateAtAccept    uint32
	EchoedClientTimestampUs uint64
}

// EncodeConnectionAccepted builds the server's reply to a Connect message.
func EncodeConnectionAccepted(updateIdx uint32, echoedClientTimestampUs uint64) []byte {
	w := wire.NewWriter()
	w.PutU32(updateIdx)
	w.PutU64(echoedClientTimestampUs)
	return wire.EncodeFrame(wire.MessageConnectionAccepted, w.Bytes())
}

// DecodeConnectionAccepted reverses EncodeConnectionAccepted.
func DecodeConnectionAccepted(payload []byte) (ConnectionAcceptedPayload, error) {
	r := wire.NewReader(payload)
	updateIdx, err := r.GetU32()
	if err != nil {
		return ConnectionAcceptedPayload{}, fmt.Errorf("handlers: decode connection-accepted update idx: %w", err)
	}
	ts, err := r.GetU64()
	if err != nil {
		return ConnectionAcceptedPayload{}, fmt.Errorf("handlers: decode connection-accepted echoed timestamp: %w", err)
	}
	return ConnectionAcceptedPayload{ServerUpdateAtAccept: updateIdx, EchoedClientTimestampUs: ts}, nil
}

// ComputeInitialClientUpdateIndex implements §4.8's round-trip-time
// estimate: the client sets its own current update index to the server's
// update-at-accept plus however many updates fit in half the measured round
// trip, clamped so it never exceeds the ring capacity the client actually
// has simulated history for.
func ComputeInitialClientUpdateIndex(nowUs uint64, payload ConnectionAcceptedPayload, storedSimulatedUpdates uint32, oneUpdateUs uint64) uint32 {
	var roundTripUs uint64
	if nowUs > payload.EchoedClientTimestampUs {
		roundTripUs = nowUs - payload.EchoedClientTimestampUs
	}
	oneWayUs := roundTripUs / 2

	advance := uint32((oneWayUs + oneUpdateUs - 1) / oneUpdateUs) // round up
	estimated := payload.ServerUpdateAtAccept + advance

	if storedSimulatedUpdates == 0 {
		return payload.ServerUpdateAtAccept
	}
	clampCeiling := payload.ServerUpdateAtAccept + storedSimulatedUpdates - 1
	if estimated > clampCeiling {
		return clampCeiling
	}
	return estimated
}
