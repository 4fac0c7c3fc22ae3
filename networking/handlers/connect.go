package handlers

import (
	"fmt"

	"github.com/gameraccoon/tank-game-sub000/networking/shared/wire"
)

// ConnectPayload is the decoded Connect message (§4.8, id 0).
type ConnectPayload struct {
	ClientProtocolVersion uint32
	ClientTimestampUs     uint64
}

// EncodeConnect builds the outgoing Connect message a client sends first.
func EncodeConnect(clientProtocolVersion uint32, clientTimestampUs uint64) []byte {
	w := wire.NewWriter()
	w.PutU32(clientProtocolVersion)
	w.PutU64(clientTimestampUs)
	return wire.EncodeFrame(wire.MessageConnect, w.Bytes())
}

// DecodeConnect reverses EncodeConnect.
func DecodeConnect(payload []byte) (ConnectPayload, error) {
	r := wire.NewReader(payload)
	version, err := r.GetU32()
	if err != nil {
		return ConnectPayload{}, fmt.Errorf("handlers: decode connect version: %w", err)
	}
	ts, err := r.GetU64()
	if err != nil {
		return ConnectPayload{}, fmt.Errorf("handlers: decode connect timestamp: %w", err)
	}
	return ConnectPayload{ClientProtocolVersion: version, ClientTimestampUs: ts}, nil
}
