// Package handlers implements the seven message handlers and the
// connection lifecycle (§4.8-4.9), grounded on
// original_source/.../GameUtils/Network/Messages/{ClientServer,ServerClient}/*.cpp
// and Systems/{Client,Server}NetworkMessageSystem.cpp.
package handlers

import (
	"fmt"

	"github.com/gameraccoon/tank-game-sub000/networking/shared/wire"
)

// DisconnectReasonKind is the wire tag identifying a DisconnectReason
// variant (§4.8).
type DisconnectReasonKind uint8

const (
	DisconnectIncompatibleVersion DisconnectReasonKind = 0
	DisconnectClientShutdown      DisconnectReasonKind = 1
	DisconnectServerShutdown      DisconnectReasonKind = 2
	// DisconnectUnknown is what the server sends when it drops a connection
	// for a protocol error; it is written as tag 255 with no payload.
	// DecodeDisconnect reports any tag outside 0-2 as this kind, carrying the
	// raw tag in UnknownTag.
	DisconnectUnknown DisconnectReasonKind = 255
)

// DisconnectReason mirrors the C++ original's DisconnectReason::Value
// variant, flattened into one struct since Go has no tagged union: only the
// fields relevant to Kind are meaningful.
type DisconnectReason struct {
	Kind          DisconnectReasonKind
	ServerVersion uint32
	ClientVersion uint32
	UnknownTag    uint8
}

// String matches the original's ReasonToString.
func (r DisconnectReason) String() string {
	switch r.Kind {
	case DisconnectIncompatibleVersion:
		return fmt.Sprintf("incompatible network protocol version: client=%d server=%d", r.ClientVersion, r.ServerVersion)
	case DisconnectClientShutdown:
		return "client shutdown"
	case DisconnectServerShutdown:
		return "server shutdown"
	default:
		return fmt.Sprintf("unknown disconnect reason (%d)", r.UnknownTag)
	}
}

// EncodeDisconnect writes the reason tag first, then any variant-specific
// fields (only IncompatibleVersion carries any, per §4.8).
func EncodeDisconnect(reason DisconnectReason) []byte {
	w := wire.NewWriter()
	w.PutU8(uint8(reason.Kind))
	if reason.Kind == DisconnectIncompatibleVersion {
		w.PutU32(reason.ServerVersion)
		w.PutU32(reason.ClientVersion)
	}
	return wire.EncodeFrame(wire.MessageDisconnect, w.Bytes())
}

// DecodeDisconnect reverses EncodeDisconnect. A tag outside the known set
// is reported as DisconnectUnknown carrying the raw tag, matching the
// original's "else Unknown{tag}" fallback rather than failing decode.
func DecodeDisconnect(payload []byte) (DisconnectReason, error) {
	r := wire.NewReader(payload)
	tag, err := r.GetU8()
	if err != nil {
		return DisconnectReason{}, fmt.Errorf("handlers: decode disconnect reason tag: %w", err)
	}
	switch DisconnectReasonKind(tag) {
	case DisconnectIncompatibleVersion:
		serverVer, err := r.GetU32()
		if err != nil {
			return DisconnectReason{}, fmt.Errorf("handlers: decode disconnect server version: %w", err)
		}
		clientVer, err := r.GetU32()
		if err != nil {
			return DisconnectReason{}, fmt.Errorf("handlers: decode disconnect client version: %w", err)
		}
		return DisconnectReason{Kind: DisconnectIncompatibleVersion, ServerVersion: serverVer, ClientVersion: clientVer}, nil
	case DisconnectClientShutdown:
		return DisconnectReason{Kind: DisconnectClientShutdown}, nil
	case DisconnectServerShutdown:
		return DisconnectReason{Kind: DisconnectServerShutdown}, nil
	default:
		return DisconnectReason{Kind: DisconnectUnknown, UnknownTag: tag}, nil
	}
}
