// Package protoerr defines an error shape for tagging a handlers decode
// error with the connection and message it came from (§7: an unknown
// command kind, a malformed input window, or any other client-caused
// protocol violation disconnects one connection, it never aborts the host).
// The handlers package returns plain wrapped sentinel errors and does not
// build a ProtocolError itself; networking/server disconnects the offending
// connection on a decode error without constructing one either.
package protoerr

import (
	"fmt"

	"github.com/gameraccoon/tank-game-sub000/networking/world"
)

// ProtocolError wraps an underlying decode/validation failure with enough
// context for the caller to decide which connection to drop and what to log.
type ProtocolError struct {
	Connection world.ConnectionID
	Message    string // the MessageID's String() form, e.g. "PlayerInput"
	Reason     string
	Err        error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error on connection %d (%s): %s: %v", e.Connection, e.Message, e.Reason, e.Err)
	}
	return fmt.Sprintf("protocol error on connection %d (%s): %s", e.Connection, e.Message, e.Reason)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// New builds a ProtocolError that wraps err.
func New(conn world.ConnectionID, message, reason string, err error) *ProtocolError {
	return &ProtocolError{Connection: conn, Message: message, Reason: reason, Err: err}
}
