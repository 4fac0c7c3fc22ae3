package handlers

import (
	"fmt"

	"github.com/gameraccoon/tank-game-sub000/networking/shared/command"
	"github.com/gameraccoon/tank-game-sub000/networking/shared/wire"
	"github.com/gameraccoon/tank-game-sub000/networking/world"
)

// GameplayCommand (id 5) and WorldSnapshot (id 6) share the exact same wire
// shape — `u32 update_idx, u16 count, then (u16 kind, payload)*` — and differ
// only in how the receiver applies the decoded list (§4.8): GameplayCommand
// replaces the external command list recorded for its update,
// WorldSnapshot replaces the whole snapshot.
// encodeCommandList/decodeCommandList implement the shared codec once.

func encodeCommandList(updateIdx uint32, cmds []command.Command, receiver world.ConnectionID) ([]byte, error) {
	w := wire.NewWriter()
	w.PutU32(updateIdx)
	if err := w.PutU16FromInt(len(cmds)); err != nil {
		return nil, fmt.Errorf("handlers: encode command list count: %w", err)
	}
	for _, c := range cmds {
		w.PutU16(uint16(c.Kind()))
		c.ServerSerialize(w, receiver)
	}
	return w.Bytes(), nil
}

func decodeCommandList(reg *command.Registry, payload []byte) (uint32, []command.Command, error) {
	r := wire.NewReader(payload)
	updateIdx, err := r.GetU32()
	if err != nil {
		return 0, nil, fmt.Errorf("handlers: decode command list update idx: %w", err)
	}
	count, err := r.GetU16()
	if err != nil {
		return 0, nil, fmt.Errorf("handlers: decode command list count: %w", err)
	}
	cmds := make([]command.Command, count)
	for i := range cmds {
		c, err := reg.Deserialize(r)
		if err != nil {
			return 0, nil, err
		}
		cmds[i] = c
	}
	return updateIdx, cmds, nil
}

// EncodeGameplayCommand builds the GameplayCommand message carrying cmds,
// serialized from the server's perspective of receiver.
func EncodeGameplayCommand(updateIdx uint32, cmds []command.Command, receiver world.ConnectionID) ([]byte, error) {
	body, err := encodeCommandList(updateIdx, cmds, receiver)
	if err != nil {
		return nil, err
	}
	return wire.EncodeFrame(wire.MessageGameplayCommand, body), nil
}

// DecodeGameplayCommand reverses EncodeGameplayCommand using reg to resolve
// each command's kind tag. An unregistered kind surfaces command.ErrUnknownKind,
// which callers are expected to wrap as a protoerr.ProtocolError (§7) rather
// than treat as fatal.
func DecodeGameplayCommand(reg *command.Registry, payload []byte) (updateIdx uint32, cmds []command.Command, err error) {
	return decodeCommandList(reg, payload)
}

// EncodeWorldSnapshot builds the WorldSnapshot message: the full set of
// commands needed to reconstruct the authoritative world from scratch,
// serialized from receiver's perspective.
func EncodeWorldSnapshot(updateIdx uint32, cmds []command.Command, receiver world.ConnectionID) ([]byte, error) {
	body, err := encodeCommandList(updateIdx, cmds, receiver)
	if err != nil {
		return nil, err
	}
	return wire.EncodeFrame(wire.MessageWorldSnapshot, body), nil
}

// DecodeWorldSnapshot reverses EncodeWorldSnapshot.
func DecodeWorldSnapshot(reg *command.Registry, payload []byte) (updateIdx uint32, cmds []command.Command, err error) {
	return decodeCommandList(reg, payload)
}
