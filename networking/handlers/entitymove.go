package handlers

import (
	"fmt"

	"github.com/gameraccoon/tank-game-sub000/networking/rewinder"
	"github.com/gameraccoon/tank-game-sub000/networking/shared/wire"
	"github.com/gameraccoon/tank-game-sub000/networking/world"
)

const (
	flagHasMissingInput uint8 = 1 << 0
	flagHasIndexShift   uint8 = 1 << 1
)

// EntityMovePayload is the decoded EntityMove message (§4.8, id 4): the
// server's authoritative move hashes for one update, plus the two optional
// flags a connection's arbiter state may set (§4.6).
type EntityMovePayload struct {
	HasMissingInput   bool
	LastKnownInputIdx uint32
	HasIndexShift     bool
	IndexShift        int32
	UpdateIdx         uint32
	Moves             []rewinder.MoveEntry
}

// EncodeEntityMove writes the authoritative moves for updateIdx, optionally
// carrying a missing-input notice and/or a timing-shift hint for the
// receiving client.
func EncodeEntityMove(p EntityMovePayload) ([]byte, error) {
	w := wire.NewWriter()

	var flags uint8
	if p.HasMissingInput {
		flags |= flagHasMissingInput
	}
	if p.HasIndexShift {
		flags |= flagHasIndexShift
	}
	w.PutU8(flags)

	if p.HasMissingInput {
		w.PutU32(p.LastKnownInputIdx)
	}
	if p.HasIndexShift {
		w.PutS32(p.IndexShift)
	}

	w.PutU32(p.UpdateIdx)
	if err := w.PutU16FromInt(len(p.Moves)); err != nil {
		return nil, fmt.Errorf("handlers: encode entity move count: %w", err)
	}
	for _, m := range p.Moves {
		w.PutU64(uint64(m.NetworkID))
		w.PutF32(m.Position.X)
		w.PutF32(m.Position.Y)
		w.PutF32(m.Direction.X)
		w.PutF32(m.Direction.Y)
	}

	return wire.EncodeFrame(wire.MessageEntityMove, w.Bytes()), nil
}

// DecodeEntityMove reverses EncodeEntityMove.
func DecodeEntityMove(payload []byte) (EntityMovePayload, error) {
	r := wire.NewReader(payload)

	flags, err := r.GetU8()
	if err != nil {
		return EntityMovePayload{}, fmt.Errorf("handlers: decode entity move flags: %w", err)
	}
	p := EntityMovePayload{
		HasMissingInput: flags&flagHasMissingInput != 0,
		HasIndexShift:   flags&flagHasIndexShift != 0,
	}

	if p.HasMissingInput {
		v, err := r.GetU32()
		if err != nil {
			return EntityMovePayload{}, fmt.Errorf("handlers: decode entity move last known input idx: %w", err)
		}
		p.LastKnownInputIdx = v
	}
	if p.HasIndexShift {
		v, err := r.GetS32()
		if err != nil {
			return EntityMovePayload{}, fmt.Errorf("handlers: decode entity move index shift: %w", err)
		}
		p.IndexShift = v
	}

	updateIdx, err := r.GetU32()
	if err != nil {
		return EntityMovePayload{}, fmt.Errorf("handlers: decode entity move update idx: %w", err)
	}
	p.UpdateIdx = updateIdx

	count, err := r.GetU16()
	if err != nil {
		return EntityMovePayload{}, fmt.Errorf("handlers: decode entity move count: %w", err)
	}
	p.Moves = make([]rewinder.MoveEntry, count)
	for i := range p.Moves {
		id, err := r.GetU64()
		if err != nil {
			return EntityMovePayload{}, fmt.Errorf("handlers: decode entity move entity id: %w", err)
		}
		posX, err := r.GetF32()
		if err != nil {
			return EntityMovePayload{}, fmt.Errorf("handlers: decode entity move position x: %w", err)
		}
		posY, err := r.GetF32()
		if err != nil {
			return EntityMovePayload{}, fmt.Errorf("handlers: decode entity move position y: %w", err)
		}
		dirX, err := r.GetF32()
		if err != nil {
			return EntityMovePayload{}, fmt.Errorf("handlers: decode entity move direction x: %w", err)
		}
		dirY, err := r.GetF32()
		if err != nil {
			return EntityMovePayload{}, fmt.Errorf("handlers: decode entity move direction y: %w", err)
		}
		p.Moves[i] = rewinder.MoveEntry{
			NetworkID: world.NetworkEntityID(id),
			Position:  world.Vec2{X: posX, Y: posY},
			Direction: world.Vec2{X: dirX, Y: dirY},
		}
	}

	return p, nil
}
