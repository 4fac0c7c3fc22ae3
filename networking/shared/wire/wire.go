// Package wire implements the core's message codec (ambient §4.1): fixed-
// width little-endian primitives with no in-band length prefixes, plus the
// four-byte message-id framing used by every wire message. It is the Go
// generalisation of the teacher's shared.Message Serialize/Deserialize pair,
// adapted to the core's simpler "id header + raw payload" framing rather
// than the teacher's PlayerID/Timestamp/length-prefixed envelope.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrShortBuffer is returned when a read would run past the end of the
	// buffer. The cursor is left unchanged, matching the spec's
	// cursor-untouched-on-failure contract.
	ErrShortBuffer = errors.New("wire: not enough bytes remaining")
	// ErrInvalidFloat is returned when a decoded float bit pattern is NaN or
	// infinite.
	ErrInvalidFloat = errors.New("wire: NaN or infinite float")
	// ErrOutOfRange is returned by narrowing-cast writers when the source
	// value does not fit in the destination width.
	ErrOutOfRange = errors.New("wire: value out of range for destination width")
)

// MessageID identifies one of the seven core wire messages (§4.8).
type MessageID uint32

const (
	MessageConnect MessageID = iota
	MessageDisconnect
	MessageConnectionAccepted
	MessagePlayerInput
	MessageEntityMove
	MessageGameplayCommand
	MessageWorldSnapshot
)

func (id MessageID) String() string {
	switch id {
	case MessageConnect:
		return "Connect"
	case MessageDisconnect:
		return "Disconnect"
	case MessageConnectionAccepted:
		return "ConnectionAccepted"
	case MessagePlayerInput:
		return "PlayerInput"
	case MessageEntityMove:
		return "EntityMove"
	case MessageGameplayCommand:
		return "GameplayCommand"
	case MessageWorldSnapshot:
		return "WorldSnapshot"
	default:
		return fmt.Sprintf("MessageID(%d)", uint32(id))
	}
}

// ProtocolVersion is bumped whenever any message layout, any added/removed
// message, any GameplayCommand variant, the delta-compression scheme, or the
// MoveHash quantisation changes (§6).
const ProtocolVersion uint32 = 3

// payloadStartPos is the byte offset of the payload within a framed
// datagram: a single u32 message id, nothing else (§6).
const payloadStartPos = 4

// Frame is a decoded datagram: a stable id header plus the raw payload
// bytes that follow it. There is no in-band length prefix; the transport
// supplies datagram boundaries.
type Frame struct {
	ID      MessageID
	Payload []byte
}

// EncodeFrame prepends the message id header to payload.
func EncodeFrame(id MessageID, payload []byte) []byte {
	out := make([]byte, payloadStartPos+len(payload))
	binary.LittleEndian.PutUint32(out, uint32(id))
	copy(out[payloadStartPos:], payload)
	return out
}

// DecodeFrame splits a received datagram into its id and payload.
func DecodeFrame(datagram []byte) (Frame, error) {
	if len(datagram) < payloadStartPos {
		return Frame{}, fmt.Errorf("%w: datagram shorter than message header", ErrShortBuffer)
	}
	id := MessageID(binary.LittleEndian.Uint32(datagram))
	return Frame{ID: id, Payload: datagram[payloadStartPos:]}, nil
}

// Writer appends little-endian primitives to a growing byte buffer. It never
// fails; narrowing-cast helpers return an error instead of writing when the
// source value does not fit.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer { return &Writer{} }

// Bytes returns the accumulated buffer.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

func (w *Writer) PutU8(v uint8) { w.buf = append(w.buf, v) }
func (w *Writer) PutS8(v int8)  { w.buf = append(w.buf, byte(v)) }

func (w *Writer) PutU16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) PutS16(v int16) { w.PutU16(uint16(v)) }

func (w *Writer) PutU32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) PutS32(v int32) { w.PutU32(uint32(v)) }

func (w *Writer) PutU64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) PutS64(v int64) { w.PutU64(uint64(v)) }

func (w *Writer) PutF32(v float32) { w.PutU32(math.Float32bits(v)) }
func (w *Writer) PutF64(v float64) { w.PutU64(math.Float64bits(v)) }

// PutU8FromInt narrows an int to u8, failing rather than truncating silently
// if it doesn't fit (§4.1 narrowing-cast contract).
func (w *Writer) PutU8FromInt(v int) error {
	if v < 0 || v > math.MaxUint8 {
		return fmt.Errorf("%w: %d does not fit in u8", ErrOutOfRange, v)
	}
	w.PutU8(uint8(v))
	return nil
}

// PutU16FromInt narrows an int to u16.
func (w *Writer) PutU16FromInt(v int) error {
	if v < 0 || v > math.MaxUint16 {
		return fmt.Errorf("%w: %d does not fit in u16", ErrOutOfRange, v)
	}
	w.PutU16(uint16(v))
	return nil
}

// Reader reads little-endian primitives from a fixed buffer, advancing an
// internal cursor. A failed read leaves the cursor unchanged.
type Reader struct {
	buf    []byte
	cursor int
}

// NewReader wraps buf for sequential reads starting at offset 0.
func NewReader(buf []byte) *Reader { return &Reader{buf: buf} }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.cursor }

// Cursor returns the current read offset.
func (r *Reader) Cursor() int { return r.cursor }

func (r *Reader) GetU8() (uint8, error) {
	if r.Remaining() < 1 {
		return 0, ErrShortBuffer
	}
	v := r.buf[r.cursor]
	r.cursor++
	return v, nil
}

func (r *Reader) GetS8() (int8, error) {
	v, err := r.GetU8()
	return int8(v), err
}

func (r *Reader) GetU16() (uint16, error) {
	if r.Remaining() < 2 {
		return 0, ErrShortBuffer
	}
	v := binary.LittleEndian.Uint16(r.buf[r.cursor:])
	r.cursor += 2
	return v, nil
}

func (r *Reader) GetS16() (int16, error) {
	v, err := r.GetU16()
	return int16(v), err
}

func (r *Reader) GetU32() (uint32, error) {
	if r.Remaining() < 4 {
		return 0, ErrShortBuffer
	}
	v := binary.LittleEndian.Uint32(r.buf[r.cursor:])
	r.cursor += 4
	return v, nil
}

func (r *Reader) GetS32() (int32, error) {
	v, err := r.GetU32()
	return int32(v), err
}

func (r *Reader) GetU64() (uint64, error) {
	if r.Remaining() < 8 {
		return 0, ErrShortBuffer
	}
	v := binary.LittleEndian.Uint64(r.buf[r.cursor:])
	r.cursor += 8
	return v, nil
}

func (r *Reader) GetS64() (int64, error) {
	v, err := r.GetU64()
	return int64(v), err
}

// GetF32 additionally rejects NaN and infinite bit patterns (§4.1).
func (r *Reader) GetF32() (float32, error) {
	bits, err := r.GetU32()
	if err != nil {
		return 0, err
	}
	f := math.Float32frombits(bits)
	if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
		r.cursor -= 4
		return 0, ErrInvalidFloat
	}
	return f, nil
}

// GetF64 additionally rejects NaN and infinite bit patterns.
func (r *Reader) GetF64() (float64, error) {
	bits, err := r.GetU64()
	if err != nil {
		return 0, err
	}
	f := math.Float64frombits(bits)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		r.cursor -= 8
		return 0, ErrInvalidFloat
	}
	return f, nil
}
