package wire

import (
	"math"
	"testing"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	w := NewWriter()
	w.PutU8(7)
	w.PutS8(-7)
	w.PutU16(1234)
	w.PutS16(-1234)
	w.PutU32(987654)
	w.PutS32(-987654)
	w.PutU64(1 << 40)
	w.PutS64(-(1 << 40))
	w.PutF32(3.5)
	w.PutF64(-2.25)

	r := NewReader(w.Bytes())

	if v, err := r.GetU8(); err != nil || v != 7 {
		t.Fatalf("GetU8: %v, %v", v, err)
	}
	if v, err := r.GetS8(); err != nil || v != -7 {
		t.Fatalf("GetS8: %v, %v", v, err)
	}
	if v, err := r.GetU16(); err != nil || v != 1234 {
		t.Fatalf("GetU16: %v, %v", v, err)
	}
	if v, err := r.GetS16(); err != nil || v != -1234 {
		t.Fatalf("GetS16: %v, %v", v, err)
	}
	if v, err := r.GetU32(); err != nil || v != 987654 {
		t.Fatalf("GetU32: %v, %v", v, err)
	}
	if v, err := r.GetS32(); err != nil || v != -987654 {
		t.Fatalf("GetS32: %v, %v", v, err)
	}
	if v, err := r.GetU64(); err != nil || v != 1<<40 {
		t.Fatalf("GetU64: %v, %v", v, err)
	}
	if v, err := r.GetS64(); err != nil || v != -(1<<40) {
		t.Fatalf("GetS64: %v, %v", v, err)
	}
	if v, err := r.GetF32(); err != nil || v != 3.5 {
		t.Fatalf("GetF32: %v, %v", v, err)
	}
	if v, err := r.GetF64(); err != nil || v != -2.25 {
		t.Fatalf("GetF64: %v, %v", v, err)
	}
	if r.Remaining() != 0 {
		t.Fatalf("expected buffer exhausted, %d bytes remaining", r.Remaining())
	}
}

func TestReaderShortBufferLeavesCursorUnchanged(t *testing.T) {
	r := NewReader([]byte{1, 2, 3})
	before := r.Cursor()
	if _, err := r.GetU32(); err != ErrShortBuffer {
		t.Fatalf("expected ErrShortBuffer, got %v", err)
	}
	if r.Cursor() != before {
		t.Fatalf("cursor moved on failed read: %d != %d", r.Cursor(), before)
	}
}

func TestReaderRejectsNaNAndInfFloats(t *testing.T) {
	w := NewWriter()
	w.PutF32(float32(math.NaN()))
	w.PutF32(float32(math.Inf(1)))
	w.PutF64(math.NaN())

	r := NewReader(w.Bytes())
	if _, err := r.GetF32(); err != ErrInvalidFloat {
		t.Fatalf("expected ErrInvalidFloat for NaN f32, got %v", err)
	}
	// cursor should not have advanced past the NaN value
	if r.Cursor() != 0 {
		t.Fatalf("cursor advanced on rejected NaN float: %d", r.Cursor())
	}
	if _, err := r.GetU32(); err != nil { // step over the NaN bits
		t.Fatalf("GetU32: %v", err)
	}
	if _, err := r.GetF32(); err != ErrInvalidFloat {
		t.Fatalf("expected ErrInvalidFloat for +Inf f32, got %v", err)
	}
	if _, err := r.GetU32(); err != nil { // step over the Inf bits
		t.Fatalf("GetU32: %v", err)
	}
	if _, err := r.GetF64(); err != ErrInvalidFloat {
		t.Fatalf("expected ErrInvalidFloat for NaN f64, got %v", err)
	}
}

func TestNarrowingCasts(t *testing.T) {
	w := NewWriter()
	if err := w.PutU8FromInt(255); err != nil {
		t.Fatalf("unexpected error for in-range u8: %v", err)
	}
	if err := w.PutU8FromInt(256); err == nil {
		t.Fatalf("expected out-of-range error for u8(256)")
	}
	if err := w.PutU16FromInt(-1); err == nil {
		t.Fatalf("expected out-of-range error for negative u16")
	}
}

func TestFrameEncodeDecode(t *testing.T) {
	payload := []byte{1, 2, 3, 4, 5}
	frame := EncodeFrame(MessagePlayerInput, payload)
	if len(frame) != payloadStartPos+len(payload) {
		t.Fatalf("unexpected frame length: %d", len(frame))
	}
	decoded, err := DecodeFrame(frame)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if decoded.ID != MessagePlayerInput {
		t.Fatalf("wrong id: %v", decoded.ID)
	}
	if string(decoded.Payload) != string(payload) {
		t.Fatalf("payload mismatch: %v != %v", decoded.Payload, payload)
	}
}

func TestDecodeFrameTooShort(t *testing.T) {
	if _, err := DecodeFrame([]byte{1, 2}); err == nil {
		t.Fatalf("expected error decoding a too-short datagram")
	}
}
