package wire

import (
	"encoding/binary"
	"math"
)

// Encoder appends wire-encoded values to an in-memory buffer.
type Encoder struct {
	buf []byte
}

// NewEncoder creates an empty encoder.
func NewEncoder() *Encoder {
	return &Encoder{buf: make([]byte, 0, 256)}
}

// Bytes returns the encoded bytes. The slice aliases the encoder buffer.
func (e *Encoder) Bytes() []byte {
	return e.buf
}

// Len returns the number of bytes written so far.
func (e *Encoder) Len() int {
	return len(e.buf)
}

// U8 writes a single byte.
func (e *Encoder) U8(v uint8) {
	e.buf = append(e.buf, v)
}

// Bool writes a boolean as 0 or 1.
func (e *Encoder) Bool(v bool) {
	if v {
		e.buf = append(e.buf, 1)
	} else {
		e.buf = append(e.buf, 0)
	}
}

// U16 writes a little-endian uint16.
func (e *Encoder) U16(v uint16) {
	e.buf = binary.LittleEndian.AppendUint16(e.buf, v)
}

// U32 writes a little-endian uint32.
func (e *Encoder) U32(v uint32) {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, v)
}

// U64 writes a little-endian uint64.
func (e *Encoder) U64(v uint64) {
	e.buf = binary.LittleEndian.AppendUint64(e.buf, v)
}

// I64 writes a little-endian two's complement int64.
func (e *Encoder) I64(v int64) {
	e.U64(uint64(v))
}

// F64 writes the IEEE-754 bits of v.
func (e *Encoder) F64(v float64) {
	e.U64(math.Float64bits(v))
}

// Fixed writes raw bytes without a length prefix.
func (e *Encoder) Fixed(b []byte) {
	e.buf = append(e.buf, b...)
}

// Bytes64 writes a u64 length prefix followed by b.
func (e *Encoder) Bytes64(b []byte) {
	e.U64(uint64(len(b)))
	e.buf = append(e.buf, b...)
}

// String writes s as a length-prefixed byte string.
func (e *Encoder) String(s string) {
	e.U64(uint64(len(s)))
	e.buf = append(e.buf, s...)
}

// Len64 writes a sequence length prefix.
func (e *Encoder) Len64(n int) {
	e.U64(uint64(n))
}

// Option writes the presence tag for an optional value.
func (e *Encoder) Option(present bool) {
	e.Bool(present)
}

// Value encodes a nested value.
func (e *Encoder) Value(v Marshaler) {
	v.EncodeWire(e)
}
