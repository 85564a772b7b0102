package wire

import (
	"encoding/binary"
	"math"
)

// Decoder reads wire-encoded values from a byte slice.
//
// The decoder error is sticky: after the first failure every read returns a
// zero value and the original error is kept, so composite decoders can read
// a whole structure and check Err once.
type Decoder struct {
	data []byte
	off  int
	err  error
	// errOff is the offset of the first failure.
	errOff int
}

// NewDecoder creates a decoder over data. The decoder never mutates data.
func NewDecoder(data []byte) *Decoder {
	return &Decoder{data: data}
}

// Err returns the first error encountered, if any.
func (d *Decoder) Err() error {
	return d.err
}

// Offset returns the current read offset.
func (d *Decoder) Offset() int {
	return d.off
}

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int {
	return len(d.data) - d.off
}

// Fail records err at the current offset unless an error is already set.
func (d *Decoder) Fail(err error) {
	if d.err == nil {
		d.err = err
		d.errOff = d.off
	}
}

// Decode reads one named boundary value. It returns a *DeserializationError
// naming the value on the first failure.
func (d *Decoder) Decode(name string, v Unmarshaler) error {
	if d.err == nil {
		v.DecodeWire(d)
	}
	if d.err != nil {
		return &DeserializationError{Value: name, Offset: d.errOff, Err: d.err}
	}
	return nil
}

// Finish fails if unread input remains.
func (d *Decoder) Finish() error {
	if d.err != nil {
		return &DeserializationError{Offset: d.errOff, Err: d.err}
	}
	if d.off != len(d.data) {
		return &DeserializationError{Offset: d.off, Err: ErrTrailingBytes}
	}
	return nil
}

// take returns the next n bytes or nil after recording ErrTruncated.
func (d *Decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || len(d.data)-d.off < n {
		d.Fail(ErrTruncated)
		return nil
	}
	b := d.data[d.off : d.off+n]
	d.off += n
	return b
}

// U8 reads a single byte.
func (d *Decoder) U8() uint8 {
	b := d.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// Bool reads a 0/1 byte. Any other value fails with ErrInvalidTag.
func (d *Decoder) Bool() bool {
	off := d.off
	switch d.U8() {
	case 0:
		return false
	case 1:
		return true
	default:
		if d.err == nil {
			d.err = ErrInvalidTag
			d.errOff = off
		}
		return false
	}
}

// U16 reads a little-endian uint16.
func (d *Decoder) U16() uint16 {
	b := d.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

// U32 reads a little-endian uint32.
func (d *Decoder) U32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// U64 reads a little-endian uint64.
func (d *Decoder) U64() uint64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// I64 reads a little-endian two's complement int64.
func (d *Decoder) I64() int64 {
	return int64(d.U64())
}

// F64 reads IEEE-754 bits.
func (d *Decoder) F64() float64 {
	return math.Float64frombits(d.U64())
}

// Fixed fills dst with the next len(dst) bytes.
func (d *Decoder) Fixed(dst []byte) {
	b := d.take(len(dst))
	if b != nil {
		copy(dst, b)
	}
}

// Bytes64 reads a u64 length-prefixed byte string into a fresh slice.
// An empty string decodes as nil.
func (d *Decoder) Bytes64() []byte {
	n := d.length(MaxBytesLen)
	b := d.take(n)
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

// String reads a length-prefixed UTF-8 string. Contents are not validated.
func (d *Decoder) String() string {
	return string(d.Bytes64())
}

// Len64 reads a sequence length prefix bounded by MaxSequenceLen.
func (d *Decoder) Len64() int {
	return d.length(MaxSequenceLen)
}

// Option reads the presence tag of an optional value.
func (d *Decoder) Option() bool {
	return d.Bool()
}

// Value decodes a nested value.
func (d *Decoder) Value(v Unmarshaler) {
	if d.err == nil {
		v.DecodeWire(d)
	}
}

func (d *Decoder) length(max int) int {
	off := d.off
	n := d.U64()
	if d.err != nil {
		return 0
	}
	if n > uint64(max) {
		d.err = ErrTooLarge
		d.errOff = off
		return 0
	}
	// Every encoded element occupies at least one byte, so a prefix larger
	// than the unread input can never be satisfied.
	if n > uint64(d.Remaining()) {
		d.err = ErrTruncated
		d.errOff = off
		return 0
	}
	return int(n)
}
