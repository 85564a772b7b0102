// Package wire implements the byte codec used at the replay trust boundary.
//
// Values are laid out the way bincode lays out Rust values on the Solana side:
// - Integers and floats are fixed-width little-endian
// - Booleans are a single 0/1 byte
// - Byte strings and sequences carry a u64 length prefix
// - Options carry a u8 tag (0 = none, 1 = some)
//
// The format is positional and has no field names or padding, so two parties
// encoding equal values always produce identical bytes.
package wire

import (
	"errors"
	"fmt"
)

var (
	// ErrTruncated is returned when the input ends in the middle of a value.
	ErrTruncated = errors.New("unexpected end of input")

	// ErrInvalidTag is returned for a bool, option or enum tag outside its range.
	ErrInvalidTag = errors.New("invalid tag")

	// ErrTooLarge is returned when a length prefix exceeds the codec limits.
	ErrTooLarge = errors.New("length prefix too large")

	// ErrTrailingBytes is returned when input remains after the last value.
	ErrTrailingBytes = errors.New("trailing bytes after last value")
)

// Codec limits. A length prefix above these is rejected before allocating.
const (
	// MaxBytesLen bounds a single byte string (account data is at most 10 MiB).
	MaxBytesLen = 10 * 1024 * 1024

	// MaxSequenceLen bounds the element count of any sequence.
	MaxSequenceLen = 1 << 20
)

// DeserializationError reports a malformed or truncated boundary value.
type DeserializationError struct {
	// Value names the boundary value being decoded (e.g. "rent").
	Value string

	// Offset is the byte offset at which decoding failed.
	Offset int

	// Err is the underlying cause (ErrTruncated, ErrInvalidTag, ...).
	Err error
}

// Error implements error.
func (e *DeserializationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("deserialize at offset %d: %v", e.Offset, e.Err)
	}
	return fmt.Sprintf("deserialize %s at offset %d: %v", e.Value, e.Offset, e.Err)
}

// Unwrap returns the underlying cause.
func (e *DeserializationError) Unwrap() error {
	return e.Err
}

// Marshaler is implemented by values with a wire form.
type Marshaler interface {
	EncodeWire(e *Encoder)
}

// Unmarshaler is implemented by values that can be read from the wire.
// Implementations read through the decoder and report failures with Fail;
// the decoder error is checked by the caller.
type Unmarshaler interface {
	DecodeWire(d *Decoder)
}

// Marshal encodes v into a fresh byte slice.
func Marshal(v Marshaler) []byte {
	e := NewEncoder()
	v.EncodeWire(e)
	return e.Bytes()
}

// Unmarshal decodes a single value that must span all of data.
func Unmarshal(data []byte, name string, v Unmarshaler) error {
	d := NewDecoder(data)
	if err := d.Decode(name, v); err != nil {
		return err
	}
	return d.Finish()
}
