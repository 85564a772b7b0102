// Package types defines the key, signature, hash and account values that
// cross the replay boundary. Each has a fixed wire form and a base58 text
// form for the command line and logs.
package types

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/ed25519"

	"github.com/fortiblox/stratus-replay/pkg/wire"
)

// Size constants for core types.
const (
	PubkeySize    = 32
	SignatureSize = 64
	HashSize      = 32
)

// ErrInvalidLength is returned when decoded text has the wrong size for
// its type.
var ErrInvalidLength = errors.New("invalid length")

// parseBase58 decodes s into out, which fixes the expected length.
func parseBase58(kind, s string, out []byte) error {
	data, err := base58.Decode(s)
	if err != nil {
		return fmt.Errorf("parse %s %q: %w", kind, s, err)
	}
	if len(data) != len(out) {
		return fmt.Errorf("parse %s %q: %w: got %d bytes, want %d", kind, s, ErrInvalidLength, len(data), len(out))
	}
	copy(out, data)
	return nil
}

func allZero(b []byte) bool {
	for _, x := range b {
		if x != 0 {
			return false
		}
	}
	return true
}

// Pubkey is an account address.
type Pubkey [PubkeySize]byte

// PubkeyFromBase58 parses a base58-encoded address.
func PubkeyFromBase58(s string) (Pubkey, error) {
	var p Pubkey
	err := parseBase58("pubkey", s, p[:])
	return p, err
}

// String returns the base58 form.
func (p Pubkey) String() string { return base58.Encode(p[:]) }

// IsZero reports whether every byte is zero.
func (p Pubkey) IsZero() bool { return allZero(p[:]) }

// Less orders addresses by their bytes. Every sorted key list in a replay
// outcome uses this order.
func (p Pubkey) Less(other Pubkey) bool {
	return bytes.Compare(p[:], other[:]) < 0
}

// EncodeWire implements wire.Marshaler.
func (p Pubkey) EncodeWire(e *wire.Encoder) { e.Fixed(p[:]) }

// DecodeWire implements wire.Unmarshaler.
func (p *Pubkey) DecodeWire(d *wire.Decoder) { d.Fixed(p[:]) }

// Signature is an ed25519 transaction signature. The first signature of a
// transaction identifies it.
type Signature [SignatureSize]byte

// SignatureFromBase58 parses a base58-encoded signature.
func SignatureFromBase58(s string) (Signature, error) {
	var sig Signature
	err := parseBase58("signature", s, sig[:])
	return sig, err
}

// String returns the base58 form.
func (s Signature) String() string { return base58.Encode(s[:]) }

// IsZero reports whether every byte is zero.
func (s Signature) IsZero() bool { return allZero(s[:]) }

// Verify checks s over message against signer.
func (s Signature) Verify(signer Pubkey, message []byte) bool {
	return ed25519.Verify(ed25519.PublicKey(signer[:]), message, s[:])
}

// EncodeWire implements wire.Marshaler.
func (s Signature) EncodeWire(e *wire.Encoder) { e.Fixed(s[:]) }

// DecodeWire implements wire.Unmarshaler.
func (s *Signature) DecodeWire(d *wire.Decoder) { d.Fixed(s[:]) }

// Hash is a 32-byte digest: a blockhash, an outcome digest or an account
// hash.
type Hash [HashSize]byte

// HashFromBase58 parses a base58-encoded hash.
func HashFromBase58(s string) (Hash, error) {
	var h Hash
	err := parseBase58("hash", s, h[:])
	return h, err
}

// String returns the base58 form.
func (h Hash) String() string { return base58.Encode(h[:]) }

// IsZero reports whether every byte is zero.
func (h Hash) IsZero() bool { return allZero(h[:]) }

// EncodeWire implements wire.Marshaler.
func (h Hash) EncodeWire(e *wire.Encoder) { e.Fixed(h[:]) }

// DecodeWire implements wire.Unmarshaler.
func (h *Hash) DecodeWire(d *wire.Decoder) { d.Fixed(h[:]) }
