// Package transaction models the sanitized legacy transaction replayed by
// the harness.
//
// A Transaction carries its signatures and a Message. The message header
// partitions AccountKeys into four ranges, in order:
//
//	[writable signers][readonly signers][writable non-signers][readonly non-signers]
//
// Signer and writable flags of every account are derived from that layout.
package transaction

import (
	"errors"
	"fmt"

	"github.com/fortiblox/stratus-replay/internal/types"
	"github.com/fortiblox/stratus-replay/pkg/wire"
)

// Packet limits.
const (
	// MaxAccountKeys bounds the number of keys a message may reference.
	MaxAccountKeys = 256

	// MaxInstructions bounds the instruction count of a message.
	MaxInstructions = 64
)

// Sanitize errors.
var (
	ErrNoSignatures           = errors.New("transaction has no signatures")
	ErrSignatureCountMismatch = errors.New("signature count does not match header")
	ErrInvalidHeader          = errors.New("message header is inconsistent with account keys")
	ErrTooManyAccountKeys     = errors.New("too many account keys")
	ErrTooManyInstructions    = errors.New("too many instructions")
	ErrProgramIndexOutOfRange = errors.New("program id index out of range")
	ErrAccountIndexOutOfRange = errors.New("instruction account index out of range")
	ErrPayerAsProgram         = errors.New("fee payer used as program id")
	ErrDuplicateAccountKey    = errors.New("duplicate account key")
	ErrSignatureVerification  = errors.New("signature verification failed")
	ErrSignerMismatch         = errors.New("signer does not match a required key")
)

// MessageHeader describes the signer and writability layout of AccountKeys.
type MessageHeader struct {
	// NumRequiredSignatures is the number of signatures required.
	NumRequiredSignatures uint8

	// NumReadonlySignedAccounts is the number of readonly signer accounts.
	NumReadonlySignedAccounts uint8

	// NumReadonlyUnsignedAccounts is the number of readonly non-signer accounts.
	NumReadonlyUnsignedAccounts uint8
}

// CompiledInstruction references its program and accounts by index into
// the message account keys.
type CompiledInstruction struct {
	// ProgramIDIndex is the index of the program account in AccountKeys.
	ProgramIDIndex uint8

	// Accounts lists the account key indexes this instruction uses.
	Accounts []uint8

	// Data is the instruction data passed to the program.
	Data []byte
}

// Message is the signed portion of a transaction.
type Message struct {
	Header          MessageHeader
	AccountKeys     []types.Pubkey
	RecentBlockhash types.Hash
	Instructions    []CompiledInstruction
}

// Transaction is a message and the signatures over its serialized form.
type Transaction struct {
	Signatures []types.Signature
	Message    Message
}

// Signature returns the first signature, which identifies the transaction.
func (tx *Transaction) Signature() types.Signature {
	if len(tx.Signatures) == 0 {
		return types.Signature{}
	}
	return tx.Signatures[0]
}

// IsSigner reports whether the key at index must sign the message.
func (m *Message) IsSigner(index int) bool {
	return index >= 0 && index < int(m.Header.NumRequiredSignatures) && index < len(m.AccountKeys)
}

// IsWritable reports whether the key at index may be written.
func (m *Message) IsWritable(index int) bool {
	if index < 0 || index >= len(m.AccountKeys) {
		return false
	}
	numSigners := int(m.Header.NumRequiredSignatures)
	if index < numSigners {
		return index < numSigners-int(m.Header.NumReadonlySignedAccounts)
	}
	numWritableUnsigned := len(m.AccountKeys) - numSigners - int(m.Header.NumReadonlyUnsignedAccounts)
	return index-numSigners < numWritableUnsigned
}

// ProgramID returns the program key of instruction i.
func (m *Message) ProgramID(i int) (types.Pubkey, bool) {
	if i < 0 || i >= len(m.Instructions) {
		return types.Pubkey{}, false
	}
	idx := int(m.Instructions[i].ProgramIDIndex)
	if idx >= len(m.AccountKeys) {
		return types.Pubkey{}, false
	}
	return m.AccountKeys[idx], true
}

// FeePayer returns the first account key.
func (m *Message) FeePayer() types.Pubkey {
	if len(m.AccountKeys) == 0 {
		return types.Pubkey{}
	}
	return m.AccountKeys[0]
}

// IndexOf returns the position of key in AccountKeys, or -1.
func (m *Message) IndexOf(key types.Pubkey) int {
	for i, k := range m.AccountKeys {
		if k == key {
			return i
		}
	}
	return -1
}

// Sanitize checks the structural consistency of the transaction. With verify
// set it also checks every signature against the serialized message.
func (tx *Transaction) Sanitize(verify bool) error {
	m := &tx.Message
	h := m.Header

	if len(tx.Signatures) == 0 {
		return ErrNoSignatures
	}
	if int(h.NumRequiredSignatures) != len(tx.Signatures) {
		return fmt.Errorf("%w: %d signatures, header requires %d",
			ErrSignatureCountMismatch, len(tx.Signatures), h.NumRequiredSignatures)
	}
	if len(m.AccountKeys) > MaxAccountKeys {
		return ErrTooManyAccountKeys
	}
	if len(m.Instructions) > MaxInstructions {
		return ErrTooManyInstructions
	}
	if h.NumReadonlySignedAccounts >= h.NumRequiredSignatures {
		// The fee payer is always a writable signer.
		return ErrInvalidHeader
	}
	if int(h.NumRequiredSignatures)+int(h.NumReadonlyUnsignedAccounts) > len(m.AccountKeys) {
		return ErrInvalidHeader
	}

	seen := make(map[types.Pubkey]struct{}, len(m.AccountKeys))
	for _, k := range m.AccountKeys {
		if _, dup := seen[k]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateAccountKey, k)
		}
		seen[k] = struct{}{}
	}

	for i, ix := range m.Instructions {
		if int(ix.ProgramIDIndex) >= len(m.AccountKeys) {
			return fmt.Errorf("%w: instruction %d", ErrProgramIndexOutOfRange, i)
		}
		if ix.ProgramIDIndex == 0 {
			return fmt.Errorf("%w: instruction %d", ErrPayerAsProgram, i)
		}
		for _, a := range ix.Accounts {
			if int(a) >= len(m.AccountKeys) {
				return fmt.Errorf("%w: instruction %d", ErrAccountIndexOutOfRange, i)
			}
		}
	}

	if !verify {
		return nil
	}
	payload := m.Serialize()
	for i, sig := range tx.Signatures {
		if !sig.Verify(m.AccountKeys[i], payload) {
			return fmt.Errorf("%w: signer %d (%s)", ErrSignatureVerification, i, m.AccountKeys[i])
		}
	}
	return nil
}

// EncodeWire implements wire.Marshaler.
func (tx *Transaction) EncodeWire(e *wire.Encoder) {
	e.Len64(len(tx.Signatures))
	for _, s := range tx.Signatures {
		e.Value(s)
	}
	e.Value(&tx.Message)
}

// DecodeWire implements wire.Unmarshaler.
func (tx *Transaction) DecodeWire(d *wire.Decoder) {
	n := d.Len64()
	tx.Signatures = make([]types.Signature, n)
	for i := 0; i < n && d.Err() == nil; i++ {
		d.Value(&tx.Signatures[i])
	}
	d.Value(&tx.Message)
}

// EncodeWire implements wire.Marshaler.
func (m *Message) EncodeWire(e *wire.Encoder) {
	e.U8(m.Header.NumRequiredSignatures)
	e.U8(m.Header.NumReadonlySignedAccounts)
	e.U8(m.Header.NumReadonlyUnsignedAccounts)
	e.Len64(len(m.AccountKeys))
	for _, k := range m.AccountKeys {
		e.Value(k)
	}
	e.Value(m.RecentBlockhash)
	e.Len64(len(m.Instructions))
	for i := range m.Instructions {
		ix := &m.Instructions[i]
		e.U8(ix.ProgramIDIndex)
		e.Bytes64(ix.Accounts)
		e.Bytes64(ix.Data)
	}
}

// DecodeWire implements wire.Unmarshaler.
func (m *Message) DecodeWire(d *wire.Decoder) {
	m.Header.NumRequiredSignatures = d.U8()
	m.Header.NumReadonlySignedAccounts = d.U8()
	m.Header.NumReadonlyUnsignedAccounts = d.U8()

	n := d.Len64()
	m.AccountKeys = make([]types.Pubkey, n)
	for i := 0; i < n && d.Err() == nil; i++ {
		d.Value(&m.AccountKeys[i])
	}
	d.Value(&m.RecentBlockhash)

	n = d.Len64()
	m.Instructions = make([]CompiledInstruction, n)
	for i := 0; i < n && d.Err() == nil; i++ {
		ix := &m.Instructions[i]
		ix.ProgramIDIndex = d.U8()
		ix.Accounts = d.Bytes64()
		ix.Data = d.Bytes64()
	}
}
