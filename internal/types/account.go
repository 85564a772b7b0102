package types

import (
	"bytes"

	"github.com/fortiblox/stratus-replay/pkg/wire"
)

// MaxAccountDataSize is the maximum size of account data (10 MiB).
const MaxAccountDataSize = 10 * 1024 * 1024

// Account represents a single account in the state.
// This matches Solana's AccountSharedData.
type Account struct {
	// Lamports is the account balance in lamports (1 SOL = 1e9 lamports).
	Lamports uint64

	// Data is the account data. For program accounts, this contains bytecode.
	Data []byte

	// Owner is the program that owns this account.
	// Only the owner program can debit the account or modify its data.
	Owner Pubkey

	// Executable indicates if this is a program account.
	Executable bool

	// RentEpoch is the epoch at which rent was last collected.
	// Set to u64::MAX for rent-exempt accounts.
	RentEpoch uint64
}

// Clone creates a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	var dataCopy []byte
	if len(a.Data) > 0 {
		dataCopy = make([]byte, len(a.Data))
		copy(dataCopy, a.Data)
	}
	return &Account{
		Lamports:   a.Lamports,
		Data:       dataCopy,
		Owner:      a.Owner,
		Executable: a.Executable,
		RentEpoch:  a.RentEpoch,
	}
}

// IsZero returns true if the account has no lamports and no data.
func (a *Account) IsZero() bool {
	return a.Lamports == 0 && len(a.Data) == 0
}

// Equal reports whether two accounts hold identical state.
func (a *Account) Equal(other *Account) bool {
	return a.Lamports == other.Lamports &&
		a.Owner == other.Owner &&
		a.Executable == other.Executable &&
		a.RentEpoch == other.RentEpoch &&
		bytes.Equal(a.Data, other.Data)
}

// EncodeWire implements wire.Marshaler.
// Layout: lamports (8) + data_len (8) + data + owner (32) + executable (1) + rent_epoch (8)
func (a *Account) EncodeWire(e *wire.Encoder) {
	e.U64(a.Lamports)
	e.Bytes64(a.Data)
	e.Value(a.Owner)
	e.Bool(a.Executable)
	e.U64(a.RentEpoch)
}

// DecodeWire implements wire.Unmarshaler.
func (a *Account) DecodeWire(d *wire.Decoder) {
	a.Lamports = d.U64()
	a.Data = d.Bytes64()
	d.Value(&a.Owner)
	a.Executable = d.Bool()
	a.RentEpoch = d.U64()
}

// KeyedAccount pairs an address with its state.
type KeyedAccount struct {
	Key     Pubkey
	Account Account
}

// AccountSnapshot is the ordered set of accounts visible to a transaction.
// Order is significant: accounts are addressed by their position.
type AccountSnapshot []KeyedAccount

// Keys returns the snapshot addresses in order.
func (s AccountSnapshot) Keys() []Pubkey {
	keys := make([]Pubkey, len(s))
	for i := range s {
		keys[i] = s[i].Key
	}
	return keys
}

// Clone deep-copies the snapshot.
func (s AccountSnapshot) Clone() AccountSnapshot {
	out := make(AccountSnapshot, len(s))
	for i := range s {
		out[i] = KeyedAccount{Key: s[i].Key, Account: *s[i].Account.Clone()}
	}
	return out
}

// EncodeWire implements wire.Marshaler.
func (s AccountSnapshot) EncodeWire(e *wire.Encoder) {
	e.Len64(len(s))
	for i := range s {
		e.Value(s[i].Key)
		e.Value(&s[i].Account)
	}
}

// DecodeWire implements wire.Unmarshaler.
func (s *AccountSnapshot) DecodeWire(d *wire.Decoder) {
	n := d.Len64()
	out := make(AccountSnapshot, 0, n)
	for i := 0; i < n && d.Err() == nil; i++ {
		var ka KeyedAccount
		d.Value(&ka.Key)
		d.Value(&ka.Account)
		out = append(out, ka)
	}
	*s = out
}
