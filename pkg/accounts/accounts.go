// Package accounts holds the host's account table between replays.
//
// A replay never reads storage itself. The host copies the accounts a
// message references into a snapshot (LoadSnapshot), and once the outcome
// is accepted it writes the writable accounts back together with the slot
// they were produced in (Apply). Values are kept in the same wire layout the
// harness reads.
package accounts

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/fortiblox/stratus-replay/internal/types"
	"github.com/fortiblox/stratus-replay/pkg/wire"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrClosed          = errors.New("accounts database closed")
	ErrInvalidData     = errors.New("invalid account data")
)

// EncodeAccount returns the stored form of a.
func EncodeAccount(a *types.Account) []byte {
	return wire.Marshal(a)
}

// DecodeAccount parses a stored account.
func DecodeAccount(data []byte) (*types.Account, error) {
	a := new(types.Account)
	if err := wire.Unmarshal(data, "account", a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return a, nil
}

// Reader is what building a replay input needs from the table.
type Reader interface {
	// GetAccount returns a copy of the account at key, or
	// ErrAccountNotFound.
	GetAccount(key types.Pubkey) (*types.Account, error)

	// Slot is the slot of the last write.
	Slot() uint64
}

// DB is a persistent account table advanced one replay at a time.
type DB interface {
	Reader

	// Write stores entries and raises the table slot to slot. Entries
	// with no lamports and no data are removed. The write is durable
	// when Write returns.
	Write(entries types.AccountSnapshot, slot uint64) error

	// Range visits every stored account in key order until fn fails.
	Range(fn func(types.KeyedAccount) error) error

	// Len counts the stored accounts.
	Len() (uint64, error)

	Close() error
}

// MemoryDB keeps the table in a map. It backs tests and one-shot runs.
type MemoryDB struct {
	mu     sync.RWMutex
	table  map[types.Pubkey]types.Account
	slot   uint64
	closed bool
}

var _ DB = (*MemoryDB)(nil)

func NewMemoryDB() *MemoryDB {
	return &MemoryDB{table: make(map[types.Pubkey]types.Account)}
}

func (m *MemoryDB) GetAccount(key types.Pubkey) (*types.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	acc, ok := m.table[key]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return acc.Clone(), nil
}

func (m *MemoryDB) Slot() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.slot
}

func (m *MemoryDB) Write(entries types.AccountSnapshot, slot uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for _, ka := range entries {
		if ka.Account.IsZero() {
			delete(m.table, ka.Key)
			continue
		}
		m.table[ka.Key] = *ka.Account.Clone()
	}
	m.slot = max(m.slot, slot)
	return nil
}

func (m *MemoryDB) Range(fn func(types.KeyedAccount) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	snap := make(types.AccountSnapshot, 0, len(m.table))
	for key, acc := range m.table {
		snap = append(snap, types.KeyedAccount{Key: key, Account: *acc.Clone()})
	}
	m.mu.RUnlock()

	sort.Slice(snap, func(i, j int) bool { return snap[i].Key.Less(snap[j].Key) })
	for _, ka := range snap {
		if err := fn(ka); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryDB) Len() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrClosed
	}
	return uint64(len(m.table)), nil
}

func (m *MemoryDB) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.table = nil
	return nil
}
