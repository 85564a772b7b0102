package accounts

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/fortiblox/stratus-replay/internal/types"
	"github.com/fortiblox/stratus-replay/pkg/wire"
)

// Keys are 'a'+pubkey for accounts and "m:slot" for the table slot.
const accountPrefix = 'a'

var slotKey = []byte("m:slot")

// BadgerDBConfig configures the on-disk table.
type BadgerDBConfig struct {
	Path     string
	InMemory bool

	// SyncWrites fsyncs every Write before it returns.
	SyncWrites       bool
	NumCompactors    int
	ValueLogFileSize int64

	// Logger receives badger's own log lines. Nil silences them.
	Logger badger.Logger
}

// DefaultBadgerDBConfig returns settings sized for a replay workstation
// rather than a validator.
func DefaultBadgerDBConfig(path string) BadgerDBConfig {
	return BadgerDBConfig{
		Path:             path,
		SyncWrites:       true,
		NumCompactors:    2,
		ValueLogFileSize: 64 << 20,
	}
}

// BadgerDB is the persistent DB. One Write is one badger transaction, so a
// crash never leaves half of a replay's accounts applied.
type BadgerDB struct {
	db *badger.DB

	// mu guards slot and closed. Badger handles reader concurrency.
	mu     sync.RWMutex
	slot   uint64
	closed bool
}

var _ DB = (*BadgerDB)(nil)

func NewBadgerDB(cfg BadgerDBConfig) (*BadgerDB, error) {
	opts := badger.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(cfg.Logger)
	if cfg.NumCompactors > 1 {
		opts = opts.WithNumCompactors(cfg.NumCompactors)
	}
	if cfg.ValueLogFileSize > 0 {
		opts = opts.WithValueLogFileSize(cfg.ValueLogFileSize)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	b := &BadgerDB{db: db}
	err = db.View(func(txn *badger.Txn) error {
		val, err := lookup(txn, slotKey)
		if err != nil || val == nil {
			return err
		}
		d := wire.NewDecoder(val)
		b.slot = d.U64()
		if err := d.Finish(); err != nil {
			return fmt.Errorf("%w: slot record: %v", ErrInvalidData, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("read slot: %w", err)
	}
	return b, nil
}

func accountKey(key types.Pubkey) []byte {
	return append([]byte{accountPrefix}, key[:]...)
}

// lookup returns a copy of the value at key, or nil when it is absent.
func lookup(txn *badger.Txn, key []byte) ([]byte, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (b *BadgerDB) open() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

func (b *BadgerDB) GetAccount(key types.Pubkey) (*types.Account, error) {
	if err := b.open(); err != nil {
		return nil, err
	}
	var val []byte
	err := b.db.View(func(txn *badger.Txn) (err error) {
		val, err = lookup(txn, accountKey(key))
		return err
	})
	if err != nil {
		return nil, err
	}
	if val == nil {
		return nil, ErrAccountNotFound
	}
	return DecodeAccount(val)
}

func (b *BadgerDB) Slot() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.slot
}

func (b *BadgerDB) Write(entries types.AccountSnapshot, slot uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	next := max(b.slot, slot)
	err := b.db.Update(func(txn *badger.Txn) error {
		for i := range entries {
			ka := &entries[i]
			var err error
			if ka.Account.IsZero() {
				err = txn.Delete(accountKey(ka.Key))
			} else {
				err = txn.Set(accountKey(ka.Key), EncodeAccount(&ka.Account))
			}
			if err != nil {
				return fmt.Errorf("account %s: %w", ka.Key, err)
			}
		}
		e := wire.NewEncoder()
		e.U64(next)
		return txn.Set(slotKey, e.Bytes())
	})
	if err != nil {
		return err
	}
	b.slot = next
	return nil
}

// Range walks the account prefix with badger's iterator. fn runs inside the
// read transaction, so it must not call Write.
func (b *BadgerDB) Range(fn func(types.KeyedAccount) error) error {
	if err := b.open(); err != nil {
		return err
	}
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte{accountPrefix}
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var ka types.KeyedAccount
			if n := copy(ka.Key[:], item.Key()[1:]); n != types.PubkeySize {
				return fmt.Errorf("%w: key %x", ErrInvalidData, item.Key())
			}
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			acc, err := DecodeAccount(val)
			if err != nil {
				return fmt.Errorf("account %s: %w", ka.Key, err)
			}
			ka.Account = *acc
			if err := fn(ka); err != nil {
				return err
			}
		}
		return nil
	})
}

// Len counts keys under the account prefix without reading values.
func (b *BadgerDB) Len() (uint64, error) {
	if err := b.open(); err != nil {
		return 0, err
	}
	var n uint64
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte{accountPrefix}
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

func (b *BadgerDB) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.closed = true
	return b.db.Close()
}
