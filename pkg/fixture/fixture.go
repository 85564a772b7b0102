// Package fixture stores replay fixtures: the input frame of a replay
// together with the outcome digest it produced.
//
// A prover records a fixture when it replays a transaction; a verifier
// replays the stored input and compares digests. Fixtures are keyed by
// transaction signature and indexed by slot, so List walks them in slot
// order.
package fixture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zeebo/blake3"
	bolt "go.etcd.io/bbolt"

	"github.com/fortiblox/stratus-replay/internal/types"
	"github.com/fortiblox/stratus-replay/pkg/wire"
)

var (
	// ErrNotFound is returned when no fixture exists for a signature.
	ErrNotFound = errors.New("fixture not found")

	// ErrClosed is returned when operating on a closed store.
	ErrClosed = errors.New("fixture store closed")

	// ErrCorrupted is returned when a stored input no longer matches its digest.
	ErrCorrupted = errors.New("fixture corrupted")
)

// Bucket names.
var (
	// bucketFixtures maps signature -> encoded fixture.
	bucketFixtures = []byte("fixtures")

	// bucketBySlot maps slot (8 bytes BE) || signature -> nil.
	bucketBySlot = []byte("by_slot")
)

// Fixture is one recorded replay.
type Fixture struct {
	Signature types.Signature
	Slot      uint64

	// Input is the input frame exactly as it crossed the boundary.
	Input []byte

	// InputDigest is the blake3 digest of Input.
	InputDigest types.Hash

	// Digest is the outcome digest the replay committed.
	Digest types.Hash

	Success       bool
	ExecutedUnits uint64
}

// New creates a fixture and fills in the input digest.
func New(sig types.Signature, slot uint64, input []byte, digest types.Hash, success bool, units uint64) *Fixture {
	return &Fixture{
		Signature:     sig,
		Slot:          slot,
		Input:         input,
		InputDigest:   blake3.Sum256(input),
		Digest:        digest,
		Success:       success,
		ExecutedUnits: units,
	}
}

// EncodeWire implements wire.Marshaler.
func (f *Fixture) EncodeWire(e *wire.Encoder) {
	e.Value(f.Signature)
	e.U64(f.Slot)
	e.Bytes64(f.Input)
	e.Value(f.InputDigest)
	e.Value(f.Digest)
	e.Bool(f.Success)
	e.U64(f.ExecutedUnits)
}

// DecodeWire implements wire.Unmarshaler.
func (f *Fixture) DecodeWire(d *wire.Decoder) {
	d.Value(&f.Signature)
	f.Slot = d.U64()
	f.Input = d.Bytes64()
	d.Value(&f.InputDigest)
	d.Value(&f.Digest)
	f.Success = d.Bool()
	f.ExecutedUnits = d.U64()
}

// Check verifies the input against its digest.
func (f *Fixture) Check() error {
	if types.Hash(blake3.Sum256(f.Input)) != f.InputDigest {
		return fmt.Errorf("%w: %s", ErrCorrupted, f.Signature)
	}
	return nil
}

// Config holds fixture store configuration.
type Config struct {
	// Path is the database file.
	Path string

	// NoSync disables fsync after each write.
	NoSync bool

	// ReadOnly opens the database in read-only mode.
	ReadOnly bool

	// Timeout bounds the wait for the file lock.
	Timeout time.Duration
}

// DefaultConfig returns the default store configuration.
func DefaultConfig(path string) Config {
	return Config{
		Path:    path,
		Timeout: 5 * time.Second,
	}
}

// Store is a bbolt-backed fixture store.
type Store struct {
	db *bolt.DB

	mu     sync.RWMutex
	closed bool
}

// Open creates or opens a fixture store.
func Open(config Config) (*Store, error) {
	if !config.ReadOnly {
		if err := os.MkdirAll(filepath.Dir(config.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create directory: %w", err)
		}
	}
	db, err := bolt.Open(config.Path, 0o600, &bolt.Options{
		Timeout:  config.Timeout,
		NoSync:   config.NoSync,
		ReadOnly: config.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if !config.ReadOnly {
		err = db.Update(func(tx *bolt.Tx) error {
			for _, name := range [][]byte{bucketFixtures, bucketBySlot} {
				if _, err := tx.CreateBucketIfNotExists(name); err != nil {
					return fmt.Errorf("create bucket %s: %w", name, err)
				}
			}
			return nil
		})
		if err != nil {
			db.Close()
			return nil, err
		}
	}
	return &Store{db: db}, nil
}

func slotKey(slot uint64, sig types.Signature) []byte {
	key := make([]byte, 8+types.SignatureSize)
	binary.BigEndian.PutUint64(key, slot)
	copy(key[8:], sig[:])
	return key
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Put stores f, replacing any fixture with the same signature.
func (s *Store) Put(f *Fixture) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		fixtures := tx.Bucket(bucketFixtures)
		bySlot := tx.Bucket(bucketBySlot)

		if old := fixtures.Get(f.Signature[:]); old != nil {
			var prev Fixture
			if err := wire.Unmarshal(old, "fixture", &prev); err == nil {
				if err := bySlot.Delete(slotKey(prev.Slot, prev.Signature)); err != nil {
					return err
				}
			}
		}
		if err := fixtures.Put(f.Signature[:], wire.Marshal(f)); err != nil {
			return err
		}
		return bySlot.Put(slotKey(f.Slot, f.Signature), []byte{})
	})
}

// Get returns the fixture recorded for sig.
func (s *Store) Get(sig types.Signature) (*Fixture, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var f Fixture
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFixtures)
		if b == nil {
			return ErrNotFound
		}
		data := b.Get(sig[:])
		if data == nil {
			return ErrNotFound
		}
		return wire.Unmarshal(data, "fixture", &f)
	})
	if err != nil {
		return nil, err
	}
	if err := f.Check(); err != nil {
		return nil, err
	}
	return &f, nil
}

// List calls fn for every fixture in slot order. Returning an error from fn
// stops the walk.
func (s *Store) List(fn func(f *Fixture) error) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.View(func(tx *bolt.Tx) error {
		bySlot := tx.Bucket(bucketBySlot)
		fixtures := tx.Bucket(bucketFixtures)
		if bySlot == nil || fixtures == nil {
			return nil
		}
		c := bySlot.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if len(k) != 8+types.SignatureSize {
				continue
			}
			data := fixtures.Get(k[8:])
			if data == nil {
				continue
			}
			var f Fixture
			if err := wire.Unmarshal(data, "fixture", &f); err != nil {
				return err
			}
			if err := fn(&f); err != nil {
				return err
			}
		}
		return nil
	})
}

// Delete removes the fixture for sig. Missing fixtures are not an error.
func (s *Store) Delete(sig types.Signature) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		fixtures := tx.Bucket(bucketFixtures)
		data := fixtures.Get(sig[:])
		if data == nil {
			return nil
		}
		var f Fixture
		if err := wire.Unmarshal(data, "fixture", &f); err == nil {
			if err := tx.Bucket(bucketBySlot).Delete(slotKey(f.Slot, sig)); err != nil {
				return err
			}
		}
		return fixtures.Delete(sig[:])
	})
}

// Count returns the number of stored fixtures.
func (s *Store) Count() (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket(bucketFixtures); b != nil {
			n = b.Stats().KeyN
		}
		return nil
	})
	return n, err
}

// Close closes the store. Closing twice is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
