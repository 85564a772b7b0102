package programcache

import (
	"sort"

	"github.com/fortiblox/stratus-replay/internal/types"
	"github.com/fortiblox/stratus-replay/pkg/wire"
)

// Reader is the read-only view of a program cache.
type Reader interface {
	// Slot returns the slot the cache serves.
	Slot() uint64

	// Find returns the entry for key as visible at Slot.
	Find(key types.Pubkey) (LoadedProgram, bool)
}

// Cache maps program ids to loaded programs for one slot.
// It is not safe for concurrent use.
type Cache struct {
	slot    uint64
	envs    Environments
	entries map[types.Pubkey]LoadedProgram
}

// NewCache creates an empty cache for slot.
func NewCache(slot uint64, envs Environments) *Cache {
	return &Cache{
		slot:    slot,
		envs:    envs,
		entries: make(map[types.Pubkey]LoadedProgram),
	}
}

// Slot returns the slot the cache serves.
func (c *Cache) Slot() uint64 {
	return c.slot
}

// Environments returns the runtime environments of the cache.
func (c *Cache) Environments() Environments {
	return c.envs
}

// Find returns the entry for key. Entries not yet effective at the cache
// slot are returned as delay-visibility tombstones.
func (c *Cache) Find(key types.Pubkey) (LoadedProgram, bool) {
	p, ok := c.entries[key]
	if !ok {
		return LoadedProgram{}, false
	}
	return p.visibleAt(c.slot), true
}

// Replenish inserts p under key unless an entry exists. It reports whether
// p was inserted and returns the entry now stored.
func (c *Cache) Replenish(key types.Pubkey, p LoadedProgram) (bool, LoadedProgram) {
	if existing, ok := c.entries[key]; ok {
		return false, existing
	}
	c.entries[key] = p
	return true, p
}

// StoreModified records p under key, replacing any entry.
func (c *Cache) StoreModified(key types.Pubkey, p LoadedProgram) {
	c.entries[key] = p
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	return len(c.entries)
}

// Keys returns the program ids in ascending order.
func (c *Cache) Keys() []types.Pubkey {
	keys := make([]types.Pubkey, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

// Merge copies every entry of delta into c, replacing existing entries.
func (c *Cache) Merge(delta *Cache) {
	for k, p := range delta.entries {
		c.entries[k] = p
	}
}

// EncodeWire implements wire.Marshaler. Entries are written in key order.
func (c *Cache) EncodeWire(e *wire.Encoder) {
	e.U64(c.slot)
	e.Value(c.envs)
	keys := c.Keys()
	e.Len64(len(keys))
	for _, k := range keys {
		e.Value(k)
		e.Value(c.entries[k])
	}
}

// DecodeWire implements wire.Unmarshaler.
func (c *Cache) DecodeWire(d *wire.Decoder) {
	c.slot = d.U64()
	d.Value(&c.envs)
	n := d.Len64()
	c.entries = make(map[types.Pubkey]LoadedProgram, n)
	for i := 0; i < n && d.Err() == nil; i++ {
		var k types.Pubkey
		var p LoadedProgram
		d.Value(&k)
		d.Value(&p)
		c.entries[k] = p
	}
}

// Overlay resolves programs for one replay: the per-replay delta shadows
// the shared base.
type Overlay struct {
	base  Reader
	delta *Cache
}

// NewOverlay layers delta over base. base may be nil.
func NewOverlay(base Reader, delta *Cache) *Overlay {
	return &Overlay{base: base, delta: delta}
}

// Slot returns the slot of the delta.
func (o *Overlay) Slot() uint64 {
	return o.delta.Slot()
}

// Find looks key up in the delta, then in the base.
func (o *Overlay) Find(key types.Pubkey) (LoadedProgram, bool) {
	if p, ok := o.delta.Find(key); ok {
		return p, true
	}
	if o.base == nil {
		return LoadedProgram{}, false
	}
	return o.base.Find(key)
}

// Store records a program modified by the replay in the delta.
func (o *Overlay) Store(key types.Pubkey, p LoadedProgram) {
	o.delta.StoreModified(key, p)
}

// Delta returns the programs modified by the replay.
func (o *Overlay) Delta() *Cache {
	return o.delta
}
