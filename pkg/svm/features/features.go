// Package features tracks which runtime feature gates are active for a replay.
//
// A feature is identified by a pubkey. Active features remember the slot they
// were activated at; inactive features are known but switched off. The wire
// form lists both sets sorted by id so equal sets encode identically.
package features

import (
	"crypto/sha256"
	"sort"

	"github.com/fortiblox/stratus-replay/internal/types"
	"github.com/fortiblox/stratus-replay/pkg/wire"
)

// Feature gates consulted by the bundled builtins.
var (
	// EnableLoaderV4 makes the loader-v4 builtin executable.
	EnableLoaderV4 = ID("enable_program_runtime_v2_and_loader_v4")

	// SystemTransferZeroCheck rejects system transfers of zero lamports
	// from accounts that are not signers.
	SystemTransferZeroCheck = ID("system_transfer_zero_check")

	// RejectEmptyInstructionWithoutProgram rejects top-level instructions
	// whose program account is the native loader itself.
	RejectEmptyInstructionWithoutProgram = ID("reject_empty_instruction_without_program")
)

// Known maps feature names to ids for configuration and diagnostics.
var Known = map[string]types.Pubkey{
	"enable_program_runtime_v2_and_loader_v4":  EnableLoaderV4,
	"system_transfer_zero_check":               SystemTransferZeroCheck,
	"reject_empty_instruction_without_program": RejectEmptyInstructionWithoutProgram,
}

// ID derives the id of a named feature gate.
func ID(name string) types.Pubkey {
	return sha256.Sum256([]byte("feature-gate:" + name))
}

// FeatureSet is the set of known feature gates and their state.
type FeatureSet struct {
	active   map[types.Pubkey]uint64
	inactive map[types.Pubkey]struct{}
}

// New creates a set where every known feature is inactive.
func New() *FeatureSet {
	fs := &FeatureSet{
		active:   make(map[types.Pubkey]uint64),
		inactive: make(map[types.Pubkey]struct{}),
	}
	for _, id := range Known {
		fs.inactive[id] = struct{}{}
	}
	return fs
}

// AllEnabled creates a set where every known feature is active since slot 0.
func AllEnabled() *FeatureSet {
	fs := New()
	for _, id := range Known {
		fs.Activate(id, 0)
	}
	return fs
}

// IsActive reports whether the feature is active.
func (fs *FeatureSet) IsActive(id types.Pubkey) bool {
	if fs == nil {
		return false
	}
	_, ok := fs.active[id]
	return ok
}

// ActivatedSlot returns the activation slot of an active feature.
func (fs *FeatureSet) ActivatedSlot(id types.Pubkey) (uint64, bool) {
	if fs == nil {
		return 0, false
	}
	slot, ok := fs.active[id]
	return slot, ok
}

// Activate marks a feature active from slot.
func (fs *FeatureSet) Activate(id types.Pubkey, slot uint64) {
	delete(fs.inactive, id)
	fs.active[id] = slot
}

// Deactivate marks a feature inactive.
func (fs *FeatureSet) Deactivate(id types.Pubkey) {
	delete(fs.active, id)
	fs.inactive[id] = struct{}{}
}

// ActiveIDs returns the active feature ids in sorted order.
func (fs *FeatureSet) ActiveIDs() []types.Pubkey {
	ids := make([]types.Pubkey, 0, len(fs.active))
	for id := range fs.active {
		ids = append(ids, id)
	}
	sortPubkeys(ids)
	return ids
}

// EncodeWire implements wire.Marshaler.
func (fs *FeatureSet) EncodeWire(e *wire.Encoder) {
	active := fs.ActiveIDs()
	e.Len64(len(active))
	for _, id := range active {
		e.Value(id)
		e.U64(fs.active[id])
	}

	inactive := make([]types.Pubkey, 0, len(fs.inactive))
	for id := range fs.inactive {
		inactive = append(inactive, id)
	}
	sortPubkeys(inactive)
	e.Len64(len(inactive))
	for _, id := range inactive {
		e.Value(id)
	}
}

// DecodeWire implements wire.Unmarshaler.
func (fs *FeatureSet) DecodeWire(d *wire.Decoder) {
	fs.active = make(map[types.Pubkey]uint64)
	fs.inactive = make(map[types.Pubkey]struct{})

	n := d.Len64()
	for i := 0; i < n && d.Err() == nil; i++ {
		var id types.Pubkey
		d.Value(&id)
		fs.active[id] = d.U64()
	}
	n = d.Len64()
	for i := 0; i < n && d.Err() == nil; i++ {
		var id types.Pubkey
		d.Value(&id)
		fs.inactive[id] = struct{}{}
	}
}

func sortPubkeys(keys []types.Pubkey) {
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].Less(keys[j])
	})
}
