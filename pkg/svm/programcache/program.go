// Package programcache implements the program cache used during a replay.
//
// The cache is split in two tiers. The base Cache is supplied with the input
// and reached only through the read-only Reader interface. Programs deployed,
// retracted or otherwise modified by the replayed transaction land in a
// delta Cache owned by that replay. An Overlay resolves lookups against the
// delta first and the base second. Folding the delta back into a long-lived
// cache is the caller's decision (Cache.Merge).
package programcache

import (
	"fmt"

	"github.com/fortiblox/stratus-replay/pkg/wire"
)

// DelayVisibilitySlotOffset is the number of slots between the deployment of
// a program and the first slot it can be invoked in.
const DelayVisibilitySlotOffset = 1

// Kind classifies a cache entry.
type Kind uint8

const (
	// KindBuiltin is a native program resolved by name.
	KindBuiltin Kind = iota

	// KindLoaded is verified bytecode ready for the interpreter.
	KindLoaded

	// KindClosed marks a closed or retracted program.
	KindClosed

	// KindDelayVisibility marks a program deployed in the current slot that
	// is not invocable yet.
	KindDelayVisibility

	// KindFailedVerification marks bytecode rejected by the verifier.
	KindFailedVerification

	numKinds
)

func (k Kind) String() string {
	switch k {
	case KindBuiltin:
		return "builtin"
	case KindLoaded:
		return "loaded"
	case KindClosed:
		return "closed"
	case KindDelayVisibility:
		return "delay-visibility"
	case KindFailedVerification:
		return "failed-verification"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// LoadedProgram is one cache entry.
type LoadedProgram struct {
	Kind Kind

	// DeploymentSlot is the slot the program was deployed or modified in.
	DeploymentSlot uint64

	// EffectiveSlot is the first slot the entry is invocable in.
	EffectiveSlot uint64

	// AccountSize is the size of the backing program account.
	AccountSize uint64

	// Name is the builtin entrypoint name for KindBuiltin.
	Name string

	// Bytecode is the program image for KindLoaded.
	Bytecode []byte
}

// NewBuiltin creates a builtin entry visible from deploymentSlot.
func NewBuiltin(name string, deploymentSlot uint64) LoadedProgram {
	return LoadedProgram{
		Kind:           KindBuiltin,
		DeploymentSlot: deploymentSlot,
		EffectiveSlot:  deploymentSlot,
		AccountSize:    uint64(len(name)),
		Name:           name,
	}
}

// NewLoaded creates an entry for bytecode deployed in deploymentSlot. It
// becomes invocable one slot later.
func NewLoaded(deploymentSlot, accountSize uint64, bytecode []byte) LoadedProgram {
	return LoadedProgram{
		Kind:           KindLoaded,
		DeploymentSlot: deploymentSlot,
		EffectiveSlot:  deploymentSlot + DelayVisibilitySlotOffset,
		AccountSize:    accountSize,
		Bytecode:       bytecode,
	}
}

// NewTombstone creates a non-invocable entry of kind at slot.
func NewTombstone(slot uint64, kind Kind) LoadedProgram {
	return LoadedProgram{
		Kind:           kind,
		DeploymentSlot: slot,
		EffectiveSlot:  slot,
	}
}

// IsTombstone reports whether the entry cannot be invoked.
func (p LoadedProgram) IsTombstone() bool {
	switch p.Kind {
	case KindClosed, KindDelayVisibility, KindFailedVerification:
		return true
	}
	return false
}

// visibleAt returns the entry as seen from slot: a program whose effective
// slot lies ahead appears as a delay-visibility tombstone.
func (p LoadedProgram) visibleAt(slot uint64) LoadedProgram {
	if p.Kind != KindBuiltin && !p.IsTombstone() && slot < p.EffectiveSlot {
		return LoadedProgram{
			Kind:           KindDelayVisibility,
			DeploymentSlot: p.DeploymentSlot,
			EffectiveSlot:  p.EffectiveSlot,
			AccountSize:    p.AccountSize,
		}
	}
	return p
}

// EncodeWire implements wire.Marshaler.
func (p LoadedProgram) EncodeWire(e *wire.Encoder) {
	e.U8(uint8(p.Kind))
	e.U64(p.DeploymentSlot)
	e.U64(p.EffectiveSlot)
	e.U64(p.AccountSize)
	e.String(p.Name)
	e.Bytes64(p.Bytecode)
}

// DecodeWire implements wire.Unmarshaler.
func (p *LoadedProgram) DecodeWire(d *wire.Decoder) {
	p.Kind = Kind(d.U8())
	if p.Kind >= numKinds {
		d.Fail(wire.ErrInvalidTag)
		return
	}
	p.DeploymentSlot = d.U64()
	p.EffectiveSlot = d.U64()
	p.AccountSize = d.U64()
	p.Name = d.String()
	p.Bytecode = d.Bytes64()
}
