package programcache

import (
	"sort"

	"github.com/zeebo/blake3"

	"github.com/fortiblox/stratus-replay/pkg/wire"
)

// Environment describes one program runtime: the limits the interpreter
// runs under and the syscalls it exposes.
type Environment struct {
	// Name identifies the runtime, for example "sbpf-v1".
	Name string

	// MaxCallDepth bounds internal function calls inside a program.
	MaxCallDepth uint32

	// StackFrameSize is the size of one interpreter stack frame.
	StackFrameSize uint32

	// EnableStackFrameGaps leaves unmapped gaps between stack frames.
	EnableStackFrameGaps bool

	// Syscalls are the registered syscall names.
	Syscalls []string
}

// Environments is the runtime pair a replay executes programs under.
type Environments struct {
	// Version distinguishes environment generations across epochs.
	Version uint64

	// V1 is the runtime for programs owned by the upgradeable loaders.
	V1 Environment

	// V2 is the runtime for loader-v4 programs.
	V2 Environment
}

// DefaultEnvironments returns the runtimes used when none is configured.
func DefaultEnvironments() Environments {
	syscalls := []string{
		"abort",
		"sol_alloc_free_",
		"sol_get_clock_sysvar",
		"sol_get_rent_sysvar",
		"sol_invoke_signed_c",
		"sol_invoke_signed_rust",
		"sol_log_",
		"sol_log_64_",
		"sol_log_compute_units_",
		"sol_memcpy_",
		"sol_panic_",
		"sol_set_return_data",
		"sol_get_return_data",
		"sol_sha256",
	}
	return Environments{
		Version: 1,
		V1: Environment{
			Name:                 "sbpf-v1",
			MaxCallDepth:         64,
			StackFrameSize:       4096,
			EnableStackFrameGaps: true,
			Syscalls:             syscalls,
		},
		V2: Environment{
			Name:           "sbpf-v2",
			MaxCallDepth:   64,
			StackFrameSize: 4096,
			Syscalls:       syscalls,
		},
	}
}

// Digest identifies the environment pair.
func (e Environments) Digest() [32]byte {
	return blake3.Sum256(wire.Marshal(e))
}

// EncodeWire implements wire.Marshaler. Syscalls are written sorted.
func (e Environment) EncodeWire(enc *wire.Encoder) {
	enc.String(e.Name)
	enc.U32(e.MaxCallDepth)
	enc.U32(e.StackFrameSize)
	enc.Bool(e.EnableStackFrameGaps)
	syscalls := append([]string(nil), e.Syscalls...)
	sort.Strings(syscalls)
	enc.Len64(len(syscalls))
	for _, s := range syscalls {
		enc.String(s)
	}
}

// DecodeWire implements wire.Unmarshaler.
func (e *Environment) DecodeWire(d *wire.Decoder) {
	e.Name = d.String()
	e.MaxCallDepth = d.U32()
	e.StackFrameSize = d.U32()
	e.EnableStackFrameGaps = d.Bool()
	n := d.Len64()
	e.Syscalls = nil
	for i := 0; i < n && d.Err() == nil; i++ {
		e.Syscalls = append(e.Syscalls, d.String())
	}
}

// EncodeWire implements wire.Marshaler.
func (e Environments) EncodeWire(enc *wire.Encoder) {
	enc.U64(e.Version)
	enc.Value(e.V1)
	enc.Value(e.V2)
}

// DecodeWire implements wire.Unmarshaler.
func (e *Environments) DecodeWire(d *wire.Decoder) {
	e.Version = d.U64()
	d.Value(&e.V1)
	d.Value(&e.V2)
}
