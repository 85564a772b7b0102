// Package timings accumulates execution diagnostics for a replay.
//
// Solana measures wall-clock durations here. A replay must be reproducible
// bit for bit, so this accumulator records only counters derived from the
// execution itself (invocations, compute units, errors, stack depth). The
// processor writes it; nothing reads it to make execution decisions.
package timings

import (
	"sort"

	"github.com/fortiblox/stratus-replay/internal/types"
	"github.com/fortiblox/stratus-replay/pkg/wire"
)

// ProgramTiming aggregates the executions of one program.
type ProgramTiming struct {
	// Invocations counts successful and failed invocations.
	Invocations uint64

	// AccumulatedUnits is the compute consumed by successful invocations.
	AccumulatedUnits uint64

	// ErroredInvocations counts invocations that returned an error.
	ErroredInvocations uint64

	// ErroredUnits is the compute consumed by failed invocations.
	ErroredUnits uint64
}

// ExecuteTimings is the diagnostics record of a replay.
type ExecuteTimings struct {
	// Instructions counts every processed instruction, inner ones included.
	Instructions uint64

	// TopLevelInstructions counts instructions of the message itself.
	TopLevelInstructions uint64

	// MaxStackHeight is the deepest instruction stack observed.
	MaxStackHeight uint64

	// VerifiedAccounts counts post-instruction account checks.
	VerifiedAccounts uint64

	perProgram map[types.Pubkey]*ProgramTiming
}

// New creates an empty record.
func New() *ExecuteTimings {
	return &ExecuteTimings{perProgram: make(map[types.Pubkey]*ProgramTiming)}
}

// RecordInstruction counts one processed instruction at stack height.
func (t *ExecuteTimings) RecordInstruction(stackHeight uint64) {
	t.Instructions++
	if stackHeight == 1 {
		t.TopLevelInstructions++
	}
	if stackHeight > t.MaxStackHeight {
		t.MaxStackHeight = stackHeight
	}
}

// RecordProgram accumulates one invocation of program.
func (t *ExecuteTimings) RecordProgram(program types.Pubkey, units uint64, failed bool) {
	if t.perProgram == nil {
		t.perProgram = make(map[types.Pubkey]*ProgramTiming)
	}
	pt, ok := t.perProgram[program]
	if !ok {
		pt = &ProgramTiming{}
		t.perProgram[program] = pt
	}
	pt.Invocations++
	if failed {
		pt.ErroredInvocations++
		pt.ErroredUnits += units
		return
	}
	pt.AccumulatedUnits += units
}

// RecordVerifiedAccounts counts accounts checked after an instruction.
func (t *ExecuteTimings) RecordVerifiedAccounts(n int) {
	t.VerifiedAccounts += uint64(n)
}

// Program returns a copy of the aggregate for program.
func (t *ExecuteTimings) Program(program types.Pubkey) (ProgramTiming, bool) {
	pt, ok := t.perProgram[program]
	if !ok {
		return ProgramTiming{}, false
	}
	return *pt, true
}

// Programs returns the programs seen, sorted.
func (t *ExecuteTimings) Programs() []types.Pubkey {
	keys := make([]types.Pubkey, 0, len(t.perProgram))
	for k := range t.perProgram {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

// EncodeWire implements wire.Marshaler.
func (t *ExecuteTimings) EncodeWire(e *wire.Encoder) {
	e.U64(t.Instructions)
	e.U64(t.TopLevelInstructions)
	e.U64(t.MaxStackHeight)
	e.U64(t.VerifiedAccounts)
	programs := t.Programs()
	e.Len64(len(programs))
	for _, p := range programs {
		pt := t.perProgram[p]
		e.Value(p)
		e.U64(pt.Invocations)
		e.U64(pt.AccumulatedUnits)
		e.U64(pt.ErroredInvocations)
		e.U64(pt.ErroredUnits)
	}
}

// DecodeWire implements wire.Unmarshaler.
func (t *ExecuteTimings) DecodeWire(d *wire.Decoder) {
	*t = ExecuteTimings{perProgram: make(map[types.Pubkey]*ProgramTiming)}
	t.Instructions = d.U64()
	t.TopLevelInstructions = d.U64()
	t.MaxStackHeight = d.U64()
	t.VerifiedAccounts = d.U64()
	n := d.Len64()
	for i := 0; i < n && d.Err() == nil; i++ {
		var p types.Pubkey
		d.Value(&p)
		t.perProgram[p] = &ProgramTiming{
			Invocations:        d.U64(),
			AccumulatedUnits:   d.U64(),
			ErroredInvocations: d.U64(),
			ErroredUnits:       d.U64(),
		}
	}
}
