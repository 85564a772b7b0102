package svm

import (
	"errors"

	"github.com/fortiblox/stratus-replay/pkg/wire"
)

// Unit prices, in compute units.
const (
	CUDefault    = uint64(200_000) // granted per instruction without an explicit limit
	CUMax        = uint64(1_400_000)
	CUInvokeBase = uint64(1_000) // per cross-program invocation

	CUSystemProgramDefault = uint64(150)
	CUComputeBudgetDefault = uint64(150)
	CULoaderV4Default      = uint64(2_000)
)

// Heap frame bounds. Requests must be whole KiB.
const (
	HeapSizeDefault = uint32(32 << 10)
	HeapSizeMin     = HeapSizeDefault
	HeapSizeMax     = uint32(256 << 10)
)

const (
	MaxInvokeStackHeight      = 5 // top level plus four nested invocations
	MaxInstructionTraceLength = 64
	MaxLoadedAccountsDataSize = uint32(64 << 20)
)

var (
	// ErrComputeExceeded is the meter's exhaustion error. The processor
	// maps it to ErrComputationalBudgetExceeded.
	ErrComputeExceeded = errors.New("compute budget exceeded")

	ErrComputeInvalidLimit               = errors.New("invalid compute unit limit")
	ErrDuplicateComputeBudgetInstruction = errors.New("duplicate compute budget instruction")
	ErrInvalidHeapFrame                  = errors.New("invalid heap frame request")
)

// ComputeBudget holds the resource limits of one replay. It travels inside
// the replay input, so the guest never derives limits itself.
type ComputeBudget struct {
	ComputeUnitLimit uint64

	// MaxInvokeStackHeight counts the top-level instruction as height 1.
	MaxInvokeStackHeight uint64

	// MaxInstructionTraceLength counts top-level and inner instructions.
	MaxInstructionTraceLength uint64

	HeapSize                    uint32
	InvokeUnits                 uint64
	LoadedAccountsDataSizeLimit uint32
}

// DefaultComputeBudget is the largest budget a transaction can request.
func DefaultComputeBudget() ComputeBudget {
	return ComputeBudget{
		ComputeUnitLimit:            CUMax,
		MaxInvokeStackHeight:        MaxInvokeStackHeight,
		MaxInstructionTraceLength:   MaxInstructionTraceLength,
		HeapSize:                    HeapSizeDefault,
		InvokeUnits:                 CUInvokeBase,
		LoadedAccountsDataSizeLimit: MaxLoadedAccountsDataSize,
	}
}

func (b ComputeBudget) EncodeWire(e *wire.Encoder) {
	e.U64(b.ComputeUnitLimit)
	e.U64(b.MaxInvokeStackHeight)
	e.U64(b.MaxInstructionTraceLength)
	e.U32(b.HeapSize)
	e.U64(b.InvokeUnits)
	e.U32(b.LoadedAccountsDataSizeLimit)
}

func (b *ComputeBudget) DecodeWire(d *wire.Decoder) {
	b.ComputeUnitLimit = d.U64()
	b.MaxInvokeStackHeight = d.U64()
	b.MaxInstructionTraceLength = d.U64()
	b.HeapSize = d.U32()
	b.InvokeUnits = d.U64()
	b.LoadedAccountsDataSizeLimit = d.U32()
}

// ComputeMeter counts down the units of one replay. Not safe for
// concurrent use.
type ComputeMeter struct {
	limit, used uint64
}

func NewComputeMeter(limit uint64) *ComputeMeter {
	return &ComputeMeter{limit: limit}
}

// Consume charges cost. A charge that does not fit drains the meter and
// returns ErrComputeExceeded, so Consumed never passes Limit.
func (m *ComputeMeter) Consume(cost uint64) error {
	if cost > m.Remaining() {
		m.used = m.limit
		return ErrComputeExceeded
	}
	m.used += cost
	return nil
}

func (m *ComputeMeter) Remaining() uint64 { return m.limit - m.used }
func (m *ComputeMeter) Consumed() uint64  { return m.used }
func (m *ComputeMeter) Limit() uint64     { return m.limit }
func (m *ComputeMeter) IsExhausted() bool { return m.used == m.limit }

// Compute budget program instruction tags. Tag 0 was retired.
const (
	computeBudgetRequestHeapFrame               = 1
	computeBudgetSetComputeUnitLimit            = 2
	computeBudgetSetComputeUnitPrice            = 3
	computeBudgetSetLoadedAccountsDataSizeLimit = 4
)

// ComputeBudgetLimits are the limits a transaction requested through the
// compute budget program.
type ComputeBudgetLimits struct {
	ComputeUnitLimit uint32

	// ComputeUnitPrice is in micro-lamports. Replays never charge fees; it
	// is parsed so duplicates are still rejected.
	ComputeUnitPrice    uint64
	HeapSize            uint32
	LoadedAccountsBytes uint32
}

// Budget applies l to the default invocation limits.
func (l *ComputeBudgetLimits) Budget() ComputeBudget {
	b := DefaultComputeBudget()
	b.ComputeUnitLimit = uint64(l.ComputeUnitLimit)
	b.HeapSize = l.HeapSize
	b.LoadedAccountsDataSizeLimit = l.LoadedAccountsBytes
	return b
}

// ComputeBudgetInstruction is one instruction as seen by the budget parser.
type ComputeBudgetInstruction struct {
	IsComputeBudget bool
	Data            []byte
}

// ComputeBudgetFromInstructions derives the limits a transaction requests.
// Without an explicit unit limit, every instruction outside the compute
// budget program is granted CUDefault units. The result is capped at CUMax.
func ComputeBudgetFromInstructions(instructions []ComputeBudgetInstruction) (*ComputeBudgetLimits, error) {
	limits := &ComputeBudgetLimits{
		HeapSize:            HeapSizeDefault,
		LoadedAccountsBytes: MaxLoadedAccountsDataSize,
	}

	var (
		seen      [computeBudgetSetLoadedAccountsDataSizeLimit + 1]bool
		unitLimit *uint32
		nonBudget uint64
	)
	for _, ix := range instructions {
		if !ix.IsComputeBudget {
			nonBudget++
			continue
		}
		d := wire.NewDecoder(ix.Data)
		tag := d.U8()
		if d.Err() != nil || tag == 0 || int(tag) >= len(seen) {
			return nil, ErrComputeInvalidLimit
		}
		if seen[tag] {
			return nil, ErrDuplicateComputeBudgetInstruction
		}
		seen[tag] = true

		switch tag {
		case computeBudgetRequestHeapFrame:
			size := d.U32()
			if d.Finish() != nil || size < HeapSizeMin || size > HeapSizeMax || size%1024 != 0 {
				return nil, ErrInvalidHeapFrame
			}
			limits.HeapSize = size
		case computeBudgetSetComputeUnitLimit:
			units := d.U32()
			unitLimit = &units
		case computeBudgetSetComputeUnitPrice:
			limits.ComputeUnitPrice = d.U64()
		case computeBudgetSetLoadedAccountsDataSizeLimit:
			size := d.U32()
			if size == 0 {
				return nil, ErrComputeInvalidLimit
			}
			limits.LoadedAccountsBytes = min(size, MaxLoadedAccountsDataSize)
		}
		if d.Finish() != nil {
			return nil, ErrComputeInvalidLimit
		}
	}

	units := nonBudget * CUDefault
	if unitLimit != nil {
		units = uint64(*unitLimit)
	}
	limits.ComputeUnitLimit = uint32(min(units, CUMax))
	return limits, nil
}
