package harness

import (
	"github.com/fortiblox/stratus-replay/internal/types"
	"github.com/fortiblox/stratus-replay/pkg/svm"
	"github.com/fortiblox/stratus-replay/pkg/svm/features"
	"github.com/fortiblox/stratus-replay/pkg/svm/programcache"
	"github.com/fortiblox/stratus-replay/pkg/svm/sysvar"
	"github.com/fortiblox/stratus-replay/pkg/transaction"
	"github.com/fortiblox/stratus-replay/pkg/wire"
)

// Input holds the boundary values of one replay. Nothing in it is modified
// by Replay.
type Input struct {
	Accounts     types.AccountSnapshot
	Rent         sysvar.Rent
	Transaction  transaction.Transaction
	Slot         uint64
	Environments programcache.Environments
	Features     *features.FeatureSet
	Budget       svm.ComputeBudget
	Sysvars      *sysvar.Cache

	// Programs is the base program cache shared with the caller.
	Programs *programcache.Cache

	// ProgramIndices lists, per instruction, the snapshot indexes of the
	// program account chain.
	ProgramIndices [][]uint16

	Blockhash            types.Hash
	LamportsPerSignature uint64
}

// Boundary value names, in channel order.
const (
	valueAccounts             = "account snapshot"
	valueRent                 = "rent"
	valueTransaction          = "transaction"
	valueSlot                 = "slot"
	valueEnvironments         = "runtime environments"
	valueFeatures             = "feature set"
	valueBudget               = "compute budget"
	valueSysvars              = "sysvar cache"
	valuePrograms             = "program cache"
	valueProgramIndices       = "program indices"
	valueBlockhash            = "blockhash"
	valueLamportsPerSignature = "lamports per signature"
)

// ReadInput reads the boundary values in channel order. It stops at the
// first malformed value and returns its *wire.DeserializationError.
func ReadInput(d *wire.Decoder) (*Input, error) {
	var (
		in    Input
		slot  u64
		lps   u64
		index programIndices
	)
	in.Features = features.New()
	in.Sysvars = sysvar.NewCache()
	in.Programs = programcache.NewCache(0, programcache.Environments{})

	steps := []struct {
		name string
		v    wire.Unmarshaler
	}{
		{valueAccounts, &in.Accounts},
		{valueRent, &in.Rent},
		{valueTransaction, &in.Transaction},
		{valueSlot, &slot},
		{valueEnvironments, &in.Environments},
		{valueFeatures, in.Features},
		{valueBudget, &in.Budget},
		{valueSysvars, in.Sysvars},
		{valuePrograms, in.Programs},
		{valueProgramIndices, &index},
		{valueBlockhash, &in.Blockhash},
		{valueLamportsPerSignature, &lps},
	}
	for _, s := range steps {
		if err := d.Decode(s.name, s.v); err != nil {
			return nil, err
		}
	}
	in.Slot = uint64(slot)
	in.LamportsPerSignature = uint64(lps)
	in.ProgramIndices = index
	return &in, nil
}

// Encode writes the input in channel order.
func (in *Input) Encode(e *wire.Encoder) {
	fs := in.Features
	if fs == nil {
		fs = features.New()
	}
	sv := in.Sysvars
	if sv == nil {
		sv = sysvar.NewCache()
	}
	programs := in.Programs
	if programs == nil {
		programs = programcache.NewCache(in.Slot, in.Environments)
	}

	e.Value(in.Accounts)
	e.Value(in.Rent)
	e.Value(&in.Transaction)
	e.U64(in.Slot)
	e.Value(in.Environments)
	e.Value(fs)
	e.Value(in.Budget)
	e.Value(sv)
	e.Value(programs)
	e.Value(programIndices(in.ProgramIndices))
	e.Value(in.Blockhash)
	e.U64(in.LamportsPerSignature)
}

// Bytes returns the encoded input.
func (in *Input) Bytes() []byte {
	e := wire.NewEncoder()
	in.Encode(e)
	return e.Bytes()
}

// DecodeInput decodes an input that must span all of data.
func DecodeInput(data []byte) (*Input, error) {
	d := wire.NewDecoder(data)
	in, err := ReadInput(d)
	if err != nil {
		return nil, err
	}
	if err := d.Finish(); err != nil {
		return nil, err
	}
	return in, nil
}

type u64 uint64

func (v *u64) DecodeWire(d *wire.Decoder) { *v = u64(d.U64()) }

type programIndices [][]uint16

func (p programIndices) EncodeWire(e *wire.Encoder) {
	e.Len64(len(p))
	for _, chain := range p {
		e.Len64(len(chain))
		for _, idx := range chain {
			e.U16(idx)
		}
	}
}

func (p *programIndices) DecodeWire(d *wire.Decoder) {
	n := d.Len64()
	if d.Err() != nil {
		return
	}
	out := make([][]uint16, 0, n)
	for i := 0; i < n && d.Err() == nil; i++ {
		m := d.Len64()
		chain := make([]uint16, 0, m)
		for j := 0; j < m && d.Err() == nil; j++ {
			chain = append(chain, d.U16())
		}
		out = append(out, chain)
	}
	*p = out
}
