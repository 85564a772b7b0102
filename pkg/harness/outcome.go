package harness

import (
	"github.com/zeebo/blake3"

	"github.com/fortiblox/stratus-replay/internal/types"
	"github.com/fortiblox/stratus-replay/pkg/svm"
	"github.com/fortiblox/stratus-replay/pkg/svm/programcache"
	"github.com/fortiblox/stratus-replay/pkg/svm/timings"
	"github.com/fortiblox/stratus-replay/pkg/svm/txcontext"
	"github.com/fortiblox/stratus-replay/pkg/wire"
)

// Outcome is the result of one replay. It is the only thing Replay hands
// back and is owned by the caller from then on.
type Outcome struct {
	// ExecutedUnits is the number of compute units the processor consumed.
	ExecutedUnits uint64

	// Context is the execution context after the processor returned.
	Context *txcontext.TransactionContext

	// ProgramsModified is the per-replay program cache delta. Merging it
	// into the base cache is left to the caller.
	ProgramsModified *programcache.Cache

	Timings *timings.ExecuteTimings

	// Logs are the program logs, capped by the host's Config.LogLimit.
	// They are diagnostics and stay out of the committed form.
	Logs []string

	// Err is the processor failure, nil on success. It is a valid outcome,
	// not a harness malfunction.
	Err *svm.TransactionError
}

// Success reports whether the transaction executed without error.
func (o *Outcome) Success() bool {
	return o.Err == nil
}

// Accounts returns the account table the replay finished with.
func (o *Outcome) Accounts() types.AccountSnapshot {
	return o.Context.Accounts()
}

// EncodeWire implements wire.Marshaler. This is the committed form; it
// depends on the input alone.
func (o *Outcome) EncodeWire(e *wire.Encoder) {
	e.U64(o.ExecutedUnits)
	e.Value(o.Context)
	e.Value(o.ProgramsModified)
	e.Value(o.Timings)
	e.Option(o.Err != nil)
	if o.Err != nil {
		e.Value(o.Err)
	}
}

// Bytes returns the committed form of the outcome.
func (o *Outcome) Bytes() []byte {
	return wire.Marshal(o)
}

// Digest returns the blake3 digest of the committed form. Prover and
// verifier compare outcomes by digest.
func (o *Outcome) Digest() types.Hash {
	return types.Hash(blake3.Sum256(o.Bytes()))
}
