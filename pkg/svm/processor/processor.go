// Package processor implements the message processor that executes the
// instructions of a replayed transaction.
//
// For every top-level instruction the processor:
// - checks the program account is executable
// - builds the instruction context from the message header
// - resolves the program through the program cache overlay
// - charges compute and dispatches to a builtin or the Interpreter
// - verifies the account changes the program made
//
// The first failing instruction stops execution; the failure is returned as
// a *svm.TransactionError and the context keeps the state it had reached.
package processor

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/fortiblox/stratus-replay/internal/types"
	"github.com/fortiblox/stratus-replay/pkg/svm"
	"github.com/fortiblox/stratus-replay/pkg/svm/features"
	"github.com/fortiblox/stratus-replay/pkg/svm/programcache"
	"github.com/fortiblox/stratus-replay/pkg/svm/sysvar"
	"github.com/fortiblox/stratus-replay/pkg/svm/timings"
	"github.com/fortiblox/stratus-replay/pkg/svm/txcontext"
	"github.com/fortiblox/stratus-replay/pkg/transaction"
)

// Processor executes a message against an execution context.
type Processor interface {
	// ProcessMessage runs every instruction of req.Message and returns the
	// compute units consumed and the failure, if any.
	ProcessMessage(req *Request) (uint64, *svm.TransactionError)
}

// Request carries everything one message execution reads or writes.
type Request struct {
	Message *transaction.Message

	// ProgramIndices lists, per instruction, the account table indexes of
	// the program chain. The last index is the invoked program.
	ProgramIndices [][]uint16

	// Context is the account table and instruction stack. It is mutated.
	Context *txcontext.TransactionContext

	// BasePrograms is the shared program cache. It is only read.
	BasePrograms programcache.Reader

	// ModifiedPrograms receives programs deployed or retracted by the message.
	ModifiedPrograms *programcache.Cache

	Features *features.FeatureSet
	Budget   svm.ComputeBudget

	// Timings is written, never read.
	Timings *timings.ExecuteTimings

	// Logs receives the program log. A collector bounded by the processor
	// limit is used when nil.
	Logs *LogCollector

	Sysvars              *sysvar.Cache
	Blockhash            types.Hash
	LamportsPerSignature uint64
}

// MessageProcessor is the bundled Processor.
type MessageProcessor struct {
	builtins    map[string]Builtin
	interpreter Interpreter
	logLimit    int
	logger      zerolog.Logger
}

// Option configures a MessageProcessor.
type Option func(*MessageProcessor)

// WithInterpreter sets the executor for loaded programs.
func WithInterpreter(i Interpreter) Option {
	return func(p *MessageProcessor) { p.interpreter = i }
}

// WithBuiltin registers an additional builtin.
func WithBuiltin(b Builtin) Option {
	return func(p *MessageProcessor) { p.builtins[b.Name] = b }
}

// WithLogLimit bounds the program log in bytes.
func WithLogLimit(n int) Option {
	return func(p *MessageProcessor) { p.logLimit = n }
}

// WithLogger sets the diagnostics logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *MessageProcessor) { p.logger = l }
}

// New creates a processor with the default builtins registered.
func New(opts ...Option) *MessageProcessor {
	p := &MessageProcessor{
		builtins: make(map[string]Builtin),
		logLimit: DefaultLogLimit,
		logger:   zerolog.Nop(),
	}
	for _, b := range DefaultBuiltins() {
		p.builtins[b.Name] = b
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessMessage implements Processor.
func (p *MessageProcessor) ProcessMessage(req *Request) (uint64, *svm.TransactionError) {
	ic := newInvokeContext(p, req)

	msg := req.Message
	tc := req.Context
	for i, ix := range msg.Instructions {
		index := uint8(i)
		if i >= len(req.ProgramIndices) || len(req.ProgramIndices[i]) == 0 {
			return ic.meter.Consumed(), &svm.TransactionError{Kind: svm.TxErrProgramAccountNotFound, InstructionIndex: index}
		}
		indices := req.ProgramIndices[i]
		program, err := tc.AccountAtIndex(int(indices[len(indices)-1]))
		if err != nil {
			return ic.meter.Consumed(), &svm.TransactionError{Kind: svm.TxErrProgramAccountNotFound, InstructionIndex: index}
		}
		if !program.Executable {
			return ic.meter.Consumed(), &svm.TransactionError{Kind: svm.TxErrInvalidProgramForExecution, InstructionIndex: index}
		}

		accounts := make([]txcontext.InstructionAccount, len(ix.Accounts))
		for j, a := range ix.Accounts {
			accounts[j] = txcontext.InstructionAccount{
				IndexInTransaction: uint16(a),
				IndexInCaller:      uint16(a),
				IsSigner:           msg.IsSigner(int(a)),
				IsWritable:         msg.IsWritable(int(a)),
			}
		}
		instr := txcontext.NewInstructionContext(indices, accounts, ix.Data)

		if err := ic.processInstruction(instr); err != nil {
			ie := toInstructionError(err)
			p.logger.Debug().
				Int("instruction", i).
				Str("error", ie.Error()).
				Uint64("consumed", ic.meter.Consumed()).
				Msg("instruction failed")
			return ic.meter.Consumed(), svm.NewInstructionError(index, ie)
		}
	}

	p.logger.Debug().
		Int("instructions", len(msg.Instructions)).
		Uint64("consumed", ic.meter.Consumed()).
		Msg("message processed")
	return ic.meter.Consumed(), nil
}

// toInstructionError maps an execution error onto the closed instruction
// error set.
func toInstructionError(err error) svm.InstructionError {
	var ie svm.InstructionError
	if errors.As(err, &ie) {
		return ie
	}
	if errors.Is(err, svm.ErrComputeExceeded) {
		return svm.ErrComputationalBudgetExceeded
	}
	return svm.ErrGenericError
}
