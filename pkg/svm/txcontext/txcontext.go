// Package txcontext implements the execution context of one replayed
// transaction: the account table, the instruction stack and trace, and the
// return data.
//
// The TransactionContext is the single owner of the account table. The
// processor borrows indexed access for the duration of one call; accounts
// are addressed by their snapshot position, which is never re-sorted.
package txcontext

import (
	"github.com/fortiblox/stratus-replay/internal/types"
	"github.com/fortiblox/stratus-replay/pkg/svm"
	"github.com/fortiblox/stratus-replay/pkg/svm/sysvar"
	"github.com/fortiblox/stratus-replay/pkg/wire"
)

// MaxReturnDataSize bounds the return data a program may set.
const MaxReturnDataSize = 1024

// TransactionContext holds the mutable state of one replay.
type TransactionContext struct {
	keys     []types.Pubkey
	accounts []*types.Account
	rent     sysvar.Rent

	signature types.Signature

	maxStackHeight uint64
	maxTraceLength uint64

	// stack holds indexes into trace.
	stack []int
	trace []*InstructionContext

	returnDataProgram types.Pubkey
	returnData        []byte
}

// New creates a context over a private copy of snapshot.
func New(snapshot types.AccountSnapshot, rent sysvar.Rent, maxStackHeight, maxTraceLength uint64) *TransactionContext {
	tc := &TransactionContext{
		keys:           make([]types.Pubkey, len(snapshot)),
		accounts:       make([]*types.Account, len(snapshot)),
		rent:           rent,
		maxStackHeight: maxStackHeight,
		maxTraceLength: maxTraceLength,
	}
	for i, ka := range snapshot {
		tc.keys[i] = ka.Key
		tc.accounts[i] = ka.Account.Clone()
	}
	return tc
}

// SetSignature binds the originating transaction signature.
func (tc *TransactionContext) SetSignature(sig types.Signature) {
	tc.signature = sig
}

// Signature returns the bound transaction signature.
func (tc *TransactionContext) Signature() types.Signature {
	return tc.signature
}

// Rent returns the rent schedule of the replay.
func (tc *TransactionContext) Rent() sysvar.Rent {
	return tc.rent
}

// NumberOfAccounts returns the size of the account table.
func (tc *TransactionContext) NumberOfAccounts() int {
	return len(tc.accounts)
}

// KeyOfAccountAtIndex returns the key at index.
func (tc *TransactionContext) KeyOfAccountAtIndex(index int) (types.Pubkey, error) {
	if index < 0 || index >= len(tc.keys) {
		return types.Pubkey{}, svm.ErrNotEnoughAccountKeys
	}
	return tc.keys[index], nil
}

// AccountAtIndex lends the account at index. The pointer stays valid for
// the lifetime of the context and must not be retained by the borrower.
func (tc *TransactionContext) AccountAtIndex(index int) (*types.Account, error) {
	if index < 0 || index >= len(tc.accounts) {
		return nil, svm.ErrNotEnoughAccountKeys
	}
	return tc.accounts[index], nil
}

// IndexOfAccount returns the first index holding key.
func (tc *TransactionContext) IndexOfAccount(key types.Pubkey) (int, bool) {
	for i, k := range tc.keys {
		if k == key {
			return i, true
		}
	}
	return 0, false
}

// Accounts returns a copy of the account table in snapshot order.
func (tc *TransactionContext) Accounts() types.AccountSnapshot {
	out := make(types.AccountSnapshot, len(tc.accounts))
	for i, a := range tc.accounts {
		out[i] = types.KeyedAccount{Key: tc.keys[i], Account: *a.Clone()}
	}
	return out
}

// Push starts a new instruction. It fails with CallDepth when the stack is
// full and with MaxInstructionTraceLengthExceeded when the trace is full.
func (tc *TransactionContext) Push(ic InstructionContext) error {
	if uint64(len(tc.trace)) >= tc.maxTraceLength {
		return svm.ErrMaxInstructionTraceLengthExceeded
	}
	if uint64(len(tc.stack)) >= tc.maxStackHeight {
		return svm.ErrCallDepth
	}
	ic.NestingLevel = len(tc.stack)
	tc.trace = append(tc.trace, &ic)
	tc.stack = append(tc.stack, len(tc.trace)-1)
	return nil
}

// Pop finishes the current instruction.
func (tc *TransactionContext) Pop() error {
	if len(tc.stack) == 0 {
		return svm.ErrCallDepth
	}
	tc.stack = tc.stack[:len(tc.stack)-1]
	return nil
}

// StackHeight returns the number of instructions in flight.
func (tc *TransactionContext) StackHeight() int {
	return len(tc.stack)
}

// TraceLength returns the number of instructions recorded so far.
func (tc *TransactionContext) TraceLength() int {
	return len(tc.trace)
}

// CurrentInstruction returns the innermost instruction in flight.
func (tc *TransactionContext) CurrentInstruction() (*InstructionContext, error) {
	return tc.InstructionAtLevel(len(tc.stack) - 1)
}

// InstructionAtLevel returns the instruction at nesting level (0 = top level).
func (tc *TransactionContext) InstructionAtLevel(level int) (*InstructionContext, error) {
	if level < 0 || level >= len(tc.stack) {
		return nil, svm.ErrCallDepth
	}
	return tc.trace[tc.stack[level]], nil
}

// Trace returns the recorded instruction at position i of the trace.
func (tc *TransactionContext) Trace(i int) (*InstructionContext, bool) {
	if i < 0 || i >= len(tc.trace) {
		return nil, false
	}
	return tc.trace[i], true
}

// SetReturnData records data returned by program.
func (tc *TransactionContext) SetReturnData(program types.Pubkey, data []byte) error {
	if len(data) > MaxReturnDataSize {
		return svm.ErrInvalidInstructionData
	}
	tc.returnDataProgram = program
	if len(data) == 0 {
		tc.returnData = nil
		return nil
	}
	tc.returnData = append([]byte(nil), data...)
	return nil
}

// ReturnData returns the last program that set return data and the data.
func (tc *TransactionContext) ReturnData() (types.Pubkey, []byte) {
	return tc.returnDataProgram, tc.returnData
}

// EncodeWire implements wire.Marshaler. It commits the signature, the final
// account table, the return data and the trace length.
func (tc *TransactionContext) EncodeWire(e *wire.Encoder) {
	e.Value(tc.signature)
	e.Value(tc.Accounts())
	e.Value(tc.returnDataProgram)
	e.Bytes64(tc.returnData)
	e.U64(uint64(len(tc.trace)))
}
