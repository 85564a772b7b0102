package processor

import (
	"bytes"
	"fmt"
	"math/bits"

	"github.com/fortiblox/stratus-replay/internal/types"
	"github.com/fortiblox/stratus-replay/pkg/svm"
	"github.com/fortiblox/stratus-replay/pkg/svm/features"
	"github.com/fortiblox/stratus-replay/pkg/svm/programcache"
	"github.com/fortiblox/stratus-replay/pkg/svm/sysvar"
	"github.com/fortiblox/stratus-replay/pkg/svm/timings"
	"github.com/fortiblox/stratus-replay/pkg/svm/txcontext"
	"github.com/fortiblox/stratus-replay/pkg/transaction"
)

// Interpreter executes loaded (bytecode) programs.
type Interpreter interface {
	// Execute runs program for the current instruction of ctx.
	Execute(ctx *InvokeContext, program programcache.LoadedProgram) error
}

// InvokeContext is the environment a program executes in. One context
// serves a whole message; it is not safe for concurrent use.
type InvokeContext struct {
	proc     *MessageProcessor
	tc       *txcontext.TransactionContext
	programs *programcache.Overlay
	features *features.FeatureSet
	budget   svm.ComputeBudget
	meter    *svm.ComputeMeter
	timings  *timings.ExecuteTimings
	sysvars  *sysvar.Cache
	logs     *LogCollector

	blockhash            types.Hash
	lamportsPerSignature uint64

	// frames holds the account state each in-flight instruction started
	// with, innermost last.
	frames [][]preAccount
}

func newInvokeContext(p *MessageProcessor, req *Request) *InvokeContext {
	t := req.Timings
	if t == nil {
		t = timings.New()
	}
	sv := req.Sysvars
	if sv == nil {
		sv = sysvar.NewCache()
	}
	delta := req.ModifiedPrograms
	if delta == nil {
		var slot uint64
		if req.BasePrograms != nil {
			slot = req.BasePrograms.Slot()
		}
		delta = programcache.NewCache(slot, programcache.DefaultEnvironments())
	}
	logs := req.Logs
	if logs == nil {
		logs = NewLogCollector(p.logLimit)
	}
	return &InvokeContext{
		proc:                 p,
		tc:                   req.Context,
		programs:             programcache.NewOverlay(req.BasePrograms, delta),
		features:             req.Features,
		budget:               req.Budget,
		meter:                svm.NewComputeMeter(req.Budget.ComputeUnitLimit),
		timings:              t,
		sysvars:              sv,
		logs:                 logs,
		blockhash:            req.Blockhash,
		lamportsPerSignature: req.LamportsPerSignature,
	}
}

// Transaction returns the execution context.
func (ic *InvokeContext) Transaction() *txcontext.TransactionContext { return ic.tc }

// CurrentInstruction returns the instruction being executed.
func (ic *InvokeContext) CurrentInstruction() (*txcontext.InstructionContext, error) {
	return ic.tc.CurrentInstruction()
}

// Rent returns the rent sysvar, falling back to the schedule of the context.
func (ic *InvokeContext) Rent() sysvar.Rent {
	if r, err := ic.sysvars.Rent(); err == nil {
		return r
	}
	return ic.tc.Rent()
}

// Sysvars returns the sysvar cache.
func (ic *InvokeContext) Sysvars() *sysvar.Cache { return ic.sysvars }

// Blockhash returns the blockhash of the replayed block.
func (ic *InvokeContext) Blockhash() types.Hash { return ic.blockhash }

// LamportsPerSignature returns the fee rate of the replayed block.
func (ic *InvokeContext) LamportsPerSignature() uint64 { return ic.lamportsPerSignature }

// IsFeatureActive reports whether a feature gate is on.
func (ic *InvokeContext) IsFeatureActive(id types.Pubkey) bool {
	return ic.features.IsActive(id)
}

// Budget returns the compute budget.
func (ic *InvokeContext) Budget() svm.ComputeBudget { return ic.budget }

// RemainingUnits returns the compute units left.
func (ic *InvokeContext) RemainingUnits() uint64 { return ic.meter.Remaining() }

// ConsumeUnits charges n compute units.
func (ic *InvokeContext) ConsumeUnits(n uint64) error {
	if err := ic.meter.Consume(n); err != nil {
		return svm.ErrComputationalBudgetExceeded
	}
	return nil
}

// Log records a program log message.
func (ic *InvokeContext) Log(msg string) {
	ic.logs.Log(msg)
}

// FindProgram resolves a program through the cache overlay.
func (ic *InvokeContext) FindProgram(key types.Pubkey) (programcache.LoadedProgram, bool) {
	return ic.programs.Find(key)
}

// StoreProgram records a program modified by the message.
func (ic *InvokeContext) StoreProgram(key types.Pubkey, p programcache.LoadedProgram) {
	ic.programs.Store(key, p)
}

// processInstruction pushes instr, executes it, verifies its account
// changes and pops it.
func (ic *InvokeContext) processInstruction(instr txcontext.InstructionContext) error {
	if err := ic.tc.Push(instr); err != nil {
		return err
	}
	cur, err := ic.tc.CurrentInstruction()
	if err != nil {
		return err
	}
	programID, err := cur.ProgramID(ic.tc)
	if err != nil {
		return err
	}

	ic.frames = append(ic.frames, ic.capture(cur))
	ic.timings.RecordInstruction(uint64(ic.tc.StackHeight()))
	before := ic.meter.Consumed()

	err = ic.execute(programID)
	if err == nil {
		err = ic.verify(programID)
	}

	ic.timings.RecordProgram(programID, ic.meter.Consumed()-before, err != nil)
	ic.frames = ic.frames[:len(ic.frames)-1]
	if popErr := ic.tc.Pop(); err == nil {
		err = popErr
	}
	return err
}

// execute dispatches the current instruction to its program.
func (ic *InvokeContext) execute(programID types.Pubkey) error {
	depth := ic.tc.StackHeight()
	if programID == types.NativeLoaderAddr && ic.features.IsActive(features.RejectEmptyInstructionWithoutProgram) {
		ic.Log("Instruction has no program")
		return svm.ErrUnsupportedProgramID
	}

	entry, ok := ic.programs.Find(programID)
	if !ok {
		ic.Log(fmt.Sprintf("Program %s is not cached", programID))
		return svm.ErrUnsupportedProgramID
	}

	ic.Log(fmt.Sprintf("Program %s invoke [%d]", programID, depth))
	var err error
	switch entry.Kind {
	case programcache.KindBuiltin:
		err = ic.executeBuiltin(entry.Name)
	case programcache.KindLoaded:
		if ic.proc.interpreter == nil {
			err = svm.ErrUnsupportedProgramID
		} else {
			err = ic.proc.interpreter.Execute(ic, entry)
		}
	default:
		ic.Log("Program is not deployed")
		err = svm.ErrInvalidAccountData
	}

	if err != nil {
		ic.Log(fmt.Sprintf("Program %s failed: %v", programID, toInstructionError(err)))
		return err
	}
	ic.Log(fmt.Sprintf("Program %s success", programID))
	return nil
}

func (ic *InvokeContext) executeBuiltin(name string) error {
	b, ok := ic.proc.builtins[name]
	if !ok {
		return svm.ErrUnsupportedProgramID
	}
	if !b.Feature.IsZero() && !ic.features.IsActive(b.Feature) {
		return svm.ErrUnsupportedProgramID
	}
	if err := ic.ConsumeUnits(b.Units); err != nil {
		return err
	}
	return b.Entrypoint(ic)
}

// NativeInvoke executes ix as a cross-program invocation from the current
// instruction. signers are the program-derived keys the caller signs for.
func (ic *InvokeContext) NativeInvoke(ix transaction.Instruction, signers []types.Pubkey) error {
	caller, err := ic.tc.CurrentInstruction()
	if err != nil {
		return err
	}
	signed := make(map[types.Pubkey]struct{}, len(signers))
	for _, s := range signers {
		signed[s] = struct{}{}
	}

	accounts := make([]txcontext.InstructionAccount, 0, len(ix.Accounts))
	for _, meta := range ix.Accounts {
		idx, ok := ic.tc.IndexOfAccount(meta.Pubkey)
		if !ok {
			ic.Log(fmt.Sprintf("Instruction references an unknown account %s", meta.Pubkey))
			return svm.ErrMissingAccount
		}
		slot := callerSlot(caller, idx)
		if slot < 0 {
			ic.Log(fmt.Sprintf("Instruction references an unknown account %s", meta.Pubkey))
			return svm.ErrMissingAccount
		}
		ca := caller.Accounts[slot]
		if meta.IsWritable && !ca.IsWritable {
			ic.Log(fmt.Sprintf("%s's writable privilege escalated", meta.Pubkey))
			return svm.ErrPrivilegeEscalation
		}
		if _, ok := signed[meta.Pubkey]; meta.IsSigner && !ca.IsSigner && !ok {
			ic.Log(fmt.Sprintf("%s's signer privilege escalated", meta.Pubkey))
			return svm.ErrPrivilegeEscalation
		}
		accounts = append(accounts, txcontext.InstructionAccount{
			IndexInTransaction: uint16(idx),
			IndexInCaller:      uint16(slot),
			IsSigner:           meta.IsSigner,
			IsWritable:         meta.IsWritable,
		})
	}

	programIdx, ok := ic.tc.IndexOfAccount(ix.ProgramID)
	if !ok || callerSlot(caller, programIdx) < 0 {
		ic.Log(fmt.Sprintf("Unknown program %s", ix.ProgramID))
		return svm.ErrMissingAccount
	}
	program, err := ic.tc.AccountAtIndex(programIdx)
	if err != nil {
		return err
	}
	if !program.Executable {
		ic.Log(fmt.Sprintf("Account %s is not executable", ix.ProgramID))
		return svm.ErrUnsupportedProgramID
	}
	if err := ic.checkReentrancy(ix.ProgramID); err != nil {
		return err
	}
	if err := ic.ConsumeUnits(ic.budget.InvokeUnits); err != nil {
		return err
	}

	// The caller's changes so far are checked now; after the call its
	// frame restarts from the state the callee left.
	callerID, err := caller.ProgramID(ic.tc)
	if err != nil {
		return err
	}
	if err := ic.verify(callerID); err != nil {
		return err
	}
	ic.syncFrame()

	instr := txcontext.NewInstructionContext([]uint16{uint16(programIdx)}, accounts, ix.Data)
	if err := ic.processInstruction(instr); err != nil {
		return err
	}
	ic.syncFrame()
	return nil
}

// checkReentrancy allows a program to call itself directly but not to be
// re-entered through another program.
func (ic *InvokeContext) checkReentrancy(programID types.Pubkey) error {
	height := ic.tc.StackHeight()
	onStack := false
	for level := 0; level < height; level++ {
		instr, err := ic.tc.InstructionAtLevel(level)
		if err != nil {
			return err
		}
		id, err := instr.ProgramID(ic.tc)
		if err != nil {
			return err
		}
		if id == programID {
			onStack = true
		}
		if level == height-1 && onStack && id != programID {
			ic.Log(fmt.Sprintf("Reentrancy into %s is not allowed", programID))
			return svm.ErrReentrancyNotAllowed
		}
	}
	return nil
}

func callerSlot(caller *txcontext.InstructionContext, idx int) int {
	for j, a := range caller.Accounts {
		if int(a.IndexInTransaction) == idx {
			return j
		}
	}
	return -1
}

// preAccount is the state of an instruction account when its instruction
// started.
type preAccount struct {
	index    int
	writable bool
	account  types.Account
}

// capture records the state of the unique accounts of instr.
func (ic *InvokeContext) capture(instr *txcontext.InstructionContext) []preAccount {
	pre := make([]preAccount, 0, len(instr.Accounts))
	for i, a := range instr.Accounts {
		if instr.IsDuplicate(i) {
			continue
		}
		acct, err := ic.tc.AccountAtIndex(int(a.IndexInTransaction))
		if err != nil {
			continue
		}
		pre = append(pre, preAccount{
			index:    int(a.IndexInTransaction),
			writable: a.IsWritable,
			account:  *acct.Clone(),
		})
	}
	return pre
}

// syncFrame resets the starting state of the innermost frame to the
// current account state.
func (ic *InvokeContext) syncFrame() {
	frame := ic.frames[len(ic.frames)-1]
	for i := range frame {
		if acct, err := ic.tc.AccountAtIndex(frame[i].index); err == nil {
			frame[i].account = *acct.Clone()
		}
	}
}

// verify checks the account changes made by programID during the current
// instruction:
// - only the owner may debit an account or change its data or size
// - read-only accounts keep their balance and data
// - only the owner may change the owner, and only of writable accounts
//   with zeroed data
// - only the owner may flip the executable flag of a writable account
// - the instruction's total balance is preserved
func (ic *InvokeContext) verify(programID types.Pubkey) error {
	pre := ic.frames[len(ic.frames)-1]
	ic.timings.RecordVerifiedAccounts(len(pre))

	var preLo, preHi, postLo, postHi uint64
	for _, p := range pre {
		post, err := ic.tc.AccountAtIndex(p.index)
		if err != nil {
			return err
		}
		if err := verifyAccount(p, post, programID); err != nil {
			key, _ := ic.tc.KeyOfAccountAtIndex(p.index)
			ic.Log(fmt.Sprintf("Account %s: %v", key, err))
			return err
		}
		var c uint64
		preLo, c = bits.Add64(preLo, p.account.Lamports, 0)
		preHi += c
		postLo, c = bits.Add64(postLo, post.Lamports, 0)
		postHi += c
	}
	if preLo != postLo || preHi != postHi {
		return svm.ErrUnbalancedInstruction
	}
	return nil
}

func verifyAccount(p preAccount, post *types.Account, programID types.Pubkey) error {
	pre := &p.account
	isOwner := pre.Owner == programID

	if pre.Owner != post.Owner {
		if !p.writable || !isOwner || !isZeroed(post.Data) {
			return svm.ErrModifiedProgramID
		}
	}

	if post.Lamports < pre.Lamports {
		if !isOwner {
			return svm.ErrExternalAccountLamportSpend
		}
		if !p.writable {
			return svm.ErrReadonlyLamportChange
		}
	}
	if post.Lamports != pre.Lamports && !p.writable {
		return svm.ErrReadonlyLamportChange
	}

	if len(pre.Data) != len(post.Data) && !(p.writable && isOwner) {
		return svm.ErrAccountDataSizeChanged
	}
	if !bytes.Equal(pre.Data, post.Data) {
		switch {
		case !p.writable:
			return svm.ErrReadonlyDataModified
		case !isOwner:
			return svm.ErrExternalAccountDataModified
		}
	}

	if pre.Executable != post.Executable && (!p.writable || !isOwner) {
		return svm.ErrExecutableModified
	}
	return nil
}

func isZeroed(b []byte) bool {
	for _, x := range b {
		if x != 0 {
			return false
		}
	}
	return true
}
