// Package system implements the Solana System Program.
//
// The System Program is responsible for:
// - Creating new accounts
// - Transferring lamports
// - Assigning account ownership
// - Allocating account space
// - Creating accounts with seeds
// - Managing durable nonce accounts
package system

import (
	"crypto/sha256"

	"github.com/fortiblox/stratus-replay/internal/types"
	"github.com/fortiblox/stratus-replay/pkg/svm"
	"github.com/fortiblox/stratus-replay/pkg/svm/features"
	"github.com/fortiblox/stratus-replay/pkg/svm/sysvar"
	"github.com/fortiblox/stratus-replay/pkg/svm/txcontext"
	"github.com/fortiblox/stratus-replay/pkg/wire"
)

// Name is the builtin entrypoint name of the program.
const Name = "system_program"

// ProgramID is the System Program address.
var ProgramID = types.SystemProgramAddr

// Instruction discriminants.
const (
	InstructionCreateAccount uint32 = iota
	InstructionAssign
	InstructionTransfer
	InstructionCreateAccountWithSeed
	InstructionAdvanceNonceAccount
	InstructionWithdrawNonceAccount
	InstructionInitializeNonceAccount
	InstructionAuthorizeNonceAccount
	InstructionAllocate
	InstructionAllocateWithSeed
	InstructionAssignWithSeed
	InstructionTransferWithSeed
	InstructionUpgradeNonceAccount
)

// MaxSeedLen is the maximum length of a seed.
const MaxSeedLen = 32

// pdaMarker terminates program-derived addresses; seeded accounts may not be
// owned by an id ending in it.
const pdaMarker = "ProgramDerivedAddress"

// Program errors, surfaced as custom instruction errors.
const (
	ErrCodeAccountAlreadyInUse uint32 = iota
	ErrCodeResultWithNegativeLamports
	ErrCodeInvalidProgramID
	ErrCodeInvalidAccountDataLength
	ErrCodeMaxSeedLengthExceeded
	ErrCodeAddressWithSeedMismatch
	ErrCodeNonceNoRecentBlockhashes
	ErrCodeNonceBlockhashNotExpired
	ErrCodeNonceUnexpectedBlockhashValue
)

// Program errors as instruction errors.
var (
	ErrAccountAlreadyInUse           = svm.CustomError(ErrCodeAccountAlreadyInUse)
	ErrInvalidProgramID              = svm.CustomError(ErrCodeInvalidProgramID)
	ErrInvalidAccountDataLength      = svm.CustomError(ErrCodeInvalidAccountDataLength)
	ErrMaxSeedLengthExceeded         = svm.CustomError(ErrCodeMaxSeedLengthExceeded)
	ErrAddressWithSeedMismatch       = svm.CustomError(ErrCodeAddressWithSeedMismatch)
	ErrNonceNoRecentBlockhashes      = svm.CustomError(ErrCodeNonceNoRecentBlockhashes)
	ErrNonceBlockhashNotExpired      = svm.CustomError(ErrCodeNonceBlockhashNotExpired)
	ErrNonceUnexpectedBlockhashValue = svm.CustomError(ErrCodeNonceUnexpectedBlockhashValue)
)

// InvokeContext provides context for program execution.
type InvokeContext interface {
	// Transaction returns the account table of the replay.
	Transaction() *txcontext.TransactionContext

	// CurrentInstruction returns the instruction being executed.
	CurrentInstruction() (*txcontext.InstructionContext, error)

	// Rent returns the rent schedule.
	Rent() sysvar.Rent

	// Blockhash returns the blockhash nonce accounts advance to.
	Blockhash() types.Hash

	// LamportsPerSignature returns the fee rate recorded in nonce accounts.
	LamportsPerSignature() uint64

	// IsFeatureActive reports whether a feature gate is on.
	IsFeatureActive(id types.Pubkey) bool

	// Log records a log message.
	Log(msg string)
}

// Process executes a System Program instruction.
func Process(ctx InvokeContext) error {
	ic, err := ctx.CurrentInstruction()
	if err != nil {
		return err
	}
	tc := ctx.Transaction()

	d := wire.NewDecoder(ic.Data)
	tag := d.U32()
	if d.Err() != nil {
		return svm.ErrInvalidInstructionData
	}

	p := &processor{ctx: ctx, tc: tc, ic: ic, d: d}
	switch tag {
	case InstructionCreateAccount:
		return p.createAccount()
	case InstructionAssign:
		return p.assign()
	case InstructionTransfer:
		return p.transfer()
	case InstructionCreateAccountWithSeed:
		return p.createAccountWithSeed()
	case InstructionAdvanceNonceAccount:
		return p.advanceNonceAccount()
	case InstructionWithdrawNonceAccount:
		return p.withdrawNonceAccount()
	case InstructionInitializeNonceAccount:
		return p.initializeNonceAccount()
	case InstructionAuthorizeNonceAccount:
		return p.authorizeNonceAccount()
	case InstructionAllocate:
		return p.allocate()
	case InstructionAllocateWithSeed:
		return p.allocateWithSeed()
	case InstructionAssignWithSeed:
		return p.assignWithSeed()
	case InstructionTransferWithSeed:
		return p.transferWithSeed()
	default:
		return svm.ErrInvalidInstructionData
	}
}

// processor holds the state of one System Program invocation.
type processor struct {
	ctx InvokeContext
	tc  *txcontext.TransactionContext
	ic  *txcontext.InstructionContext
	d   *wire.Decoder
}

// args finishes instruction data parsing.
func (p *processor) args() error {
	if p.d.Err() != nil {
		return svm.ErrInvalidInstructionData
	}
	return nil
}

func (p *processor) readPubkey() types.Pubkey {
	var k types.Pubkey
	p.d.Value(&k)
	return k
}

func (p *processor) borrow(i int) (*txcontext.BorrowedAccount, error) {
	if err := p.ic.CheckNumberOfAccounts(i + 1); err != nil {
		return nil, err
	}
	return p.ic.Borrow(p.tc, i)
}

// address pairs an account with the key that must authorize changes to it.
// Seeded accounts are authorized by their base.
type address struct {
	key  types.Pubkey
	base *types.Pubkey
}

func (p *processor) authorized(a address) bool {
	signers := p.ic.Signers(p.tc)
	k := a.key
	if a.base != nil {
		k = *a.base
	}
	_, ok := signers[k]
	return ok
}

func (p *processor) createAccount() error {
	lamports := p.d.U64()
	space := p.d.U64()
	owner := p.readPubkey()
	if err := p.args(); err != nil {
		return err
	}
	if err := p.ic.CheckNumberOfAccounts(2); err != nil {
		return err
	}
	to, err := p.borrow(1)
	if err != nil {
		return err
	}
	return p.createAccountInner(address{key: to.Key}, 0, 1, lamports, space, owner)
}

func (p *processor) createAccountWithSeed() error {
	base := p.readPubkey()
	seed := p.d.String()
	lamports := p.d.U64()
	space := p.d.U64()
	owner := p.readPubkey()
	if err := p.args(); err != nil {
		return err
	}
	if err := p.ic.CheckNumberOfAccounts(2); err != nil {
		return err
	}
	to, err := p.borrow(1)
	if err != nil {
		return err
	}
	if err := p.checkSeedAddress(to.Key, base, seed, owner); err != nil {
		return err
	}
	return p.createAccountInner(address{key: to.Key, base: &base}, 0, 1, lamports, space, owner)
}

// createAccountInner allocates and assigns the account at slot toIdx and
// funds it from slot fromIdx.
func (p *processor) createAccountInner(addr address, fromIdx, toIdx int, lamports, space uint64, owner types.Pubkey) error {
	to, err := p.borrow(toIdx)
	if err != nil {
		return err
	}
	if to.Lamports > 0 {
		p.ctx.Log("Create Account: account " + to.Key.String() + " already in use")
		return ErrAccountAlreadyInUse
	}
	if err := p.allocateInner(to, addr, space); err != nil {
		return err
	}
	if err := p.assignInner(to, addr, owner); err != nil {
		return err
	}
	if !p.ic.IsSigner(fromIdx) {
		p.ctx.Log("Transfer: `from` account must sign")
		return svm.ErrMissingRequiredSignature
	}
	return p.transferInner(fromIdx, toIdx, lamports)
}

func (p *processor) assign() error {
	owner := p.readPubkey()
	if err := p.args(); err != nil {
		return err
	}
	acct, err := p.borrow(0)
	if err != nil {
		return err
	}
	return p.assignInner(acct, address{key: acct.Key}, owner)
}

func (p *processor) assignWithSeed() error {
	base := p.readPubkey()
	seed := p.d.String()
	owner := p.readPubkey()
	if err := p.args(); err != nil {
		return err
	}
	acct, err := p.borrow(0)
	if err != nil {
		return err
	}
	if err := p.checkSeedAddress(acct.Key, base, seed, owner); err != nil {
		return err
	}
	return p.assignInner(acct, address{key: acct.Key, base: &base}, owner)
}

func (p *processor) assignInner(acct *txcontext.BorrowedAccount, addr address, owner types.Pubkey) error {
	if acct.Owner == owner {
		return nil
	}
	if !p.authorized(addr) {
		p.ctx.Log("Assign: account " + addr.key.String() + " must sign")
		return svm.ErrMissingRequiredSignature
	}
	return acct.SetOwner(owner)
}

func (p *processor) allocate() error {
	space := p.d.U64()
	if err := p.args(); err != nil {
		return err
	}
	acct, err := p.borrow(0)
	if err != nil {
		return err
	}
	return p.allocateInner(acct, address{key: acct.Key}, space)
}

func (p *processor) allocateWithSeed() error {
	base := p.readPubkey()
	seed := p.d.String()
	space := p.d.U64()
	owner := p.readPubkey()
	if err := p.args(); err != nil {
		return err
	}
	acct, err := p.borrow(0)
	if err != nil {
		return err
	}
	if err := p.checkSeedAddress(acct.Key, base, seed, owner); err != nil {
		return err
	}
	addr := address{key: acct.Key, base: &base}
	if err := p.allocateInner(acct, addr, space); err != nil {
		return err
	}
	return p.assignInner(acct, addr, owner)
}

func (p *processor) allocateInner(acct *txcontext.BorrowedAccount, addr address, space uint64) error {
	if !p.authorized(addr) {
		p.ctx.Log("Allocate: account " + addr.key.String() + " must sign")
		return svm.ErrMissingRequiredSignature
	}
	if len(acct.Data) > 0 || acct.Owner != ProgramID {
		p.ctx.Log("Allocate: account " + addr.key.String() + " already in use")
		return ErrAccountAlreadyInUse
	}
	if space > types.MaxAccountDataSize {
		return ErrInvalidAccountDataLength
	}
	return acct.SetDataLength(space)
}

func (p *processor) transfer() error {
	lamports := p.d.U64()
	if err := p.args(); err != nil {
		return err
	}
	if err := p.ic.CheckNumberOfAccounts(2); err != nil {
		return err
	}
	if lamports == 0 && !p.ctx.IsFeatureActive(features.SystemTransferZeroCheck) {
		return nil
	}
	if !p.ic.IsSigner(0) {
		p.ctx.Log("Transfer: `from` account must sign")
		return svm.ErrMissingRequiredSignature
	}
	return p.transferInner(0, 1, lamports)
}

func (p *processor) transferWithSeed() error {
	lamports := p.d.U64()
	seed := p.d.String()
	fromOwner := p.readPubkey()
	if err := p.args(); err != nil {
		return err
	}
	if err := p.ic.CheckNumberOfAccounts(3); err != nil {
		return err
	}
	if lamports == 0 && !p.ctx.IsFeatureActive(features.SystemTransferZeroCheck) {
		return nil
	}
	base, err := p.borrow(1)
	if err != nil {
		return err
	}
	if !base.IsSigner {
		p.ctx.Log("Transfer: `from` account must sign")
		return svm.ErrMissingRequiredSignature
	}
	from, err := p.borrow(0)
	if err != nil {
		return err
	}
	if err := p.checkSeedAddress(from.Key, base.Key, seed, fromOwner); err != nil {
		return err
	}
	return p.transferInner(0, 2, lamports)
}

// transferInner moves lamports between two instruction account slots.
func (p *processor) transferInner(fromIdx, toIdx int, lamports uint64) error {
	from, err := p.borrow(fromIdx)
	if err != nil {
		return err
	}
	if len(from.Data) > 0 {
		p.ctx.Log("Transfer: `from` must not carry data")
		return svm.ErrInvalidArgument
	}
	if lamports > from.Lamports {
		p.ctx.Log("Transfer: insufficient lamports for transfer")
		return svm.ErrInsufficientFunds
	}
	if err := from.CheckedSubLamports(lamports); err != nil {
		return err
	}
	to, err := p.borrow(toIdx)
	if err != nil {
		return err
	}
	return to.CheckedAddLamports(lamports)
}

func (p *processor) checkSeedAddress(addr, base types.Pubkey, seed string, owner types.Pubkey) error {
	expected, err := CreateWithSeed(base, seed, owner)
	if err != nil {
		return err
	}
	if expected != addr {
		p.ctx.Log("Create: address " + addr.String() + " does not match derived address " + expected.String())
		return ErrAddressWithSeedMismatch
	}
	return nil
}

// CreateWithSeed derives an address from base, seed and owner.
func CreateWithSeed(base types.Pubkey, seed string, owner types.Pubkey) (types.Pubkey, error) {
	if len(seed) > MaxSeedLen {
		return types.Pubkey{}, ErrMaxSeedLengthExceeded
	}
	if len(owner) >= len(pdaMarker) && string(owner[len(owner)-len(pdaMarker):]) == pdaMarker {
		return types.Pubkey{}, svm.ErrInvalidSeeds
	}
	h := sha256.New()
	h.Write(base[:])
	h.Write([]byte(seed))
	h.Write(owner[:])

	var result types.Pubkey
	copy(result[:], h.Sum(nil))
	return result, nil
}

