// Package loaderv4 implements the management instructions of loader v4.
//
// A loader-v4 program account starts with a 48 byte header (deployment
// slot, authority, status) followed by the program image. Programs are
// written and resized while retracted, then deployed. Deployment and
// retraction are published to the per-replay program cache delta; a program
// deployed in slot S becomes invocable in slot S+1.
package loaderv4

import (
	"github.com/fortiblox/stratus-replay/internal/types"
	"github.com/fortiblox/stratus-replay/pkg/svm"
	"github.com/fortiblox/stratus-replay/pkg/svm/programcache"
	"github.com/fortiblox/stratus-replay/pkg/svm/sysvar"
	"github.com/fortiblox/stratus-replay/pkg/svm/txcontext"
	"github.com/fortiblox/stratus-replay/pkg/wire"
)

// Name is the builtin entrypoint name of the loader.
const Name = "loader_v4"

// ProgramID is the loader v4 address.
var ProgramID = types.LoaderV4Addr

// HeaderSize is the size of the state header at the start of program data.
const HeaderSize = 48

// DeploymentCooldownInSlots is the minimum distance between two
// deployments (or a deployment and a retraction) of one program.
const DeploymentCooldownInSlots = 750

// Instruction discriminants.
const (
	InstructionWrite uint32 = iota
	InstructionTruncate
	InstructionDeploy
	InstructionRetract
	InstructionTransferAuthority
)

// Status is the lifecycle state of a program.
type Status uint64

const (
	StatusRetracted Status = iota
	StatusDeployed
	StatusFinalized
)

// State is the program account header.
type State struct {
	Slot      uint64
	Authority types.Pubkey
	Status    Status
}

// EncodeWire implements wire.Marshaler.
func (s State) EncodeWire(e *wire.Encoder) {
	e.U64(s.Slot)
	e.Value(s.Authority)
	e.U64(uint64(s.Status))
}

// DecodeWire implements wire.Unmarshaler.
func (s *State) DecodeWire(d *wire.Decoder) {
	s.Slot = d.U64()
	d.Value(&s.Authority)
	s.Status = Status(d.U64())
	if s.Status > StatusFinalized {
		d.Fail(wire.ErrInvalidTag)
	}
}

// ReadState decodes the header of program data.
func ReadState(data []byte) (State, error) {
	var s State
	if len(data) < HeaderSize {
		return s, svm.ErrAccountDataTooSmall
	}
	d := wire.NewDecoder(data[:HeaderSize])
	d.Value(&s)
	if d.Err() != nil {
		return s, svm.ErrInvalidAccountData
	}
	return s, nil
}

func writeState(data []byte, s State) {
	copy(data[:HeaderSize], wire.Marshal(s))
}

// InvokeContext provides context for loader execution.
type InvokeContext interface {
	// Transaction returns the account table of the replay.
	Transaction() *txcontext.TransactionContext

	// CurrentInstruction returns the instruction being executed.
	CurrentInstruction() (*txcontext.InstructionContext, error)

	// Rent returns the rent schedule.
	Rent() sysvar.Rent

	// Sysvars returns the sysvar cache.
	Sysvars() *sysvar.Cache

	// StoreProgram publishes a modified program to the cache delta.
	StoreProgram(key types.Pubkey, p programcache.LoadedProgram)

	// Log records a log message.
	Log(msg string)
}

// Process executes a loader v4 management instruction.
func Process(ctx InvokeContext) error {
	ic, err := ctx.CurrentInstruction()
	if err != nil {
		return err
	}
	d := wire.NewDecoder(ic.Data)
	tag := d.U32()
	if d.Err() != nil {
		return svm.ErrInvalidInstructionData
	}
	l := &loader{ctx: ctx, tc: ctx.Transaction(), ic: ic}

	switch tag {
	case InstructionWrite:
		offset := d.U32()
		bytes := d.Bytes64()
		if d.Err() != nil {
			return svm.ErrInvalidInstructionData
		}
		return l.write(offset, bytes)
	case InstructionTruncate:
		newSize := d.U32()
		if d.Err() != nil {
			return svm.ErrInvalidInstructionData
		}
		return l.truncate(newSize)
	case InstructionDeploy:
		return l.deploy()
	case InstructionRetract:
		return l.retract()
	case InstructionTransferAuthority:
		return l.transferAuthority()
	default:
		return svm.ErrInvalidInstructionData
	}
}

type loader struct {
	ctx InvokeContext
	tc  *txcontext.TransactionContext
	ic  *txcontext.InstructionContext
}

func (l *loader) borrow(i int) (*txcontext.BorrowedAccount, error) {
	if err := l.ic.CheckNumberOfAccounts(i + 1); err != nil {
		return nil, err
	}
	return l.ic.Borrow(l.tc, i)
}

// checkProgramAccount validates the program in slot 0 against the
// authority in slot 1 and returns its state.
func (l *loader) checkProgramAccount(program *txcontext.BorrowedAccount) (State, error) {
	if program.Owner != ProgramID {
		l.ctx.Log("Program not owned by loader")
		return State{}, svm.ErrInvalidAccountOwner
	}
	state, err := ReadState(program.Data)
	if err != nil {
		return State{}, err
	}
	if !program.IsWritable {
		l.ctx.Log("Program is not writeable")
		return State{}, svm.ErrInvalidArgument
	}
	authority, err := l.borrow(1)
	if err != nil {
		return State{}, err
	}
	if !authority.IsSigner {
		l.ctx.Log("Authority did not sign")
		return State{}, svm.ErrMissingRequiredSignature
	}
	if state.Authority != authority.Key {
		l.ctx.Log("Incorrect authority provided")
		return State{}, svm.ErrIncorrectAuthority
	}
	if state.Status == StatusFinalized {
		l.ctx.Log("Program is finalized")
		return State{}, svm.ErrImmutable
	}
	return state, nil
}

func (l *loader) currentSlot() (uint64, error) {
	clock, err := l.ctx.Sysvars().Clock()
	if err != nil {
		return 0, svm.ErrUnsupportedSysvar
	}
	return clock.Slot, nil
}

func (l *loader) write(offset uint32, bytes []byte) error {
	program, err := l.borrow(0)
	if err != nil {
		return err
	}
	state, err := l.checkProgramAccount(program)
	if err != nil {
		return err
	}
	if state.Status != StatusRetracted {
		l.ctx.Log("Program is not retracted")
		return svm.ErrInvalidArgument
	}
	start := uint64(HeaderSize) + uint64(offset)
	end := start + uint64(len(bytes))
	if end > uint64(len(program.Data)) {
		l.ctx.Log("Write out of bounds")
		return svm.ErrAccountDataTooSmall
	}
	copy(program.Data[start:end], bytes)
	return nil
}

func (l *loader) truncate(newSize uint32) error {
	program, err := l.borrow(0)
	if err != nil {
		return err
	}
	initialize := newSize > 0 && len(program.Data) < HeaderSize

	var state State
	if initialize {
		if program.Owner != ProgramID {
			l.ctx.Log("Program not owned by loader")
			return svm.ErrInvalidAccountOwner
		}
		if !program.IsWritable {
			l.ctx.Log("Program is not writeable")
			return svm.ErrInvalidArgument
		}
		if !program.IsSigner {
			l.ctx.Log("Program did not sign")
			return svm.ErrMissingRequiredSignature
		}
		authority, err := l.borrow(1)
		if err != nil {
			return err
		}
		if !authority.IsSigner {
			l.ctx.Log("Authority did not sign")
			return svm.ErrMissingRequiredSignature
		}
		state = State{Authority: authority.Key, Status: StatusRetracted}
	} else {
		state, err = l.checkProgramAccount(program)
		if err != nil {
			return err
		}
		if state.Status != StatusRetracted {
			l.ctx.Log("Program is not retracted")
			return svm.ErrInvalidArgument
		}
	}

	var required uint64
	if newSize > 0 {
		required = l.ctx.Rent().MinimumBalance(uint64(HeaderSize) + uint64(newSize))
	}
	switch {
	case program.Lamports < required:
		l.ctx.Log("Insufficient lamports for the new program size")
		return svm.ErrInsufficientFunds
	case program.Lamports > required:
		recipient, err := l.borrow(2)
		if err != nil {
			return err
		}
		if !recipient.IsWritable {
			l.ctx.Log("Recipient is not writeable")
			return svm.ErrInvalidArgument
		}
		excess := program.Lamports - required
		if err := program.CheckedSubLamports(excess); err != nil {
			return err
		}
		if err := recipient.CheckedAddLamports(excess); err != nil {
			return err
		}
	}

	if newSize == 0 {
		return program.SetDataLength(0)
	}
	if err := program.SetDataLength(uint64(HeaderSize) + uint64(newSize)); err != nil {
		return err
	}
	if initialize {
		writeState(program.Data, state)
	}
	return nil
}

func (l *loader) deploy() error {
	program, err := l.borrow(0)
	if err != nil {
		return err
	}
	state, err := l.checkProgramAccount(program)
	if err != nil {
		return err
	}
	slot, err := l.currentSlot()
	if err != nil {
		return err
	}
	if state.Slot != 0 && state.Slot+DeploymentCooldownInSlots > slot {
		l.ctx.Log("Program was deployed recently, cooldown still in effect")
		return svm.ErrInvalidArgument
	}
	if state.Status != StatusRetracted {
		l.ctx.Log("Destination program is not retracted")
		return svm.ErrInvalidArgument
	}
	image := program.Data[HeaderSize:]
	if err := Verify(image); err != nil {
		l.ctx.Log("Program failed verification")
		return err
	}

	state.Slot = slot
	state.Status = StatusDeployed
	writeState(program.Data, state)
	if !program.Executable {
		program.Executable = true
	}

	bytecode := append([]byte(nil), image...)
	l.ctx.StoreProgram(program.Key, programcache.NewLoaded(slot, uint64(len(program.Data)), bytecode))
	return nil
}

func (l *loader) retract() error {
	program, err := l.borrow(0)
	if err != nil {
		return err
	}
	state, err := l.checkProgramAccount(program)
	if err != nil {
		return err
	}
	slot, err := l.currentSlot()
	if err != nil {
		return err
	}
	if state.Slot+DeploymentCooldownInSlots > slot {
		l.ctx.Log("Program was deployed recently, cooldown still in effect")
		return svm.ErrInvalidArgument
	}
	if state.Status != StatusDeployed {
		l.ctx.Log("Program is not deployed")
		return svm.ErrInvalidArgument
	}
	state.Status = StatusRetracted
	writeState(program.Data, state)
	l.ctx.StoreProgram(program.Key, programcache.NewTombstone(slot, programcache.KindClosed))
	return nil
}

func (l *loader) transferAuthority() error {
	program, err := l.borrow(0)
	if err != nil {
		return err
	}
	state, err := l.checkProgramAccount(program)
	if err != nil {
		return err
	}
	if l.ic.NumberOfAccounts() > 2 {
		next, err := l.borrow(2)
		if err != nil {
			return err
		}
		if !next.IsSigner {
			l.ctx.Log("New authority did not sign")
			return svm.ErrMissingRequiredSignature
		}
		if next.Key == state.Authority {
			l.ctx.Log("No change")
			return svm.ErrInvalidArgument
		}
		state.Authority = next.Key
	} else {
		if state.Status != StatusDeployed {
			l.ctx.Log("Program must be deployed to be finalized")
			return svm.ErrInvalidArgument
		}
		state.Status = StatusFinalized
	}
	writeState(program.Data, state)
	return nil
}

// Verify performs the structural checks a program image must pass before
// deployment: it must be non-empty and consist of whole 8 byte instructions.
func Verify(image []byte) error {
	if len(image) == 0 || len(image)%8 != 0 {
		return svm.ErrInvalidAccountData
	}
	return nil
}
