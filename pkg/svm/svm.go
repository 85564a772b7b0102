// Package svm holds the execution-level vocabulary shared by the replay
// harness and the message processor it drives:
// - InstructionError, the closed set of instruction failure kinds
// - TransactionError, the opaque processor outcome handed back to callers
// - ComputeBudget and ComputeMeter
//
// This package aims for conformance with the Agave/Tachyon SVM error and
// budget model.
package svm

import (
	"fmt"

	"github.com/fortiblox/stratus-replay/pkg/wire"
)

// InstructionErrorKind enumerates instruction failures.
// Values are stable and part of the committed outcome encoding.
type InstructionErrorKind uint32

const (
	KindGenericError InstructionErrorKind = iota
	KindInvalidArgument
	KindInvalidInstructionData
	KindInvalidAccountData
	KindAccountDataTooSmall
	KindInsufficientFunds
	KindIncorrectProgramID
	KindMissingRequiredSignature
	KindAccountAlreadyInitialized
	KindUninitializedAccount
	KindUnbalancedInstruction
	KindModifiedProgramID
	KindExternalAccountLamportSpend
	KindExternalAccountDataModified
	KindReadonlyLamportChange
	KindReadonlyDataModified
	KindExecutableModified
	KindNotEnoughAccountKeys
	KindAccountAlreadyInUse
	KindUnsupportedProgramID
	KindCallDepth
	KindMissingAccount
	KindReentrancyNotAllowed
	KindPrivilegeEscalation
	KindComputationalBudgetExceeded
	KindInvalidSeeds
	KindUnsupportedSysvar
	KindMaxInstructionTraceLengthExceeded
	KindArithmeticOverflow
	KindInvalidAccountOwner
	KindImmutable
	KindIncorrectAuthority
	KindAccountDataSizeChanged
	KindCustom

	numInstructionErrorKinds
)

var instructionErrorNames = [...]string{
	KindGenericError:                      "generic instruction error",
	KindInvalidArgument:                   "invalid program argument",
	KindInvalidInstructionData:            "invalid instruction data",
	KindInvalidAccountData:                "invalid account data for instruction",
	KindAccountDataTooSmall:               "account data too small for instruction",
	KindInsufficientFunds:                 "insufficient funds for instruction",
	KindIncorrectProgramID:                "incorrect program id for instruction",
	KindMissingRequiredSignature:          "missing required signature for instruction",
	KindAccountAlreadyInitialized:         "instruction requires an uninitialized account",
	KindUninitializedAccount:              "instruction requires an initialized account",
	KindUnbalancedInstruction:             "sum of account balances before and after instruction do not match",
	KindModifiedProgramID:                 "instruction illegally modified the program id of an account",
	KindExternalAccountLamportSpend:       "instruction spent from the balance of an account it does not own",
	KindExternalAccountDataModified:       "instruction modified data of an account it does not own",
	KindReadonlyLamportChange:             "instruction changed the balance of a read-only account",
	KindReadonlyDataModified:              "instruction modified data of a read-only account",
	KindExecutableModified:                "instruction changed executable bit of an account",
	KindNotEnoughAccountKeys:              "insufficient account keys for instruction",
	KindAccountAlreadyInUse:               "account already in use",
	KindUnsupportedProgramID:              "unsupported program id",
	KindCallDepth:                         "cross-program invocation call depth too deep",
	KindMissingAccount:                    "an account required by the instruction is missing",
	KindReentrancyNotAllowed:              "cross-program invocation reentrancy not allowed for this instruction",
	KindPrivilegeEscalation:               "cross-program invocation with unauthorized signer or writable account",
	KindComputationalBudgetExceeded:       "computational budget exceeded",
	KindInvalidSeeds:                      "provided seeds do not result in a valid address",
	KindUnsupportedSysvar:                 "unsupported sysvar",
	KindMaxInstructionTraceLengthExceeded: "instruction trace length exceeded",
	KindArithmeticOverflow:                "program arithmetic overflowed",
	KindInvalidAccountOwner:               "invalid account owner",
	KindImmutable:                         "account is immutable",
	KindIncorrectAuthority:                "incorrect authority provided",
	KindAccountDataSizeChanged:            "account data size changed",
	KindCustom:                            "custom program error",
}

// String returns the human-readable name of the kind.
func (k InstructionErrorKind) String() string {
	if k < numInstructionErrorKinds {
		return instructionErrorNames[k]
	}
	return fmt.Sprintf("unknown instruction error %d", uint32(k))
}

// InstructionError describes why an instruction failed.
// It is a comparable value so sentinels work with errors.Is.
type InstructionError struct {
	Kind InstructionErrorKind

	// Code is the program-defined code for KindCustom and zero otherwise.
	Code uint32
}

// Error implements error.
func (e InstructionError) Error() string {
	if e.Kind == KindCustom {
		return fmt.Sprintf("custom program error: %#x", e.Code)
	}
	return e.Kind.String()
}

// EncodeWire implements wire.Marshaler.
func (e InstructionError) EncodeWire(enc *wire.Encoder) {
	enc.U32(uint32(e.Kind))
	if e.Kind == KindCustom {
		enc.U32(e.Code)
	}
}

// DecodeWire implements wire.Unmarshaler.
func (e *InstructionError) DecodeWire(d *wire.Decoder) {
	e.Kind = InstructionErrorKind(d.U32())
	if e.Kind >= numInstructionErrorKinds {
		d.Fail(wire.ErrInvalidTag)
		return
	}
	if e.Kind == KindCustom {
		e.Code = d.U32()
	}
}

// CustomError returns a program-defined instruction error.
func CustomError(code uint32) InstructionError {
	return InstructionError{Kind: KindCustom, Code: code}
}

// Instruction error sentinels.
var (
	ErrGenericError                      = InstructionError{Kind: KindGenericError}
	ErrInvalidArgument                   = InstructionError{Kind: KindInvalidArgument}
	ErrInvalidInstructionData            = InstructionError{Kind: KindInvalidInstructionData}
	ErrInvalidAccountData                = InstructionError{Kind: KindInvalidAccountData}
	ErrAccountDataTooSmall               = InstructionError{Kind: KindAccountDataTooSmall}
	ErrInsufficientFunds                 = InstructionError{Kind: KindInsufficientFunds}
	ErrIncorrectProgramID                = InstructionError{Kind: KindIncorrectProgramID}
	ErrMissingRequiredSignature          = InstructionError{Kind: KindMissingRequiredSignature}
	ErrAccountAlreadyInitialized         = InstructionError{Kind: KindAccountAlreadyInitialized}
	ErrUninitializedAccount              = InstructionError{Kind: KindUninitializedAccount}
	ErrUnbalancedInstruction             = InstructionError{Kind: KindUnbalancedInstruction}
	ErrModifiedProgramID                 = InstructionError{Kind: KindModifiedProgramID}
	ErrExternalAccountLamportSpend       = InstructionError{Kind: KindExternalAccountLamportSpend}
	ErrExternalAccountDataModified       = InstructionError{Kind: KindExternalAccountDataModified}
	ErrReadonlyLamportChange             = InstructionError{Kind: KindReadonlyLamportChange}
	ErrReadonlyDataModified              = InstructionError{Kind: KindReadonlyDataModified}
	ErrExecutableModified                = InstructionError{Kind: KindExecutableModified}
	ErrNotEnoughAccountKeys              = InstructionError{Kind: KindNotEnoughAccountKeys}
	ErrAccountAlreadyInUse               = InstructionError{Kind: KindAccountAlreadyInUse}
	ErrUnsupportedProgramID              = InstructionError{Kind: KindUnsupportedProgramID}
	ErrCallDepth                         = InstructionError{Kind: KindCallDepth}
	ErrMissingAccount                    = InstructionError{Kind: KindMissingAccount}
	ErrReentrancyNotAllowed              = InstructionError{Kind: KindReentrancyNotAllowed}
	ErrPrivilegeEscalation               = InstructionError{Kind: KindPrivilegeEscalation}
	ErrComputationalBudgetExceeded       = InstructionError{Kind: KindComputationalBudgetExceeded}
	ErrInvalidSeeds                      = InstructionError{Kind: KindInvalidSeeds}
	ErrUnsupportedSysvar                 = InstructionError{Kind: KindUnsupportedSysvar}
	ErrMaxInstructionTraceLengthExceeded = InstructionError{Kind: KindMaxInstructionTraceLengthExceeded}
	ErrArithmeticOverflow                = InstructionError{Kind: KindArithmeticOverflow}
	ErrInvalidAccountOwner               = InstructionError{Kind: KindInvalidAccountOwner}
	ErrImmutable                         = InstructionError{Kind: KindImmutable}
	ErrIncorrectAuthority                = InstructionError{Kind: KindIncorrectAuthority}
	ErrAccountDataSizeChanged            = InstructionError{Kind: KindAccountDataSizeChanged}
)

// TransactionErrorKind enumerates the top-level processor failures.
type TransactionErrorKind uint8

const (
	// TxErrInstructionError wraps an InstructionError at InstructionIndex.
	TxErrInstructionError TransactionErrorKind = iota

	// TxErrInvalidProgramForExecution means the program account at
	// InstructionIndex is not executable.
	TxErrInvalidProgramForExecution

	// TxErrProgramAccountNotFound means no program account backs the
	// instruction at InstructionIndex.
	TxErrProgramAccountNotFound

	numTransactionErrorKinds
)

// String returns the name of the kind.
func (k TransactionErrorKind) String() string {
	switch k {
	case TxErrInstructionError:
		return "instruction error"
	case TxErrInvalidProgramForExecution:
		return "invalid program for execution"
	case TxErrProgramAccountNotFound:
		return "program account not found"
	default:
		return fmt.Sprintf("unknown transaction error %d", uint8(k))
	}
}

// TransactionError is the processor-originated failure of a replayed
// transaction. It is a legitimate, attestable outcome, not a harness fault,
// and is forwarded to the caller without reinterpretation.
type TransactionError struct {
	Kind TransactionErrorKind

	// InstructionIndex is the top-level instruction that failed.
	InstructionIndex uint8

	// Instruction is set for TxErrInstructionError.
	Instruction InstructionError
}

// NewInstructionError wraps err as the failure of instruction index.
func NewInstructionError(index uint8, err InstructionError) *TransactionError {
	return &TransactionError{
		Kind:             TxErrInstructionError,
		InstructionIndex: index,
		Instruction:      err,
	}
}

// Error implements error. A nil error reads as success.
func (e *TransactionError) Error() string {
	if e == nil {
		return "success"
	}
	if e.Kind == TxErrInstructionError {
		return fmt.Sprintf("error processing instruction %d: %v", e.InstructionIndex, e.Instruction)
	}
	return fmt.Sprintf("%v (instruction %d)", e.Kind, e.InstructionIndex)
}

// Unwrap exposes the instruction error so errors.Is(err, svm.ErrInsufficientFunds) works.
func (e *TransactionError) Unwrap() error {
	if e != nil && e.Kind == TxErrInstructionError {
		return e.Instruction
	}
	return nil
}

// EncodeWire implements wire.Marshaler.
func (e *TransactionError) EncodeWire(enc *wire.Encoder) {
	enc.U8(uint8(e.Kind))
	enc.U8(e.InstructionIndex)
	if e.Kind == TxErrInstructionError {
		enc.Value(e.Instruction)
	}
}

// DecodeWire implements wire.Unmarshaler.
func (e *TransactionError) DecodeWire(d *wire.Decoder) {
	e.Kind = TransactionErrorKind(d.U8())
	if e.Kind >= numTransactionErrorKinds {
		d.Fail(wire.ErrInvalidTag)
		return
	}
	e.InstructionIndex = d.U8()
	if e.Kind == TxErrInstructionError {
		d.Value(&e.Instruction)
	}
}
