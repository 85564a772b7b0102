package harness

import (
	"errors"
	"fmt"

	"github.com/fortiblox/stratus-replay/pkg/svm/txcontext"
)

var (
	// ErrEmptySnapshot is returned when the account snapshot has no entries.
	ErrEmptySnapshot = errors.New("account snapshot is empty")

	// ErrAccountIndexOutOfBounds is returned when the transaction references
	// an account index past the end of the snapshot.
	ErrAccountIndexOutOfBounds = errors.New("account index out of bounds")

	// ErrAccountKeyMismatch is returned when the snapshot does not list the
	// message account keys in message order.
	ErrAccountKeyMismatch = errors.New("snapshot key does not match message account key")

	// ErrProgramIndicesMismatch is returned when the program index lists do
	// not line up with the instructions.
	ErrProgramIndicesMismatch = errors.New("program indices do not match instructions")

	// ErrInvalidBudget is returned for a budget that admits no instruction.
	ErrInvalidBudget = errors.New("invalid compute budget")

	// ErrProgramCacheMismatch is returned when the base program cache was
	// built for another slot or runtime environment than the replay.
	ErrProgramCacheMismatch = errors.New("program cache does not match replay slot or environment")
)

// ContextConstructionError reports an input combination the execution
// context cannot be built from. No processor call is made after it.
type ContextConstructionError struct {
	// Instruction is the instruction the failure was found in, or -1.
	Instruction int

	// Index is the offending account or snapshot index, or -1.
	Index int

	Err error
}

// Error implements error.
func (e *ContextConstructionError) Error() string {
	switch {
	case e.Instruction >= 0 && e.Index >= 0:
		return fmt.Sprintf("build context: instruction %d: index %d: %v", e.Instruction, e.Index, e.Err)
	case e.Instruction >= 0:
		return fmt.Sprintf("build context: instruction %d: %v", e.Instruction, e.Err)
	case e.Index >= 0:
		return fmt.Sprintf("build context: index %d: %v", e.Index, e.Err)
	default:
		return fmt.Sprintf("build context: %v", e.Err)
	}
}

// Unwrap returns the sentinel cause.
func (e *ContextConstructionError) Unwrap() error {
	return e.Err
}

func constructionError(instruction, index int, err error) error {
	return &ContextConstructionError{Instruction: instruction, Index: index, Err: err}
}

// BuildContext validates in and creates the execution context the processor
// runs against. Accounts keep their snapshot position as their index.
func BuildContext(in *Input) (*txcontext.TransactionContext, error) {
	n := len(in.Accounts)
	if n == 0 {
		return nil, constructionError(-1, -1, ErrEmptySnapshot)
	}
	if in.Budget.MaxInvokeStackHeight == 0 || in.Budget.MaxInstructionTraceLength == 0 {
		return nil, constructionError(-1, -1, ErrInvalidBudget)
	}

	if in.Programs != nil {
		if in.Programs.Slot() != in.Slot || in.Programs.Environments().Digest() != in.Environments.Digest() {
			return nil, constructionError(-1, -1, ErrProgramCacheMismatch)
		}
	}

	msg := &in.Transaction.Message
	if len(in.ProgramIndices) != len(msg.Instructions) {
		return nil, constructionError(-1, -1, ErrProgramIndicesMismatch)
	}
	for i, ix := range msg.Instructions {
		if int(ix.ProgramIDIndex) >= n {
			return nil, constructionError(i, int(ix.ProgramIDIndex), ErrAccountIndexOutOfBounds)
		}
		for _, a := range ix.Accounts {
			if int(a) >= n {
				return nil, constructionError(i, int(a), ErrAccountIndexOutOfBounds)
			}
		}
		chain := in.ProgramIndices[i]
		if len(chain) == 0 {
			return nil, constructionError(i, -1, ErrProgramIndicesMismatch)
		}
		for _, p := range chain {
			if int(p) >= n {
				return nil, constructionError(i, int(p), ErrAccountIndexOutOfBounds)
			}
		}
	}

	// Keys past the end of the snapshot are unreferenced; the index checks
	// above cover every key an instruction can reach.
	for i, key := range msg.AccountKeys {
		if i >= n {
			break
		}
		if in.Accounts[i].Key != key {
			return nil, constructionError(-1, i, ErrAccountKeyMismatch)
		}
	}

	tc := txcontext.New(in.Accounts, in.Rent, in.Budget.MaxInvokeStackHeight, in.Budget.MaxInstructionTraceLength)
	tc.SetSignature(in.Transaction.Signature())
	return tc, nil
}
