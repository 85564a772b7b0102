package txcontext

import (
	"github.com/fortiblox/stratus-replay/internal/types"
	"github.com/fortiblox/stratus-replay/pkg/svm"
)

// InstructionAccount maps one instruction account slot to the transaction
// account table.
type InstructionAccount struct {
	// IndexInTransaction is the position in the account table.
	IndexInTransaction uint16

	// IndexInCaller is the position in the caller's instruction accounts,
	// or IndexInTransaction for top-level instructions.
	IndexInCaller uint16

	// IndexInCallee is the first slot of this instruction that refers to
	// the same transaction account; it identifies duplicates.
	IndexInCallee uint16

	IsSigner   bool
	IsWritable bool
}

// InstructionContext describes one instruction on the stack or in the trace.
type InstructionContext struct {
	// NestingLevel is 0 for top-level instructions.
	NestingLevel int

	// ProgramAccounts are table indexes of the program chain; the last one
	// is the program being invoked.
	ProgramAccounts []uint16

	Accounts []InstructionAccount
	Data     []byte
}

// NewInstructionContext builds an instruction context and fills in
// IndexInCallee for duplicated accounts.
func NewInstructionContext(programAccounts []uint16, accounts []InstructionAccount, data []byte) InstructionContext {
	for i := range accounts {
		accounts[i].IndexInCallee = uint16(i)
		for j := 0; j < i; j++ {
			if accounts[j].IndexInTransaction == accounts[i].IndexInTransaction {
				accounts[i].IndexInCallee = uint16(j)
				break
			}
		}
	}
	return InstructionContext{
		ProgramAccounts: programAccounts,
		Accounts:        accounts,
		Data:            data,
	}
}

// ProgramIndex returns the table index of the invoked program.
func (ic *InstructionContext) ProgramIndex() (uint16, error) {
	if len(ic.ProgramAccounts) == 0 {
		return 0, svm.ErrUnsupportedProgramID
	}
	return ic.ProgramAccounts[len(ic.ProgramAccounts)-1], nil
}

// ProgramID returns the key of the invoked program.
func (ic *InstructionContext) ProgramID(tc *TransactionContext) (types.Pubkey, error) {
	idx, err := ic.ProgramIndex()
	if err != nil {
		return types.Pubkey{}, err
	}
	return tc.KeyOfAccountAtIndex(int(idx))
}

// NumberOfAccounts returns the number of instruction account slots.
func (ic *InstructionContext) NumberOfAccounts() int {
	return len(ic.Accounts)
}

// CheckNumberOfAccounts fails with NotEnoughAccountKeys below n slots.
func (ic *InstructionContext) CheckNumberOfAccounts(n int) error {
	if len(ic.Accounts) < n {
		return svm.ErrNotEnoughAccountKeys
	}
	return nil
}

// IndexInTransaction maps slot i to the account table.
func (ic *InstructionContext) IndexInTransaction(i int) (int, error) {
	if i < 0 || i >= len(ic.Accounts) {
		return 0, svm.ErrNotEnoughAccountKeys
	}
	return int(ic.Accounts[i].IndexInTransaction), nil
}

// IsDuplicate reports whether slot i repeats an earlier slot.
func (ic *InstructionContext) IsDuplicate(i int) bool {
	return i >= 0 && i < len(ic.Accounts) && int(ic.Accounts[i].IndexInCallee) != i
}

// IsSigner reports whether slot i is a signer.
func (ic *InstructionContext) IsSigner(i int) bool {
	return i >= 0 && i < len(ic.Accounts) && ic.Accounts[i].IsSigner
}

// IsWritable reports whether slot i is writable.
func (ic *InstructionContext) IsWritable(i int) bool {
	return i >= 0 && i < len(ic.Accounts) && ic.Accounts[i].IsWritable
}

// Signers returns the keys of every signer slot.
func (ic *InstructionContext) Signers(tc *TransactionContext) map[types.Pubkey]struct{} {
	out := make(map[types.Pubkey]struct{})
	for _, a := range ic.Accounts {
		if !a.IsSigner {
			continue
		}
		if k, err := tc.KeyOfAccountAtIndex(int(a.IndexInTransaction)); err == nil {
			out[k] = struct{}{}
		}
	}
	return out
}

// BorrowedAccount is an instruction account slot resolved against the table.
type BorrowedAccount struct {
	*types.Account

	Key        types.Pubkey
	Index      int
	IsSigner   bool
	IsWritable bool
}

// Borrow resolves slot i of the current instruction.
func (ic *InstructionContext) Borrow(tc *TransactionContext, i int) (*BorrowedAccount, error) {
	idx, err := ic.IndexInTransaction(i)
	if err != nil {
		return nil, err
	}
	acct, err := tc.AccountAtIndex(idx)
	if err != nil {
		return nil, err
	}
	key, err := tc.KeyOfAccountAtIndex(idx)
	if err != nil {
		return nil, err
	}
	return &BorrowedAccount{
		Account:    acct,
		Key:        key,
		Index:      idx,
		IsSigner:   ic.Accounts[i].IsSigner,
		IsWritable: ic.Accounts[i].IsWritable,
	}, nil
}

// SetLamports updates the balance of a writable account.
func (b *BorrowedAccount) SetLamports(lamports uint64) error {
	if !b.IsWritable && lamports != b.Lamports {
		return svm.ErrReadonlyLamportChange
	}
	b.Lamports = lamports
	return nil
}

// CheckedAddLamports credits n lamports.
func (b *BorrowedAccount) CheckedAddLamports(n uint64) error {
	sum := b.Lamports + n
	if sum < b.Lamports {
		return svm.ErrArithmeticOverflow
	}
	return b.SetLamports(sum)
}

// CheckedSubLamports debits n lamports.
func (b *BorrowedAccount) CheckedSubLamports(n uint64) error {
	if n > b.Lamports {
		return svm.ErrArithmeticOverflow
	}
	return b.SetLamports(b.Lamports - n)
}

// SetDataLength resizes the data of a writable account, zero-filling growth.
func (b *BorrowedAccount) SetDataLength(n uint64) error {
	if n > types.MaxAccountDataSize {
		return svm.ErrInvalidArgument
	}
	if uint64(len(b.Data)) == n {
		return nil
	}
	if !b.IsWritable {
		return svm.ErrReadonlyDataModified
	}
	if n == 0 {
		b.Data = nil
		return nil
	}
	data := make([]byte, n)
	copy(data, b.Data)
	b.Data = data
	return nil
}

// SetOwner reassigns a writable account.
func (b *BorrowedAccount) SetOwner(owner types.Pubkey) error {
	if !b.IsWritable {
		return svm.ErrModifiedProgramID
	}
	b.Owner = owner
	return nil
}
