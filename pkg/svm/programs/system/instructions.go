package system

import (
	"github.com/fortiblox/stratus-replay/internal/types"
	"github.com/fortiblox/stratus-replay/pkg/transaction"
	"github.com/fortiblox/stratus-replay/pkg/wire"
)

func newInstruction(tag uint32, accounts []transaction.AccountMeta, args func(e *wire.Encoder)) transaction.Instruction {
	e := wire.NewEncoder()
	e.U32(tag)
	if args != nil {
		args(e)
	}
	return transaction.Instruction{
		ProgramID: ProgramID,
		Accounts:  accounts,
		Data:      e.Bytes(),
	}
}

// Transfer moves lamports from one system account to another.
func Transfer(from, to types.Pubkey, lamports uint64) transaction.Instruction {
	return newInstruction(InstructionTransfer, []transaction.AccountMeta{
		{Pubkey: from, IsSigner: true, IsWritable: true},
		{Pubkey: to, IsWritable: true},
	}, func(e *wire.Encoder) { e.U64(lamports) })
}

// CreateAccount funds a new account, allocates space and assigns it.
func CreateAccount(from, to types.Pubkey, lamports, space uint64, owner types.Pubkey) transaction.Instruction {
	return newInstruction(InstructionCreateAccount, []transaction.AccountMeta{
		{Pubkey: from, IsSigner: true, IsWritable: true},
		{Pubkey: to, IsSigner: true, IsWritable: true},
	}, func(e *wire.Encoder) {
		e.U64(lamports)
		e.U64(space)
		e.Value(owner)
	})
}

// Assign changes the owner of an account.
func Assign(account, owner types.Pubkey) transaction.Instruction {
	return newInstruction(InstructionAssign, []transaction.AccountMeta{
		{Pubkey: account, IsSigner: true, IsWritable: true},
	}, func(e *wire.Encoder) { e.Value(owner) })
}

// Allocate sets the data size of an account.
func Allocate(account types.Pubkey, space uint64) transaction.Instruction {
	return newInstruction(InstructionAllocate, []transaction.AccountMeta{
		{Pubkey: account, IsSigner: true, IsWritable: true},
	}, func(e *wire.Encoder) { e.U64(space) })
}

// InitializeNonceAccount turns a funded, system-owned account into a nonce.
func InitializeNonceAccount(nonce, authority types.Pubkey) transaction.Instruction {
	return newInstruction(InstructionInitializeNonceAccount, []transaction.AccountMeta{
		{Pubkey: nonce, IsWritable: true},
		{Pubkey: types.SysvarRecentBlockhashesAddr},
		{Pubkey: types.SysvarRentAddr},
	}, func(e *wire.Encoder) { e.Value(authority) })
}

// AdvanceNonceAccount moves a nonce to the durable nonce of the current block.
func AdvanceNonceAccount(nonce, authority types.Pubkey) transaction.Instruction {
	return newInstruction(InstructionAdvanceNonceAccount, []transaction.AccountMeta{
		{Pubkey: nonce, IsWritable: true},
		{Pubkey: types.SysvarRecentBlockhashesAddr},
		{Pubkey: authority, IsSigner: true},
	}, nil)
}
