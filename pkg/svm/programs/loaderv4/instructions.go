package loaderv4

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

func programAndAuthority(program, authority types.Pubkey) []transaction.AccountMeta {
	return []transaction.AccountMeta{
		{Pubkey: program, IsWritable: true},
		{Pubkey: authority, IsSigner: true},
	}
}

// Write copies bytes into the program image at offset.
func Write(program, authority types.Pubkey, offset uint32, bytes []byte) transaction.Instruction {
	return newInstruction(InstructionWrite, programAndAuthority(program, authority), func(e *wire.Encoder) {
		e.U32(offset)
		e.Bytes64(bytes)
	})
}

// Truncate resizes the program image, initializing the header on first use.
// Excess lamports go to recipient.
func Truncate(program, authority, recipient types.Pubkey, newSize uint32) transaction.Instruction {
	accounts := []transaction.AccountMeta{
		{Pubkey: program, IsSigner: true, IsWritable: true},
		{Pubkey: authority, IsSigner: true},
		{Pubkey: recipient, IsWritable: true},
	}
	return newInstruction(InstructionTruncate, accounts, func(e *wire.Encoder) { e.U32(newSize) })
}

// Deploy verifies the image and makes the program invocable from the next slot.
func Deploy(program, authority types.Pubkey) transaction.Instruction {
	return newInstruction(InstructionDeploy, programAndAuthority(program, authority), nil)
}

// Retract takes a deployed program out of service.
func Retract(program, authority types.Pubkey) transaction.Instruction {
	return newInstruction(InstructionRetract, programAndAuthority(program, authority), nil)
}

// TransferAuthority hands the program to next, or finalizes it when next is nil.
func TransferAuthority(program, authority types.Pubkey, next *types.Pubkey) transaction.Instruction {
	accounts := programAndAuthority(program, authority)
	if next != nil {
		accounts = append(accounts, transaction.AccountMeta{Pubkey: *next, IsSigner: true})
	}
	return newInstruction(InstructionTransferAuthority, accounts, nil)
}
