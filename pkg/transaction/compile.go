package transaction

import (
	"github.com/fortiblox/stratus-replay/internal/types"
)

// AccountMeta describes an account referenced by an Instruction.
type AccountMeta struct {
	Pubkey     types.Pubkey
	IsSigner   bool
	IsWritable bool
}

// Instruction is an uncompiled instruction addressed by pubkeys.
type Instruction struct {
	ProgramID types.Pubkey
	Accounts  []AccountMeta
	Data      []byte
}

// NewMessage compiles instructions into a legacy message paid for by payer.
// Keys keep first-seen order inside each of the four header ranges, and
// repeated references merge their signer and writable flags.
func NewMessage(payer types.Pubkey, blockhash types.Hash, instructions ...Instruction) Message {
	type keyMeta struct {
		key              types.Pubkey
		signer, writable bool
	}
	var (
		order []*keyMeta
		index = make(map[types.Pubkey]*keyMeta)
	)
	add := func(k types.Pubkey, signer, writable bool) {
		if m, ok := index[k]; ok {
			m.signer = m.signer || signer
			m.writable = m.writable || writable
			return
		}
		m := &keyMeta{key: k, signer: signer, writable: writable}
		index[k] = m
		order = append(order, m)
	}

	add(payer, true, true)
	for _, ix := range instructions {
		for _, a := range ix.Accounts {
			add(a.Pubkey, a.IsSigner, a.IsWritable)
		}
	}
	for _, ix := range instructions {
		add(ix.ProgramID, false, false)
	}

	var groups [4][]types.Pubkey
	for _, m := range order {
		switch {
		case m.signer && m.writable:
			groups[0] = append(groups[0], m.key)
		case m.signer:
			groups[1] = append(groups[1], m.key)
		case m.writable:
			groups[2] = append(groups[2], m.key)
		default:
			groups[3] = append(groups[3], m.key)
		}
	}

	msg := Message{
		Header: MessageHeader{
			NumRequiredSignatures:       uint8(len(groups[0]) + len(groups[1])),
			NumReadonlySignedAccounts:   uint8(len(groups[1])),
			NumReadonlyUnsignedAccounts: uint8(len(groups[3])),
		},
		RecentBlockhash: blockhash,
	}
	for _, g := range groups {
		msg.AccountKeys = append(msg.AccountKeys, g...)
	}

	pos := make(map[types.Pubkey]uint8, len(msg.AccountKeys))
	for i, k := range msg.AccountKeys {
		pos[k] = uint8(i)
	}
	for _, ix := range instructions {
		ci := CompiledInstruction{
			ProgramIDIndex: pos[ix.ProgramID],
			Data:           ix.Data,
		}
		if len(ix.Accounts) > 0 {
			ci.Accounts = make([]uint8, len(ix.Accounts))
			for i, a := range ix.Accounts {
				ci.Accounts[i] = pos[a.Pubkey]
			}
		}
		msg.Instructions = append(msg.Instructions, ci)
	}
	return msg
}
