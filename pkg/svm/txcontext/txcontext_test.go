package txcontext

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fortiblox/stratus-replay/internal/types"
	"github.com/fortiblox/stratus-replay/pkg/svm"
	"github.com/fortiblox/stratus-replay/pkg/svm/sysvar"
)

func key(b byte) types.Pubkey {
	var k types.Pubkey
	k[0] = b
	return k
}

func snapshot() types.AccountSnapshot {
	return types.AccountSnapshot{
		{Key: key(1), Account: types.Account{Lamports: 100, Owner: types.SystemProgramAddr}},
		{Key: key(2), Account: types.Account{Lamports: 0, Owner: types.SystemProgramAddr, Data: []byte{1, 2}}},
		{Key: key(3), Account: types.Account{Lamports: 1, Owner: types.NativeLoaderAddr, Executable: true}},
	}
}

func TestNewCopiesSnapshot(t *testing.T) {
	snap := snapshot()
	tc := New(snap, sysvar.DefaultRent(), 5, 64)
	require.Equal(t, 3, tc.NumberOfAccounts())

	acct, err := tc.AccountAtIndex(1)
	require.NoError(t, err)
	acct.Lamports = 50
	acct.Data[0] = 9

	require.Equal(t, uint64(0), snap[1].Account.Lamports)
	require.Equal(t, byte(1), snap[1].Account.Data[0])

	final := tc.Accounts()
	require.Equal(t, uint64(50), final[1].Account.Lamports)
	require.Equal(t, key(2), final[1].Key)

	_, err = tc.AccountAtIndex(3)
	require.ErrorIs(t, err, svm.ErrNotEnoughAccountKeys)
	_, err = tc.KeyOfAccountAtIndex(-1)
	require.ErrorIs(t, err, svm.ErrNotEnoughAccountKeys)

	idx, ok := tc.IndexOfAccount(key(3))
	require.True(t, ok)
	require.Equal(t, 2, idx)
	_, ok = tc.IndexOfAccount(key(9))
	require.False(t, ok)
}

func TestInstructionStack(t *testing.T) {
	tc := New(snapshot(), sysvar.DefaultRent(), 2, 3)
	ic := NewInstructionContext([]uint16{2}, nil, nil)

	require.NoError(t, tc.Push(ic))
	require.NoError(t, tc.Push(ic))
	require.ErrorIs(t, tc.Push(ic), svm.ErrCallDepth)

	cur, err := tc.CurrentInstruction()
	require.NoError(t, err)
	require.Equal(t, 1, cur.NestingLevel)

	require.NoError(t, tc.Pop())
	require.NoError(t, tc.Push(ic))
	require.Equal(t, 3, tc.TraceLength())

	require.NoError(t, tc.Pop())
	require.ErrorIs(t, tc.Push(ic), svm.ErrMaxInstructionTraceLengthExceeded)

	require.NoError(t, tc.Pop())
	require.ErrorIs(t, tc.Pop(), svm.ErrCallDepth)
	require.Zero(t, tc.StackHeight())

	first, ok := tc.Trace(0)
	require.True(t, ok)
	require.Equal(t, 0, first.NestingLevel)
	_, ok = tc.Trace(3)
	require.False(t, ok)
}

func TestDuplicateAccounts(t *testing.T) {
	ic := NewInstructionContext([]uint16{2}, []InstructionAccount{
		{IndexInTransaction: 0, IsSigner: true, IsWritable: true},
		{IndexInTransaction: 1, IsWritable: true},
		{IndexInTransaction: 0, IsWritable: true},
	}, nil)

	require.False(t, ic.IsDuplicate(0))
	require.False(t, ic.IsDuplicate(1))
	require.True(t, ic.IsDuplicate(2))
	require.Equal(t, uint16(0), ic.Accounts[2].IndexInCallee)
	require.True(t, ic.IsSigner(0))
	require.False(t, ic.IsSigner(5))
	require.NoError(t, ic.CheckNumberOfAccounts(3))
	require.ErrorIs(t, ic.CheckNumberOfAccounts(4), svm.ErrNotEnoughAccountKeys)

	tc := New(snapshot(), sysvar.DefaultRent(), 5, 64)
	signers := ic.Signers(tc)
	require.Len(t, signers, 1)
	require.Contains(t, signers, key(1))

	pid, err := ic.ProgramID(tc)
	require.NoError(t, err)
	require.Equal(t, key(3), pid)
}

func TestBorrowedAccount(t *testing.T) {
	tc := New(snapshot(), sysvar.DefaultRent(), 5, 64)
	ic := NewInstructionContext([]uint16{2}, []InstructionAccount{
		{IndexInTransaction: 0, IsWritable: true},
		{IndexInTransaction: 1},
	}, nil)

	from, err := ic.Borrow(tc, 0)
	require.NoError(t, err)
	require.NoError(t, from.CheckedSubLamports(40))
	require.ErrorIs(t, from.CheckedSubLamports(100), svm.ErrArithmeticOverflow)
	require.NoError(t, from.SetDataLength(4))
	require.Equal(t, []byte{0, 0, 0, 0}, from.Data)
	require.NoError(t, from.SetOwner(key(7)))

	ro, err := ic.Borrow(tc, 1)
	require.NoError(t, err)
	require.ErrorIs(t, ro.CheckedAddLamports(1), svm.ErrReadonlyLamportChange)
	require.ErrorIs(t, ro.SetDataLength(0), svm.ErrReadonlyDataModified)
	require.ErrorIs(t, ro.SetOwner(key(7)), svm.ErrModifiedProgramID)
	require.NoError(t, ro.SetLamports(ro.Lamports))

	_, err = ic.Borrow(tc, 2)
	require.ErrorIs(t, err, svm.ErrNotEnoughAccountKeys)

	acct, _ := tc.AccountAtIndex(0)
	require.Equal(t, uint64(60), acct.Lamports)
	require.Equal(t, key(7), acct.Owner)
}

func TestReturnData(t *testing.T) {
	tc := New(nil, sysvar.DefaultRent(), 5, 64)
	require.NoError(t, tc.SetReturnData(key(1), []byte("ok")))
	program, data := tc.ReturnData()
	require.Equal(t, key(1), program)
	require.Equal(t, []byte("ok"), data)

	require.ErrorIs(t, tc.SetReturnData(key(1), make([]byte, MaxReturnDataSize+1)), svm.ErrInvalidInstructionData)

	require.NoError(t, tc.SetReturnData(key(2), nil))
	_, data = tc.ReturnData()
	require.Nil(t, data)
}
