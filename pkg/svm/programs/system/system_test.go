package system

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fortiblox/stratus-replay/internal/types"
	"github.com/fortiblox/stratus-replay/pkg/svm"
	"github.com/fortiblox/stratus-replay/pkg/svm/features"
	"github.com/fortiblox/stratus-replay/pkg/svm/sysvar"
	"github.com/fortiblox/stratus-replay/pkg/svm/txcontext"
	"github.com/fortiblox/stratus-replay/pkg/wire"
)

type fakeContext struct {
	tc        *txcontext.TransactionContext
	features  *features.FeatureSet
	blockhash types.Hash
	logs      []string
}

func (f *fakeContext) Transaction() *txcontext.TransactionContext { return f.tc }
func (f *fakeContext) CurrentInstruction() (*txcontext.InstructionContext, error) {
	return f.tc.CurrentInstruction()
}
func (f *fakeContext) Rent() sysvar.Rent                    { return sysvar.DefaultRent() }
func (f *fakeContext) Blockhash() types.Hash                { return f.blockhash }
func (f *fakeContext) LamportsPerSignature() uint64         { return 5000 }
func (f *fakeContext) IsFeatureActive(id types.Pubkey) bool { return f.features.IsActive(id) }
func (f *fakeContext) Log(msg string)                       { f.logs = append(f.logs, msg) }

func key(b byte) types.Pubkey {
	var k types.Pubkey
	k[0] = b
	k[31] = 0x11
	return k
}

func systemAccount(lamports uint64) types.Account {
	return types.Account{Lamports: lamports, Owner: ProgramID}
}

// slot describes one instruction account: its table index and flags.
type slot struct {
	index            uint16
	signer, writable bool
}

// run executes data against snap with the system program appended to the
// table.
func run(t *testing.T, ctx *fakeContext, snap types.AccountSnapshot, data []byte, slots ...slot) error {
	t.Helper()
	snap = append(snap, types.KeyedAccount{
		Key:     ProgramID,
		Account: types.Account{Lamports: 1, Owner: types.NativeLoaderAddr, Executable: true},
	})
	ctx.tc = txcontext.New(snap, sysvar.DefaultRent(), 5, 64)
	accounts := make([]txcontext.InstructionAccount, len(slots))
	for i, s := range slots {
		accounts[i] = txcontext.InstructionAccount{
			IndexInTransaction: s.index,
			IndexInCaller:      s.index,
			IsSigner:           s.signer,
			IsWritable:         s.writable,
		}
	}
	programIdx := uint16(len(snap) - 1)
	require.NoError(t, ctx.tc.Push(txcontext.NewInstructionContext([]uint16{programIdx}, accounts, data)))
	return Process(ctx)
}

func lamports(t *testing.T, ctx *fakeContext, i int) uint64 {
	acct, err := ctx.tc.AccountAtIndex(i)
	require.NoError(t, err)
	return acct.Lamports
}

func TestTransfer(t *testing.T) {
	ctx := &fakeContext{features: features.AllEnabled()}
	snap := types.AccountSnapshot{
		{Key: key(1), Account: systemAccount(100)},
		{Key: key(2), Account: systemAccount(0)},
	}
	err := run(t, ctx, snap, Transfer(key(1), key(2), 10).Data,
		slot{0, true, true}, slot{1, false, true})
	require.NoError(t, err)
	require.Equal(t, uint64(90), lamports(t, ctx, 0))
	require.Equal(t, uint64(10), lamports(t, ctx, 1))
}

func TestTransferInsufficientFunds(t *testing.T) {
	ctx := &fakeContext{features: features.AllEnabled()}
	snap := types.AccountSnapshot{
		{Key: key(1), Account: systemAccount(5)},
		{Key: key(2), Account: systemAccount(0)},
	}
	err := run(t, ctx, snap, Transfer(key(1), key(2), 10).Data,
		slot{0, true, true}, slot{1, false, true})
	require.ErrorIs(t, err, svm.ErrInsufficientFunds)
	require.Equal(t, uint64(5), lamports(t, ctx, 0))
	require.Equal(t, uint64(0), lamports(t, ctx, 1))
	require.Contains(t, ctx.logs, "Transfer: insufficient lamports for transfer")
}

func TestTransferRequiresSigner(t *testing.T) {
	ctx := &fakeContext{features: features.AllEnabled()}
	snap := types.AccountSnapshot{
		{Key: key(1), Account: systemAccount(100)},
		{Key: key(2), Account: systemAccount(0)},
	}
	err := run(t, ctx, snap, Transfer(key(1), key(2), 10).Data,
		slot{0, false, true}, slot{1, false, true})
	require.ErrorIs(t, err, svm.ErrMissingRequiredSignature)

	// Zero transfers skip the signer check unless the feature is active.
	err = run(t, ctx, snap, Transfer(key(1), key(2), 0).Data,
		slot{0, false, true}, slot{1, false, true})
	require.ErrorIs(t, err, svm.ErrMissingRequiredSignature)

	ctx.features = features.New()
	err = run(t, ctx, snap, Transfer(key(1), key(2), 0).Data,
		slot{0, false, true}, slot{1, false, true})
	require.NoError(t, err)
}

func TestTransferFromDataAccount(t *testing.T) {
	ctx := &fakeContext{features: features.AllEnabled()}
	from := systemAccount(100)
	from.Data = []byte{1}
	snap := types.AccountSnapshot{{Key: key(1), Account: from}, {Key: key(2), Account: systemAccount(0)}}
	err := run(t, ctx, snap, Transfer(key(1), key(2), 1).Data,
		slot{0, true, true}, slot{1, false, true})
	require.ErrorIs(t, err, svm.ErrInvalidArgument)
}

func TestCreateAccount(t *testing.T) {
	ctx := &fakeContext{features: features.AllEnabled()}
	owner := key(9)
	snap := types.AccountSnapshot{
		{Key: key(1), Account: systemAccount(1_000_000)},
		{Key: key(2), Account: systemAccount(0)},
	}
	err := run(t, ctx, snap, CreateAccount(key(1), key(2), 500_000, 16, owner).Data,
		slot{0, true, true}, slot{1, true, true})
	require.NoError(t, err)

	created, _ := ctx.tc.AccountAtIndex(1)
	require.Equal(t, uint64(500_000), created.Lamports)
	require.Equal(t, owner, created.Owner)
	require.Len(t, created.Data, 16)
	require.Equal(t, uint64(500_000), lamports(t, ctx, 0))
}

func TestCreateAccountInUse(t *testing.T) {
	ctx := &fakeContext{features: features.AllEnabled()}
	snap := types.AccountSnapshot{
		{Key: key(1), Account: systemAccount(1_000_000)},
		{Key: key(2), Account: systemAccount(1)},
	}
	err := run(t, ctx, snap, CreateAccount(key(1), key(2), 10, 0, key(9)).Data,
		slot{0, true, true}, slot{1, true, true})
	require.ErrorIs(t, err, ErrAccountAlreadyInUse)
}

func TestAssignAndAllocate(t *testing.T) {
	ctx := &fakeContext{features: features.AllEnabled()}
	snap := types.AccountSnapshot{{Key: key(1), Account: systemAccount(10)}}

	err := run(t, ctx, snap, Assign(key(1), key(9)).Data, slot{0, false, true})
	require.ErrorIs(t, err, svm.ErrMissingRequiredSignature)

	err = run(t, ctx, snap, Assign(key(1), key(9)).Data, slot{0, true, true})
	require.NoError(t, err)
	acct, _ := ctx.tc.AccountAtIndex(0)
	require.Equal(t, key(9), acct.Owner)

	// Assigning to the current owner needs no signature.
	err = run(t, ctx, snap, Assign(key(1), ProgramID).Data, slot{0, false, true})
	require.NoError(t, err)

	err = run(t, ctx, snap, Allocate(key(1), types.MaxAccountDataSize+1).Data, slot{0, true, true})
	require.ErrorIs(t, err, ErrInvalidAccountDataLength)

	err = run(t, ctx, snap, Allocate(key(1), 100).Data, slot{0, true, true})
	require.NoError(t, err)
	acct, _ = ctx.tc.AccountAtIndex(0)
	require.Len(t, acct.Data, 100)
}

func TestInvalidInstructionData(t *testing.T) {
	ctx := &fakeContext{features: features.AllEnabled()}
	snap := types.AccountSnapshot{{Key: key(1), Account: systemAccount(10)}}

	require.ErrorIs(t, run(t, ctx, snap, nil, slot{0, true, true}), svm.ErrInvalidInstructionData)
	require.ErrorIs(t, run(t, ctx, snap, []byte{99, 0, 0, 0}, slot{0, true, true}), svm.ErrInvalidInstructionData)

	// Transfer with a truncated amount.
	require.ErrorIs(t, run(t, ctx, snap, []byte{2, 0, 0, 0, 1}, slot{0, true, true}), svm.ErrInvalidInstructionData)

	// Transfer with a single account.
	err := run(t, ctx, snap, Transfer(key(1), key(2), 1).Data, slot{0, true, true})
	require.ErrorIs(t, err, svm.ErrNotEnoughAccountKeys)
}

func nonceSnapshot(authority types.Pubkey) types.AccountSnapshot {
	nonce := systemAccount(sysvar.DefaultRent().MinimumBalance(NonceStateSize))
	nonce.Data = make([]byte, NonceStateSize)
	return types.AccountSnapshot{
		{Key: key(1), Account: nonce},
		{Key: types.SysvarRecentBlockhashesAddr, Account: types.Account{Owner: types.SysvarRecentBlockhashesAddr}},
		{Key: types.SysvarRentAddr, Account: types.Account{Owner: types.SysvarRentAddr}},
		{Key: authority, Account: systemAccount(1)},
	}
}

func readState(t *testing.T, ctx *fakeContext) NonceState {
	acct, err := ctx.tc.AccountAtIndex(0)
	require.NoError(t, err)
	var s NonceState
	d := wire.NewDecoder(acct.Data)
	d.Value(&s)
	require.NoError(t, d.Err())
	return s
}

func TestNonceLifecycle(t *testing.T) {
	authority := key(7)
	ctx := &fakeContext{features: features.AllEnabled(), blockhash: types.Hash{1}}
	snap := nonceSnapshot(authority)

	err := run(t, ctx, snap, InitializeNonceAccount(key(1), authority).Data,
		slot{0, false, true}, slot{1, false, false}, slot{2, false, false})
	require.NoError(t, err)
	state := readState(t, ctx)
	require.True(t, state.Initialized)
	require.Equal(t, authority, state.Authority)
	require.Equal(t, DurableNonce(types.Hash{1}), state.DurableNonce)
	require.Equal(t, uint64(5000), state.LamportsPerSignature)

	initialized, _ := ctx.tc.AccountAtIndex(0)
	snap[0].Account = *initialized.Clone()

	// Advancing within the same blockhash fails.
	err = run(t, ctx, snap, AdvanceNonceAccount(key(1), authority).Data,
		slot{0, false, true}, slot{1, false, false}, slot{3, true, false})
	require.ErrorIs(t, err, ErrNonceBlockhashNotExpired)

	ctx.blockhash = types.Hash{2}
	err = run(t, ctx, snap, AdvanceNonceAccount(key(1), authority).Data,
		slot{0, false, true}, slot{1, false, false}, slot{3, false, false})
	require.ErrorIs(t, err, svm.ErrMissingRequiredSignature)

	err = run(t, ctx, snap, AdvanceNonceAccount(key(1), authority).Data,
		slot{0, false, true}, slot{1, false, false}, slot{3, true, false})
	require.NoError(t, err)
	require.Equal(t, DurableNonce(types.Hash{2}), readState(t, ctx).DurableNonce)
}

func TestInitializeNonceChecks(t *testing.T) {
	authority := key(7)
	ctx := &fakeContext{features: features.AllEnabled()}
	snap := nonceSnapshot(authority)

	err := run(t, ctx, snap, InitializeNonceAccount(key(1), authority).Data,
		slot{0, false, true}, slot{1, false, false}, slot{2, false, false})
	require.ErrorIs(t, err, ErrNonceNoRecentBlockhashes)

	ctx.blockhash = types.Hash{1}
	err = run(t, ctx, snap, InitializeNonceAccount(key(1), authority).Data,
		slot{0, false, true}, slot{2, false, false}, slot{1, false, false})
	require.ErrorIs(t, err, svm.ErrInvalidArgument)

	snap[0].Account.Lamports = 1
	err = run(t, ctx, snap, InitializeNonceAccount(key(1), authority).Data,
		slot{0, false, true}, slot{1, false, false}, slot{2, false, false})
	require.ErrorIs(t, err, svm.ErrInsufficientFunds)

	snap[0].Account.Owner = key(9)
	err = run(t, ctx, snap, InitializeNonceAccount(key(1), authority).Data,
		slot{0, false, true}, slot{1, false, false}, slot{2, false, false})
	require.ErrorIs(t, err, svm.ErrInvalidAccountOwner)
}

func TestNonceStateEncoding(t *testing.T) {
	s := NonceState{Initialized: true, Authority: key(1), DurableNonce: types.Hash{3}, LamportsPerSignature: 5000}
	data := wire.Marshal(s)
	require.Len(t, data, NonceStateSize)

	var out NonceState
	d := wire.NewDecoder(data)
	d.Value(&out)
	require.NoError(t, d.Err())
	require.Equal(t, s, out)

	require.Len(t, wire.Marshal(NonceState{}), NonceStateSize)
}

func TestCreateWithSeed(t *testing.T) {
	a, err := CreateWithSeed(key(1), "seed", key(2))
	require.NoError(t, err)
	b, err := CreateWithSeed(key(1), "seed", key(2))
	require.NoError(t, err)
	require.Equal(t, a, b)

	c, err := CreateWithSeed(key(1), "other", key(2))
	require.NoError(t, err)
	require.NotEqual(t, a, c)

	_, err = CreateWithSeed(key(1), "0123456789012345678901234567890123", key(2))
	require.ErrorIs(t, err, ErrMaxSeedLengthExceeded)

	var pda types.Pubkey
	copy(pda[len(pda)-len(pdaMarker):], pdaMarker)
	_, err = CreateWithSeed(key(1), "seed", pda)
	require.ErrorIs(t, err, svm.ErrInvalidSeeds)
}
