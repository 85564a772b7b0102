package replayer

import (
	"crypto/ed25519"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/stratus-replay/internal/types"
	"github.com/fortiblox/stratus-replay/pkg/accounts"
	"github.com/fortiblox/stratus-replay/pkg/svm"
	"github.com/fortiblox/stratus-replay/pkg/svm/programcache"
	"github.com/fortiblox/stratus-replay/pkg/svm/programs/loaderv4"
	"github.com/fortiblox/stratus-replay/pkg/svm/programs/system"
	"github.com/fortiblox/stratus-replay/pkg/transaction"
	"github.com/fortiblox/stratus-replay/pkg/wire"
)

func createTestKeypair(seed byte) (ed25519.PrivateKey, types.Pubkey) {
	s := make([]byte, ed25519.SeedSize)
	s[0] = seed
	priv := ed25519.NewKeyFromSeed(s)
	var pub types.Pubkey
	copy(pub[:], priv.Public().(ed25519.PublicKey))
	return priv, pub
}

func createTestHash(seed byte) types.Hash {
	var h types.Hash
	for i := range h {
		h[i] = seed + byte(i)
	}
	return h
}

func signedTx(t *testing.T, payer ed25519.PrivateKey, ixs ...transaction.Instruction) *transaction.Transaction {
	t.Helper()
	var pub types.Pubkey
	copy(pub[:], payer.Public().(ed25519.PublicKey))
	tx := &transaction.Transaction{Message: transaction.NewMessage(pub, createTestHash(1), ixs...)}
	require.NoError(t, tx.Sign(payer))
	return tx
}

type testEnv struct {
	db    *accounts.MemoryDB
	payer ed25519.PrivateKey
	alice types.Pubkey
	bob   types.Pubkey
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	payer, alice := createTestKeypair(1)
	_, bob := createTestKeypair(2)
	db := accounts.NewMemoryDB()
	require.NoError(t, db.Write(types.AccountSnapshot{
		{Key: alice, Account: types.Account{Lamports: 1_000_000, Owner: types.SystemProgramAddr}},
	}, 0))
	return &testEnv{db: db, payer: payer, alice: alice, bob: bob}
}

func (e *testEnv) lamports(t *testing.T, key types.Pubkey) uint64 {
	t.Helper()
	acc, err := e.db.GetAccount(key)
	require.NoError(t, err)
	return acc.Lamports
}

func TestBuildTransferInput(t *testing.T) {
	env := newTestEnv(t)
	tx := signedTx(t, env.payer, system.Transfer(env.alice, env.bob, 10))

	in, err := NewBuilder(env.db, DefaultBuilderConfig()).Build(tx, 7, createTestHash(9))
	require.NoError(t, err)
	require.Len(t, in.Accounts, 3)
	require.Equal(t, env.alice, in.Accounts[0].Key)
	require.Equal(t, uint64(1_000_000), in.Accounts[0].Account.Lamports)

	// Unfunded accounts appear system-owned; builtins get a loader account.
	require.Equal(t, types.SystemProgramAddr, in.Accounts[1].Account.Owner)
	require.True(t, in.Accounts[2].Account.Executable)
	require.Equal(t, types.NativeLoaderAddr, in.Accounts[2].Account.Owner)

	require.Equal(t, [][]uint16{{2}}, in.ProgramIndices)
	require.Equal(t, uint64(7), in.Slot)
	require.Equal(t, createTestHash(9), in.Blockhash)
	require.Equal(t, svm.CUDefault, in.Budget.ComputeUnitLimit)
	require.Equal(t, svm.DefaultComputeBudget().MaxInvokeStackHeight, in.Budget.MaxInvokeStackHeight)

	p, ok := in.Programs.Find(system.ProgramID)
	require.True(t, ok)
	require.Equal(t, programcache.KindBuiltin, p.Kind)

	clock, err := in.Sysvars.Clock()
	require.NoError(t, err)
	require.Equal(t, uint64(7), clock.Slot)
}

func TestBuildRejectsUnsigned(t *testing.T) {
	env := newTestEnv(t)
	tx := signedTx(t, env.payer, system.Transfer(env.alice, env.bob, 10))
	tx.Signatures[0][0] ^= 0xff

	_, err := NewBuilder(env.db, DefaultBuilderConfig()).Build(tx, 1, types.Hash{})
	require.ErrorIs(t, err, ErrSanitize)

	cfg := DefaultBuilderConfig()
	cfg.VerifySignatures = false
	_, err = NewBuilder(env.db, cfg).Build(tx, 1, types.Hash{})
	require.NoError(t, err)
}

func TestBuildLoadedProgram(t *testing.T) {
	env := newTestEnv(t)
	program := types.Pubkey{0xee}
	data := make([]byte, loaderv4.HeaderSize+8)
	copy(data, wire.Marshal(loaderv4.State{Slot: 3, Authority: env.alice, Status: loaderv4.StatusDeployed}))
	require.NoError(t, env.db.Write(types.AccountSnapshot{{Key: program, Account: types.Account{
		Lamports:   1,
		Data:       data,
		Owner:      loaderv4.ProgramID,
		Executable: true,
	}}}, 0))

	tx := signedTx(t, env.payer, transaction.Instruction{ProgramID: program})
	in, err := NewBuilder(env.db, DefaultBuilderConfig()).Build(tx, 10, types.Hash{})
	require.NoError(t, err)

	// The loader is appended behind the message accounts.
	require.Len(t, in.Accounts, 3)
	require.Equal(t, loaderv4.ProgramID, in.Accounts[2].Key)
	require.Equal(t, [][]uint16{{2, 1}}, in.ProgramIndices)

	p, ok := in.Programs.Find(program)
	require.True(t, ok)
	require.Equal(t, programcache.KindLoaded, p.Kind)
	require.Equal(t, uint64(4), p.EffectiveSlot)
	require.Equal(t, data[loaderv4.HeaderSize:], p.Bytecode)
}

func TestReplayTransactionCommits(t *testing.T) {
	env := newTestEnv(t)
	var completed []types.Signature
	cfg := DefaultConfig()
	cfg.OnTransactionComplete = func(sig types.Signature, _ *Result) {
		completed = append(completed, sig)
	}
	r := New(env.db, cfg, zerolog.Nop())

	tx := signedTx(t, env.payer, system.Transfer(env.alice, env.bob, 10))
	result, err := r.ReplayTransaction(tx, 5, createTestHash(2))
	require.NoError(t, err)
	require.True(t, result.Outcome.Success())
	require.True(t, result.Committed)
	require.Equal(t, result.Outcome.Digest(), result.Digest)
	require.Equal(t, []types.Signature{tx.Signature()}, completed)

	require.Equal(t, uint64(999_990), env.lamports(t, env.alice))
	require.Equal(t, uint64(10), env.lamports(t, env.bob))
	require.Equal(t, uint64(5), env.db.Slot())

	final := result.Outcome.Accounts()
	require.Equal(t, accounts.DeltaHash(types.AccountSnapshot{final[0], final[1]}), result.DeltaHash)

	// Replaying the stored input gives the same digest.
	again, err := r.ReplayInput(result.Input)
	require.NoError(t, err)
	require.Equal(t, result.Digest, again.Digest)
}

func TestReplayTransactionSlotRegression(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.db.Write(nil, 10))
	r := New(env.db, DefaultConfig(), zerolog.Nop())

	tx := signedTx(t, env.payer, system.Transfer(env.alice, env.bob, 10))
	_, err := r.ReplayTransaction(tx, 9, types.Hash{})
	require.ErrorIs(t, err, ErrSlotRegression)
}

func TestCommitAfterDryRun(t *testing.T) {
	env := newTestEnv(t)
	cfg := DefaultConfig()
	cfg.DryRun = true
	r := New(env.db, cfg, zerolog.Nop())

	tx := signedTx(t, env.payer, system.Transfer(env.alice, env.bob, 10))
	result, err := r.ReplayTransaction(tx, 5, types.Hash{})
	require.NoError(t, err)
	require.False(t, result.Committed)
	require.Equal(t, uint64(1_000_000), env.lamports(t, env.alice))

	require.NoError(t, r.Commit(result))
	require.True(t, result.Committed)
	require.Equal(t, uint64(999_990), env.lamports(t, env.alice))
	require.Equal(t, uint64(10), env.lamports(t, env.bob))
	require.Equal(t, uint64(5), env.db.Slot())

	// A second commit leaves the state alone.
	require.NoError(t, r.Commit(result))
	require.Equal(t, uint64(999_990), env.lamports(t, env.alice))

	failed, err := r.ReplayTransaction(signedTx(t, env.payer, system.Transfer(env.alice, env.bob, 5_000_000)), 6, types.Hash{})
	require.NoError(t, err)
	require.NoError(t, r.Commit(failed))
	require.False(t, failed.Committed)
	require.Equal(t, uint64(5), env.db.Slot())

	require.NoError(t, env.db.Write(nil, 9))
	late, err := r.ReplayTransaction(signedTx(t, env.payer, system.Transfer(env.alice, env.bob, 1)), 9, types.Hash{})
	require.NoError(t, err)
	late.Input.Slot = 8
	require.ErrorIs(t, r.Commit(late), ErrSlotRegression)
}

func TestReplayTransactionFailures(t *testing.T) {
	t.Run("not committed", func(t *testing.T) {
		env := newTestEnv(t)
		r := New(env.db, DefaultConfig(), zerolog.Nop())
		tx := signedTx(t, env.payer, system.Transfer(env.alice, env.bob, 5_000_000))
		result, err := r.ReplayTransaction(tx, 5, types.Hash{})
		require.NoError(t, err)
		require.ErrorIs(t, result.Outcome.Err, svm.ErrInsufficientFunds)
		require.False(t, result.Committed)
		require.Equal(t, uint64(0), env.db.Slot())
	})

	t.Run("commit failed", func(t *testing.T) {
		env := newTestEnv(t)
		cfg := DefaultConfig()
		cfg.CommitFailed = true
		r := New(env.db, cfg, zerolog.Nop())
		tx := signedTx(t, env.payer, system.Transfer(env.alice, env.bob, 5_000_000))
		result, err := r.ReplayTransaction(tx, 5, types.Hash{})
		require.NoError(t, err)
		require.True(t, result.Committed)
		require.Equal(t, uint64(1_000_000), env.lamports(t, env.alice))
		require.Equal(t, uint64(5), env.db.Slot())
	})

	t.Run("budget override", func(t *testing.T) {
		env := newTestEnv(t)
		cfg := DefaultConfig()
		budget := svm.DefaultComputeBudget()
		budget.ComputeUnitLimit = 100
		cfg.Builder.Budget = &budget
		r := New(env.db, cfg, zerolog.Nop())
		tx := signedTx(t, env.payer, system.Transfer(env.alice, env.bob, 10))
		result, err := r.ReplayTransaction(tx, 5, types.Hash{})
		require.NoError(t, err)
		require.ErrorIs(t, result.Outcome.Err, svm.ErrComputationalBudgetExceeded)
		require.Equal(t, uint64(100), result.Outcome.ExecutedUnits)
	})

	t.Run("dry run", func(t *testing.T) {
		env := newTestEnv(t)
		cfg := DefaultConfig()
		cfg.DryRun = true
		r := New(env.db, cfg, zerolog.Nop())
		tx := signedTx(t, env.payer, system.Transfer(env.alice, env.bob, 10))
		result, err := r.ReplayTransaction(tx, 5, types.Hash{})
		require.NoError(t, err)
		require.True(t, result.Outcome.Success())
		require.False(t, result.Committed)
		require.Equal(t, uint64(1_000_000), env.lamports(t, env.alice))
	})

	t.Run("invalid transaction", func(t *testing.T) {
		env := newTestEnv(t)
		r := New(env.db, DefaultConfig(), zerolog.Nop())
		tx := signedTx(t, env.payer, system.Transfer(env.alice, env.bob, 10))
		tx.Signatures = nil
		_, err := r.ReplayTransaction(tx, 5, types.Hash{})
		require.ErrorIs(t, err, ErrReplayFailed)
	})
}
