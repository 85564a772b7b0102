package accounts

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fortiblox/stratus-replay/internal/types"
)

func testKey(b byte) types.Pubkey {
	var k types.Pubkey
	k[0] = b
	k[31] = 0xAA
	return k
}

func TestAccountEncoding(t *testing.T) {
	owner := testKey(9)
	account := &types.Account{
		Lamports:   1_000_000_000,
		Data:       []byte("test data"),
		Owner:      owner,
		Executable: true,
		RentEpoch:  100,
	}

	restored, err := DecodeAccount(EncodeAccount(account))
	require.NoError(t, err)
	require.True(t, restored.Equal(account))

	_, err = DecodeAccount([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrInvalidData)
}

func put(t *testing.T, db DB, key types.Pubkey, acc types.Account) {
	t.Helper()
	require.NoError(t, db.Write(types.AccountSnapshot{{Key: key, Account: acc}}, 0))
}

func openBoth(t *testing.T) map[string]DB {
	t.Helper()
	bdb, err := NewBadgerDB(BadgerDBConfig{InMemory: true})
	require.NoError(t, err)
	return map[string]DB{"memory": NewMemoryDB(), "badger": bdb}
}

func TestDB(t *testing.T) {
	for name, db := range openBoth(t) {
		t.Run(name, func(t *testing.T) {
			key := testKey(1)
			_, err := db.GetAccount(key)
			require.ErrorIs(t, err, ErrAccountNotFound)

			acc := types.Account{Lamports: 50, Data: []byte{1}, Owner: testKey(7)}
			put(t, db, key, acc)

			// Stored values are copies.
			acc.Data[0] = 9
			got, err := db.GetAccount(key)
			require.NoError(t, err)
			require.Equal(t, []byte{1}, got.Data)
			require.Equal(t, testKey(7), got.Owner)

			n, err := db.Len()
			require.NoError(t, err)
			require.Equal(t, uint64(1), n)

			// Zero accounts are removed, missing ones are ignored.
			put(t, db, key, types.Account{})
			put(t, db, testKey(2), types.Account{})
			n, err = db.Len()
			require.NoError(t, err)
			require.Zero(t, n)

			require.NoError(t, db.Close())
			_, err = db.GetAccount(key)
			require.ErrorIs(t, err, ErrClosed)
			require.ErrorIs(t, db.Write(nil, 1), ErrClosed)
		})
	}
}

func TestDBSlotOnlyMovesForward(t *testing.T) {
	for name, db := range openBoth(t) {
		t.Run(name, func(t *testing.T) {
			defer db.Close()
			require.Zero(t, db.Slot())
			require.NoError(t, db.Write(nil, 9))
			require.NoError(t, db.Write(nil, 4))
			require.Equal(t, uint64(9), db.Slot())
		})
	}
}

func TestDBRangeInKeyOrder(t *testing.T) {
	for name, db := range openBoth(t) {
		t.Run(name, func(t *testing.T) {
			defer db.Close()
			for _, b := range []byte{3, 1, 2} {
				put(t, db, testKey(b), types.Account{Lamports: uint64(b)})
			}

			var seen []uint64
			require.NoError(t, db.Range(func(ka types.KeyedAccount) error {
				seen = append(seen, ka.Account.Lamports)
				return nil
			}))
			require.Equal(t, []uint64{1, 2, 3}, seen)

			stop := errors.New("stop")
			calls := 0
			err := db.Range(func(types.KeyedAccount) error {
				calls++
				return stop
			})
			require.ErrorIs(t, err, stop)
			require.Equal(t, 1, calls)
		})
	}
}

func TestBadgerDBReopenKeepsState(t *testing.T) {
	dir := t.TempDir()
	db, err := NewBadgerDB(DefaultBadgerDBConfig(dir))
	require.NoError(t, err)
	require.NoError(t, db.Write(types.AccountSnapshot{
		{Key: testKey(1), Account: types.Account{Lamports: 1}},
		{Key: testKey(2), Account: types.Account{Lamports: 2, Data: []byte{4, 5}}},
	}, 7))
	require.NoError(t, db.Close())
	require.ErrorIs(t, db.Close(), ErrClosed)

	db, err = NewBadgerDB(DefaultBadgerDBConfig(dir))
	require.NoError(t, err)
	defer db.Close()

	require.Equal(t, uint64(7), db.Slot())
	n, err := db.Len()
	require.NoError(t, err)
	require.Equal(t, uint64(2), n)
	got, err := db.GetAccount(testKey(2))
	require.NoError(t, err)
	require.Equal(t, []byte{4, 5}, got.Data)
}

func TestLoadSnapshot(t *testing.T) {
	db := NewMemoryDB()
	funded, missing := testKey(1), testKey(2)
	put(t, db, funded, types.Account{Lamports: 100})

	snap, err := LoadSnapshot(db, []types.Pubkey{missing, funded})
	require.NoError(t, err)
	require.Len(t, snap, 2)
	require.Equal(t, missing, snap[0].Key)
	require.Equal(t, uint64(0), snap[0].Account.Lamports)
	require.Equal(t, types.SystemProgramAddr, snap[0].Account.Owner)
	require.Equal(t, funded, snap[1].Key)
	require.Equal(t, uint64(100), snap[1].Account.Lamports)
}

func TestApply(t *testing.T) {
	for name, db := range openBoth(t) {
		t.Run(name, func(t *testing.T) {
			defer db.Close()

			a, b := testKey(1), testKey(2)
			put(t, db, a, types.Account{Lamports: 100})

			err := Apply(db, types.AccountSnapshot{
				{Key: a, Account: types.Account{}},
				{Key: b, Account: types.Account{Lamports: 100}},
			}, 5)
			require.NoError(t, err)

			_, err = db.GetAccount(a)
			require.ErrorIs(t, err, ErrAccountNotFound)
			got, err := db.GetAccount(b)
			require.NoError(t, err)
			require.Equal(t, uint64(100), got.Lamports)
			require.Equal(t, uint64(5), db.Slot())

			n, err := db.Len()
			require.NoError(t, err)
			require.Equal(t, uint64(1), n)
		})
	}
}

func TestAccountHash(t *testing.T) {
	key := testKey(1)
	acc := &types.Account{Lamports: 5, Data: []byte{1, 2}}

	require.Equal(t, AccountHash(key, acc), AccountHash(key, acc.Clone()))
	require.NotEqual(t, AccountHash(key, acc), AccountHash(testKey(2), acc))
	require.True(t, AccountHash(key, &types.Account{Data: []byte{1}}).IsZero())
}

func TestDeltaHashIgnoresOrder(t *testing.T) {
	a := types.KeyedAccount{Key: testKey(1), Account: types.Account{Lamports: 1}}
	b := types.KeyedAccount{Key: testKey(2), Account: types.Account{Lamports: 2}}

	require.Equal(t,
		DeltaHash(types.AccountSnapshot{a, b}),
		DeltaHash(types.AccountSnapshot{b, a}))
	require.True(t, DeltaHash(nil).IsZero())
	require.Equal(t, MerkleRoot([]types.Hash{AccountHash(a.Key, &a.Account)}), DeltaHash(types.AccountSnapshot{a}))
}
