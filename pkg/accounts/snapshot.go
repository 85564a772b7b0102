package accounts

import (
	"errors"
	"fmt"

	"github.com/fortiblox/stratus-replay/internal/types"
)

// LoadSnapshot reads the accounts at keys, in order, into a snapshot.
// Accounts missing from db are returned as empty system-owned accounts,
// which is how the runtime sees an address that was never funded.
func LoadSnapshot(db Reader, keys []types.Pubkey) (types.AccountSnapshot, error) {
	snap := make(types.AccountSnapshot, 0, len(keys))
	for _, key := range keys {
		acc, err := db.GetAccount(key)
		switch {
		case errors.Is(err, ErrAccountNotFound):
			acc = &types.Account{Owner: types.SystemProgramAddr}
		case err != nil:
			return nil, fmt.Errorf("load account %s: %w", key, err)
		}
		snap = append(snap, types.KeyedAccount{Key: key, Account: *acc})
	}
	return snap, nil
}

// Apply commits the accounts of an accepted replay at slot. Callers pass
// only the accounts the transaction could write.
func Apply(db DB, entries types.AccountSnapshot, slot uint64) error {
	if err := db.Write(entries, slot); err != nil {
		return fmt.Errorf("apply %d accounts at slot %d: %w", len(entries), slot, err)
	}
	return nil
}
