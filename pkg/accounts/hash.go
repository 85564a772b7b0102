package accounts

import (
	"sort"

	"github.com/zeebo/blake3"

	"github.com/fortiblox/stratus-replay/internal/types"
	"github.com/fortiblox/stratus-replay/pkg/wire"
)

// AccountHash is BLAKE3 over lamports, rent epoch, data, the executable
// flag, owner and key, integers little-endian. An account with no lamports
// hashes to zero since it is about to be dropped.
func AccountHash(key types.Pubkey, account *types.Account) types.Hash {
	if account.Lamports == 0 {
		return types.Hash{}
	}
	e := wire.NewEncoder()
	e.U64(account.Lamports)
	e.U64(account.RentEpoch)
	e.Fixed(account.Data)
	e.Bool(account.Executable)
	e.Fixed(account.Owner[:])
	e.Fixed(key[:])
	return blake3.Sum256(e.Bytes())
}

// DeltaHash computes the merkle root of the account hashes of entries,
// sorted by pubkey. Hosts compare it across replays of the same input.
func DeltaHash(entries types.AccountSnapshot) types.Hash {
	sorted := make([]int, len(entries))
	for i := range sorted {
		sorted[i] = i
	}
	sort.SliceStable(sorted, func(a, b int) bool {
		return entries[sorted[a]].Key.Less(entries[sorted[b]].Key)
	})
	hashes := make([]types.Hash, len(sorted))
	for i, idx := range sorted {
		hashes[i] = AccountHash(entries[idx].Key, &entries[idx].Account)
	}
	return MerkleRoot(hashes)
}

// MerkleRoot computes the binary merkle root of hashes.
// Leaves are BLAKE3(0x00 || hash), nodes BLAKE3(0x01 || left || right); an
// odd node is paired with the zero hash.
func MerkleRoot(hashes []types.Hash) types.Hash {
	if len(hashes) == 0 {
		return types.Hash{}
	}
	row := make([]types.Hash, 0, len(hashes))
	for _, h := range hashes {
		row = append(row, leafHash(h))
	}
	for len(row) > 1 {
		if len(row)%2 == 1 {
			row = append(row, types.Hash{})
		}
		for i := range len(row) / 2 {
			row[i] = nodeHash(row[2*i], row[2*i+1])
		}
		row = row[:len(row)/2]
	}
	return row[0]
}

func leafHash(h types.Hash) types.Hash {
	var buf [1 + types.HashSize]byte
	copy(buf[1:], h[:])
	return blake3.Sum256(buf[:])
}

func nodeHash(left, right types.Hash) types.Hash {
	var buf [1 + 2*types.HashSize]byte
	buf[0] = 0x01
	copy(buf[1:], left[:])
	copy(buf[1+types.HashSize:], right[:])
	return blake3.Sum256(buf[:])
}
