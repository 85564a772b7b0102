package types

import "fmt"

// Program addresses the bundled processor knows about.
var (
	SystemProgramAddr        = MustPubkeyFromBase58("11111111111111111111111111111111")
	ComputeBudgetProgramAddr = MustPubkeyFromBase58("ComputeBudget111111111111111111111111111111")
	LoaderV4Addr             = MustPubkeyFromBase58("LoaderV411111111111111111111111111111111111")

	// NativeLoaderAddr owns the accounts of builtin programs.
	NativeLoaderAddr = MustPubkeyFromBase58("NativeLoader1111111111111111111111111111111")
)

// Sysvar addresses. Sysvar values reach a replay through the sysvar cache;
// the addresses only appear as instruction accounts.
var (
	SysvarClockAddr             = MustPubkeyFromBase58("SysvarC1ock11111111111111111111111111111111")
	SysvarRentAddr              = MustPubkeyFromBase58("SysvarRent111111111111111111111111111111111")
	SysvarRecentBlockhashesAddr = MustPubkeyFromBase58("SysvarRecentB1ockHashes11111111111111111111")
)

// MustPubkeyFromBase58 parses a base58 pubkey or panics. Only use for
// package-level constants.
func MustPubkeyFromBase58(s string) Pubkey {
	p, err := PubkeyFromBase58(s)
	if err != nil {
		panic(fmt.Sprintf("invalid pubkey constant: %v", err))
	}
	return p
}
