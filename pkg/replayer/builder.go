package replayer

import (
	"errors"
	"fmt"

	"github.com/fortiblox/stratus-replay/internal/types"
	"github.com/fortiblox/stratus-replay/pkg/accounts"
	"github.com/fortiblox/stratus-replay/pkg/harness"
	"github.com/fortiblox/stratus-replay/pkg/svm"
	"github.com/fortiblox/stratus-replay/pkg/svm/features"
	"github.com/fortiblox/stratus-replay/pkg/svm/processor"
	"github.com/fortiblox/stratus-replay/pkg/svm/programcache"
	"github.com/fortiblox/stratus-replay/pkg/svm/programs/loaderv4"
	"github.com/fortiblox/stratus-replay/pkg/svm/sysvar"
	"github.com/fortiblox/stratus-replay/pkg/transaction"
)

var (
	// ErrSanitize is returned when a transaction fails sanitization.
	ErrSanitize = errors.New("transaction failed sanitization")

	// ErrComputeBudget is returned when compute budget instructions are invalid.
	ErrComputeBudget = errors.New("invalid compute budget instructions")

	// ErrTooManyAccounts is returned when loader accounts push the snapshot
	// past the addressable account limit.
	ErrTooManyAccounts = errors.New("too many accounts")
)

// BuilderConfig holds the bank parameters inputs are built with.
type BuilderConfig struct {
	Features      *features.FeatureSet
	Rent          sysvar.Rent
	EpochSchedule sysvar.EpochSchedule
	Environments  programcache.Environments

	// LamportsPerSignature is the fee rate of the replayed block.
	LamportsPerSignature uint64

	// Budget replaces the budget derived from compute budget instructions.
	Budget *svm.ComputeBudget

	// VerifySignatures checks ed25519 signatures during sanitization.
	VerifySignatures bool
}

// DefaultBuilderConfig returns the default builder configuration.
func DefaultBuilderConfig() BuilderConfig {
	return BuilderConfig{
		Features:             features.AllEnabled(),
		Rent:                 sysvar.DefaultRent(),
		EpochSchedule:        sysvar.DefaultEpochSchedule(),
		Environments:         programcache.DefaultEnvironments(),
		LamportsPerSignature: 5000,
		VerifySignatures:     true,
	}
}

// Builder assembles harness inputs from an accounts database.
type Builder struct {
	accounts accounts.Reader
	config   BuilderConfig
	builtins map[types.Pubkey]string
}

// NewBuilder creates a builder reading accounts from db.
func NewBuilder(db accounts.Reader, config BuilderConfig) *Builder {
	if config.Features == nil {
		config.Features = features.New()
	}
	builtins := make(map[types.Pubkey]string)
	for _, b := range processor.DefaultBuiltins() {
		builtins[b.ProgramID] = b.Name
	}
	return &Builder{
		accounts: db,
		config:   config,
		builtins: builtins,
	}
}

// Build creates the input that replays tx in slot on top of the current
// accounts. blockhash is the blockhash of the replayed block.
func (b *Builder) Build(tx *transaction.Transaction, slot uint64, blockhash types.Hash) (*harness.Input, error) {
	if err := tx.Sanitize(b.config.VerifySignatures); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSanitize, err)
	}
	msg := &tx.Message

	snap, err := accounts.LoadSnapshot(b.accounts, msg.AccountKeys)
	if err != nil {
		return nil, err
	}
	for i := range snap {
		b.materializeBuiltin(&snap[i])
	}

	indices, snap, err := b.programIndices(msg, snap)
	if err != nil {
		return nil, err
	}

	budget, err := b.budget(msg)
	if err != nil {
		return nil, err
	}

	return &harness.Input{
		Accounts:             snap,
		Rent:                 b.config.Rent,
		Transaction:          *tx,
		Slot:                 slot,
		Environments:         b.config.Environments,
		Features:             b.config.Features,
		Budget:               budget,
		Sysvars:              sysvar.ForSlot(slot, b.config.EpochSchedule, b.config.Rent),
		Programs:             b.basePrograms(slot, snap),
		ProgramIndices:       indices,
		Blockhash:            blockhash,
		LamportsPerSignature: b.config.LamportsPerSignature,
	}, nil
}

// materializeBuiltin gives a builtin address that has no stored account the
// native-loader account the runtime would see.
func (b *Builder) materializeBuiltin(ka *types.KeyedAccount) {
	name, ok := b.builtins[ka.Key]
	if !ok || !ka.Account.IsZero() {
		return
	}
	ka.Account = types.Account{
		Lamports:   1,
		Data:       []byte(name),
		Owner:      types.NativeLoaderAddr,
		Executable: true,
	}
}

// programIndices resolves the program chain of every instruction. Programs
// owned by a loader get the loader account in front of them; loaders that
// are not message accounts are appended to the snapshot.
func (b *Builder) programIndices(msg *transaction.Message, snap types.AccountSnapshot) ([][]uint16, types.AccountSnapshot, error) {
	indices := make([][]uint16, len(msg.Instructions))
	for i, ix := range msg.Instructions {
		programIdx := uint16(ix.ProgramIDIndex)
		owner := snap[programIdx].Account.Owner
		if owner == types.NativeLoaderAddr || !snap[programIdx].Account.Executable {
			indices[i] = []uint16{programIdx}
			continue
		}

		ownerIdx := -1
		for j := range snap {
			if snap[j].Key == owner {
				ownerIdx = j
				break
			}
		}
		if ownerIdx < 0 {
			loaded, err := accounts.LoadSnapshot(b.accounts, []types.Pubkey{owner})
			if err != nil {
				return nil, nil, err
			}
			b.materializeBuiltin(&loaded[0])
			snap = append(snap, loaded[0])
			ownerIdx = len(snap) - 1
		}
		if ownerIdx > int(^uint16(0)) {
			return nil, nil, ErrTooManyAccounts
		}
		indices[i] = []uint16{uint16(ownerIdx), programIdx}
	}
	return indices, snap, nil
}

func (b *Builder) budget(msg *transaction.Message) (svm.ComputeBudget, error) {
	if b.config.Budget != nil {
		return *b.config.Budget, nil
	}
	ixs := make([]svm.ComputeBudgetInstruction, len(msg.Instructions))
	for i, ix := range msg.Instructions {
		id, _ := msg.ProgramID(i)
		ixs[i] = svm.ComputeBudgetInstruction{
			IsComputeBudget: id == types.ComputeBudgetProgramAddr,
			Data:            ix.Data,
		}
	}
	limits, err := svm.ComputeBudgetFromInstructions(ixs)
	if err != nil {
		return svm.ComputeBudget{}, fmt.Errorf("%w: %v", ErrComputeBudget, err)
	}
	return limits.Budget(), nil
}

// basePrograms builds the base cache for slot: every enabled builtin plus
// the loader-v4 programs among the snapshot accounts.
func (b *Builder) basePrograms(slot uint64, snap types.AccountSnapshot) *programcache.Cache {
	cache := programcache.NewCache(slot, b.config.Environments)
	for key, p := range processor.BuiltinPrograms(b.config.Features) {
		cache.Replenish(key, p)
	}
	for _, ka := range snap {
		if ka.Account.Owner != loaderv4.ProgramID {
			continue
		}
		state, err := loaderv4.ReadState(ka.Account.Data)
		if err != nil {
			continue
		}
		var entry programcache.LoadedProgram
		switch state.Status {
		case loaderv4.StatusDeployed, loaderv4.StatusFinalized:
			if loaderv4.Verify(ka.Account.Data[loaderv4.HeaderSize:]) != nil {
				entry = programcache.NewTombstone(state.Slot, programcache.KindFailedVerification)
				break
			}
			bytecode := append([]byte(nil), ka.Account.Data[loaderv4.HeaderSize:]...)
			entry = programcache.NewLoaded(state.Slot, uint64(len(ka.Account.Data)), bytecode)
		default:
			entry = programcache.NewTombstone(state.Slot, programcache.KindClosed)
		}
		cache.Replenish(ka.Key, entry)
	}
	return cache
}
