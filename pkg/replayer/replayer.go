// Package replayer drives the replay harness from the host side.
//
// The replayer is responsible for:
// - Building harness inputs from the accounts database
// - Running the harness once per transaction
// - Committing the writable accounts of successful replays
//
// The harness itself never sees the database; everything it reads crosses
// the boundary inside the Input the Builder produces.
package replayer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/fortiblox/stratus-replay/internal/types"
	"github.com/fortiblox/stratus-replay/pkg/accounts"
	"github.com/fortiblox/stratus-replay/pkg/harness"
	"github.com/fortiblox/stratus-replay/pkg/transaction"
)

// Errors.
var (
	ErrSlotRegression = errors.New("slot is before the accounts state")
	ErrReplayFailed   = errors.New("replay failed")
)

// Config holds replayer configuration.
type Config struct {
	Builder BuilderConfig
	Harness harness.Config

	// CommitFailed also commits the accounts of failed transactions. The
	// harness leaves them as the processor reached them.
	CommitFailed bool

	// DryRun replays without writing accounts back.
	DryRun bool

	// OnTransactionComplete is called after each replay.
	OnTransactionComplete func(sig types.Signature, result *Result)
}

// DefaultConfig returns the default replayer configuration.
func DefaultConfig() Config {
	return Config{
		Builder: DefaultBuilderConfig(),
		Harness: harness.DefaultConfig(),
	}
}

// Result is the host view of one replay.
type Result struct {
	Input   *harness.Input
	Outcome *harness.Outcome

	// Digest is the committed outcome digest.
	Digest types.Hash

	// DeltaHash is the merkle root of the writable accounts after replay.
	DeltaHash types.Hash

	// Committed reports whether accounts were written back.
	Committed bool
}

// Replayer replays transactions against an accounts database.
type Replayer struct {
	// mu serializes replays so commits apply in order.
	mu sync.Mutex

	accounts accounts.DB
	builder  *Builder
	harness  *harness.Harness
	config   Config
	logger   zerolog.Logger
}

// New creates a new replayer.
func New(db accounts.DB, config Config, logger zerolog.Logger) *Replayer {
	return &Replayer{
		accounts: db,
		builder:  NewBuilder(db, config.Builder),
		harness:  harness.New(config.Harness, harness.WithLogger(logger)),
		config:   config,
		logger:   logger,
	}
}

// Builder returns the input builder.
func (r *Replayer) Builder() *Builder {
	return r.builder
}

// ReplayTransaction replays tx in slot and, unless configured otherwise,
// commits its writable accounts.
func (r *Replayer) ReplayTransaction(tx *transaction.Transaction, slot uint64, blockhash types.Hash) (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current := r.accounts.Slot(); slot < current {
		return nil, fmt.Errorf("%w: state=%d, requested=%d", ErrSlotRegression, current, slot)
	}

	in, err := r.builder.Build(tx, slot, blockhash)
	if err != nil {
		return nil, fmt.Errorf("%w: build input: %v", ErrReplayFailed, err)
	}
	result, err := r.replay(in)
	if err != nil {
		return nil, err
	}

	if !r.config.DryRun {
		if err := r.commit(result); err != nil {
			return nil, err
		}
	}

	if r.config.OnTransactionComplete != nil {
		r.config.OnTransactionComplete(tx.Signature(), result)
	}
	return result, nil
}

// Commit writes back the accounts of a result produced while DryRun was
// set. Failed outcomes are skipped unless CommitFailed is set. Committing
// the same result twice is a no-op.
func (r *Replayer) Commit(result *Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current := r.accounts.Slot(); result.Input.Slot < current {
		return fmt.Errorf("%w: state=%d, requested=%d", ErrSlotRegression, current, result.Input.Slot)
	}
	return r.commit(result)
}

func (r *Replayer) commit(result *Result) error {
	if result.Committed || !(result.Outcome.Success() || r.config.CommitFailed) {
		return nil
	}
	if err := accounts.Apply(r.accounts, writableAccounts(result.Input, result.Outcome), result.Input.Slot); err != nil {
		return fmt.Errorf("commit accounts: %w", err)
	}
	result.Committed = true
	return nil
}

// ReplayInput replays a prepared input without touching the database.
func (r *Replayer) ReplayInput(in *harness.Input) (*Result, error) {
	return r.replay(in)
}

func (r *Replayer) replay(in *harness.Input) (*Result, error) {
	out, err := r.harness.Replay(in)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReplayFailed, err)
	}
	result := &Result{
		Input:     in,
		Outcome:   out,
		Digest:    out.Digest(),
		DeltaHash: accounts.DeltaHash(writableAccounts(in, out)),
	}

	event := r.logger.Info().
		Stringer("signature", in.Transaction.Signature()).
		Uint64("slot", in.Slot).
		Bool("success", out.Success()).
		Uint64("units", out.ExecutedUnits).
		Stringer("digest", result.Digest)
	if out.Err != nil {
		event = event.Str("error", out.Err.Error())
	}
	event.Msg("transaction replayed")
	return result, nil
}

// writableAccounts returns the final state of the accounts the message may
// write, in message order.
func writableAccounts(in *harness.Input, out *harness.Outcome) types.AccountSnapshot {
	final := out.Accounts()
	msg := &in.Transaction.Message
	entries := make(types.AccountSnapshot, 0, len(msg.AccountKeys))
	for i := range msg.AccountKeys {
		if i >= len(final) {
			break
		}
		if msg.IsWritable(i) {
			entries = append(entries, final[i])
		}
	}
	return entries
}
