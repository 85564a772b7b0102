// Package harness replays a single transaction deterministically.
//
// A replay:
// - reads the boundary values from the input channel
// - builds a fresh execution context from the account snapshot
// - layers an empty program cache delta over the base cache
// - runs the message processor once
// - captures the result as one Outcome
//
// The harness reads no clock, spawns no goroutines and keeps no state between
// replays, so equal inputs always produce byte-identical outcomes. Processor
// failures are part of the Outcome; only malformed input and contexts that
// cannot be built are returned as errors.
package harness

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/fortiblox/stratus-replay/pkg/svm/processor"
	"github.com/fortiblox/stratus-replay/pkg/svm/programcache"
	"github.com/fortiblox/stratus-replay/pkg/svm/timings"
	"github.com/fortiblox/stratus-replay/pkg/wire"
)

// Config holds harness configuration.
type Config struct {
	// LogLimit bounds the program log of a replay in bytes.
	LogLimit int

	// CompressOutput zstd-compresses the outcome frame written by Run.
	CompressOutput bool
}

// DefaultConfig returns the default harness configuration.
func DefaultConfig() Config {
	return Config{
		LogLimit: processor.DefaultLogLimit,
	}
}

// Harness replays transactions. A Harness holds no per-replay state and
// may be reused; concurrent replays each get their own context and delta.
type Harness struct {
	config    Config
	processor processor.Processor
	logger    zerolog.Logger
}

// Option configures a Harness.
type Option func(*Harness)

// WithProcessor replaces the bundled message processor.
func WithProcessor(p processor.Processor) Option {
	return func(h *Harness) { h.processor = p }
}

// WithLogger sets the diagnostics logger.
func WithLogger(l zerolog.Logger) Option {
	return func(h *Harness) { h.logger = l }
}

// New creates a harness.
func New(config Config, opts ...Option) *Harness {
	h := &Harness{
		config: config,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.processor == nil {
		h.processor = processor.New(processor.WithLogger(h.logger))
	}
	if h.config.LogLimit <= 0 {
		h.config.LogLimit = processor.DefaultLogLimit
	}
	return h
}

// Replay executes in once. It returns a *ContextConstructionError when the
// execution context cannot be built; every processor result, failed or not,
// is returned in the Outcome.
func (h *Harness) Replay(in *Input) (*Outcome, error) {
	tc, err := BuildContext(in)
	if err != nil {
		h.logger.Debug().Err(err).Msg("context construction failed")
		return nil, err
	}

	delta := programcache.NewCache(in.Slot, in.Environments)
	t := timings.New()
	logs := processor.NewLogCollector(h.config.LogLimit)

	req := &processor.Request{
		Message:              &in.Transaction.Message,
		ProgramIndices:       in.ProgramIndices,
		Context:              tc,
		ModifiedPrograms:     delta,
		Features:             in.Features,
		Budget:               in.Budget,
		Timings:              t,
		Logs:                 logs,
		Sysvars:              in.Sysvars,
		Blockhash:            in.Blockhash,
		LamportsPerSignature: in.LamportsPerSignature,
	}
	// A nil *Cache must not reach the processor as a non-nil Reader.
	if in.Programs != nil {
		req.BasePrograms = in.Programs
	}

	units, txErr := h.processor.ProcessMessage(req)

	event := h.logger.Debug().
		Stringer("signature", tc.Signature()).
		Uint64("slot", in.Slot).
		Uint64("units", units).
		Int("programs_modified", delta.Len())
	if txErr != nil {
		event = event.Str("error", txErr.Error())
	}
	event.Msg("transaction replayed")

	return &Outcome{
		ExecutedUnits:    units,
		Context:          tc,
		ProgramsModified: delta,
		Timings:          t,
		Logs:             logs.Messages(),
		Err:              txErr,
	}, nil
}

// Run is the guest entrypoint: it reads one input frame from r, replays it
// and writes the committed outcome to w.
func (h *Harness) Run(r io.Reader, w io.Writer) error {
	frame, err := wire.Open(r)
	if err != nil {
		return err
	}
	in, err := DecodeInput(frame)
	if err != nil {
		return err
	}
	out, err := h.Replay(in)
	if err != nil {
		return err
	}
	sealed, err := wire.Seal(out.Bytes(), h.config.CompressOutput)
	if err != nil {
		return err
	}
	if _, err := w.Write(sealed); err != nil {
		return fmt.Errorf("write outcome: %w", err)
	}
	return nil
}
