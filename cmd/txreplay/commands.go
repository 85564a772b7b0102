package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/fortiblox/stratus-replay/internal/types"
	"github.com/fortiblox/stratus-replay/pkg/accounts"
	"github.com/fortiblox/stratus-replay/pkg/config"
	"github.com/fortiblox/stratus-replay/pkg/fixture"
	"github.com/fortiblox/stratus-replay/pkg/harness"
	"github.com/fortiblox/stratus-replay/pkg/replayer"
	"github.com/fortiblox/stratus-replay/pkg/transaction"
	"github.com/fortiblox/stratus-replay/pkg/wire"
)

// ErrDigestMismatch is returned by verify when a fixture no longer replays
// to its recorded digest.
var ErrDigestMismatch = errors.New("digest mismatch")

func runCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "replay one input frame and write the outcome frame",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "in", Value: "-", Usage: "input frame file, - for stdin"},
			&cli.StringFlag{Name: "out", Value: "-", Usage: "outcome frame file, - for stdout"},
		},
		Action: func(c *cli.Context) error {
			r, closeIn, err := openInput(c.String("in"))
			if err != nil {
				return err
			}
			defer closeIn()

			w := io.Writer(c.App.Writer)
			if path := c.String("out"); path != "-" {
				f, err := os.Create(path)
				if err != nil {
					return fmt.Errorf("create outcome file: %w", err)
				}
				defer f.Close()
				w = f
			}

			h := harness.New(e.harnessConfig(), harness.WithLogger(e.logger))
			return h.Run(r, w)
		},
	}
}

func importCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "load an account snapshot frame into the accounts database",
		ArgsUsage: "<snapshot>",
		Flags: []cli.Flag{
			&cli.Uint64Flag{Name: "slot", Usage: "slot the snapshot was taken at"},
		},
		Action: func(c *cli.Context) error {
			payload, err := readFrame(c.Args().First())
			if err != nil {
				return err
			}
			var snap types.AccountSnapshot
			if err := wire.Unmarshal(payload, "account snapshot", &snap); err != nil {
				return err
			}

			db, err := e.openAccounts()
			if err != nil {
				return err
			}
			defer db.Close()

			if err := accounts.Apply(db, snap, c.Uint64("slot")); err != nil {
				return err
			}
			count, err := db.Len()
			if err != nil {
				return err
			}
			e.logger.Info().
				Int("imported", len(snap)).
				Uint64("accounts", count).
				Uint64("slot", db.Slot()).
				Msg("snapshot imported")
			return nil
		},
	}
}

func exportCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "write the accounts database as an account snapshot frame",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Value: "-", Usage: "snapshot frame file, - for stdout"},
			&cli.BoolFlag{Name: "compress", Usage: "zstd-compress the frame"},
		},
		Action: func(c *cli.Context) error {
			db, err := e.openAccounts()
			if err != nil {
				return err
			}
			defer db.Close()

			var snap types.AccountSnapshot
			if err := db.Range(func(ka types.KeyedAccount) error {
				snap = append(snap, ka)
				return nil
			}); err != nil {
				return err
			}
			frame, err := wire.Seal(wire.Marshal(snap), c.Bool("compress"))
			if err != nil {
				return err
			}

			w := io.Writer(c.App.Writer)
			if path := c.String("out"); path != "-" {
				f, err := os.Create(path)
				if err != nil {
					return fmt.Errorf("create snapshot file: %w", err)
				}
				defer f.Close()
				w = f
			}
			if _, err := w.Write(frame); err != nil {
				return err
			}
			e.logger.Info().
				Int("accounts", len(snap)).
				Uint64("slot", db.Slot()).
				Msg("snapshot exported")
			return nil
		},
	}
}

func recordCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:      "record",
		Usage:     "replay a transaction against the accounts database and record a fixture",
		ArgsUsage: "<transaction>",
		Flags: []cli.Flag{
			&cli.Uint64Flag{Name: "slot", Required: true, Usage: "slot to replay in"},
			&cli.StringFlag{Name: "blockhash", Usage: "base58 blockhash (defaults to the message blockhash)"},
			&cli.BoolFlag{Name: "dry-run", Usage: "do not write accounts back"},
		},
		Action: func(c *cli.Context) error {
			payload, err := readFrame(c.Args().First())
			if err != nil {
				return err
			}
			var tx transaction.Transaction
			if err := wire.Unmarshal(payload, "transaction", &tx); err != nil {
				return err
			}
			blockhash := tx.Message.RecentBlockhash
			if s := c.String("blockhash"); s != "" {
				if blockhash, err = types.HashFromBase58(s); err != nil {
					return fmt.Errorf("parse blockhash: %w", err)
				}
			}

			rc, err := e.cfg.ReplayerConfig()
			if err != nil {
				return err
			}
			// Accounts are committed only after the fixture is stored.
			rc.DryRun = true

			db, err := e.openAccounts()
			if err != nil {
				return err
			}
			defer db.Close()

			store, err := fixture.Open(fixture.DefaultConfig(e.cfg.Fixtures.Path))
			if err != nil {
				return err
			}
			defer store.Close()

			r := replayer.New(db, rc, e.logger)
			result, err := r.ReplayTransaction(&tx, c.Uint64("slot"), blockhash)
			if err != nil {
				return err
			}
			frame, err := wire.Seal(result.Input.Bytes(), rc.Harness.CompressOutput)
			if err != nil {
				return err
			}
			f := fixture.New(tx.Signature(), result.Input.Slot, frame, result.Digest,
				result.Outcome.Success(), result.Outcome.ExecutedUnits)
			if err := store.Put(f); err != nil {
				return fmt.Errorf("store fixture: %w", err)
			}
			if !c.Bool("dry-run") {
				if err := r.Commit(result); err != nil {
					return err
				}
			}

			fmt.Fprintf(c.App.Writer, "%s slot=%d success=%t units=%d digest=%s committed=%t\n",
				f.Signature, f.Slot, f.Success, f.ExecutedUnits, f.Digest, result.Committed)
			return nil
		},
	}
}

func verifyCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:  "verify",
		Usage: "replay recorded fixtures and compare outcome digests",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "signature", Usage: "verify only this base58 signature"},
		},
		Action: func(c *cli.Context) error {
			cfg := fixture.DefaultConfig(e.cfg.Fixtures.Path)
			cfg.ReadOnly = true
			store, err := fixture.Open(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			stored, err := store.Count()
			if err != nil {
				return err
			}
			e.logger.Debug().Int("fixtures", stored).Msg("verifying fixtures")

			h := harness.New(e.harnessConfig(), harness.WithLogger(e.logger))
			var checked, failed int
			check := func(f *fixture.Fixture) error {
				checked++
				digest, err := replayFixture(h, f)
				if err != nil {
					return fmt.Errorf("fixture %s: %w", f.Signature, err)
				}
				if digest != f.Digest {
					failed++
					e.logger.Error().
						Stringer("signature", f.Signature).
						Uint64("slot", f.Slot).
						Stringer("recorded", f.Digest).
						Stringer("replayed", digest).
						Msg("digest mismatch")
					return nil
				}
				e.logger.Debug().Stringer("signature", f.Signature).Msg("fixture verified")
				return nil
			}

			if s := c.String("signature"); s != "" {
				sig, err := types.SignatureFromBase58(s)
				if err != nil {
					return fmt.Errorf("parse signature: %w", err)
				}
				f, err := store.Get(sig)
				if err != nil {
					return err
				}
				if err := check(f); err != nil {
					return err
				}
			} else if err := store.List(func(f *fixture.Fixture) error {
				if err := f.Check(); err != nil {
					return err
				}
				return check(f)
			}); err != nil {
				return err
			}

			fmt.Fprintf(c.App.Writer, "verified %d fixtures, %d mismatched\n", checked, failed)
			if failed > 0 {
				return fmt.Errorf("%w: %d of %d fixtures", ErrDigestMismatch, failed, checked)
			}
			return nil
		},
	}
}

func inspectCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "print a summary of an input frame",
		ArgsUsage: "<input>",
		Action: func(c *cli.Context) error {
			payload, err := readFrame(c.Args().First())
			if err != nil {
				return err
			}
			in, err := harness.DecodeInput(payload)
			if err != nil {
				return err
			}
			w := c.App.Writer
			fmt.Fprintf(w, "signature:    %s\n", in.Transaction.Signature())
			fmt.Fprintf(w, "slot:         %d\n", in.Slot)
			fmt.Fprintf(w, "blockhash:    %s\n", in.Blockhash)
			fmt.Fprintf(w, "accounts:     %d\n", len(in.Accounts))
			fmt.Fprintf(w, "instructions: %d\n", len(in.Transaction.Message.Instructions))
			fmt.Fprintf(w, "budget:       %d units\n", in.Budget.ComputeUnitLimit)
			fmt.Fprintf(w, "features:     %d active\n", len(in.Features.ActiveIDs()))
			fmt.Fprintf(w, "programs:     %d cached\n", in.Programs.Len())
			for i, ka := range in.Accounts {
				fmt.Fprintf(w, "  [%d] %s lamports=%d owner=%s data=%d executable=%t\n",
					i, ka.Key, ka.Account.Lamports, ka.Account.Owner, len(ka.Account.Data), ka.Account.Executable)
			}
			return nil
		},
	}
}

func featuresCommand() *cli.Command {
	return &cli.Command{
		Name:  "features",
		Usage: "list the known feature gate names",
		Action: func(c *cli.Context) error {
			for _, name := range config.FeatureNames() {
				fmt.Fprintln(c.App.Writer, name)
			}
			return nil
		},
	}
}

// replayFixture replays the stored input of f and returns the outcome digest.
func replayFixture(h *harness.Harness, f *fixture.Fixture) (types.Hash, error) {
	payload, err := wire.Open(bytes.NewReader(f.Input))
	if err != nil {
		return types.Hash{}, err
	}
	in, err := harness.DecodeInput(payload)
	if err != nil {
		return types.Hash{}, err
	}
	out, err := h.Replay(in)
	if err != nil {
		return types.Hash{}, err
	}
	return out.Digest(), nil
}

func (e *env) harnessConfig() harness.Config {
	return harness.Config{
		LogLimit:       e.cfg.Replay.LogLimit,
		CompressOutput: e.cfg.Replay.CompressOutput,
	}
}

func (e *env) openAccounts() (*accounts.BadgerDB, error) {
	cfg := accounts.DefaultBadgerDBConfig(e.cfg.Accounts.Path)
	cfg.InMemory = e.cfg.Accounts.InMemory
	db, err := accounts.NewBadgerDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("open accounts: %w", err)
	}
	return db, nil
}

// openInput opens path for reading; "-" and "" mean stdin.
func openInput(path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, func() { f.Close() }, nil
}

// readFrame reads one wire frame from path and returns its payload.
func readFrame(path string) ([]byte, error) {
	r, closeIn, err := openInput(path)
	if err != nil {
		return nil, err
	}
	defer closeIn()
	return wire.Open(r)
}
