// txreplay replays single Solana transactions deterministically.
//
// The run command is the guest side: it reads one input frame and writes one
// outcome frame. The remaining commands are the host side: they build inputs
// from an accounts database, record fixtures and re-verify them.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/fortiblox/stratus-replay/internal/logging"
	"github.com/fortiblox/stratus-replay/pkg/config"
)

// Version information
var (
	Version   = "0.1.0"
	GitCommit = "dev"
)

// env is the state shared by all commands once flags are parsed.
type env struct {
	cfg    *config.Config
	logger zerolog.Logger
}

func main() {
	e := &env{}
	app := &cli.App{
		Name:    "txreplay",
		Usage:   "deterministic single-transaction replay",
		Version: fmt.Sprintf("%s (%s)", Version, GitCommit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML configuration file",
				EnvVars: []string{"TXREPLAY_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level: debug, info, warn, error",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format: console, json",
			},
			&cli.StringFlag{
				Name:  "accounts",
				Usage: "accounts database directory",
			},
			&cli.StringFlag{
				Name:  "fixtures",
				Usage: "fixture database file",
			},
		},
		Before: e.setup,
		Commands: []*cli.Command{
			runCommand(e),
			importCommand(e),
			exportCommand(e),
			recordCommand(e),
			verifyCommand(e),
			inspectCommand(e),
			featuresCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "txreplay: %v\n", err)
		os.Exit(1)
	}
}

// setup loads the configuration, applies flag overrides and builds the logger.
func (e *env) setup(c *cli.Context) error {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	if c.IsSet("log-format") {
		cfg.Log.Format = c.String("log-format")
	}
	if c.IsSet("accounts") {
		cfg.Accounts.Path = c.String("accounts")
	}
	if c.IsSet("fixtures") {
		cfg.Fixtures.Path = c.String("fixtures")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.Stderr(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	e.cfg = cfg
	e.logger = logger
	return nil
}
