// Package config loads the replay tool configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fortiblox/stratus-replay/pkg/harness"
	"github.com/fortiblox/stratus-replay/pkg/replayer"
	"github.com/fortiblox/stratus-replay/pkg/svm"
	"github.com/fortiblox/stratus-replay/pkg/svm/features"
)

var (
	// ErrInvalidConfig is returned by Validate.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrUnknownFeature is returned for a feature name that is not known.
	ErrUnknownFeature = errors.New("unknown feature")
)

// Config is the top-level configuration.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Accounts AccountsConfig `yaml:"accounts"`
	Fixtures FixturesConfig `yaml:"fixtures"`
	Replay   ReplayConfig   `yaml:"replay"`
	Budget   BudgetConfig   `yaml:"budget"`
	Features FeaturesConfig `yaml:"features"`
}

// LogConfig controls diagnostics output.
type LogConfig struct {
	Level  string `yaml:"level"`  // "debug" | "info" | "warn" | "error"
	Format string `yaml:"format"` // "console" | "json"
}

// AccountsConfig locates the accounts database.
type AccountsConfig struct {
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"in_memory,omitempty"`
}

// FixturesConfig locates the fixture store.
type FixturesConfig struct {
	Path string `yaml:"path"`
}

// ReplayConfig controls input building and replay.
type ReplayConfig struct {
	CompressOutput       bool   `yaml:"compress_output"`
	LogLimit             int    `yaml:"log_limit"`
	VerifySignatures     bool   `yaml:"verify_signatures"`
	LamportsPerSignature uint64 `yaml:"lamports_per_signature"`
	CommitFailed         bool   `yaml:"commit_failed,omitempty"`
}

// BudgetConfig overrides the compute budget derived from the transaction.
// A zero ComputeUnitLimit keeps the derived budget.
type BudgetConfig struct {
	ComputeUnitLimit          uint64 `yaml:"compute_unit_limit,omitempty"`
	MaxInvokeStackHeight      uint64 `yaml:"max_invoke_stack_height,omitempty"`
	MaxInstructionTraceLength uint64 `yaml:"max_instruction_trace_length,omitempty"`
}

// FeaturesConfig selects the active feature gates.
type FeaturesConfig struct {
	// All activates every known feature before Enabled/Disabled apply.
	All      bool     `yaml:"all"`
	Enabled  []string `yaml:"enabled,omitempty"`
	Disabled []string `yaml:"disabled,omitempty"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Accounts: AccountsConfig{Path: "data/accounts"},
		Fixtures: FixturesConfig{Path: "data/fixtures.db"},
		Replay: ReplayConfig{
			LogLimit:             harness.DefaultConfig().LogLimit,
			VerifySignatures:     true,
			LamportsPerSignature: 5000,
		},
		Features: FeaturesConfig{All: true},
	}
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config %q: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "trace", "disabled":
	default:
		return fmt.Errorf("%w: log level %q", ErrInvalidConfig, c.Log.Level)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("%w: log format %q", ErrInvalidConfig, c.Log.Format)
	}
	if c.Accounts.Path == "" && !c.Accounts.InMemory {
		return fmt.Errorf("%w: accounts path is required", ErrInvalidConfig)
	}
	if c.Replay.LogLimit < 0 {
		return fmt.Errorf("%w: negative log limit", ErrInvalidConfig)
	}
	if c.Budget.ComputeUnitLimit > svm.CUMax {
		return fmt.Errorf("%w: compute unit limit %d exceeds %d", ErrInvalidConfig, c.Budget.ComputeUnitLimit, uint64(svm.CUMax))
	}
	if _, err := c.FeatureSet(); err != nil {
		return err
	}
	return nil
}

// FeatureSet returns the configured feature gates.
func (c *Config) FeatureSet() (*features.FeatureSet, error) {
	fs := features.New()
	if c.Features.All {
		fs = features.AllEnabled()
	}
	for _, name := range c.Features.Enabled {
		id, ok := features.Known[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownFeature, name)
		}
		fs.Activate(id, 0)
	}
	for _, name := range c.Features.Disabled {
		id, ok := features.Known[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownFeature, name)
		}
		fs.Deactivate(id)
	}
	return fs, nil
}

// ComputeBudget returns the budget override, or nil to derive the budget
// from each transaction.
func (c *Config) ComputeBudget() *svm.ComputeBudget {
	if c.Budget.ComputeUnitLimit == 0 {
		return nil
	}
	b := svm.DefaultComputeBudget()
	b.ComputeUnitLimit = c.Budget.ComputeUnitLimit
	if c.Budget.MaxInvokeStackHeight > 0 {
		b.MaxInvokeStackHeight = c.Budget.MaxInvokeStackHeight
	}
	if c.Budget.MaxInstructionTraceLength > 0 {
		b.MaxInstructionTraceLength = c.Budget.MaxInstructionTraceLength
	}
	return &b
}

// ReplayerConfig turns the configuration into replayer settings.
func (c *Config) ReplayerConfig() (replayer.Config, error) {
	fs, err := c.FeatureSet()
	if err != nil {
		return replayer.Config{}, err
	}
	rc := replayer.DefaultConfig()
	rc.Builder.Features = fs
	rc.Builder.Budget = c.ComputeBudget()
	rc.Builder.VerifySignatures = c.Replay.VerifySignatures
	rc.Builder.LamportsPerSignature = c.Replay.LamportsPerSignature
	rc.Harness.LogLimit = c.Replay.LogLimit
	rc.Harness.CompressOutput = c.Replay.CompressOutput
	rc.CommitFailed = c.Replay.CommitFailed
	return rc, nil
}

// FeatureNames lists the known feature names in sorted order.
func FeatureNames() []string {
	names := make([]string, 0, len(features.Known))
	for name := range features.Known {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
