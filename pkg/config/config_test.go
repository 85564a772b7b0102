package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fortiblox/stratus-replay/pkg/svm/features"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "txreplay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Nil(t, cfg.ComputeBudget())

	fs, err := cfg.FeatureSet()
	require.NoError(t, err)
	for _, id := range features.Known {
		require.True(t, fs.IsActive(id))
	}
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
  format: json
accounts:
  path: /tmp/accounts
replay:
  compress_output: true
  log_limit: 2048
  verify_signatures: false
budget:
  compute_unit_limit: 50000
features:
  all: false
  enabled:
    - enable_program_runtime_v2_and_loader_v4
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, "json", cfg.Log.Format)
	require.Equal(t, "/tmp/accounts", cfg.Accounts.Path)

	// Unset values keep their defaults.
	require.Equal(t, "data/fixtures.db", cfg.Fixtures.Path)
	require.Equal(t, uint64(5000), cfg.Replay.LamportsPerSignature)

	rc, err := cfg.ReplayerConfig()
	require.NoError(t, err)
	require.True(t, rc.Harness.CompressOutput)
	require.Equal(t, 2048, rc.Harness.LogLimit)
	require.False(t, rc.Builder.VerifySignatures)
	require.NotNil(t, rc.Builder.Budget)
	require.Equal(t, uint64(50000), rc.Builder.Budget.ComputeUnitLimit)
	require.True(t, rc.Builder.Features.IsActive(features.EnableLoaderV4))
	require.False(t, rc.Builder.Features.IsActive(features.SystemTransferZeroCheck))
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, "log: [unterminated"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, "log:\n  level: loud\n"))
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = Load(writeConfig(t, "features:\n  disabled: [no_such_feature]\n"))
	require.ErrorIs(t, err, ErrUnknownFeature)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"format", func(c *Config) { c.Log.Format = "xml" }},
		{"accounts path", func(c *Config) { c.Accounts.Path = "" }},
		{"log limit", func(c *Config) { c.Replay.LogLimit = -1 }},
		{"compute limit", func(c *Config) { c.Budget.ComputeUnitLimit = 2_000_000 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}

	cfg := Default()
	cfg.Accounts.Path = ""
	cfg.Accounts.InMemory = true
	require.NoError(t, cfg.Validate())
}

func TestFeatureNames(t *testing.T) {
	names := FeatureNames()
	require.Len(t, names, len(features.Known))
	require.IsIncreasing(t, names)
}
