package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolateEnv(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("XDG_STATE_HOME", "")
	t.Setenv("OPENCLAW_HOME", "")
	return home
}

func TestDefaultConfig(t *testing.T) {
	home := isolateEnv(t)

	cfg, err := DefaultConfig()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".openclaw", "agents", "main", "sessions"), cfg.SessionsDir)
	assert.Equal(t, filepath.Join(home, ".config", "costledger", "cost-rates.json"), cfg.TariffPath)
	assert.Equal(t, filepath.Join(home, ".local", "state", "costledger", "ledger.db"), cfg.DBPath)
	assert.Equal(t, ".jsonl", cfg.Extension)
	assert.Equal(t, time.Second, cfg.SettleDelay)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, 15*time.Minute, cfg.RollupInterval)
	assert.True(t, cfg.StoreRawPayload)
	assert.False(t, cfg.ForcePolling)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestDefaultPaths_HonourEnvironment(t *testing.T) {
	isolateEnv(t)
	t.Setenv("XDG_CONFIG_HOME", "/cfg")
	t.Setenv("XDG_STATE_HOME", "/state")
	t.Setenv("OPENCLAW_HOME", "/claw")

	cfg, err := DefaultConfig()
	require.NoError(t, err)
	assert.Equal(t, "/claw/agents/main/sessions", cfg.SessionsDir)
	assert.Equal(t, "/cfg/costledger/cost-rates.json", cfg.TariffPath)
	assert.Equal(t, "/state/costledger/ledger.db", cfg.DBPath)

	path, err := DefaultConfigPath()
	require.NoError(t, err)
	assert.Equal(t, "/cfg/costledger/config.yaml", path)
}

func TestLoadFrom_MissingFile(t *testing.T) {
	isolateEnv(t)
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	def, err := DefaultConfig()
	require.NoError(t, err)
	assert.Equal(t, def, cfg)
}

func TestLoadFrom_ValidFile(t *testing.T) {
	home := isolateEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
sessions_dir: ~/sessions
extension: log
settle_delay: 250ms
rollup_interval: 1h
force_polling: true
store_raw_payload: false
timezone: UTC
log:
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "sessions"), cfg.SessionsDir)
	assert.Equal(t, ".log", cfg.Extension)
	assert.Equal(t, 250*time.Millisecond, cfg.SettleDelay)
	assert.Equal(t, time.Hour, cfg.RollupInterval)
	assert.True(t, cfg.ForcePolling)
	assert.False(t, cfg.StoreRawPayload)
	assert.Equal(t, "json", cfg.Log.Format)
	// Untouched keys keep their defaults.
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestLoadFrom_NonPositiveDurationsFallBack(t *testing.T) {
	isolateEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("poll_interval: 0s\nrollup_interval: -5m\n"), 0o644))

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultPollInterval, cfg.PollInterval)
	assert.Equal(t, DefaultRollupInterval, cfg.RollupInterval)
}

func TestLoadFrom_InvalidValues(t *testing.T) {
	isolateEnv(t)
	tests := map[string]string{
		"timezone":   "timezone: Mars/Olympus_Mons\n",
		"log format": "log:\n  format: xml\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
			_, err := LoadFrom(path)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid), "err = %v", err)
		})
	}
}

func TestLoadFrom_MalformedYAML(t *testing.T) {
	isolateEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sessions_dir: [unclosed\n"), 0o644))
	_, err := LoadFrom(path)
	assert.Error(t, err)
}

func TestApply(t *testing.T) {
	home := isolateEnv(t)
	cfg, err := DefaultConfig()
	require.NoError(t, err)

	cfg.Apply(Overrides{SessionsDir: "/s", TariffPath: "~/rates.json", Verbose: true})
	assert.Equal(t, "/s", cfg.SessionsDir)
	assert.Equal(t, filepath.Join(home, "rates.json"), cfg.TariffPath)
	assert.Equal(t, "debug", cfg.Log.Level)

	before := cfg.DBPath
	cfg.Apply(Overrides{})
	assert.Equal(t, before, cfg.DBPath)
}
