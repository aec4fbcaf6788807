// Package config loads the service configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ErrInvalid marks a configuration value the service cannot run with.
var ErrInvalid = errors.New("invalid configuration")

const (
	DefaultExtension      = ".jsonl"
	DefaultSettleDelay    = time.Second
	DefaultPollInterval   = 2 * time.Second
	DefaultRollupInterval = 15 * time.Minute
	DefaultTimezone       = "Local"
)

type Log struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type Config struct {
	SessionsDir     string        `koanf:"sessions_dir"`
	Extension       string        `koanf:"extension"`
	TariffPath      string        `koanf:"tariff_path"`
	DBPath          string        `koanf:"db_path"`
	SettleDelay     time.Duration `koanf:"settle_delay"`
	PollInterval    time.Duration `koanf:"poll_interval"`
	ForcePolling    bool          `koanf:"force_polling"`
	RollupInterval  time.Duration `koanf:"rollup_interval"`
	Timezone        string        `koanf:"timezone"`
	StoreRawPayload bool          `koanf:"store_raw_payload"`
	Log             Log           `koanf:"log"`
}

// Overrides are command-line values that win over the file. Empty fields are
// ignored.
type Overrides struct {
	SessionsDir string
	TariffPath  string
	DBPath      string
	Verbose     bool
}

func DefaultConfig() (Config, error) {
	sessions, err := DefaultSessionsDir()
	if err != nil {
		return Config{}, err
	}
	tariff, err := DefaultTariffPath()
	if err != nil {
		return Config{}, err
	}
	db, err := DefaultDBPath()
	if err != nil {
		return Config{}, err
	}
	return Config{
		SessionsDir:     sessions,
		Extension:       DefaultExtension,
		TariffPath:      tariff,
		DBPath:          db,
		SettleDelay:     DefaultSettleDelay,
		PollInterval:    DefaultPollInterval,
		RollupInterval:  DefaultRollupInterval,
		Timezone:        DefaultTimezone,
		StoreRawPayload: true,
		Log:             Log{Level: "info", Format: "text"},
	}, nil
}

func Load() (Config, error) {
	path, err := DefaultConfigPath()
	if err != nil {
		return Config{}, err
	}
	return LoadFrom(path)
}

// LoadFrom reads a YAML config file on top of the defaults. A missing file
// yields the defaults.
func LoadFrom(path string) (Config, error) {
	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	if _, err := os.Stat(path); err == nil {
		k := koanf.New(".")
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
		}
		if err := k.Unmarshal("", &cfg); err != nil {
			return Config{}, fmt.Errorf("config: decoding %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := cfg.normalize(); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Apply merges command-line overrides.
func (c *Config) Apply(o Overrides) {
	if v := strings.TrimSpace(o.SessionsDir); v != "" {
		c.SessionsDir = expandHome(v)
	}
	if v := strings.TrimSpace(o.TariffPath); v != "" {
		c.TariffPath = expandHome(v)
	}
	if v := strings.TrimSpace(o.DBPath); v != "" {
		c.DBPath = expandHome(v)
	}
	if o.Verbose {
		c.Log.Level = "debug"
	}
}

func (c *Config) normalize() error {
	c.SessionsDir = expandHome(strings.TrimSpace(c.SessionsDir))
	c.TariffPath = expandHome(strings.TrimSpace(c.TariffPath))
	c.DBPath = expandHome(strings.TrimSpace(c.DBPath))

	ext := strings.TrimSpace(c.Extension)
	if ext == "" {
		ext = DefaultExtension
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	c.Extension = ext

	if c.SettleDelay <= 0 {
		c.SettleDelay = DefaultSettleDelay
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.RollupInterval <= 0 {
		c.RollupInterval = DefaultRollupInterval
	}
	if strings.TrimSpace(c.Timezone) == "" {
		c.Timezone = DefaultTimezone
	}
	if _, err := c.Location(); err != nil {
		return err
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "text":
		c.Log.Format = "text"
	case "json":
		c.Log.Format = "json"
	default:
		return fmt.Errorf("%w: log.format %q", ErrInvalid, c.Log.Format)
	}
	return nil
}

// Location resolves Timezone.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, DefaultTimezone) {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %v", ErrInvalid, c.Timezone, err)
	}
	return loc, nil
}
