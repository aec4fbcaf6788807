package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const appName = "costledger"

func homeDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve home dir: %w", err)
	}
	return home, nil
}

// ConfigDir is $XDG_CONFIG_HOME/costledger, defaulting to ~/.config/costledger.
func ConfigDir() (string, error) {
	if base := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); base != "" {
		return filepath.Join(base, appName), nil
	}
	home, err := homeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", appName), nil
}

// StateDir is $XDG_STATE_HOME/costledger, defaulting to ~/.local/state/costledger.
func StateDir() (string, error) {
	if base := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); base != "" {
		return filepath.Join(base, appName), nil
	}
	home, err := homeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "state", appName), nil
}

// OpenClawHome is $OPENCLAW_HOME, defaulting to ~/.openclaw.
func OpenClawHome() (string, error) {
	if base := strings.TrimSpace(os.Getenv("OPENCLAW_HOME")); base != "" {
		return base, nil
	}
	home, err := homeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".openclaw"), nil
}

func DefaultConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func DefaultTariffPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "cost-rates.json"), nil
}

func DefaultDBPath() (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "ledger.db"), nil
}

func DefaultSessionsDir() (string, error) {
	base, err := OpenClawHome()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "agents", "main", "sessions"), nil
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
