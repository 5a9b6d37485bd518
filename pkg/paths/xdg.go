// Package paths provides XDG-compliant path resolution for livequery.
//
// Resolution order:
// 1. LIVEQUERY_HOME (portable root) → $LIVEQUERY_HOME/{config,state}
// 2. XDG env vars → $XDG_*_HOME/livequery
// 3. Platform defaults → ~/.config/livequery, ~/.local/state/livequery
package paths

import (
	"os"
	"path/filepath"
)

const appName = "livequery"

// getConfigHome returns the base config home directory.
func getConfigHome() string {
	if home := os.Getenv("LIVEQUERY_HOME"); home != "" {
		return filepath.Join(home, "config")
	}
	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		return xdgConfigHome
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".config")
	}
	return ""
}

// getStateHome returns the base state home directory.
func getStateHome() string {
	if home := os.Getenv("LIVEQUERY_HOME"); home != "" {
		return filepath.Join(home, "state")
	}
	if xdgStateHome := os.Getenv("XDG_STATE_HOME"); xdgStateHome != "" {
		return xdgStateHome
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".local", "state")
	}
	return ""
}

// ConfigDir returns the livequery configuration directory.
// Used for the global livequery.yml.
func ConfigDir() string {
	base := getConfigHome()
	if base == "" {
		return ""
	}
	if os.Getenv("LIVEQUERY_HOME") != "" {
		return base
	}
	return filepath.Join(base, appName)
}

// StateDir returns the livequery state directory.
// Used for logs and shell history.
func StateDir() string {
	base := getStateHome()
	if base == "" {
		return ""
	}
	if os.Getenv("LIVEQUERY_HOME") != "" {
		return base
	}
	return filepath.Join(base, appName)
}

// LogDir returns the directory for log files.
func LogDir() string {
	state := StateDir()
	if state == "" {
		return ""
	}
	return filepath.Join(state, "logs")
}

// HistoryPath returns the path of the shell statement history file.
func HistoryPath() string {
	state := StateDir()
	if state == "" {
		return ""
	}
	return filepath.Join(state, "history.yml")
}

// EnsureDirs creates all livequery directories if they don't exist.
func EnsureDirs() error {
	for _, dir := range []string{ConfigDir(), StateDir(), LogDir()} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
