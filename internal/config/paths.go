package config

import (
	"os"
	"path/filepath"
)

// TaskwirePath returns the root directory for taskwire data.
// It uses $TASKWIRE_PATH if set, otherwise defaults to ~/.taskwire.
func TaskwirePath() string {
	if v := os.Getenv("TASKWIRE_PATH"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".taskwire")
	}
	return filepath.Join(home, ".taskwire")
}

// ConfigPath returns the path to the taskwire config file.
func ConfigPath() string {
	return filepath.Join(TaskwirePath(), "config.jsonc")
}

// DotenvPath returns the path to the taskwire .env file.
func DotenvPath() string {
	return filepath.Join(TaskwirePath(), ".env")
}
