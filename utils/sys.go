package utils

import (
	"log"
	"os"
	"path/filepath"
)

var HomeDir string

func init() {
	var err error
	HomeDir, err = os.UserHomeDir()
	if err != nil {
		log.Fatal("failed to get $HOME value")
	}
}

func DefaultXswapDirectory() string {
	return filepath.Join(HomeDir, ".xswap")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultXswapDirectory(), "config.json")
}

func DefaultStorePath() string {
	return filepath.Join(DefaultXswapDirectory(), "data.db")
}

func DefaultXswapLogs() string {
	return filepath.Join(DefaultXswapDirectory(), "logs")
}

func DefaultXswapPids() string {
	return filepath.Join(DefaultXswapDirectory(), "pids")
}

// EnsureDirectories creates the data, log and pid directories.
func EnsureDirectories() error {
	for _, dir := range []string{DefaultXswapDirectory(), DefaultXswapLogs(), DefaultXswapPids()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
