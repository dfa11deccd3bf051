package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const envActionatorDataDir = "ACTIONATOR_DATA_DIR"

// resolveDBPath picks the run history database: the configured path, then
// $ACTIONATOR_DATA_DIR/runs.db, then ~/.actionator/runs.db.
func resolveDBPath(configured string) (string, error) {
	if path := strings.TrimSpace(configured); path != "" {
		if path == ":memory:" {
			return path, nil
		}
		return expandHomePath(path)
	}

	if dir := strings.TrimSpace(os.Getenv(envActionatorDataDir)); dir != "" {
		dir, err := expandHomePath(dir)
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, "runs.db"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".actionator", "runs.db"), nil
}

func expandHomePath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("path cannot be empty")
	}

	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if path == "~" {
			return home, nil
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
	}

	return path, nil
}
