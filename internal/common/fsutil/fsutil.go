package fsutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ExpandHome expands a leading '~' to the user's home directory.
func ExpandHome(path string) (string, error) {
	if path == "" {
		return path, nil
	}
	if path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	// handle cases like ~/models/litert
	return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
}

// PathExists checks if the given path exists.
func PathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !errors.Is(err, os.ErrNotExist)
}

// EnsureDir creates dir (and parents) if it does not exist.
func EnsureDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("empty dir")
	}
	return os.MkdirAll(dir, 0o755)
}

// CacheDir returns the per-user cache directory for the daemon, honoring
// XDG_CACHE_HOME, and creates it.
func CacheDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("cache dir: %w", err)
	}
	dir := filepath.Join(base, "litert-lm")
	if err := EnsureDir(dir); err != nil {
		return "", err
	}
	return dir, nil
}
