package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// AtomicWrite writes data to path through a temp file and rename, so a
// reader never sees a partial config. An existing file keeps its mode.
func AtomicWrite(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	perm := os.FileMode(0o600)
	if info, err := os.Stat(path); err == nil {
		perm = info.Mode().Perm()
	}

	if err := renameio.WriteFile(path, data, perm); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// WriteDefault writes DefaultConfigYAML to path unless a file already
// exists there and force is false.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists: %s", path)
		}
	}
	return AtomicWrite(path, []byte(DefaultConfigYAML))
}
