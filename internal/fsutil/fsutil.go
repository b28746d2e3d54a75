// Package fsutil opens files through an os.Root scoped to their directory,
// so a crafted name cannot walk out of it through symlinks or "..".
package fsutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// OpenScoped opens path for reading through a root at its directory.
func OpenScoped(path string) (*os.File, error) {
	cleaned := filepath.Clean(path)
	dir := filepath.Dir(cleaned)
	base := filepath.Base(cleaned)
	if base == "" || base == "." || base == ".." || base == string(filepath.Separator) {
		return nil, fmt.Errorf("invalid file path: %q", path)
	}

	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, err
	}
	defer root.Close()

	return root.Open(base)
}

// ReadFileScoped reads a whole file through OpenScoped.
func ReadFileScoped(path string) ([]byte, error) {
	file, err := OpenScoped(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return io.ReadAll(file)
}
