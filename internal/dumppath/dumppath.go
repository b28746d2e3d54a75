// Package dumppath resolves heap dump path templates. Templates use
// strftime conversions, e.g. "/var/dumps/heap-%Y%m%d-%H%M%S.hprof".
package dumppath

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ncruces/go-strftime"

	"github.com/hugo-lorenzo-mato/killswitch/internal/core"
)

// conversions lists the accepted characters after '%'.
const conversions = "aAbBcCdDeFgGhHIjmMnprRStTuUVwWxXyYzZ%"

// Validate checks that every '%' in pattern starts a known conversion.
func Validate(pattern string) error {
	if pattern == "" {
		return core.ErrParse(core.CodeInvalidPattern, "empty heap dump path")
	}
	for i := 0; i < len(pattern); i++ {
		if pattern[i] != '%' {
			continue
		}
		if i+1 == len(pattern) {
			return core.ErrParse(core.CodeInvalidPattern,
				fmt.Sprintf("heap dump path %q ends with a bare %%", pattern))
		}
		i++
		if !strings.ContainsRune(conversions, rune(pattern[i])) {
			return core.ErrParse(core.CodeInvalidPattern,
				fmt.Sprintf("heap dump path %q: unknown conversion %%%c", pattern, pattern[i]))
		}
	}
	return nil
}

// Resolve expands pattern at now and makes the result absolute against
// the working directory.
func Resolve(pattern string, now time.Time) (string, error) {
	if err := Validate(pattern); err != nil {
		return "", err
	}
	path := strftime.Format(pattern, now)
	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", core.ErrIO("unable to determine working directory", err)
	}
	return filepath.Join(wd, path), nil
}
