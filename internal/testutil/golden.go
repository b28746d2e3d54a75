package testutil

import (
	"flag"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

var update = flag.Bool("update", false, "update golden files")

// Golden provides golden file testing utilities.
type Golden struct {
	t       *testing.T
	baseDir string
}

// NewGolden creates a new golden file helper.
func NewGolden(t *testing.T, baseDir string) *Golden {
	return &Golden{
		t:       t,
		baseDir: baseDir,
	}
}

// Assert compares actual output against golden file.
func (g *Golden) Assert(name string, actual []byte) {
	g.t.Helper()

	goldenPath := filepath.Join(g.baseDir, name+".golden")

	if *update {
		g.updateGolden(goldenPath, actual)
		return
	}

	expected, err := os.ReadFile(goldenPath)
	if err != nil {
		g.t.Fatalf("reading golden file %s: %v", goldenPath, err)
	}

	if Normalize(string(actual)) != Normalize(string(expected)) {
		g.t.Errorf("output mismatch for %s:\n--- expected ---\n%s\n--- actual ---\n%s",
			name, expected, actual)
	}
}

// AssertString compares string output against golden file.
func (g *Golden) AssertString(name, actual string) {
	g.Assert(name, []byte(actual))
}

func (g *Golden) updateGolden(path string, actual []byte) {
	g.t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		g.t.Fatalf("creating golden directory: %v", err)
	}
	if err := os.WriteFile(path, actual, 0o644); err != nil {
		g.t.Fatalf("writing golden file: %v", err)
	}
	g.t.Logf("updated golden file: %s", path)
}

// Normalize normalizes line endings and drops trailing blank lines.
// Trailing spaces are significant in rendered tables and are kept.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.TrimRight(s, "\n")
}

var (
	timestampPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:\d{2})?`),
		// incident report file names
		regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}-\d{2}-\d{2}`),
	}
	uuidPattern = regexp.MustCompile(`[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
)

// ScrubTimestamps replaces RFC 3339 and report file-name timestamps.
func ScrubTimestamps(s string) string {
	for _, re := range timestampPatterns {
		s = re.ReplaceAllString(s, "[TIMESTAMP]")
	}
	return s
}

// ScrubPaths normalizes file paths.
func ScrubPaths(s, basePath string) string {
	return strings.ReplaceAll(s, basePath, "[WORKDIR]")
}

// ScrubUUIDs removes UUIDs from output.
func ScrubUUIDs(s string) string {
	return uuidPattern.ReplaceAllString(s, "[UUID]")
}

// ScrubAll applies all scrubbing functions.
func ScrubAll(s, basePath string) string {
	s = ScrubUUIDs(s)
	s = ScrubTimestamps(s)
	s = ScrubPaths(s, basePath)
	return Normalize(s)
}
