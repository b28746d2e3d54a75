package testutil_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hugo-lorenzo-mato/killswitch/internal/testutil"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "CRLF to LF", input: "line1\r\nline2\r\n", want: "line1\nline2"},
		{name: "trailing newlines", input: "line1\nline2\n\n\n", want: "line1\nline2"},
		{name: "trailing spaces kept", input: "| a   |\n", want: "| a   |"},
		{name: "empty string", input: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, testutil.Normalize(tt.input))
		})
	}
}

func TestScrubTimestamps(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "RFC 3339", input: `"opened_at": "2024-01-15T10:30:45.123Z"`, want: `"opened_at": "[TIMESTAMP]"`},
		{name: "offset", input: `"finished_at": "2024-01-15T10:30:45.5+02:00"`, want: `"finished_at": "[TIMESTAMP]"`},
		{name: "file name", input: "incident-2024-01-15T10-30-45-x.json", want: "incident-[TIMESTAMP]-x.json"},
		{name: "ratio untouched", input: "Resource Exhausted! (1/2)", want: "Resource Exhausted! (1/2)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, testutil.ScrubTimestamps(tt.input))
		})
	}
}

func TestScrubPaths(t *testing.T) {
	got := testutil.ScrubPaths("Heap dump written to /tmp/work/dump.hprof", "/tmp/work")
	assert.Equal(t, "Heap dump written to [WORKDIR]/dump.hprof", got)

	got = testutil.ScrubPaths("file at /other/path", "/tmp/work")
	assert.Equal(t, "file at /other/path", got)
}

func TestScrubUUIDs(t *testing.T) {
	got := testutil.ScrubUUIDs("a=550e8400-e29b-41d4-a716-446655440000 b=12345678-1234-1234-1234-123456789012")
	assert.Equal(t, "a=[UUID] b=[UUID]", got)
	assert.Equal(t, "plain text", testutil.ScrubUUIDs("plain text"))
}

func TestScrubAll(t *testing.T) {
	input := "incident 550e8400-e29b-41d4-a716-446655440000 opened at 2024-01-15T10:30:45Z in /srv/app\r\n\n"
	got := testutil.ScrubAll(input, "/srv/app")

	assert.Contains(t, got, "[UUID]")
	assert.Contains(t, got, "[TIMESTAMP]")
	assert.Contains(t, got, "[WORKDIR]")
	assert.NotContains(t, got, "\r\n")
}

func TestGolden_Assert(t *testing.T) {
	dir := t.TempDir()
	testutil.TempFile(t, dir, "table.golden", []byte("| a |\n"))

	g := testutil.NewGolden(t, dir)
	g.AssertString("table", "| a |\r\n")
}
