package census

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/hugo-lorenzo-mato/killswitch/internal/core"
)

// Entry is one histogram row.
type Entry struct {
	Name       string `json:"name"`
	Count      int64  `json:"count"`
	TotalBytes int64  `json:"total_bytes"`
}

// Histogram accumulates instance counts and sizes per class name.
type Histogram struct {
	entries map[string]*Entry
}

// NewHistogram creates an empty histogram.
func NewHistogram() *Histogram {
	return &Histogram{entries: make(map[string]*Entry)}
}

// Record counts one object of the named class.
func (h *Histogram) Record(name string, size int64) {
	h.add(name, 1, size)
}

func (h *Histogram) add(name string, count, bytes int64) {
	e, ok := h.entries[name]
	if !ok {
		e = &Entry{Name: name}
		h.entries[name] = e
	}
	e.Count += count
	e.TotalBytes += bytes
}

// Len returns the number of distinct classes.
func (h *Histogram) Len() int {
	return len(h.entries)
}

// Entries returns the rows ordered by total bytes, largest first, with
// ties broken by name. max of 0 returns every row.
func (h *Histogram) Entries(max int) []Entry {
	out := make([]Entry, 0, len(h.entries))
	for _, e := range h.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalBytes != out[j].TotalBytes {
			return out[i].TotalBytes > out[j].TotalBytes
		}
		return out[i].Name < out[j].Name
	})
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}

// Demangle rewrites each entry name from a JNI signature to its source
// form. Names that fail to parse are kept and reported in the error.
func Demangle(entries []Entry) ([]Entry, error) {
	out := make([]Entry, len(entries))
	var bad []string
	for i, e := range entries {
		out[i] = e
		name, err := FormatSignature(e.Name)
		if err != nil {
			bad = append(bad, e.Name)
			continue
		}
		out[i].Name = name
	}
	if len(bad) > 0 {
		return out, core.ErrParse(core.CodeInvalidSignature,
			fmt.Sprintf("invalid class names: %s", strings.Join(bad, ", "))).
			WithDetail("signatures", bad)
	}
	return out, nil
}

const nameHeader = "Class Name"

// Render writes entries as a three-column table, one write per line.
func Render(w io.Writer, entries []Entry) error {
	width := runewidth.StringWidth(nameHeader)
	for _, e := range entries {
		if n := runewidth.StringWidth(e.Name); n > width {
			width = n
		}
	}

	if _, err := fmt.Fprintf(w, "| Instance Count | Total Bytes | %s |\n", pad(nameHeader, width)); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "| -------------- | ----------- | %s |\n", strings.Repeat("-", width)); err != nil {
		return err
	}
	for _, e := range entries {
		if _, err := fmt.Fprintf(w, "| %-14d | %-11d | %s |\n", e.Count, e.TotalBytes, pad(e.Name, width)); err != nil {
			return err
		}
	}
	return nil
}

func pad(s string, width int) string {
	return s + strings.Repeat(" ", width-runewidth.StringWidth(s))
}
