package incident

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/google/renameio/v2"
	"github.com/jaypipes/ghw"

	"github.com/hugo-lorenzo-mato/killswitch/internal/core"
	"github.com/hugo-lorenzo-mato/killswitch/internal/fsutil"
	"github.com/hugo-lorenzo-mato/killswitch/internal/logging"
)

const (
	reportPrefix = "incident-"
	reportSuffix = ".json"
)

// ReportWriter persists incident reports as JSON files.
type ReportWriter struct {
	dir      string
	maxFiles int
	logger   *logging.Logger

	mu sync.Mutex // Protects file operations
}

// NewReportWriter creates a writer keeping at most maxFiles reports in dir.
func NewReportWriter(dir string, maxFiles int, logger *logging.Logger) *ReportWriter {
	if maxFiles <= 0 {
		maxFiles = 50
	}
	if dir == "" {
		dir = ".killswitch/incidents"
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &ReportWriter{dir: dir, maxFiles: maxFiles, logger: logger}
}

// Dir returns the report directory.
func (w *ReportWriter) Dir() string {
	return w.dir
}

// Write stores inc atomically and returns the report path. A reader never
// observes a half-written report.
func (w *ReportWriter) Write(inc *Incident) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0o750); err != nil {
		return "", core.ErrIO("creating report dir", err)
	}

	filename := fmt.Sprintf("%s%s-%s%s", reportPrefix,
		inc.StartedAt.UTC().Format("2006-01-02T15-04-05"), inc.ID, reportSuffix)
	path := filepath.Join(w.dir, filename)
	inc.ReportPath = path

	data, err := json.MarshalIndent(inc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling incident report: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0o600); err != nil {
		return "", core.ErrIO("writing incident report", err)
	}

	w.cleanupOldReports()
	return path, nil
}

// cleanupOldReports removes reports exceeding maxFiles, oldest first. The
// timestamped names sort chronologically.
func (w *ReportWriter) cleanupOldReports() {
	reports, err := listReports(w.dir)
	if err != nil {
		return
	}
	for len(reports) > w.maxFiles {
		path := filepath.Join(w.dir, reports[0])
		if err := os.Remove(path); err != nil {
			w.logger.Warn("failed to remove old incident report", "path", path, "error", err)
		}
		reports = reports[1:]
	}
}

func listReports(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), reportPrefix) && strings.HasSuffix(e.Name(), reportSuffix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// LoadReport reads one report file.
func LoadReport(path string) (*Incident, error) {
	data, err := fsutil.ReadFileScoped(path)
	if err != nil {
		return nil, fmt.Errorf("reading incident report: %w", err)
	}
	var inc Incident
	if err := json.Unmarshal(data, &inc); err != nil {
		return nil, fmt.Errorf("parsing incident report: %w", err)
	}
	return &inc, nil
}

// LoadLatestReport loads the most recent report in dir.
func LoadLatestReport(dir string) (*Incident, error) {
	reports, err := listReports(dir)
	if err != nil {
		return nil, fmt.Errorf("reading report dir: %w", err)
	}
	if len(reports) == 0 {
		return nil, fmt.Errorf("no incident reports in %s", dir)
	}
	return LoadReport(filepath.Join(dir, reports[len(reports)-1]))
}

// CollectHost describes the current machine. Memory totals are best
// effort and left zero when unavailable.
func CollectHost() HostInfo {
	info := HostInfo{GOOS: runtime.GOOS, GOARCH: runtime.GOARCH}
	if name, err := os.Hostname(); err == nil {
		info.Hostname = name
	}
	if mem, err := ghw.Memory(); err == nil && mem != nil {
		info.TotalPhysicalBytes = mem.TotalPhysicalBytes
		info.TotalUsableBytes = mem.TotalUsableBytes
	}
	return info
}
