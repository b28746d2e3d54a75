package incident

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportWriter_WriteAndLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	w := NewReportWriter(dir, 10, nil)

	inc := sampleIncident("inc-1", time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	inc.Host = &HostInfo{Hostname: "box", GOOS: "linux", GOARCH: "amd64", TotalPhysicalBytes: 1 << 34}

	path, err := w.Write(inc)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "incident-2024-03-01T12-00-00-inc-1.json"), path)
	assert.Equal(t, path, inc.ReportPath)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := LoadReport(path)
	require.NoError(t, err)
	assert.Equal(t, inc.ID, loaded.ID)
	assert.Equal(t, inc.Flags, loaded.Flags)
	assert.Equal(t, inc.Actions, loaded.Actions)
	require.NotNil(t, loaded.Host)
	assert.Equal(t, int64(1<<34), loaded.Host.TotalPhysicalBytes)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"flags": "heap|oom"`)
}

func TestReportWriter_KeepsNewest(t *testing.T) {
	dir := t.TempDir()
	w := NewReportWriter(dir, 2, nil)

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		_, err := w.Write(sampleIncident(fmt.Sprintf("inc-%d", i), base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}

	names, err := listReports(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"incident-2024-03-01T12-02-00-inc-2.json",
		"incident-2024-03-01T12-03-00-inc-3.json",
	}, names)

	latest, err := LoadLatestReport(dir)
	require.NoError(t, err)
	assert.Equal(t, "inc-3", latest.ID)
}

func TestLoadLatestReport_Empty(t *testing.T) {
	_, err := LoadLatestReport(t.TempDir())
	assert.Error(t, err)
}

func TestCollectHost(t *testing.T) {
	host := CollectHost()
	assert.NotEmpty(t, host.GOOS)
	assert.NotEmpty(t, host.GOARCH)
}
