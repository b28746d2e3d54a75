package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/killswitch/internal/api"
	"github.com/hugo-lorenzo-mato/killswitch/internal/census"
	"github.com/hugo-lorenzo-mato/killswitch/internal/config"
	"github.com/hugo-lorenzo-mato/killswitch/internal/core"
	"github.com/hugo-lorenzo-mato/killswitch/internal/handler"
	"github.com/hugo-lorenzo-mato/killswitch/internal/host/process"
	"github.com/hugo-lorenzo-mato/killswitch/internal/incident"
	"github.com/hugo-lorenzo-mato/killswitch/internal/logging"
)

// run executes the root command with args and returns its output.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)
	err := rootCmd.Execute()
	return out.String(), err
}

// writeConfig points --config at a fresh file with the given YAML.
func writeConfig(t *testing.T, yamlText string) string {
	t.Helper()
	viper.Reset()
	path := filepath.Join(t.TempDir(), "killswitch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlText), 0o600))
	cfgFile = path
	t.Cleanup(func() {
		cfgFile = ""
		viper.Reset()
	})
	return path
}

type stubNotifier struct {
	outcome handler.Outcome
	flags   core.ExhaustionFlags
	source  string
}

func (n *stubNotifier) OnResourceExhaustedFrom(_ context.Context, flags core.ExhaustionFlags, source string) handler.Outcome {
	n.flags = flags
	n.source = source
	return n.outcome
}

func (n *stubNotifier) State() handler.State { return handler.StateIdle }

func TestExecute_Help(t *testing.T) {
	out, err := run(t, "--help")
	require.NoError(t, err)
	for _, sub := range []string{"watch", "notify", "histogram", "incidents", "config", "version"} {
		assert.Contains(t, out, sub)
	}
}

func TestVersionCommand(t *testing.T) {
	SetVersion("v1.2.3", "abc123def", "2024-01-15")
	defer SetVersion("", "", "")

	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "killswitch v1.2.3")
	assert.Contains(t, out, "commit: abc123def")
	assert.Contains(t, out, "built:  2024-01-15")
	assert.Equal(t, "v1.2.3", GetVersion())
}

func TestHistogramCommand(t *testing.T) {
	out, err := run(t, "histogram", "--json=false", "--max-entries", "100", filepath.Join("testdata", "leak.hprof"))
	require.NoError(t, err)

	assert.Contains(t, out, "3 classes, 4 objects")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "| Instance Count | Total Bytes | Class Name       |", lines[1])
	assert.Equal(t, "| 1              | 28          | int[]            |", lines[3])
	assert.Equal(t, "| 1              | 24          | com.example.Leak |", lines[4])
}

func TestHistogramCommand_JSONAndLimit(t *testing.T) {
	out, err := run(t, "histogram", "--json", "--max-entries", "1", filepath.Join("testdata", "leak.hprof"))
	require.NoError(t, err)

	var entries []census.Entry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	assert.Equal(t, []census.Entry{{Name: "int[]", Count: 1, TotalBytes: 28}}, entries)
}

func TestHistogramCommand_Errors(t *testing.T) {
	_, err := run(t, "histogram", filepath.Join(t.TempDir(), "missing.hprof"))
	assert.True(t, core.IsCategory(err, core.ErrCatIO))

	bad := filepath.Join(t.TempDir(), "bad.hprof")
	require.NoError(t, os.WriteFile(bad, []byte("not a heap dump\x00"), 0o600))
	_, err = run(t, "histogram", "--max-entries", "100", bad)
	assert.True(t, core.IsCategory(err, core.ErrCatParse))

	_, err = run(t, "histogram", "--max-entries", "-1", bad)
	assert.Error(t, err)
}

func TestNotificationURL(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:7070/api/v1/notifications", notificationURL("127.0.0.1:7070"))
	assert.Equal(t, "https://ks.example.com/api/v1/notifications", notificationURL("https://ks.example.com/"))
}

func TestSendNotification(t *testing.T) {
	n := &stubNotifier{outcome: handler.OutcomeSuppressed}
	srv := httptest.NewServer(api.NewServer(n).Handler())
	defer srv.Close()

	resp, err := sendNotification(context.Background(), srv.Client(), srv.URL,
		api.NotificationRequest{Flags: "threads,oom", Source: "test"})
	require.NoError(t, err)
	assert.Equal(t, handler.OutcomeSuppressed, resp.Outcome)
	assert.Equal(t, core.ThreadsExhausted|core.OOMErrorImminent, n.flags)
	assert.Equal(t, "test", n.source)

	_, err = sendNotification(context.Background(), srv.Client(), srv.URL,
		api.NotificationRequest{Flags: "disk"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown exhaustion flag")
}

func TestNotifyCommand(t *testing.T) {
	n := &stubNotifier{outcome: handler.OutcomeEscalated}
	srv := httptest.NewServer(api.NewServer(n).Handler())
	defer srv.Close()

	out, err := run(t, "notify", "--flags", "heap", "--addr", srv.URL, "--json=false")
	require.NoError(t, err)
	assert.Equal(t, "escalated (flags: heap, state: idle)\n", out)
	assert.Equal(t, "cli", n.source)

	_, err = run(t, "notify", "--flags", "nope", "--addr", srv.URL)
	assert.True(t, core.IsCategory(err, core.ErrCatParse))
}

func TestIncidentsCommand(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "incidents.db")
	writeConfig(t, "incidents:\n  db_path: "+dbPath+"\n")

	out, err := run(t, "incidents", "--json=false")
	require.NoError(t, err)
	assert.Contains(t, out, "No incidents recorded.")

	store, err := incident.NewStore(dbPath)
	require.NoError(t, err)
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Insert(context.Background(), &incident.Incident{
		ID:         "6f1c2f9e-0000-4000-8000-000000000001",
		StartedAt:  start,
		FinishedAt: start.Add(5200 * time.Millisecond),
		PID:        4242,
		Flags:      core.HeapExhausted | core.OOMErrorImminent,
		Count:      3,
		Threshold:  2,
		Killed:     true,
	}))
	require.NoError(t, store.Close())

	out, err = run(t, "incidents", "--json=false", "--limit", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "6f1c2f9e-0000-4000-8000-000000000001")
	assert.Contains(t, out, "heap|oom")
	assert.Contains(t, out, "3/2")
	assert.Contains(t, out, "5.2s")

	out, err = run(t, "incidents", "--json")
	require.NoError(t, err)
	var list []incident.Incident
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list, 1)
	assert.Equal(t, 4242, list[0].PID)

	out, err = run(t, "incidents", "6f1c2f9e-0000-4000-8000-000000000001")
	require.NoError(t, err)
	assert.Contains(t, out, `"killed": true`)

	_, err = run(t, "incidents", "missing")
	assert.ErrorIs(t, err, incident.ErrNotFound)
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ks.yaml")

	out, err := run(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote "+path)

	_, err = run(t, "config", "init", path)
	assert.Error(t, err, "existing file is kept without --force")

	_, err = run(t, "config", "init", "--force", path)
	require.NoError(t, err)
	configInitForce = false

	viper.Reset()
	cfgFile = path
	defer func() {
		cfgFile = ""
		viper.Reset()
	}()
	out, err = run(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "thresholds:")
	assert.Contains(t, out, "jcmd: jcmd")
}

func TestConfigShow_InvalidConfig(t *testing.T) {
	writeConfig(t, "thresholds:\n  time: -1\n")
	_, err := run(t, "config", "show")
	assert.Error(t, err)
}

func TestApplyOptions(t *testing.T) {
	cfg := &config.Config{
		Thresholds: config.ThresholdsConfig{Time: 1},
		Actions:    config.ActionsConfig{HeapHistogramMaxEntries: 100, PrintMemoryUsage: true},
		Target:     config.TargetConfig{Jcmd: "jcmd"},
		Log:        config.LogConfig{Level: "info", Format: "auto"},
	}

	require.NoError(t, applyOptions(cfg, ""))
	assert.Equal(t, 1, cfg.Thresholds.Time)

	require.NoError(t, applyOptions(cfg, "time=10,count=2,printHeapHistogram=1"))
	assert.Equal(t, 10, cfg.Thresholds.Time)
	assert.Equal(t, 2, cfg.Thresholds.Count)
	assert.True(t, cfg.Actions.PrintHeapHistogram)
	assert.True(t, cfg.Actions.PrintMemoryUsage, "unset keys keep their value")

	assert.Error(t, applyOptions(cfg, "bogus=1"))
}

func TestWatchTarget_RequiresASource(t *testing.T) {
	cfg := &config.Config{Thresholds: config.ThresholdsConfig{Time: 1}}
	target := process.New(0)
	err := watchTarget(context.Background(), cfg, target, logging.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no notification source")
}
