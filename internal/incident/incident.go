// Package incident records every escalation: a JSON report on disk and a
// row in a SQLite ledger.
package incident

import (
	"time"

	"github.com/hugo-lorenzo-mato/killswitch/internal/core"
	"github.com/hugo-lorenzo-mato/killswitch/internal/watch"
)

// ActionRecord is the outcome of one pipeline action.
type ActionRecord struct {
	Action     string `json:"action"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// HostInfo describes the machine the incident happened on.
type HostInfo struct {
	Hostname           string `json:"hostname,omitempty"`
	GOOS               string `json:"goos"`
	GOARCH             string `json:"goarch"`
	TotalPhysicalBytes int64  `json:"total_physical_bytes,omitempty"`
	TotalUsableBytes   int64  `json:"total_usable_bytes,omitempty"`
}

// Incident is one escalation from start to termination.
type Incident struct {
	ID         string               `json:"id"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt time.Time            `json:"finished_at"`
	PID        int                  `json:"pid"`
	Flags      core.ExhaustionFlags `json:"flags"`
	Count      int                  `json:"count"`
	Threshold  int                  `json:"threshold"`
	Actions    []ActionRecord       `json:"actions"`
	Killed     bool                 `json:"killed"`
	Failed     int                  `json:"failed"`
	ReportPath string               `json:"report_path,omitempty"`

	// Report-only fields; the ledger does not store them.
	Host            *HostInfo        `json:"host,omitempty"`
	ResourceHistory []watch.Snapshot `json:"resource_history,omitempty"`
	Trend           *watch.Trend     `json:"trend,omitempty"`
}

// Duration is the time from escalation to termination.
func (i *Incident) Duration() time.Duration {
	if i.FinishedAt.IsZero() {
		return 0
	}
	return i.FinishedAt.Sub(i.StartedAt)
}
