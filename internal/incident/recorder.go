package incident

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/killswitch/internal/events"
	"github.com/hugo-lorenzo-mato/killswitch/internal/logging"
	"github.com/hugo-lorenzo-mato/killswitch/internal/watch"
)

// HistorySource supplies the resource history attached to reports.
// *watch.Monitor implements it.
type HistorySource interface {
	History() []watch.Snapshot
	Trend() watch.Trend
}

// RecordedTypes are the events a Recorder consumes.
var RecordedTypes = []string{
	events.TypeEscalationStarted,
	events.TypeActionCompleted,
	events.TypeProcessTerminated,
}

// Recorder assembles incidents from lifecycle events and persists them
// when the process is terminated.
type Recorder struct {
	store   *Store
	reports *ReportWriter
	logger  *logging.Logger
	history HistorySource
	host    func() HostInfo

	mu        sync.Mutex
	open      map[string]*Incident
	finalized chan *Incident
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithHistory attaches the monitor's snapshots to every report.
func WithHistory(h HistorySource) RecorderOption {
	return func(r *Recorder) {
		r.history = h
	}
}

// WithHostInfo replaces CollectHost.
func WithHostInfo(fn func() HostInfo) RecorderOption {
	return func(r *Recorder) {
		r.host = fn
	}
}

// NewRecorder creates a recorder. Either store or reports may be nil to
// skip that sink.
func NewRecorder(store *Store, reports *ReportWriter, logger *logging.Logger, opts ...RecorderOption) *Recorder {
	if logger == nil {
		logger = logging.NewNop()
	}
	r := &Recorder{
		store:     store,
		reports:   reports,
		logger:    logger,
		host:      CollectHost,
		open:      make(map[string]*Incident),
		finalized: make(chan *Incident, 8),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Finalized delivers each incident once it has been persisted.
func (r *Recorder) Finalized() <-chan *Incident {
	return r.finalized
}

// Run consumes events until ch is closed or ctx is done. Subscribe with
// SubscribePriority(RecordedTypes...) so nothing is dropped.
func (r *Recorder) Run(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if err := r.Observe(ctx, e); err != nil {
				r.logger.Error("recording incident", "incident", e.IncidentID(), "error", err)
			}
		}
	}
}

// Observe applies one event.
func (r *Recorder) Observe(ctx context.Context, e events.Event) error {
	switch ev := e.(type) {
	case events.EscalationStartedEvent:
		r.mu.Lock()
		r.open[ev.IncidentID()] = &Incident{
			ID:        ev.IncidentID(),
			StartedAt: ev.Timestamp(),
			Flags:     ev.Flags,
			Count:     ev.Count,
			Threshold: ev.Threshold,
			Actions:   make([]ActionRecord, 0, len(ev.Actions)),
		}
		r.mu.Unlock()

	case events.ActionCompletedEvent:
		r.mu.Lock()
		defer r.mu.Unlock()
		inc, ok := r.open[ev.IncidentID()]
		if !ok {
			return fmt.Errorf("action %q for unknown incident %q", ev.Action, ev.IncidentID())
		}
		inc.Actions = append(inc.Actions, ActionRecord{
			Action:     ev.Action,
			Status:     ev.Status,
			Error:      ev.Error,
			DurationMS: ev.Duration.Milliseconds(),
		})

	case events.ProcessTerminatedEvent:
		r.mu.Lock()
		inc, ok := r.open[ev.IncidentID()]
		delete(r.open, ev.IncidentID())
		r.mu.Unlock()
		if !ok {
			return fmt.Errorf("termination for unknown incident %q", ev.IncidentID())
		}
		inc.FinishedAt = ev.Timestamp()
		inc.PID = ev.PID
		inc.Killed = ev.Killed
		inc.Failed = ev.Failed
		return r.finalize(ctx, inc)
	}
	return nil
}

func (r *Recorder) finalize(ctx context.Context, inc *Incident) error {
	logger := r.logger.WithIncident(inc.ID)

	if r.reports != nil {
		host := r.host()
		inc.Host = &host
		if r.history != nil {
			inc.ResourceHistory = r.history.History()
			trend := r.history.Trend()
			inc.Trend = &trend
		}
		path, err := r.reports.Write(inc)
		if err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
		logger.Info("incident report written", "path", path)
	}

	if r.store != nil {
		if err := r.store.Insert(ctx, inc); err != nil {
			return fmt.Errorf("storing incident: %w", err)
		}
	}

	logger.Info("incident recorded",
		"killed", inc.Killed,
		"failed", inc.Failed,
		"duration", inc.Duration().Round(time.Millisecond).String())

	select {
	case r.finalized <- inc:
	default:
	}
	return nil
}
