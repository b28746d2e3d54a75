// Package watch turns observations of a target process into resource
// exhaustion notifications.
package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hugo-lorenzo-mato/killswitch/internal/core"
	"github.com/hugo-lorenzo-mato/killswitch/internal/handler"
	"github.com/hugo-lorenzo-mato/killswitch/internal/logging"
)

// Snapshot captures the target's resource state at a point in time.
type Snapshot struct {
	Timestamp     time.Time `json:"timestamp"`
	RSSBytes      uint64    `json:"rss_bytes"`
	VMSBytes      uint64    `json:"vms_bytes"`
	SwapBytes     uint64    `json:"swap_bytes"`
	Threads       int32     `json:"threads"`
	OpenFDs       int32     `json:"open_fds"`
	MemoryPercent float32   `json:"memory_percent"`
}

// Sampler reads the target's current resource usage.
type Sampler interface {
	Sample(ctx context.Context) (Snapshot, error)
}

// Notifier receives exhaustion notifications. *handler.Handler implements it.
type Notifier interface {
	OnResourceExhaustedFrom(ctx context.Context, flags core.ExhaustionFlags, source string) handler.Outcome
}

// Trend summarizes resource growth over the recorded history.
type Trend struct {
	RSSGrowthMBPerMin  float64  `json:"rss_growth_mb_per_min"`
	ThreadGrowthPerMin float64  `json:"thread_growth_per_min"`
	ApproachingLimit   bool     `json:"approaching_limit"`
	Warnings           []string `json:"warnings,omitempty"`
}

// MonitorConfig holds the polling limits. A zero limit disables its check.
type MonitorConfig struct {
	Interval         time.Duration
	MemoryLimitBytes uint64
	ThreadLimit      int
	HistorySize      int
}

// Monitor polls a Sampler and raises notifications when a limit is hit.
type Monitor struct {
	sampler  Sampler
	notifier Notifier
	cfg      MonitorConfig
	logger   *logging.Logger

	history []Snapshot
	mu      sync.RWMutex

	stopCh  chan struct{}
	stopped atomic.Bool
}

// NewMonitor creates a monitor.
func NewMonitor(sampler Sampler, notifier Notifier, cfg MonitorConfig, logger *logging.Logger) *Monitor {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 120
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Monitor{
		sampler:  sampler,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		history:  make([]Snapshot, 0, cfg.HistorySize),
		stopCh:   make(chan struct{}),
	}
}

// Run polls until ctx is done, Stop is called, the target exits or the
// handler reports that it has already terminated the target.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		done, err := m.poll(ctx)
		if err != nil || done {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-m.stopCh:
			return nil
		case <-ticker.C:
		}
	}
}

func (m *Monitor) poll(ctx context.Context) (bool, error) {
	snap, flags, err := m.Check(ctx)
	if errors.Is(err, core.ErrTargetExited) {
		m.logger.Info("target exited, monitor stopping")
		return true, nil
	}
	if err != nil {
		// Transient sampling failures are logged and retried on the next tick.
		m.logger.Warn("sampling target", "error", err)
		return false, nil
	}
	if flags == 0 {
		return false, nil
	}

	m.logger.Warn("resource limit reached",
		"flags", flags.String(),
		"rss_bytes", snap.RSSBytes,
		"threads", snap.Threads)
	if m.notifier.OnResourceExhaustedFrom(ctx, flags, "monitor") == handler.OutcomeIgnored {
		return true, nil
	}
	return false, nil
}

// Check takes one sample, records it and returns the flags it raises.
func (m *Monitor) Check(ctx context.Context) (Snapshot, core.ExhaustionFlags, error) {
	snap, err := m.sampler.Sample(ctx)
	if err != nil {
		return Snapshot{}, 0, err
	}
	if snap.Timestamp.IsZero() {
		snap.Timestamp = time.Now()
	}
	m.record(snap)
	return snap, m.flagsFor(snap), nil
}

func (m *Monitor) flagsFor(s Snapshot) core.ExhaustionFlags {
	var flags core.ExhaustionFlags
	if m.cfg.MemoryLimitBytes > 0 && s.RSSBytes >= m.cfg.MemoryLimitBytes {
		flags |= core.HeapExhausted | core.OOMErrorImminent
	}
	if m.cfg.ThreadLimit > 0 && int(s.Threads) >= m.cfg.ThreadLimit {
		flags |= core.ThreadsExhausted
	}
	return flags
}

// Stop halts Run.
func (m *Monitor) Stop() {
	if m.stopped.CompareAndSwap(false, true) {
		close(m.stopCh)
	}
}

func (m *Monitor) record(s Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.history = append(m.history, s)

	// Trim to history size
	if len(m.history) > m.cfg.HistorySize {
		m.history = m.history[len(m.history)-m.cfg.HistorySize:]
	}
}

// History returns the recorded snapshots, oldest first.
func (m *Monitor) History() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]Snapshot, len(m.history))
	copy(result, m.history)
	return result
}

// Latest returns the most recent snapshot.
func (m *Monitor) Latest() (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.history) == 0 {
		return Snapshot{}, false
	}
	return m.history[len(m.history)-1], true
}

// Trend reports growth rates between the first and last snapshot.
func (m *Monitor) Trend() Trend {
	history := m.History()
	if len(history) < 2 {
		return Trend{}
	}

	first := history[0]
	last := history[len(history)-1]
	minutes := last.Timestamp.Sub(first.Timestamp).Minutes()
	if minutes <= 0 {
		return Trend{}
	}

	trend := Trend{
		RSSGrowthMBPerMin:  (float64(last.RSSBytes) - float64(first.RSSBytes)) / 1024 / 1024 / minutes,
		ThreadGrowthPerMin: float64(last.Threads-first.Threads) / minutes,
	}

	if m.cfg.MemoryLimitBytes > 0 && float64(last.RSSBytes) >= 0.9*float64(m.cfg.MemoryLimitBytes) {
		trend.ApproachingLimit = true
		trend.Warnings = append(trend.Warnings,
			fmt.Sprintf("RSS at %.1f%% of the memory limit",
				float64(last.RSSBytes)/float64(m.cfg.MemoryLimitBytes)*100))
	}
	if m.cfg.ThreadLimit > 0 && float64(last.Threads) >= 0.9*float64(m.cfg.ThreadLimit) {
		trend.ApproachingLimit = true
		trend.Warnings = append(trend.Warnings,
			fmt.Sprintf("thread count %d of %d", last.Threads, m.cfg.ThreadLimit))
	}
	if trend.RSSGrowthMBPerMin > 0 {
		trend.Warnings = append(trend.Warnings,
			fmt.Sprintf("RSS growing at %.1f MB/min", trend.RSSGrowthMBPerMin))
	}
	return trend
}
