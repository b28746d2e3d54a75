// Package gate decides whether a resource exhaustion event is persistent
// enough to act on. It is a sliding-window rate check: an event escalates
// when more than the count threshold of events, itself included, fall
// within the last time threshold.
package gate

import (
	"fmt"
	"io"
	"os"
	"time"
)

// Decision is the outcome of recording one event.
type Decision struct {
	Count     int
	Threshold int
	Escalate  bool
}

// Gate is the escalation debounce. It is not safe for concurrent use; the
// handler serializes access.
type Gate struct {
	log       *EventLog
	window    time.Duration
	threshold int
	now       func() time.Time
	out       io.Writer
}

// Option configures a Gate.
type Option func(*Gate)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		g.now = now
	}
}

// WithOutput sets where progress lines are written. Defaults to stderr.
func WithOutput(w io.Writer) Option {
	return func(g *Gate) {
		g.out = w
	}
}

// New creates a gate escalating once more than countThreshold events occur
// within window.
func New(window time.Duration, countThreshold int, opts ...Option) *Gate {
	if countThreshold < 0 {
		countThreshold = 0
	}
	g := &Gate{
		log:       NewEventLog(countThreshold),
		window:    window,
		threshold: countThreshold,
		now:       time.Now,
		out:       os.Stderr,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Record pushes the current time, re-evaluates the window and reports
// progress as "Resource Exhausted! (count/threshold)".
func (g *Gate) Record() Decision {
	now := g.now()
	g.log.Push(now)
	count := g.log.CountSince(now.Add(-g.window))

	fmt.Fprintf(g.out, "Resource Exhausted! (%d/%d)\n", count, g.threshold)
	return Decision{
		Count:     count,
		Threshold: g.threshold,
		Escalate:  count > g.threshold,
	}
}

// RecordAndDecide records an event and reports whether to escalate.
func (g *Gate) RecordAndDecide() bool {
	return g.Record().Escalate
}
