// Package handler is the single entry point for resource exhaustion
// notifications. It serializes the escalation gate and the action pipeline
// behind one lock so that a target is diagnosed and killed at most once.
package handler

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hugo-lorenzo-mato/killswitch/internal/action"
	"github.com/hugo-lorenzo-mato/killswitch/internal/config"
	"github.com/hugo-lorenzo-mato/killswitch/internal/core"
	"github.com/hugo-lorenzo-mato/killswitch/internal/events"
	"github.com/hugo-lorenzo-mato/killswitch/internal/gate"
	"github.com/hugo-lorenzo-mato/killswitch/internal/logging"
)

// State is the handler's position in the exhaustion lifecycle.
type State int32

const (
	StateIdle State = iota
	StateGating
	StateSuppressed
	StateEscalating
	StateRunning
	StateTerminated
)

var stateNames = map[State]string{
	StateIdle:       "idle",
	StateGating:     "gating",
	StateSuppressed: "suppressed",
	StateEscalating: "escalating",
	StateRunning:    "running",
	StateTerminated: "terminated",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Outcome is what became of one notification.
type Outcome string

const (
	OutcomeSuppressed Outcome = "suppressed"
	OutcomeEscalated  Outcome = "escalated"
	OutcomeIgnored    Outcome = "ignored"
)

// Handler owns the event log and the action pipeline for one target.
// It lives from agent start until the target dies.
type Handler struct {
	mu       sync.Mutex
	gate     *gate.Gate
	pipeline *action.Pipeline
	sessions core.SessionFactory

	bus    *events.EventBus
	logger *logging.Logger
	stderr io.Writer
	pid    int
	newID  func() string

	// incident is the ID of the escalation in flight, guarded by mu.
	incident string

	state    atomic.Int32
	done     chan struct{}
	doneOnce sync.Once
}

// Option configures a Handler.
type Option func(*Handler)

// WithEventBus publishes lifecycle events on bus.
func WithEventBus(bus *events.EventBus) Option {
	return func(h *Handler) {
		h.bus = bus
	}
}

// WithPID records the target's process ID in lifecycle events.
func WithPID(pid int) Option {
	return func(h *Handler) {
		h.pid = pid
	}
}

// WithIDGenerator replaces the incident ID generator.
func WithIDGenerator(fn func() string) Option {
	return func(h *Handler) {
		h.newID = fn
	}
}

// New builds a handler from configuration. deps are passed to the action
// pipeline; their Stderr, Logger and Now are shared with the gate.
func New(cfg *config.Config, sessions core.SessionFactory, deps action.Deps, opts ...Option) *Handler {
	h := &Handler{
		sessions: sessions,
		logger:   deps.Logger,
		stderr:   deps.Stderr,
		pid:      os.Getpid(),
		newID:    uuid.NewString,
		done:     make(chan struct{}),
	}
	if h.logger == nil {
		h.logger = logging.NewNop()
		deps.Logger = h.logger
	}
	if h.stderr == nil {
		h.stderr = logging.NewPacedWriter(os.Stderr, logging.DefaultPace)
		deps.Stderr = h.stderr
	}
	for _, opt := range opts {
		opt(h)
	}

	gateOpts := []gate.Option{gate.WithOutput(h.stderr)}
	if deps.Now != nil {
		gateOpts = append(gateOpts, gate.WithClock(deps.Now))
	}
	h.gate = gate.New(cfg.Thresholds.Window(), cfg.Thresholds.Count, gateOpts...)

	onOutcome := deps.OnOutcome
	deps.OnOutcome = func(o action.Outcome) {
		h.publishPriority(events.NewActionCompletedEvent(h.incident, o.Kind.String(), string(o.Status), o.Err, o.Duration))
		if onOutcome != nil {
			onOutcome(o)
		}
	}
	h.pipeline = action.Build(cfg.Actions, deps)
	return h
}

// OnResourceExhausted processes one notification. It may be called from
// any goroutine; concurrent calls queue on the handler lock and are handled
// one at a time. Once the pipeline has run, later calls are ignored.
func (h *Handler) OnResourceExhausted(ctx context.Context, flags core.ExhaustionFlags) Outcome {
	return h.handle(ctx, flags, "")
}

// OnResourceExhaustedFrom is OnResourceExhausted with the notification
// source recorded in the lifecycle events.
func (h *Handler) OnResourceExhaustedFrom(ctx context.Context, flags core.ExhaustionFlags, source string) Outcome {
	return h.handle(ctx, flags, source)
}

func (h *Handler) handle(ctx context.Context, flags core.ExhaustionFlags, source string) Outcome {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.State() == StateTerminated {
		h.logger.Warn("notification after termination ignored", "flags", flags.String(), "source", source)
		h.publish(events.NewNotificationIgnoredEvent(flags))
		return OutcomeIgnored
	}

	h.setState(StateGating)
	h.publish(events.NewNotificationReceivedEvent(flags, source))

	if flags.Has(core.HeapExhausted) {
		fmt.Fprintln(h.stderr, "\nResource exhaustion event: the JVM was unable to allocate memory from the heap.")
	}
	if flags.Has(core.ThreadsExhausted) {
		fmt.Fprintln(h.stderr, "\nResource exhaustion event: the JVM was unable to create a thread.")
	}

	d := h.gate.Record()
	if !d.Escalate {
		h.setState(StateSuppressed)
		if flags.Has(core.OOMErrorImminent) {
			fmt.Fprintln(h.stderr, "\nThe JVM is about to throw a java.lang.OutOfMemoryError.")
		}
		h.logger.Debug("escalation suppressed", "flags", flags.String(), "count", d.Count, "threshold", d.Threshold)
		h.publish(events.NewEscalationSuppressedEvent(flags, d.Count, d.Threshold))
		h.setState(StateIdle)
		return OutcomeSuppressed
	}

	h.escalate(ctx, flags, d)
	return OutcomeEscalated
}

func (h *Handler) escalate(ctx context.Context, flags core.ExhaustionFlags, d gate.Decision) {
	h.setState(StateEscalating)
	h.incident = h.newID()
	logger := h.logger.WithIncident(h.incident)

	kinds := h.pipeline.Kinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.String()
	}
	logger.Info("escalating", "flags", flags.String(), "count", d.Count, "threshold", d.Threshold, "actions", names)
	h.publishPriority(events.NewEscalationStartedEvent(h.incident, flags, d.Count, d.Threshold, names))

	session, err := h.sessions.NewSession(ctx)
	if err != nil {
		fmt.Fprintf(h.stderr, "ERROR: host session failed: %v\n", err)
		logger.Error("host session unavailable", "error", err)
		session = unavailableSession{err: err}
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			logger.Warn("closing host session", "error", cerr)
		}
	}()

	h.setState(StateRunning)
	start := time.Now()
	res := h.pipeline.Execute(ctx, flags, session)

	logger.Info("pipeline finished",
		"failed", res.Failed(),
		"killed", res.Killed(),
		"duration", time.Since(start).String())
	h.publishPriority(events.NewProcessTerminatedEvent(h.incident, flags, h.pid, res.Killed(), res.Failed()))

	h.setState(StateTerminated)
	h.doneOnce.Do(func() { close(h.done) })
}

// State reports the current lifecycle state. It does not wait for the
// handler lock.
func (h *Handler) State() State {
	return State(h.state.Load())
}

// Done is closed once the pipeline has run to completion.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}

// Actions lists the configured pipeline in execution order.
func (h *Handler) Actions() []action.Kind {
	return h.pipeline.Kinds()
}

func (h *Handler) setState(s State) {
	h.state.Store(int32(s))
}

func (h *Handler) publish(e events.Event) {
	if h.bus != nil {
		h.bus.Publish(e)
	}
}

func (h *Handler) publishPriority(e events.Event) {
	if h.bus != nil {
		h.bus.PublishPriority(e)
	}
}
