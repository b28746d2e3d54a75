package action

import (
	"context"
	"fmt"
	"time"

	"github.com/hugo-lorenzo-mato/killswitch/internal/config"
	"github.com/hugo-lorenzo-mato/killswitch/internal/core"
)

// Status is the outcome class of one action.
type Status string

const (
	StatusOK          Status = "ok"
	StatusFailed      Status = "failed"
	StatusUnavailable Status = "unavailable"
)

// Outcome records how one action went.
type Outcome struct {
	Kind     Kind
	Status   Status
	Err      error
	Duration time.Duration
}

// Result lists the outcomes of one pipeline run, in execution order.
type Result struct {
	Flags    core.ExhaustionFlags
	Outcomes []Outcome
}

// Failed returns the number of actions that did not succeed.
func (r Result) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status != StatusOK {
			n++
		}
	}
	return n
}

// Killed reports whether the kill action ran successfully.
func (r Result) Killed() bool {
	for _, o := range r.Outcomes {
		if o.Kind == Kill && o.Status == StatusOK {
			return true
		}
	}
	return false
}

// Pipeline is the fixed, ordered list of actions. Kill is always last.
type Pipeline struct {
	actions []Action
	deps    Deps
}

// Build assembles the pipeline from configuration:
// [HeapHistogram] -> [MemoryPools] -> ThreadDump -> [HeapDump] -> Kill.
func Build(cfg config.ActionsConfig, deps Deps) *Pipeline {
	deps = deps.withDefaults()

	var actions []Action
	if cfg.PrintHeapHistogram {
		actions = append(actions, NewHeapHistogram(deps, cfg.HeapHistogramMaxEntries))
	}
	if cfg.PrintMemoryUsage {
		actions = append(actions, NewMemoryPools(deps))
	}
	actions = append(actions, NewThreadDump(deps, cfg.ThreadDumpDelayDuration()))
	if cfg.HeapDumpPath != "" {
		actions = append(actions, NewHeapDump(deps, cfg.HeapDumpPath))
	}
	actions = append(actions, NewKill(deps))

	return &Pipeline{actions: actions, deps: deps}
}

// Kinds returns the action kinds in execution order.
func (p *Pipeline) Kinds() []Kind {
	kinds := make([]Kind, len(p.actions))
	for i, a := range p.actions {
		kinds[i] = a.Kind()
	}
	return kinds
}

// Execute runs every action in order. A failing action is reported and
// the pipeline moves on; nothing stops it short of the kill itself.
func (p *Pipeline) Execute(ctx context.Context, flags core.ExhaustionFlags, session core.Session) Result {
	res := Result{Flags: flags, Outcomes: make([]Outcome, 0, len(p.actions))}

	for _, a := range p.actions {
		start := p.deps.Now()
		err := a.Execute(ctx, flags, session)
		o := Outcome{Kind: a.Kind(), Status: StatusOK, Err: err, Duration: p.deps.Now().Sub(start)}

		switch {
		case err == nil:
		case core.IsCategory(err, core.ErrCatActionUnavailable):
			o.Status = StatusUnavailable
			fmt.Fprintln(p.deps.Stderr, err.Error())
			p.deps.Logger.Warn("action unavailable", "action", a.Kind().String(), "flags", flags.String())
		default:
			o.Status = StatusFailed
			fmt.Fprintf(p.deps.Stderr, "ERROR: %s failed: %v\n", a.Kind(), err)
			p.deps.Logger.Error("action failed", "action", a.Kind().String(), "error", err)
		}

		res.Outcomes = append(res.Outcomes, o)
		if p.deps.OnOutcome != nil {
			p.deps.OnOutcome(o)
		}
	}
	return res
}
