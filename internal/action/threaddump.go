package action

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/hugo-lorenzo-mato/killswitch/internal/core"
)

// DefaultThreadDumpDelay gives the host time to write its thread dump
// before the next action runs.
const DefaultThreadDumpDelay = 5 * time.Second

type threadDump struct {
	deps  Deps
	delay time.Duration
}

// NewThreadDump asks the host for a thread dump by sending SIGQUIT and
// then waits for delay.
func NewThreadDump(deps Deps, delay time.Duration) Action {
	return &threadDump{deps: deps.withDefaults(), delay: delay}
}

func (a *threadDump) Kind() Kind { return ThreadDump }

func (a *threadDump) Execute(ctx context.Context, _ core.ExhaustionFlags, _ core.Session) error {
	fmt.Fprintln(a.deps.Stdout)
	fmt.Fprintln(a.deps.Stdout, ">>> Thread Dump")

	if err := signal(a.deps.Signaler, syscall.SIGQUIT); err != nil {
		return err
	}
	a.deps.Sleep(ctx, a.delay)
	return nil
}
