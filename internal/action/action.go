// Package action implements the ordered diagnostics run on a persistent
// resource exhaustion, ending with termination of the target.
package action

import (
	"context"
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/hugo-lorenzo-mato/killswitch/internal/core"
	"github.com/hugo-lorenzo-mato/killswitch/internal/logging"
)

// Kind identifies one of the fixed set of actions.
type Kind int

const (
	HeapHistogram Kind = iota
	MemoryPools
	ThreadDump
	HeapDump
	Kill
)

var kindNames = map[Kind]string{
	HeapHistogram: "heap histogram",
	MemoryPools:   "memory pools",
	ThreadDump:    "thread dump",
	HeapDump:      "heap dump",
	Kill:          "kill",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("action(%d)", int(k))
}

// Action is one diagnostic step.
type Action interface {
	Kind() Kind
	Execute(ctx context.Context, flags core.ExhaustionFlags, session core.Session) error
}

// Deps are the collaborators shared by all actions.
type Deps struct {
	Signaler core.Signaler

	// Stdout receives reports, Stderr receives status and error lines.
	// Both should be paced writers.
	Stdout io.Writer
	Stderr io.Writer

	Logger *logging.Logger

	// Now and Sleep default to the real clock.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration)

	// OnOutcome, if set, is called after each action completes.
	OnOutcome func(Outcome)
}

func (d Deps) withDefaults() Deps {
	if d.Stdout == nil {
		d.Stdout = logging.NewPacedWriter(os.Stdout, logging.DefaultPace)
	}
	if d.Stderr == nil {
		d.Stderr = logging.NewPacedWriter(os.Stderr, logging.DefaultPace)
	}
	if d.Logger == nil {
		d.Logger = logging.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Sleep == nil {
		d.Sleep = sleep
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func signal(s core.Signaler, sig syscall.Signal) error {
	if s == nil {
		return core.ErrHostCallFailed(core.CodeSignalFailed, "no signaler configured")
	}
	if err := s.Signal(sig); err != nil {
		return core.ErrHostCallFailed(core.CodeSignalFailed,
			"sending "+unix.SignalName(sig)).WithCause(err)
	}
	return nil
}
