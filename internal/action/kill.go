package action

import (
	"context"
	"fmt"
	"syscall"

	"github.com/hugo-lorenzo-mato/killswitch/internal/core"
)

type kill struct {
	deps Deps
}

// NewKill terminates the target with SIGKILL.
func NewKill(deps Deps) Action {
	return &kill{deps: deps.withDefaults()}
}

func (a *kill) Kind() Kind { return Kill }

func (a *kill) Execute(_ context.Context, _ core.ExhaustionFlags, _ core.Session) error {
	fmt.Fprintln(a.deps.Stderr)
	fmt.Fprintln(a.deps.Stderr, "killswitch is killing current process")
	return signal(a.deps.Signaler, syscall.SIGKILL)
}
