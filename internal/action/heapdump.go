package action

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hugo-lorenzo-mato/killswitch/internal/core"
	"github.com/hugo-lorenzo-mato/killswitch/internal/dumppath"
)

type heapDump struct {
	deps    Deps
	pattern string
}

// NewHeapDump writes a heap dump to a path built from a strftime pattern.
func NewHeapDump(deps Deps, pattern string) Action {
	return &heapDump{deps: deps.withDefaults(), pattern: pattern}
}

func (a *heapDump) Kind() Kind { return HeapDump }

func (a *heapDump) Execute(_ context.Context, flags core.ExhaustionFlags, session core.Session) error {
	if flags.Has(core.ThreadsExhausted) {
		return core.ErrActionUnavailable("create heap dump")
	}

	fmt.Fprintln(a.deps.Stdout)
	fmt.Fprintln(a.deps.Stdout, ">>> Heap Dump")

	path, err := dumppath.Resolve(a.pattern, a.deps.Now())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return core.ErrIO("unable to create heap dump parent directory", err)
	}

	if err := session.Management().DumpHeap(path); err != nil {
		var de *core.DomainError
		if errors.As(err, &de) {
			return err
		}
		return core.ErrHostCallFailed(core.CodeDumpFailed, "dumping heap to "+path).WithCause(err)
	}

	fmt.Fprintf(a.deps.Stdout, "Heap dump written to %s\n", path)
	a.deps.Logger.Info("heap dump written", "path", path)
	return nil
}
