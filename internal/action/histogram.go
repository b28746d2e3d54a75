package action

import (
	"context"
	"fmt"

	"github.com/hugo-lorenzo-mato/killswitch/internal/census"
	"github.com/hugo-lorenzo-mato/killswitch/internal/core"
)

type heapHistogram struct {
	deps       Deps
	maxEntries int
}

// NewHeapHistogram prints the live heap broken down per class.
func NewHeapHistogram(deps Deps, maxEntries int) Action {
	return &heapHistogram{deps: deps.withDefaults(), maxEntries: maxEntries}
}

func (a *heapHistogram) Kind() Kind { return HeapHistogram }

func (a *heapHistogram) Execute(_ context.Context, _ core.ExhaustionFlags, session core.Session) error {
	h, err := census.Run(session.Runtime())
	if err != nil {
		return err
	}

	entries, demangleErr := census.Demangle(h.Entries(a.maxEntries))

	fmt.Fprintln(a.deps.Stdout)
	fmt.Fprintln(a.deps.Stdout, ">>> Heap Histogram")
	if err := census.Render(a.deps.Stdout, entries); err != nil {
		return err
	}
	a.deps.Logger.Debug("heap histogram printed", "classes", h.Len(), "rows", len(entries))
	return demangleErr
}
