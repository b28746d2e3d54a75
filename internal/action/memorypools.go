package action

import (
	"context"
	"fmt"
	"io"

	"github.com/hugo-lorenzo-mato/killswitch/internal/core"
)

// nearMaxHints are printed for well-known pools once committed memory
// reaches 95% of the maximum.
var nearMaxHints = map[string]string{
	"Heap memory":            "Heap memory is over 95% full. To increase it, increase the container size.",
	"Metaspace":              "Metaspace is over 95% full. To increase it, set -XX:MaxMetaspaceSize to a suitable value.",
	"Compressed Class Space": "Compressed Class Space is over 95% full. To increase it, set -XX:CompressedClassSpaceSize to a suitable value.",
}

type memoryPools struct {
	deps Deps
}

// NewMemoryPools prints heap, non-heap and per-pool memory usage.
func NewMemoryPools(deps Deps) Action {
	return &memoryPools{deps: deps.withDefaults()}
}

func (a *memoryPools) Kind() Kind { return MemoryPools }

func (a *memoryPools) Execute(_ context.Context, flags core.ExhaustionFlags, session core.Session) error {
	if flags.Has(core.ThreadsExhausted) {
		return core.ErrActionUnavailable("dump memory pools")
	}

	mgmt := session.Management()
	heap, err := mgmt.HeapMemoryUsage()
	if err != nil {
		return fmt.Errorf("reading heap memory usage: %w", err)
	}
	nonHeap, err := mgmt.NonHeapMemoryUsage()
	if err != nil {
		return fmt.Errorf("reading non-heap memory usage: %w", err)
	}
	pools, err := mgmt.MemoryPools()
	if err != nil {
		return fmt.Errorf("reading memory pools: %w", err)
	}

	w := a.deps.Stdout
	fmt.Fprintln(w)
	fmt.Fprintln(w, ">>> Memory Pools")
	fmt.Fprintln(w, "Memory usage:")
	writeUsage(w, "Heap memory", heap)
	writeUsage(w, "Non-heap memory", nonHeap)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Memory pool usage:")
	for _, p := range pools {
		writeUsage(w, p.Name, p.Usage)
	}
	return nil
}

func writeUsage(w io.Writer, name string, u core.MemoryUsage) {
	fmt.Fprintf(w, "   %s: init %d, used %d, committed %d, max %d\n", name, u.Init, u.Used, u.Committed, u.Max)
	if hint, ok := nearMaxHints[name]; ok && nearMax(u) {
		fmt.Fprintf(w, "      Hint: %s\n", hint)
	}
}

func nearMax(u core.MemoryUsage) bool {
	if u.Max <= 0 {
		return false
	}
	return float64(u.Committed)/float64(u.Max) >= 0.95
}
