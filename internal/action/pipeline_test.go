package action

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/killswitch/internal/config"
	"github.com/hugo-lorenzo-mato/killswitch/internal/core"
	"github.com/hugo-lorenzo-mato/killswitch/internal/testutil"
)

func TestPipeline_RunsEverythingInOrder(t *testing.T) {
	f := newFixture()
	c := f.runtime.WithClass("La;")
	f.runtime.WithObject(1, c, 8).WithRoots(1)

	var seen []Kind
	f.deps.OnOutcome = func(o Outcome) { seen = append(seen, o.Kind) }

	p := Build(config.ActionsConfig{
		PrintHeapHistogram:      true,
		HeapHistogramMaxEntries: 100,
		PrintMemoryUsage:        true,
		HeapDumpPath:            t.TempDir() + "/d.hprof",
		ThreadDumpDelay:         "2s",
	}, f.deps)

	res := p.Execute(context.Background(), core.HeapExhausted, f.session)

	want := []Kind{HeapHistogram, MemoryPools, ThreadDump, HeapDump, Kill}
	assert.Equal(t, want, seen)
	require.Len(t, res.Outcomes, 5)
	assert.Zero(t, res.Failed())
	assert.True(t, res.Killed())
	assert.Equal(t, []syscall.Signal{syscall.SIGQUIT, syscall.SIGKILL}, f.signaler.Signals())
	assert.Equal(t, []time.Duration{2 * time.Second}, f.slept)

	testutil.AssertOrdered(t, f.stdout.String(),
		">>> Heap Histogram", ">>> Memory Pools", ">>> Thread Dump", ">>> Heap Dump", "Heap dump written to")
	assert.Contains(t, f.stderr.String(), "killswitch is killing current process")
}

func TestPipeline_ThreadsExhausted(t *testing.T) {
	f := newFixture()
	p := Build(config.ActionsConfig{
		PrintMemoryUsage: true,
		HeapDumpPath:     t.TempDir() + "/d.hprof",
	}, f.deps)

	res := p.Execute(context.Background(), core.ThreadsExhausted, f.session)

	require.Len(t, res.Outcomes, 4)
	assert.Equal(t, StatusUnavailable, res.Outcomes[0].Status)
	assert.Equal(t, StatusOK, res.Outcomes[1].Status)
	assert.Equal(t, StatusUnavailable, res.Outcomes[2].Status)
	assert.Equal(t, Kill, res.Outcomes[3].Kind)
	assert.Equal(t, StatusOK, res.Outcomes[3].Status)
	assert.Equal(t, 2, res.Failed())

	assert.Empty(t, f.mgmt.Calls(), "no host call may be attempted")
	stderr := f.stderr.String()
	testutil.AssertOrdered(t, stderr,
		"cannot dump memory pools since the JVM is unable to create a thread\n",
		"cannot create heap dump since the JVM is unable to create a thread\n",
		"killswitch is killing current process")
	assert.NotContains(t, stderr, "ERROR:")
}

func TestPipeline_FailuresDoNotStopKill(t *testing.T) {
	f := newFixture()
	f.runtime.WithFollowError(core.ErrHostCallFailed(core.CodeTraversalFailed, "traversal refused"))
	f.mgmt.WithUsageError(errors.New("bean not found"))
	f.mgmt.WithDumpError(errors.New("disk full"))

	p := Build(config.ActionsConfig{
		PrintHeapHistogram: true,
		PrintMemoryUsage:   true,
		HeapDumpPath:       t.TempDir() + "/d.hprof",
	}, f.deps)

	res := p.Execute(context.Background(), core.HeapExhausted, f.session)

	assert.Equal(t, 3, res.Failed())
	assert.True(t, res.Killed())
	last := res.Outcomes[len(res.Outcomes)-1]
	assert.Equal(t, Kill, last.Kind)

	stderr := f.stderr.String()
	testutil.AssertOrdered(t, stderr,
		"ERROR: heap histogram failed: following heap references: traversal refused\n",
		"ERROR: memory pools failed: reading heap memory usage: bean not found\n",
		"ERROR: heap dump failed: ",
		"killswitch is killing current process")
	assert.Contains(t, stderr, "disk full")
}

func TestPipeline_KillFailureIsReported(t *testing.T) {
	f := newFixture()
	f.signaler.WithError(syscall.EPERM)

	res := Build(config.ActionsConfig{}, f.deps).Execute(context.Background(), 0, f.session)

	assert.False(t, res.Killed())
	assert.Equal(t, 2, res.Failed())
	assert.Contains(t, f.stderr.String(), "ERROR: kill failed: sending SIGKILL: operation not permitted")
}

func TestPipeline_CarriesFlags(t *testing.T) {
	f := newFixture()
	res := Build(config.ActionsConfig{}, f.deps).Execute(context.Background(), core.HeapExhausted|core.OOMErrorImminent, f.session)
	assert.Equal(t, core.HeapExhausted|core.OOMErrorImminent, res.Flags)
}
