package handler

import (
	"context"
	"errors"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/killswitch/internal/action"
	"github.com/hugo-lorenzo-mato/killswitch/internal/config"
	"github.com/hugo-lorenzo-mato/killswitch/internal/core"
	"github.com/hugo-lorenzo-mato/killswitch/internal/events"
	"github.com/hugo-lorenzo-mato/killswitch/internal/testutil"
)

type fixture struct {
	runtime  *testutil.MockRuntime
	mgmt     *testutil.MockManagement
	sessions *testutil.MockSessionFactory
	signaler *testutil.MockSignaler
	stdout   *testutil.SyncBuffer
	stderr   *testutil.SyncBuffer
	clock    *testutil.FakeClock
	deps     action.Deps
}

func newFixture() *fixture {
	f := &fixture{
		runtime:  testutil.NewMockRuntime(),
		mgmt:     testutil.NewMockManagement(),
		signaler: testutil.NewMockSignaler(),
		stdout:   &testutil.SyncBuffer{},
		stderr:   &testutil.SyncBuffer{},
		clock:    testutil.NewFakeClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
	f.sessions = testutil.NewMockSessionFactory(f.runtime, f.mgmt)
	f.deps = action.Deps{
		Signaler: f.signaler,
		Stdout:   f.stdout,
		Stderr:   f.stderr,
		Now:      f.clock.Now,
		Sleep:    func(context.Context, time.Duration) {},
	}
	return f
}

func newConfig(timeThreshold, countThreshold int) *config.Config {
	return &config.Config{
		Thresholds: config.ThresholdsConfig{Time: timeThreshold, Count: countThreshold},
		Actions: config.ActionsConfig{
			HeapHistogramMaxEntries: 100,
		},
	}
}

func TestHandler_SuppressesUntilThreshold(t *testing.T) {
	f := newFixture()
	h := New(newConfig(3, 2), f.sessions, f.deps)
	ctx := context.Background()

	assert.Equal(t, OutcomeSuppressed, h.OnResourceExhausted(ctx, core.HeapExhausted))
	assert.Equal(t, StateIdle, h.State())
	assert.Equal(t, OutcomeSuppressed, h.OnResourceExhausted(ctx, core.HeapExhausted))
	assert.Empty(t, f.signaler.Signals())

	assert.Equal(t, OutcomeEscalated, h.OnResourceExhausted(ctx, core.HeapExhausted))
	assert.Equal(t, StateTerminated, h.State())
	assert.Equal(t, []syscall.Signal{syscall.SIGQUIT, syscall.SIGKILL}, f.signaler.Signals())

	testutil.AssertOrdered(t, f.stderr.String(),
		"Resource Exhausted! (1/2)", "Resource Exhausted! (2/2)", "Resource Exhausted! (3/2)",
		"killswitch is killing current process")
}

func TestHandler_SparseEventsNeverEscalate(t *testing.T) {
	f := newFixture()
	h := New(newConfig(1, 2), f.sessions, f.deps)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		assert.Equal(t, OutcomeSuppressed, h.OnResourceExhausted(ctx, core.HeapExhausted))
		assert.Equal(t, OutcomeSuppressed, h.OnResourceExhausted(ctx, core.HeapExhausted))
		f.clock.Advance(1100 * time.Millisecond)
	}
	assert.Equal(t, StateIdle, h.State())
	assert.Zero(t, f.sessions.CallCount("NewSession"))
}

func TestHandler_Banners(t *testing.T) {
	f := newFixture()
	h := New(newConfig(1, 5), f.sessions, f.deps)

	h.OnResourceExhausted(context.Background(), core.HeapExhausted|core.ThreadsExhausted|core.OOMErrorImminent)

	testutil.AssertOrdered(t, f.stderr.String(),
		"Resource exhaustion event: the JVM was unable to allocate memory from the heap.",
		"Resource exhaustion event: the JVM was unable to create a thread.",
		"Resource Exhausted! (1/5)",
		"The JVM is about to throw a java.lang.OutOfMemoryError.")
}

func TestHandler_NoOOMNoticeWithoutFlag(t *testing.T) {
	f := newFixture()
	h := New(newConfig(1, 5), f.sessions, f.deps)

	h.OnResourceExhausted(context.Background(), core.HeapExhausted)

	assert.NotContains(t, f.stderr.String(), "about to throw")
}

func TestHandler_EndToEndHistogramThenKill(t *testing.T) {
	f := newFixture()
	str := f.runtime.WithClass("Ljava/lang/String;")
	arr := f.runtime.WithClass("[B")
	f.runtime.
		WithObject(1, str, 24, 2).
		WithObject(2, arr, 1000).
		WithRoots(1, 1)

	cfg := newConfig(1, 0)
	cfg.Actions.PrintHeapHistogram = true
	h := New(cfg, f.sessions, f.deps)

	out := h.OnResourceExhausted(context.Background(), core.HeapExhausted|core.OOMErrorImminent)
	require.Equal(t, OutcomeEscalated, out)

	select {
	case <-h.Done():
	default:
		t.Fatal("Done should be closed after the pipeline runs")
	}

	testutil.AssertOrdered(t, f.stdout.String(),
		">>> Heap Histogram",
		"| Instance Count | Total Bytes | Class Name",
		"| 1              | 1000        | byte[]",
		"| 1              | 24          | java.lang.String",
		">>> Thread Dump")
	assert.Contains(t, f.stderr.String(), "killswitch is killing current process")
	assert.NotContains(t, f.stderr.String(), "about to throw")
	assert.True(t, f.sessions.Session.Closed())

	// A late notification is not processed again.
	assert.Equal(t, OutcomeIgnored, h.OnResourceExhausted(context.Background(), core.HeapExhausted))
	assert.Equal(t, 1, f.runtime.CallCount("FollowReferences"))
	assert.Equal(t, []syscall.Signal{syscall.SIGQUIT, syscall.SIGKILL}, f.signaler.Signals())
}

func TestHandler_ConcurrentNotificationsRunPipelineOnce(t *testing.T) {
	f := newFixture()
	c := f.runtime.WithClass("La;")
	f.runtime.WithObject(1, c, 16).WithRoots(1)

	cfg := newConfig(1, 0)
	cfg.Actions.PrintHeapHistogram = true
	cfg.Actions.HeapDumpPath = t.TempDir() + "/dump.hprof"
	h := New(cfg, f.sessions, f.deps)

	const callers = 32
	outcomes := make([]Outcome, callers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			outcomes[i] = h.OnResourceExhausted(context.Background(), core.HeapExhausted)
		}(i)
	}
	close(start)
	wg.Wait()

	escalated, ignored := 0, 0
	for _, o := range outcomes {
		switch o {
		case OutcomeEscalated:
			escalated++
		case OutcomeIgnored:
			ignored++
		}
	}
	assert.Equal(t, 1, escalated)
	assert.Equal(t, callers-1, ignored)
	assert.Equal(t, 1, f.sessions.CallCount("NewSession"))
	assert.Equal(t, 1, f.runtime.CallCount("FollowReferences"))
	assert.Equal(t, 1, f.mgmt.CallCount("DumpHeap"))
	assert.Equal(t, []syscall.Signal{syscall.SIGQUIT, syscall.SIGKILL}, f.signaler.Signals())
}

func TestHandler_SessionFailureStillKills(t *testing.T) {
	f := newFixture()
	f.sessions.WithError(errors.New("attach refused"))

	cfg := newConfig(1, 0)
	cfg.Actions.PrintHeapHistogram = true
	cfg.Actions.PrintMemoryUsage = true
	h := New(cfg, f.sessions, f.deps)

	require.Equal(t, OutcomeEscalated, h.OnResourceExhausted(context.Background(), core.HeapExhausted))

	stderr := f.stderr.String()
	assert.Contains(t, stderr, "ERROR: host session failed: attach refused")
	assert.Contains(t, stderr, "ERROR: heap histogram failed")
	assert.Contains(t, stderr, "ERROR: memory pools failed")
	assert.Equal(t, []syscall.Signal{syscall.SIGQUIT, syscall.SIGKILL}, f.signaler.Signals())
	assert.Equal(t, StateTerminated, h.State())
}

func TestHandler_KillFailureStillTerminates(t *testing.T) {
	f := newFixture()
	f.signaler.WithError(errors.New("operation not permitted"))
	bus := events.New(10)
	defer bus.Close()
	terminated := bus.Subscribe(events.TypeProcessTerminated)

	h := New(newConfig(1, 0), f.sessions, f.deps, WithEventBus(bus), WithIDGenerator(func() string { return "inc-9" }))
	h.OnResourceExhausted(context.Background(), core.ThreadsExhausted)

	assert.Equal(t, StateTerminated, h.State())
	e := (<-terminated).(events.ProcessTerminatedEvent)
	assert.False(t, e.Killed)
	assert.Equal(t, 2, e.Failed)
	assert.Equal(t, "inc-9", e.IncidentID())
}

func TestHandler_PublishesLifecycle(t *testing.T) {
	f := newFixture()
	bus := events.New(50)
	defer bus.Close()
	all := bus.Subscribe()

	h := New(newConfig(1, 1), f.sessions, f.deps,
		WithEventBus(bus),
		WithPID(4242),
		WithIDGenerator(func() string { return "inc-1" }))

	ctx := context.Background()
	h.OnResourceExhaustedFrom(ctx, core.HeapExhausted, "api")
	h.OnResourceExhaustedFrom(ctx, core.HeapExhausted, "api")
	h.OnResourceExhaustedFrom(ctx, core.HeapExhausted, "api")

	var types []string
	var last events.Event
	for len(all) > 0 {
		last = <-all
		types = append(types, last.EventType())
	}
	assert.Equal(t, []string{
		events.TypeNotificationReceived,
		events.TypeEscalationSuppressed,
		events.TypeNotificationReceived,
		events.TypeEscalationStarted,
		events.TypeActionCompleted, // thread dump
		events.TypeActionCompleted, // kill
		events.TypeProcessTerminated,
		events.TypeNotificationIgnored,
	}, types)

	e, ok := last.(events.NotificationIgnoredEvent)
	require.True(t, ok)
	assert.Equal(t, core.HeapExhausted, e.Flags)
}

func TestHandler_ActionEventsCarryIncident(t *testing.T) {
	f := newFixture()
	bus := events.New(50)
	defer bus.Close()
	actions := bus.Subscribe(events.TypeActionCompleted)

	var forwarded []action.Kind
	f.deps.OnOutcome = func(o action.Outcome) { forwarded = append(forwarded, o.Kind) }

	h := New(newConfig(1, 0), f.sessions, f.deps,
		WithEventBus(bus),
		WithIDGenerator(func() string { return "inc-7" }))
	h.OnResourceExhausted(context.Background(), core.HeapExhausted)

	for _, want := range []string{"thread dump", "kill"} {
		e := (<-actions).(events.ActionCompletedEvent)
		assert.Equal(t, want, e.Action)
		assert.Equal(t, "ok", e.Status)
		assert.Equal(t, "inc-7", e.IncidentID())
	}
	assert.Equal(t, []action.Kind{action.ThreadDump, action.Kill}, forwarded)
	assert.Equal(t, []action.Kind{action.ThreadDump, action.Kill}, h.Actions())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "terminated", StateTerminated.String())
	assert.Equal(t, "state(42)", State(42).String())
}
