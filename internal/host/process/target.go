// Package process adapts a running JVM, reached through its PID and jcmd,
// to the core host ports.
package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/pprof"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"

	"github.com/hugo-lorenzo-mato/killswitch/internal/config"
	"github.com/hugo-lorenzo-mato/killswitch/internal/core"
	"github.com/hugo-lorenzo-mato/killswitch/internal/logging"
	"github.com/hugo-lorenzo-mato/killswitch/internal/watch"
)

// DefaultDumpTimeout bounds a jcmd GC.heap_dump call.
const DefaultDumpTimeout = 2 * time.Minute

// anonymousMapping names mappings with no backing file.
const anonymousMapping = "[anon]"

// Target is a monitored process. It implements core.Management,
// core.Signaler, core.SessionFactory and watch.Sampler.
type Target struct {
	PID         int32
	Jcmd        string
	MemoryLimit uint64
	ThreadLimit int
	DumpTimeout time.Duration
	TempDir     string

	runner     Runner
	logger     *logging.Logger
	kill       func(pid int, sig syscall.Signal) error
	threadDump io.Writer
}

// Option configures a Target.
type Option func(*Target)

// WithJcmd sets the jcmd executable.
func WithJcmd(path string) Option {
	return func(t *Target) { t.Jcmd = path }
}

// WithMemoryLimit sets the byte limit reported as the heap maximum.
func WithMemoryLimit(bytes uint64) Option {
	return func(t *Target) { t.MemoryLimit = bytes }
}

// WithThreadLimit sets the thread limit.
func WithThreadLimit(n int) Option {
	return func(t *Target) { t.ThreadLimit = n }
}

// WithRunner replaces the command runner.
func WithRunner(r Runner) Option {
	return func(t *Target) { t.runner = r }
}

// WithTempDir sets where session heap dumps are written.
func WithTempDir(dir string) Option {
	return func(t *Target) { t.TempDir = dir }
}

// WithThreadDumpOutput sets where goroutine dumps go when the target is
// the current process.
func WithThreadDumpOutput(w io.Writer) Option {
	return func(t *Target) { t.threadDump = w }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(t *Target) { t.logger = l }
}

// New creates a target. A pid of 0 means the current process.
func New(pid int32, opts ...Option) *Target {
	if pid == 0 {
		pid = int32(os.Getpid())
	}
	t := &Target{
		PID:         pid,
		Jcmd:        "jcmd",
		DumpTimeout: DefaultDumpTimeout,
		runner:      ExecRunner{},
		logger:      logging.NewNop(),
		kill:        unix.Kill,
		threadDump:  os.Stdout,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.WithPID(int(t.PID))
	return t
}

func (t *Target) self() bool {
	return int(t.PID) == os.Getpid()
}

// FromConfig creates a target from the target config section.
func FromConfig(cfg config.TargetConfig, logger *logging.Logger) *Target {
	opts := []Option{
		WithMemoryLimit(uint64(cfg.MemoryLimitMB) * 1024 * 1024),
		WithThreadLimit(cfg.ThreadLimit),
	}
	if cfg.Jcmd != "" {
		opts = append(opts, WithJcmd(cfg.Jcmd))
	}
	if logger != nil {
		opts = append(opts, WithLogger(logger))
	}
	return New(int32(cfg.PID), opts...)
}

func (t *Target) process(ctx context.Context) (*process.Process, error) {
	p, err := process.NewProcessWithContext(ctx, t.PID)
	if errors.Is(err, process.ErrorProcessNotRunning) {
		return nil, core.ErrTargetExited
	}
	if err != nil {
		return nil, core.ErrHostCallFailed(core.CodeMethodFailed,
			fmt.Sprintf("inspecting process %d", t.PID)).WithCause(err)
	}
	return p, nil
}

// Sample implements watch.Sampler.
func (t *Target) Sample(ctx context.Context) (watch.Snapshot, error) {
	p, err := t.process(ctx)
	if err != nil {
		return watch.Snapshot{}, err
	}
	mi, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return watch.Snapshot{}, t.gone(ctx, err, "reading memory info")
	}
	threads, err := p.NumThreadsWithContext(ctx)
	if err != nil {
		return watch.Snapshot{}, t.gone(ctx, err, "reading thread count")
	}

	s := watch.Snapshot{
		Timestamp: time.Now(),
		RSSBytes:  mi.RSS,
		VMSBytes:  mi.VMS,
		SwapBytes: mi.Swap,
		Threads:   threads,
	}
	// Best-effort: unsupported on some platforms.
	if fds, err := p.NumFDsWithContext(ctx); err == nil {
		s.OpenFDs = fds
	}
	if pct, err := p.MemoryPercentWithContext(ctx); err == nil {
		s.MemoryPercent = pct
	}
	return s, nil
}

// gone maps a failed read to ErrTargetExited when the process vanished
// between calls.
func (t *Target) gone(ctx context.Context, err error, what string) error {
	if ok, existsErr := process.PidExistsWithContext(ctx, t.PID); existsErr == nil && !ok {
		return core.ErrTargetExited
	}
	return core.ErrHostCallFailed(core.CodeMethodFailed, what).WithCause(err)
}

// HeapMemoryUsage implements core.Management. The resident set stands in
// for the heap, bounded by the configured memory limit.
func (t *Target) HeapMemoryUsage() (core.MemoryUsage, error) {
	ctx := context.Background()
	p, err := t.process(ctx)
	if err != nil {
		return core.MemoryUsage{}, err
	}
	mi, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return core.MemoryUsage{}, t.gone(ctx, err, "reading memory info")
	}
	limit := int64(-1)
	if t.MemoryLimit > 0 {
		limit = int64(t.MemoryLimit)
	}
	return core.MemoryUsage{Init: 0, Used: int64(mi.RSS), Committed: int64(mi.RSS), Max: limit}, nil
}

// NonHeapMemoryUsage implements core.Management with swap as used and the
// virtual size as committed.
func (t *Target) NonHeapMemoryUsage() (core.MemoryUsage, error) {
	ctx := context.Background()
	p, err := t.process(ctx)
	if err != nil {
		return core.MemoryUsage{}, err
	}
	mi, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return core.MemoryUsage{}, t.gone(ctx, err, "reading memory info")
	}
	return core.MemoryUsage{Init: 0, Used: int64(mi.Swap), Committed: int64(mi.VMS), Max: -1}, nil
}

// MemoryPools implements core.Management. Each backing file of the
// process's mappings is one pool; anonymous mappings share one.
func (t *Target) MemoryPools() ([]core.MemoryPool, error) {
	ctx := context.Background()
	p, err := t.process(ctx)
	if err != nil {
		return nil, err
	}
	maps, err := p.MemoryMapsWithContext(ctx, false)
	if err != nil {
		return nil, t.gone(ctx, err, "reading memory maps")
	}
	if maps == nil {
		return nil, nil
	}
	return groupMappings(*maps), nil
}

func groupMappings(maps []process.MemoryMapsStat) []core.MemoryPool {
	byPath := make(map[string]*core.MemoryUsage)
	var order []string
	for _, m := range maps {
		name := m.Path
		if name == "" {
			name = anonymousMapping
		}
		u, ok := byPath[name]
		if !ok {
			u = &core.MemoryUsage{Max: -1}
			byPath[name] = u
			order = append(order, name)
		}
		// smaps reports kB.
		u.Used += int64(m.Rss) * 1024
		u.Committed += int64(m.Size) * 1024
	}
	sort.Strings(order)

	pools := make([]core.MemoryPool, 0, len(order))
	for _, name := range order {
		pools = append(pools, core.MemoryPool{Name: name, Usage: *byPath[name]})
	}
	return pools
}

// DumpHeap implements core.Management by asking the JVM for a heap dump
// of live objects through jcmd.
func (t *Target) DumpHeap(path string) error {
	ctx, cancel := context.WithTimeout(context.Background(), t.DumpTimeout)
	defer cancel()
	return t.dumpHeap(ctx, path)
}

func (t *Target) dumpHeap(ctx context.Context, path string) error {
	pid := strconv.Itoa(int(t.PID))
	t.logger.Info("requesting heap dump", "jcmd", t.Jcmd, "path", path)

	if _, err := t.runner.Run(ctx, t.Jcmd, pid, "GC.heap_dump", path); err != nil {
		return core.ErrHostCallFailed(core.CodeDumpFailed, "jcmd GC.heap_dump failed").WithCause(err)
	}
	// jcmd exits 0 even when the JVM refuses the dump.
	if _, err := os.Stat(path); err != nil {
		return core.ErrHostCallFailed(core.CodeDumpFailed, "heap dump was not written").WithCause(err)
	}
	return nil
}

// Signal implements core.Signaler.
func (t *Target) Signal(sig syscall.Signal) error {
	// The Go runtime exits on SIGQUIT, so a self target dumps its
	// goroutines in-process instead.
	if sig == syscall.SIGQUIT && t.self() {
		if err := pprof.Lookup("goroutine").WriteTo(t.threadDump, 2); err != nil {
			return core.ErrHostCallFailed(core.CodeSignalFailed, "writing goroutine dump").WithCause(err)
		}
		return nil
	}
	if err := t.kill(int(t.PID), sig); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return core.ErrHostCallFailed(core.CodeSignalFailed, "target process is gone").WithCause(core.ErrTargetExited)
		}
		return core.ErrHostCallFailed(core.CodeSignalFailed,
			fmt.Sprintf("sending %v to process %d", sig, t.PID)).WithCause(err)
	}
	return nil
}
