package testutil

import (
	"context"
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/hugo-lorenzo-mato/killswitch/internal/core"
)

// MockCall records a call to a mock.
type MockCall struct {
	Method    string
	Args      interface{}
	Timestamp time.Time
}

type callRecorder struct {
	calls []MockCall
	mu    sync.Mutex
}

func (r *callRecorder) recordCall(method string, args interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, MockCall{
		Method:    method,
		Args:      args,
		Timestamp: time.Now(),
	})
}

// Calls returns all recorded calls.
func (r *callRecorder) Calls() []MockCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]MockCall, len(r.calls))
	copy(result, r.calls)
	return result
}

// CallCount returns the number of calls to a method.
func (r *callRecorder) CallCount(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, c := range r.calls {
		if c.Method == method {
			count++
		}
	}
	return count
}

// =============================================================================
// MockRuntime
// =============================================================================

type mockClass struct {
	ref core.ClassRef
	sig string
	tag int64
}

type mockObject struct {
	class core.ClassRef
	size  int64
	tag   int64
	refs  []uint64
}

// MockRuntime is an in-memory object graph implementing core.Runtime.
// FollowReferences walks it breadth-first from the roots and reports every
// reference edge, so an object with two referrers is reported twice.
type MockRuntime struct {
	callRecorder

	classes    []*mockClass
	objects    map[uint64]*mockObject
	roots      []uint64
	traversals int

	// AllowRepeatedTraversal lifts the one-traversal restriction.
	AllowRepeatedTraversal bool

	loadErr      error
	signatureErr error
	followErr    error
}

// NewMockRuntime creates an empty runtime.
func NewMockRuntime() *MockRuntime {
	return &MockRuntime{objects: make(map[uint64]*mockObject)}
}

// WithClass registers a loaded class and returns its handle.
func (m *MockRuntime) WithClass(signature string) core.ClassRef {
	ref := core.ClassRef(len(m.classes) + 1)
	m.classes = append(m.classes, &mockClass{ref: ref, sig: signature})
	return ref
}

// WithObject adds an object of class c with the given shallow size and
// outgoing references.
func (m *MockRuntime) WithObject(id uint64, c core.ClassRef, size int64, refs ...uint64) *MockRuntime {
	m.objects[id] = &mockObject{class: c, size: size, refs: refs}
	return m
}

// WithRoots marks objects as GC roots. A root listed twice is reported twice.
func (m *MockRuntime) WithRoots(ids ...uint64) *MockRuntime {
	m.roots = append(m.roots, ids...)
	return m
}

// WithLoadError makes LoadedClasses fail.
func (m *MockRuntime) WithLoadError(err error) *MockRuntime {
	m.loadErr = err
	return m
}

// WithSignatureError makes ClassSignature fail.
func (m *MockRuntime) WithSignatureError(err error) *MockRuntime {
	m.signatureErr = err
	return m
}

// WithFollowError makes FollowReferences fail.
func (m *MockRuntime) WithFollowError(err error) *MockRuntime {
	m.followErr = err
	return m
}

// LoadedClasses implements core.Runtime.
func (m *MockRuntime) LoadedClasses() ([]core.ClassRef, error) {
	m.recordCall("LoadedClasses", nil)
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	refs := make([]core.ClassRef, len(m.classes))
	for i, c := range m.classes {
		refs[i] = c.ref
	}
	return refs, nil
}

// SetTag implements core.Runtime.
func (m *MockRuntime) SetTag(c core.ClassRef, tag int64) error {
	m.recordCall("SetTag", tag)
	cls, err := m.class(c)
	if err != nil {
		return err
	}
	cls.tag = tag
	return nil
}

// ClassSignature implements core.Runtime.
func (m *MockRuntime) ClassSignature(c core.ClassRef) (string, error) {
	m.recordCall("ClassSignature", c)
	if m.signatureErr != nil {
		return "", m.signatureErr
	}
	cls, err := m.class(c)
	if err != nil {
		return "", err
	}
	return cls.sig, nil
}

// ClassTag returns the tag most recently set on c.
func (m *MockRuntime) ClassTag(c core.ClassRef) int64 {
	cls, err := m.class(c)
	if err != nil {
		return -1
	}
	return cls.tag
}

// ObjectTag returns the tag cell of an object.
func (m *MockRuntime) ObjectTag(id uint64) int64 {
	if o, ok := m.objects[id]; ok {
		return o.tag
	}
	return -1
}

// FollowReferences implements core.Runtime.
func (m *MockRuntime) FollowReferences(cb core.HeapReferenceCallback, userData any) error {
	m.recordCall("FollowReferences", nil)
	if m.followErr != nil {
		return m.followErr
	}
	m.traversals++
	if m.traversals > 1 && !m.AllowRepeatedTraversal {
		return core.ErrHostCallFailed(core.CodeTraversalRepeated, "heap traversal already performed")
	}

	queue := append([]uint64(nil), m.roots...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		obj, ok := m.objects[id]
		if !ok {
			return fmt.Errorf("dangling reference to object %d", id)
		}
		cls, err := m.class(obj.class)
		if err != nil {
			return err
		}
		if cb(cls.tag, obj.size, &obj.tag, userData) == core.VisitObjects {
			queue = append(queue, obj.refs...)
		}
	}
	return nil
}

func (m *MockRuntime) class(c core.ClassRef) (*mockClass, error) {
	for _, cls := range m.classes {
		if cls.ref == c {
			return cls, nil
		}
	}
	return nil, core.ErrHostCallFailed(core.CodeClassNotFound, fmt.Sprintf("unknown class %d", c))
}

// =============================================================================
// MockManagement
// =============================================================================

// MockManagement implements core.Management with canned values.
type MockManagement struct {
	callRecorder

	Heap    core.MemoryUsage
	NonHeap core.MemoryUsage
	Pools   []core.MemoryPool

	usageErr error
	dumpErr  error
	dumpFunc func(path string) error
}

// NewMockManagement creates a management mock with plausible defaults.
func NewMockManagement() *MockManagement {
	return &MockManagement{
		Heap:    core.MemoryUsage{Init: 12, Used: 14, Committed: 11, Max: 13},
		NonHeap: core.MemoryUsage{Init: 22, Used: 24, Committed: 21, Max: 23},
		Pools: []core.MemoryPool{
			{Name: "Metaspace", Usage: core.MemoryUsage{Init: 0, Used: 10, Committed: 20, Max: -1}},
		},
	}
}

// WithUsageError makes the memory usage calls fail.
func (m *MockManagement) WithUsageError(err error) *MockManagement {
	m.usageErr = err
	return m
}

// WithDumpError makes DumpHeap fail.
func (m *MockManagement) WithDumpError(err error) *MockManagement {
	m.dumpErr = err
	return m
}

// WithDumpFunc replaces DumpHeap.
func (m *MockManagement) WithDumpFunc(fn func(path string) error) *MockManagement {
	m.dumpFunc = fn
	return m
}

// HeapMemoryUsage implements core.Management.
func (m *MockManagement) HeapMemoryUsage() (core.MemoryUsage, error) {
	m.recordCall("HeapMemoryUsage", nil)
	return m.Heap, m.usageErr
}

// NonHeapMemoryUsage implements core.Management.
func (m *MockManagement) NonHeapMemoryUsage() (core.MemoryUsage, error) {
	m.recordCall("NonHeapMemoryUsage", nil)
	return m.NonHeap, m.usageErr
}

// MemoryPools implements core.Management.
func (m *MockManagement) MemoryPools() ([]core.MemoryPool, error) {
	m.recordCall("MemoryPools", nil)
	if m.usageErr != nil {
		return nil, m.usageErr
	}
	return m.Pools, nil
}

// DumpHeap implements core.Management.
func (m *MockManagement) DumpHeap(path string) error {
	m.recordCall("DumpHeap", path)
	if m.dumpFunc != nil {
		return m.dumpFunc(path)
	}
	return m.dumpErr
}

// =============================================================================
// MockSession / MockSessionFactory
// =============================================================================

// MockSession implements core.Session.
type MockSession struct {
	Rt     core.Runtime
	Mgmt   core.Management
	closed bool
	mu     sync.Mutex
}

// Runtime implements core.Session.
func (s *MockSession) Runtime() core.Runtime { return s.Rt }

// Management implements core.Session.
func (s *MockSession) Management() core.Management { return s.Mgmt }

// Close implements core.Session.
func (s *MockSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *MockSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// MockSessionFactory hands out one fixed session.
type MockSessionFactory struct {
	callRecorder
	Session *MockSession
	err     error
}

// NewMockSessionFactory creates a factory around a runtime and management mock.
func NewMockSessionFactory(rt core.Runtime, mgmt core.Management) *MockSessionFactory {
	return &MockSessionFactory{Session: &MockSession{Rt: rt, Mgmt: mgmt}}
}

// WithError makes NewSession fail.
func (f *MockSessionFactory) WithError(err error) *MockSessionFactory {
	f.err = err
	return f
}

// NewSession implements core.SessionFactory.
func (f *MockSessionFactory) NewSession(_ context.Context) (core.Session, error) {
	f.recordCall("NewSession", nil)
	if f.err != nil {
		return nil, f.err
	}
	return f.Session, nil
}

// =============================================================================
// MockSignaler
// =============================================================================

// MockSignaler records signals instead of delivering them.
type MockSignaler struct {
	mu      sync.Mutex
	signals []syscall.Signal
	err     error
}

// NewMockSignaler creates a signaler mock.
func NewMockSignaler() *MockSignaler {
	return &MockSignaler{}
}

// WithError makes Signal fail.
func (s *MockSignaler) WithError(err error) *MockSignaler {
	s.err = err
	return s
}

// Signal implements core.Signaler.
func (s *MockSignaler) Signal(sig syscall.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals = append(s.signals, sig)
	return s.err
}

// Signals returns the signals received so far.
func (s *MockSignaler) Signals() []syscall.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]syscall.Signal(nil), s.signals...)
}
