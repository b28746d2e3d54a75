package handler

import (
	"github.com/hugo-lorenzo-mato/killswitch/internal/core"
)

// unavailableSession stands in when no host session could be opened.
// Every introspection call fails with the original error, so the pipeline
// reports each diagnostic as failed and still reaches the kill.
type unavailableSession struct {
	err error
}

func (s unavailableSession) Runtime() core.Runtime       { return unavailableHost(s) }
func (s unavailableSession) Management() core.Management { return unavailableHost(s) }
func (s unavailableSession) Close() error                { return nil }

type unavailableHost struct {
	err error
}

func (h unavailableHost) fail() error {
	return core.ErrHostCallFailed(core.CodeMethodFailed, "host session unavailable").WithCause(h.err)
}

func (h unavailableHost) LoadedClasses() ([]core.ClassRef, error) { return nil, h.fail() }
func (h unavailableHost) SetTag(core.ClassRef, int64) error       { return h.fail() }
func (h unavailableHost) ClassSignature(core.ClassRef) (string, error) {
	return "", h.fail()
}
func (h unavailableHost) FollowReferences(core.HeapReferenceCallback, any) error {
	return h.fail()
}
func (h unavailableHost) HeapMemoryUsage() (core.MemoryUsage, error) {
	return core.MemoryUsage{}, h.fail()
}
func (h unavailableHost) NonHeapMemoryUsage() (core.MemoryUsage, error) {
	return core.MemoryUsage{}, h.fail()
}
func (h unavailableHost) MemoryPools() ([]core.MemoryPool, error) { return nil, h.fail() }
func (h unavailableHost) DumpHeap(string) error                   { return h.fail() }
