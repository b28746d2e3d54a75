package core

import (
	"context"
	"syscall"
)

// =============================================================================
// Host ports
// =============================================================================

// VisitObjects is returned by a HeapReferenceCallback to continue the
// traversal into the reported object's references (JVMTI_VISIT_OBJECTS).
const VisitObjects = 0x100

// ClassRef is an opaque handle to a class loaded in the host.
// It is only meaningful within the session that produced it.
type ClassRef uint64

// HeapReferenceCallback is invoked once per reference edge discovered by
// Runtime.FollowReferences. classTag is the tag of the referenced object's
// class, size its shallow size in bytes, and tag points at the object's
// own tag cell, which the callback may read and write. userData is passed
// through unchanged. Returning VisitObjects continues into the object;
// returning 0 skips its outgoing references.
type HeapReferenceCallback func(classTag, size int64, tag *int64, userData any) int

// Runtime is the host's class and heap introspection surface.
type Runtime interface {
	// LoadedClasses enumerates every class currently loaded.
	LoadedClasses() ([]ClassRef, error)

	// SetTag attaches an integer tag to a class.
	SetTag(c ClassRef, tag int64) error

	// ClassSignature returns the JNI signature, e.g. "Ljava/lang/String;".
	ClassSignature(c ClassRef) (string, error)

	// FollowReferences performs a single pass over the live object graph.
	// Hosts may support only one traversal per process lifetime.
	FollowReferences(cb HeapReferenceCallback, userData any) error
}

// MemoryUsage mirrors java.lang.management.MemoryUsage. Max is -1 when
// undefined.
type MemoryUsage struct {
	Init      int64 `json:"init"`
	Used      int64 `json:"used"`
	Committed int64 `json:"committed"`
	Max       int64 `json:"max"`
}

// MemoryPool is a named memory pool and its usage.
type MemoryPool struct {
	Name  string      `json:"name"`
	Usage MemoryUsage `json:"usage"`
}

// Management is the host's management-bean surface, used by the memory
// report and heap dump diagnostics.
type Management interface {
	HeapMemoryUsage() (MemoryUsage, error)
	NonHeapMemoryUsage() (MemoryUsage, error)
	MemoryPools() ([]MemoryPool, error)

	// DumpHeap writes a heap dump of live objects to path.
	DumpHeap(path string) error
}

// Session bundles the host handles valid for one escalation.
type Session interface {
	Runtime() Runtime
	Management() Management
	Close() error
}

// SessionFactory creates fresh host sessions.
type SessionFactory interface {
	NewSession(ctx context.Context) (Session, error)
}

// Signaler delivers a signal to the monitored process.
type Signaler interface {
	Signal(sig syscall.Signal) error
}
