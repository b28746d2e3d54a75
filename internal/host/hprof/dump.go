package hprof

import (
	"fmt"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/killswitch/internal/core"
)

type class struct {
	id        uint64
	signature string
	tag       int64
}

type node struct {
	class    *class
	classID  uint64
	size     int64
	refs     []uint64
	tag      int64
	expanded bool
}

// Dump is a parsed heap snapshot. It implements core.Runtime with the same
// single-traversal restriction as a live JVMTI agent.
type Dump struct {
	mu         sync.Mutex
	idSize     int
	timestamp  time.Time
	classes    []*class
	objects    map[uint64]*node
	roots      []uint64
	traversals int
}

// IDSize returns the identifier width in bytes.
func (d *Dump) IDSize() int { return d.idSize }

// Timestamp returns when the snapshot was taken.
func (d *Dump) Timestamp() time.Time { return d.timestamp }

// ClassCount returns the number of classes, including synthesized
// primitive array classes.
func (d *Dump) ClassCount() int { return len(d.classes) }

// ObjectCount returns the number of objects, class objects included.
func (d *Dump) ObjectCount() int { return len(d.objects) }

// RootCount returns the number of GC root entries.
func (d *Dump) RootCount() int { return len(d.roots) }

// LoadedClasses implements core.Runtime.
func (d *Dump) LoadedClasses() ([]core.ClassRef, error) {
	refs := make([]core.ClassRef, len(d.classes))
	for i := range d.classes {
		refs[i] = core.ClassRef(i + 1)
	}
	return refs, nil
}

// SetTag implements core.Runtime.
func (d *Dump) SetTag(c core.ClassRef, tag int64) error {
	cls, err := d.class(c)
	if err != nil {
		return err
	}
	d.mu.Lock()
	cls.tag = tag
	d.mu.Unlock()
	return nil
}

// ClassSignature implements core.Runtime.
func (d *Dump) ClassSignature(c core.ClassRef) (string, error) {
	cls, err := d.class(c)
	if err != nil {
		return "", err
	}
	return cls.signature, nil
}

// FollowReferences implements core.Runtime. Every reference edge is
// reported, starting with the roots; an object's own references are queued
// at most once, the first time the callback asks to visit it.
func (d *Dump) FollowReferences(cb core.HeapReferenceCallback, userData any) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.traversals++
	if d.traversals > 1 {
		return core.ErrHostCallFailed(core.CodeTraversalRepeated, "heap traversal already performed")
	}

	queue := append([]uint64(nil), d.roots...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		obj, ok := d.objects[id]
		if !ok {
			continue
		}
		var classTag int64
		if obj.class != nil {
			classTag = obj.class.tag
		}
		if cb(classTag, obj.size, &obj.tag, userData) == core.VisitObjects && !obj.expanded {
			obj.expanded = true
			queue = append(queue, obj.refs...)
		}
	}
	return nil
}

func (d *Dump) class(c core.ClassRef) (*class, error) {
	if c == 0 || int(c) > len(d.classes) {
		return nil, core.ErrHostCallFailed(core.CodeClassNotFound, fmt.Sprintf("unknown class %d", c))
	}
	return d.classes[c-1], nil
}
