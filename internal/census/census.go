// Package census builds a per-class histogram of the live heap from a
// single reference traversal.
package census

import (
	"fmt"

	"github.com/hugo-lorenzo-mato/killswitch/internal/core"
)

type tally struct {
	count int64
	bytes int64
}

// censusContext is threaded through FollowReferences as user data and
// lives only for that one call.
type censusContext struct {
	byTag    map[int64]*tally
	untagged tally
}

// HeapCensus counts live objects per class tag. A census performs at most
// one traversal.
type HeapCensus struct {
	analyzed bool
	byTag    map[int64]*tally
	untagged tally
}

// NewHeapCensus creates a census.
func NewHeapCensus() *HeapCensus {
	return &HeapCensus{}
}

// Analyze walks the live heap of rt once.
func (c *HeapCensus) Analyze(rt core.Runtime) error {
	if c.analyzed {
		return core.ErrHostCallFailed(core.CodeTraversalRepeated,
			"heap census already performed; a full traversal runs at most once")
	}
	c.analyzed = true

	ctx := &censusContext{byTag: make(map[int64]*tally)}
	if err := rt.FollowReferences(visit, ctx); err != nil {
		return fmt.Errorf("following heap references: %w", err)
	}
	c.byTag = ctx.byTag
	c.untagged = ctx.untagged
	return nil
}

func visit(classTag, size int64, tag *int64, userData any) int {
	if *tag&VisitedMask == VisitedMask {
		return 0
	}
	*tag |= VisitedMask

	ctx := userData.(*censusContext)
	classTag &^= VisitedMask
	if classTag == Untagged {
		ctx.untagged.count++
		ctx.untagged.bytes += size
		return core.VisitObjects
	}

	t, ok := ctx.byTag[classTag]
	if !ok {
		t = &tally{}
		ctx.byTag[classTag] = t
	}
	t.count++
	t.bytes += size
	return core.VisitObjects
}

// Untagged returns the objects whose class was loaded after tagging.
func (c *HeapCensus) Untagged() (count, bytes int64) {
	return c.untagged.count, c.untagged.bytes
}

// Histogram resolves the counted tags to signatures. Classes sharing a
// signature, e.g. from different loaders, are merged.
func (c *HeapCensus) Histogram(t *ClassTagger) (*Histogram, error) {
	if !c.analyzed {
		return nil, core.ErrHostCallFailed(core.CodeTraversalFailed, "heap census has not been performed")
	}
	h := NewHistogram()
	for tag, n := range c.byTag {
		sig, ok := t.Signature(tag)
		if !ok {
			return nil, core.ErrHostCallFailed(core.CodeClassNotFound,
				fmt.Sprintf("no class recorded for tag %d", tag))
		}
		h.add(sig, n.count, n.bytes)
	}
	return h, nil
}

// Run tags the classes of rt, analyzes its heap and returns the histogram.
func Run(rt core.Runtime) (*Histogram, error) {
	tagger := NewClassTagger()
	if err := tagger.TagClasses(rt); err != nil {
		return nil, err
	}
	c := NewHeapCensus()
	if err := c.Analyze(rt); err != nil {
		return nil, err
	}
	return c.Histogram(tagger)
}
