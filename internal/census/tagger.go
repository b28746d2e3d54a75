package census

import (
	"fmt"

	"github.com/hugo-lorenzo-mato/killswitch/internal/core"
)

// VisitedMask is the bit of an object's tag cell marking it as counted.
// Class tags must stay below it so the two never overlap.
const VisitedMask int64 = 1 << 31

// Untagged is the tag hosts report for classes loaded after TagClasses ran.
const Untagged int64 = 0

// ClassTagger assigns dense tags to every loaded class and remembers each
// tag's signature. Tags start at 1; 0 is left to the host as Untagged.
type ClassTagger struct {
	signatures []string
}

// NewClassTagger creates an empty tagger.
func NewClassTagger() *ClassTagger {
	return &ClassTagger{}
}

// TagClasses tags every class currently loaded in rt. It must complete
// before the heap traversal since the traversal only reports tags.
func (t *ClassTagger) TagClasses(rt core.Runtime) error {
	classes, err := rt.LoadedClasses()
	if err != nil {
		return fmt.Errorf("enumerating loaded classes: %w", err)
	}
	if int64(len(t.signatures)+len(classes)) >= VisitedMask {
		return core.ErrHostCallFailed(core.CodeTagOverflow,
			fmt.Sprintf("%d classes exceed the class tag space", len(classes)))
	}

	for _, c := range classes {
		tag := int64(len(t.signatures)) + 1
		if err := rt.SetTag(c, tag); err != nil {
			return fmt.Errorf("tagging class %d: %w", c, err)
		}
		sig, err := rt.ClassSignature(c)
		if err != nil {
			return fmt.Errorf("reading signature of class %d: %w", c, err)
		}
		t.signatures = append(t.signatures, sig)
	}
	return nil
}

// Signature returns the signature recorded for tag.
func (t *ClassTagger) Signature(tag int64) (string, bool) {
	i := tag - 1
	if i < 0 || i >= int64(len(t.signatures)) {
		return "", false
	}
	return t.signatures[i], true
}

// Len returns the number of tagged classes.
func (t *ClassTagger) Len() int {
	return len(t.signatures)
}
