package core

import (
	"fmt"
	"strconv"
	"strings"
)

// ExhaustionFlags is the bitmask delivered with every exhaustion
// notification. Values match JVMTI_RESOURCE_EXHAUSTED_*.
type ExhaustionFlags uint32

const (
	// OOMErrorImminent means the host will throw an OutOfMemoryError
	// once the notification returns.
	OOMErrorImminent ExhaustionFlags = 0x0001
	// HeapExhausted means a heap allocation could not be satisfied.
	HeapExhausted ExhaustionFlags = 0x0002
	// ThreadsExhausted means a thread could not be created.
	ThreadsExhausted ExhaustionFlags = 0x0004
)

var flagNames = []struct {
	flag ExhaustionFlags
	name string
}{
	{HeapExhausted, "heap"},
	{ThreadsExhausted, "threads"},
	{OOMErrorImminent, "oom"},
}

// Has reports whether every bit of f is set.
func (e ExhaustionFlags) Has(f ExhaustionFlags) bool {
	return e&f == f
}

// String renders the set bits as "heap|threads|oom".
func (e ExhaustionFlags) String() string {
	if e == 0 {
		return "none"
	}
	var parts []string
	rest := e
	for _, fn := range flagNames {
		if e.Has(fn.flag) {
			parts = append(parts, fn.name)
			rest &^= fn.flag
		}
	}
	if rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint32(rest)))
	}
	return strings.Join(parts, "|")
}

// ParseFlags parses a list such as "heap,oom" or "threads|oom".
// Separators may be ',', '|', '.' or whitespace. Hex tokens like "0x10"
// carry bits without a name, as String renders them.
func ParseFlags(s string) (ExhaustionFlags, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == '|' || r == '.' || r == ' ' || r == '\t'
	})
	if len(fields) == 0 {
		return 0, ErrParse(CodeInvalidFlags, fmt.Sprintf("no exhaustion flags in %q", s))
	}

	var flags ExhaustionFlags
	for _, f := range fields {
		switch strings.ToLower(f) {
		case "heap", "java_heap", "heap_exhausted":
			flags |= HeapExhausted
		case "threads", "thread", "threads_exhausted":
			flags |= ThreadsExhausted
		case "oom", "oom_error", "oom_error_imminent":
			flags |= OOMErrorImminent
		default:
			if hex, ok := strings.CutPrefix(strings.ToLower(f), "0x"); ok {
				if v, err := strconv.ParseUint(hex, 16, 32); err == nil {
					flags |= ExhaustionFlags(v)
					continue
				}
			}
			return 0, ErrParse(CodeInvalidFlags, fmt.Sprintf("unknown exhaustion flag %q", f))
		}
	}
	return flags, nil
}

// MarshalText renders the flags the way String does, so JSON and YAML
// carry "heap|oom" rather than a bare number.
func (e ExhaustionFlags) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UnmarshalText accepts anything ParseFlags accepts, plus "none".
func (e *ExhaustionFlags) UnmarshalText(text []byte) error {
	if string(text) == "none" {
		*e = 0
		return nil
	}
	f, err := ParseFlags(string(text))
	if err != nil {
		return err
	}
	*e = f
	return nil
}
