package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hugo-lorenzo-mato/killswitch/internal/core"
)

// Defaults shared by the loader and the option string parser.
const (
	DefaultTimeThreshold           = 1
	DefaultCountThreshold          = 0
	DefaultHeapHistogramMaxEntries = 100
)

// Options is the parsed form of an agent-style option string such as
//
//	time=10,count=2,printHeapHistogram=1,heapDumpPath=/tmp/dump-%Y.hprof
//
// Numeric flags are non-zero for true. Only keys present in the string
// are marked as set; Apply leaves the others alone.
type Options struct {
	TimeThreshold           int
	CountThreshold          int
	PrintHeapHistogram      bool
	HeapHistogramMaxEntries int
	PrintMemoryUsage        bool
	HeapDumpPath            string

	set map[string]bool
}

// DefaultOptions returns the options used when no string is given.
func DefaultOptions() Options {
	return Options{
		TimeThreshold:           DefaultTimeThreshold,
		CountThreshold:          DefaultCountThreshold,
		HeapHistogramMaxEntries: DefaultHeapHistogramMaxEntries,
		PrintMemoryUsage:        true,
		set:                     map[string]bool{},
	}
}

// ParseOptions parses a comma separated key=value option string. An empty
// string yields the defaults, as does an empty value for a single key.
// Empty segments such as a trailing comma are skipped.
func ParseOptions(s string) (Options, error) {
	opts := DefaultOptions()
	if strings.TrimSpace(s) == "" {
		return opts, nil
	}

	for _, option := range strings.Split(s, ",") {
		if option == "" {
			continue
		}
		key, value, ok := strings.Cut(option, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return opts, core.ErrConfig(core.CodeInvalidOption,
				fmt.Sprintf("option %q is not of the form key=value", option))
		}
		if value == "" {
			if !isKnownOption(key) {
				return opts, unknownOption(key)
			}
			continue
		}

		var err error
		switch key {
		case "time":
			opts.TimeThreshold, err = parseCount(key, value)
		case "count":
			opts.CountThreshold, err = parseCount(key, value)
		case "printHeapHistogram":
			opts.PrintHeapHistogram, err = parseSwitch(key, value)
		case "heapHistogramMaxEntries":
			opts.HeapHistogramMaxEntries, err = parseCount(key, value)
		case "printMemoryUsage":
			opts.PrintMemoryUsage, err = parseSwitch(key, value)
		case "heapDumpPath":
			opts.HeapDumpPath = value
		default:
			return opts, unknownOption(key)
		}
		if err != nil {
			return opts, err
		}
		opts.set[key] = true
	}
	return opts, nil
}

// IsSet reports whether key appeared with a value in the parsed string.
func (o Options) IsSet(key string) bool {
	return o.set[key]
}

// Apply overlays the explicitly set options onto cfg.
func (o Options) Apply(cfg *Config) {
	if o.IsSet("time") {
		cfg.Thresholds.Time = o.TimeThreshold
	}
	if o.IsSet("count") {
		cfg.Thresholds.Count = o.CountThreshold
	}
	if o.IsSet("printHeapHistogram") {
		cfg.Actions.PrintHeapHistogram = o.PrintHeapHistogram
	}
	if o.IsSet("heapHistogramMaxEntries") {
		cfg.Actions.HeapHistogramMaxEntries = o.HeapHistogramMaxEntries
	}
	if o.IsSet("printMemoryUsage") {
		cfg.Actions.PrintMemoryUsage = o.PrintMemoryUsage
	}
	if o.IsSet("heapDumpPath") {
		cfg.Actions.HeapDumpPath = o.HeapDumpPath
	}
}

// String renders the options back into option string form.
func (o Options) String() string {
	parts := []string{
		"time=" + strconv.Itoa(o.TimeThreshold),
		"count=" + strconv.Itoa(o.CountThreshold),
		"printHeapHistogram=" + boolDigit(o.PrintHeapHistogram),
		"heapHistogramMaxEntries=" + strconv.Itoa(o.HeapHistogramMaxEntries),
		"printMemoryUsage=" + boolDigit(o.PrintMemoryUsage),
	}
	if o.HeapDumpPath != "" {
		parts = append(parts, "heapDumpPath="+o.HeapDumpPath)
	}
	return strings.Join(parts, ",")
}

var knownOptions = []string{
	"time", "count", "printHeapHistogram", "heapHistogramMaxEntries", "printMemoryUsage", "heapDumpPath",
}

func isKnownOption(key string) bool {
	for _, k := range knownOptions {
		if k == key {
			return true
		}
	}
	return false
}

func unknownOption(key string) error {
	return core.ErrConfig(core.CodeUnknownOption, fmt.Sprintf("unknown option %q", key)).
		WithDetail("known", knownOptions)
}

func parseCount(key, value string) (int, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(value), 10, 31)
	if err != nil {
		return 0, core.ErrConfig(core.CodeInvalidOption,
			fmt.Sprintf("option %s: %q is not a number", key, value)).WithCause(err)
	}
	return int(n), nil
}

func parseSwitch(key, value string) (bool, error) {
	n, err := parseCount(key, value)
	return n != 0, err
}

func boolDigit(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
