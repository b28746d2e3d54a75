package logging

import (
	"regexp"
)

// Sanitizer redacts secrets from log messages. Target command lines often
// carry credentials as system properties or environment assignments.
type Sanitizer struct {
	patterns []*regexp.Regexp
	redacted string
}

// NewSanitizer creates a sanitizer with default patterns.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{
		patterns: defaultPatterns(),
		redacted: "[REDACTED]",
	}
}

func defaultPatterns() []*regexp.Regexp {
	patterns := []string{
		// -Djavax.net.ssl.keyStorePassword=..., -Ddb.password=...
		`(?i)-D[\w.-]*(password|passwd|secret|token|credentials?)[\w.-]*=\S+`,
		// JDBC URLs with inline credentials
		`(?i)jdbc:[a-z0-9]+://[^\s:@/]+:[^\s@/]+@`,
		// AWS Access Key
		`AKIA[0-9A-Z]{16}`,
		// Generic Bearer tokens
		`(?i)bearer\s+[a-zA-Z0-9._-]{20,}`,
		// Generic assignments
		`(?i)(api[_-]?key|secret|token|password)["'\s:=]+[^\s"']{8,}`,
	}

	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(p))
	}
	return compiled
}

// Sanitize redacts sensitive information from a string.
func (s *Sanitizer) Sanitize(input string) string {
	result := input
	for _, pattern := range s.patterns {
		result = pattern.ReplaceAllString(result, s.redacted)
	}
	return result
}

// AddPattern adds a custom pattern.
func (s *Sanitizer) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	s.patterns = append(s.patterns, re)
	return nil
}
