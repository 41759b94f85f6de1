package csvio

import (
	"fmt"
	"time"
	"unicode/utf8"
)

const (
	defaultSeparator = ','
	defaultMaxIssues = 100
)

type settings struct {
	separator rune
	maxIssues int
	now       func() time.Time
}

func defaults() settings {
	return settings{separator: defaultSeparator, maxIssues: defaultMaxIssues, now: time.Now}
}

// Option configures reading or writing.
type Option func(*settings)

// WithSeparator sets the field delimiter.
func WithSeparator(r rune) Option {
	return func(s *settings) {
		if r != 0 && r != '"' && r != '\r' && r != '\n' && r != utf8.RuneError {
			s.separator = r
		}
	}
}

// WithMaxIssues caps how many validation issues are collected.
func WithMaxIssues(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxIssues = n
		}
	}
}

// WithClock overrides the export timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// ParseSeparator accepts a one-character separator; "\t" and "tab" mean tab.
func ParseSeparator(v string) (rune, error) {
	switch v {
	case `\t`, "tab", "TAB":
		return '\t', nil
	}
	if utf8.RuneCountInString(v) != 1 {
		return 0, fmt.Errorf("%w: %q", ErrBadSeparator, v)
	}
	r, _ := utf8.DecodeRuneInString(v)
	if r == '"' || r == '\r' || r == '\n' || r == utf8.RuneError {
		return 0, fmt.Errorf("%w: %q", ErrBadSeparator, v)
	}
	return r, nil
}
