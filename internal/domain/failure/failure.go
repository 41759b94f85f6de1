// Package failure classifies errors surfaced by the evaluation pipeline so
// callers can render a message and a recommendation without inspecting
// transport details.
package failure

import (
	"errors"
	"fmt"
)

// Kind names a class of failure.
type Kind string

// Failure kinds.
const (
	KindUnknown            Kind = "unknown"
	KindValidation         Kind = "validation"
	KindTransport          Kind = "transport"
	KindTimeout            Kind = "timeout"
	KindReconnectExhausted Kind = "reconnect_exhausted"
	KindParse              Kind = "parse"
	KindInactivity         Kind = "inactivity"
	KindJob                Kind = "job"
	KindNotFound           Kind = "not_found"
	KindConflict           Kind = "conflict"
)

// Recommendations shown next to a failure message.
const (
	RecommendFixInput  = "check the uploaded data and settings, then start again"
	RecommendRetry     = "retry the request"
	RecommendReconnect = "reconnect to resume the stream"
	RecommendWait      = "no action needed, results continue when the server sends them"
	RecommendRestart   = "start a new evaluation"
)

// Error attaches an operation and a Kind to an underlying error.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

// New builds an *Error. A nil err yields a bare kind error.
func New(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// Errorf is New with a formatted message.
func Errorf(op string, kind Kind, format string, args ...any) *Error {
	return New(op, kind, fmt.Errorf(format, args...))
}

func (e *Error) Error() string {
	switch {
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Op == "":
		return e.Err.Error()
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error with the same Kind and no Op, so a kind-only
// target can be used with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// KindOf returns the outermost Kind found in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// Recommendation returns the operator-facing hint for kind.
func Recommendation(kind Kind) string {
	switch kind {
	case KindValidation, KindNotFound:
		return RecommendFixInput
	case KindTransport, KindTimeout, KindConflict, KindUnknown:
		return RecommendRetry
	case KindReconnectExhausted:
		return RecommendReconnect
	case KindParse, KindInactivity:
		return RecommendWait
	case KindJob:
		return RecommendRestart
	default:
		return ""
	}
}

// IsTerminal reports whether a failure of kind ends the streaming session.
func IsTerminal(kind Kind) bool {
	switch kind {
	case KindTimeout, KindReconnectExhausted, KindJob:
		return true
	default:
		return false
	}
}
