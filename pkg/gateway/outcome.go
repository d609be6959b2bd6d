// Package gateway composes skill execution, output validation and reputation
// update into one trust transaction.
package gateway

import "fmt"

// OutcomeKind distinguishes how a skill call was answered.
type OutcomeKind int

const (
	OutcomeOK OutcomeKind = iota
	OutcomeFallback
	OutcomeUpstreamError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeOK:
		return "ok"
	case OutcomeFallback:
		return "fallback"
	case OutcomeUpstreamError:
		return "upstream_error"
	}
	return fmt.Sprintf("OutcomeKind(%d)", int(k))
}

// Source is the value of the response "source" field.
type Source string

const (
	SourceBackend  Source = "backend"
	SourceFallback Source = "fallback"
)

// Outcome is the result of calling an upstream that may be substituted. For
// OutcomeUpstreamError, StatusCode is zero when the upstream was unreachable.
type Outcome[T any] struct {
	Kind       OutcomeKind
	Value      T
	StatusCode int
	Err        error
}

// OK wraps a value produced by the upstream.
func OK[T any](v T) Outcome[T] {
	return Outcome[T]{Kind: OutcomeOK, Value: v}
}

// Fallback wraps a locally substituted value; cause is why the upstream
// could not be used.
func Fallback[T any](v T, cause error) Outcome[T] {
	return Outcome[T]{Kind: OutcomeFallback, Value: v, Err: cause}
}

// UpstreamError records a failed upstream call.
func UpstreamError[T any](status int, err error) Outcome[T] {
	return Outcome[T]{Kind: OutcomeUpstreamError, StatusCode: status, Err: err}
}

// Source reports which path produced the value.
func (o Outcome[T]) Source() Source {
	if o.Kind == OutcomeOK {
		return SourceBackend
	}
	return SourceFallback
}
