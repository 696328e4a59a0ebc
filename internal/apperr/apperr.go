package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies failures so callers can branch without string matching.
type Kind string

const (
	KindConflictingJob     Kind = "conflicting_job"
	KindTimeout            Kind = "timeout"
	KindUpstreamGeneration Kind = "upstream_generation_failed"
	KindValidation         Kind = "validation_failed"
	KindStoreUnavailable   Kind = "store_unavailable"
)

// Error carries a kind plus an operator-facing detail message.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same kind, so sentinel comparisons work:
//
//	errors.Is(err, apperr.ErrTimeout)
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrConflictingJob     = &Error{Kind: KindConflictingJob}
	ErrTimeout            = &Error{Kind: KindTimeout}
	ErrUpstreamGeneration = &Error{Kind: KindUpstreamGeneration}
	ErrValidation         = &Error{Kind: KindValidation}
	ErrStoreUnavailable   = &Error{Kind: KindStoreUnavailable}
)

// New builds an Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind around an underlying cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err if it is (or wraps) an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
