// Package enginerr defines the engine's error taxonomy (§7): a small Kind
// enum and an Error wrapping it with a message and an optional cause,
// grounded on the teacher's classified validation-error shape in
// internal/config.Load (a []error of named field failures rather than
// ad hoc fmt.Errorf strings).
package enginerr

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error for callers that branch on error class
// (HTTP status mapping, retry eligibility, audit categorization).
type Kind int

const (
	Internal Kind = iota
	Validation
	NotFound
	Conflict
	ServiceUnavailable
	DataResolution
	ServiceCall
	Storage
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case ServiceUnavailable:
		return "service_unavailable"
	case DataResolution:
		return "data_resolution"
	case ServiceCall:
		return "service_call"
	case Storage:
		return "storage"
	default:
		return "internal"
	}
}

// Error is the engine's error type. Cause may be nil.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func new(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...)}
}

func Validationf(format string, args ...any) *Error { return new(Validation, format, args...) }
func NotFoundf(format string, args ...any) *Error   { return new(NotFound, format, args...) }
func Conflictf(format string, args ...any) *Error   { return new(Conflict, format, args...) }
func ServiceUnavailablef(format string, args ...any) *Error {
	return new(ServiceUnavailable, format, args...)
}
func DataResolutionf(format string, args ...any) *Error { return new(DataResolution, format, args...) }
func ServiceCallf(format string, args ...any) *Error    { return new(ServiceCall, format, args...) }
func Storagef(format string, args ...any) *Error        { return new(Storage, format, args...) }
func Internalf(format string, args ...any) *Error       { return new(Internal, format, args...) }

// Wrap classifies cause as kind, keeping cause retrievable via errors.Unwrap.
func Wrap(k Kind, cause error, format string, args ...any) *Error {
	e := new(k, format, args...)
	e.Cause = cause
	return e
}

// Is reports whether err is (or wraps) an *Error of kind k.
func Is(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}
