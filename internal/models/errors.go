package models

import (
	"context"
	"errors"
)

// Error kinds reported by filter and export jobs. Failures are wrapped with
// fmt.Errorf("...: %w", ErrX) so callers can test them with errors.Is.
var (
	// ErrUnsupportedScope is returned when a filter cannot run in the requested scope
	ErrUnsupportedScope = errors.New("unsupported scope")

	// ErrInvalidParameters is returned for non-positive kernels or malformed bounds
	ErrInvalidParameters = errors.New("invalid parameters")

	// ErrIOFailure is returned when an export file cannot be created or written
	ErrIOFailure = errors.New("i/o failure")

	// ErrCancelled is returned when a job stops because cancellation was requested
	ErrCancelled = errors.New("cancelled")
)

// ErrorKind is the user-facing classification of a job failure
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindUnsupportedScope
	KindInvalidParameters
	KindIOFailure
	KindCancelled
	KindInternal
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindUnsupportedScope:
		return "UnsupportedScope"
	case KindInvalidParameters:
		return "InvalidParameters"
	case KindIOFailure:
		return "IOFailure"
	case KindCancelled:
		return "Cancelled"
	default:
		return "Internal"
	}
}

// KindOf classifies err. Context cancellation counts as Cancelled.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrUnsupportedScope):
		return KindUnsupportedScope
	case errors.Is(err, ErrInvalidParameters):
		return KindInvalidParameters
	case errors.Is(err, ErrIOFailure):
		return KindIOFailure
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return KindCancelled
	default:
		return KindInternal
	}
}
