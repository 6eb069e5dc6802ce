package shot

import (
	"context"
	"errors"
)

// Failure taxonomy of a capture session. Every error surfaced by the
// capture packages wraps exactly one of these.
var (
	ErrInjectionFailed      = errors.New("injection failed")
	ErrMetricsUnavailable   = errors.New("page metrics unavailable")
	ErrInvalidDimensions    = errors.New("invalid dimensions")
	ErrCommunicationTimeout = errors.New("communication timeout")
	ErrCaptureFailed        = errors.New("capture failed")
	ErrInvalidRegion        = errors.New("invalid region")
	ErrStorageFailure       = errors.New("storage failure")

	// ErrCancelled is returned when the user dismisses region selection.
	ErrCancelled = errors.New("selection cancelled")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrInjectionFailed, "InjectionFailed"},
	{ErrMetricsUnavailable, "MetricsUnavailable"},
	{ErrInvalidDimensions, "InvalidDimensions"},
	{ErrCommunicationTimeout, "CommunicationTimeout"},
	{ErrCaptureFailed, "CaptureFailed"},
	{ErrInvalidRegion, "InvalidRegion"},
	{ErrStorageFailure, "StorageFailure"},
	{ErrCancelled, "Cancelled"},
}

// KindOf names the taxonomy entry an error belongs to. The outermost
// classification in the wrap chain wins, so a timeout reported while
// measuring is MetricsUnavailable. A bare context deadline counts as
// CommunicationTimeout; anything else is "Internal".
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	if name := firstKind(err); name != "" {
		return name
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "CommunicationTimeout"
	}
	return "Internal"
}

// firstKind walks the wrap tree depth-first, outermost error first.
func firstKind(err error) string {
	for _, k := range kinds {
		if err == k.err {
			return k.name
		}
	}
	switch u := err.(type) {
	case interface{ Unwrap() error }:
		if inner := u.Unwrap(); inner != nil {
			return firstKind(inner)
		}
	case interface{ Unwrap() []error }:
		for _, inner := range u.Unwrap() {
			if name := firstKind(inner); name != "" {
				return name
			}
		}
	}
	return ""
}
