package fault

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry posture and HTTP mapping.
type Kind string

const (
	KindNotFound               Kind = "not_found"
	KindValidation             Kind = "validation"
	KindUnauthorized           Kind = "unauthorized"
	KindCloneFailed            Kind = "clone_failed"
	KindBuildFailed            Kind = "build_failed"
	KindImageMissingAfterBuild Kind = "image_missing_after_build"
	KindRunFailed              Kind = "run_failed"
	KindTimeout                Kind = "timeout"
	KindQueueUnavailable       Kind = "queue_unavailable"
	KindInternal               Kind = "internal"
)

// Error carries a kind alongside a message and optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New constructs a fault of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs a fault of the given kind around a cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Newf constructs a fault with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the kind from err, defaulting to KindInternal.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether the queue should redeliver a job that failed
// with this error. Caller-input failures are final; pipeline-step failures
// may succeed on a later attempt.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindCloneFailed, KindBuildFailed, KindImageMissingAfterBuild, KindRunFailed, KindInternal:
		return true
	default:
		return false
	}
}
