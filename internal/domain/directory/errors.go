package directory

import (
	"errors"
	"fmt"
)

// ErrorKind identifies the classes of failures the directory service can
// surface. The retry layer keys off these kinds: rate-limit, transient
// backend, and internal errors are retryable; everything else is not.
type ErrorKind int

const (
	// ErrKindNotFound indicates the account or device does not exist.
	// It is a terminal, non-error outcome for the item it applies to.
	ErrKindNotFound ErrorKind = iota

	// ErrKindRateLimited indicates the remote API rejected the call due to
	// quota exhaustion.
	ErrKindRateLimited

	// ErrKindTransient indicates a temporary backend failure that is
	// expected to clear on its own.
	ErrKindTransient

	// ErrKindInternal indicates an internal error on the remote side.
	ErrKindInternal

	// ErrKindInvalidRequest indicates the call itself was malformed or
	// unauthorized and retrying it cannot help.
	ErrKindInvalidRequest
)

// Error is the domain error type returned by directory clients. The kind
// enables classification without depending on any particular transport.
type Error struct {
	msg  string
	kind ErrorKind
}

// Error returns the error message. This implements the error interface.
func (e *Error) Error() string { return e.msg }

// Kind returns the error classification.
func (e *Error) Kind() ErrorKind { return e.kind }

// Is enables error matching by comparing error kinds.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.kind == t.kind
}

// NewNotFoundError creates an error for a missing account or device.
func NewNotFoundError(id string) error {
	return &Error{msg: fmt.Sprintf("directory entity %q not found", id), kind: ErrKindNotFound}
}

// NewRateLimitError creates an error for a quota-rejected call.
func NewRateLimitError(detail string) error {
	return &Error{msg: fmt.Sprintf("rate limit exceeded: %s", detail), kind: ErrKindRateLimited}
}

// NewTransientError creates an error for a temporary backend failure.
func NewTransientError(detail string) error {
	return &Error{msg: fmt.Sprintf("transient backend error: %s", detail), kind: ErrKindTransient}
}

// NewInternalError creates an error for a remote internal failure.
func NewInternalError(detail string) error {
	return &Error{msg: fmt.Sprintf("internal error: %s", detail), kind: ErrKindInternal}
}

// NewInvalidRequestError creates an error for a call that cannot succeed
// no matter how often it is retried.
func NewInvalidRequestError(detail string) error {
	return &Error{msg: fmt.Sprintf("invalid request: %s", detail), kind: ErrKindInvalidRequest}
}

// IsNotFound reports whether err represents a missing account or device.
func IsNotFound(err error) bool {
	de, ok := asDirectoryError(err)
	return ok && de.kind == ErrKindNotFound
}

// IsRetryable reports whether err is one of the transient signatures the
// retry layer is allowed to retry: rate-limit, transient backend, or
// remote internal error. Anything else aborts immediately.
func IsRetryable(err error) bool {
	de, ok := asDirectoryError(err)
	if !ok {
		return false
	}
	switch de.kind {
	case ErrKindRateLimited, ErrKindTransient, ErrKindInternal:
		return true
	default:
		return false
	}
}

func asDirectoryError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
