package sweep

import (
	"errors"
	"fmt"
)

// ErrorKind identifies specific types of errors that can occur while
// managing a sweep run. This enables error handling code to make decisions
// based on the type of error.
type ErrorKind int

const (
	// ErrKindEmptyItemList indicates an attempt to start a run with no work items.
	ErrKindEmptyItemList ErrorKind = iota

	// ErrKindMalformedItem indicates the enumerated item list contained an
	// item that fails its validity predicate.
	ErrKindMalformedItem

	// ErrKindInvalidCursor indicates an attempt to move the cursor backwards
	// or beyond the end of the item list.
	ErrKindInvalidCursor

	// ErrKindUnknownOutcome indicates an outcome carried a tag outside the
	// closed tag set.
	ErrKindUnknownOutcome
)

// Error represents domain-specific errors raised by sweep run management.
type Error struct {
	msg  string
	kind ErrorKind
}

// Error returns the error message. This implements the error interface.
func (e *Error) Error() string { return e.msg }

// Is enables error matching by comparing error kinds.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.kind == t.kind
}

// NewEmptyItemListError creates an error for starting a run without items.
func NewEmptyItemListError() error {
	return &Error{msg: "cannot start a run with an empty item list", kind: ErrKindEmptyItemList}
}

// NewMalformedItemError creates an error for an invalid enumerated item.
func NewMalformedItemError(item WorkItem) error {
	return &Error{msg: fmt.Sprintf("malformed work item %q", item), kind: ErrKindMalformedItem}
}

func newInvalidCursorError(cursor, n, total int) error {
	return &Error{
		msg:  fmt.Sprintf("cannot advance cursor %d by %d with %d total items", cursor, n, total),
		kind: ErrKindInvalidCursor,
	}
}

func newUnknownOutcomeError(tag OutcomeTag) error {
	return &Error{msg: fmt.Sprintf("unknown outcome tag %q", tag), kind: ErrKindUnknownOutcome}
}

// IsInputError reports whether err indicates the enumerated item list was
// unusable (empty or malformed). These errors abort before a run starts and
// leave nothing persisted.
func IsInputError(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.kind == ErrKindEmptyItemList || e.kind == ErrKindMalformedItem
}
