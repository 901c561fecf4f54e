package dispatch

import (
	"errors"
	"fmt"
)

// Backend sentinels.
var (
	// ErrNoSuchEntry indicates the target entry does not exist.
	ErrNoSuchEntry = errors.New("no such entry")

	// ErrEntryExists indicates an Add collided with an existing entry.
	ErrEntryExists = errors.New("entry already exists")
)

// RetryableError marks a transient backend failure (deadlock, lock
// contention). The transaction was rolled back and the call may be repeated
// unchanged.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable: %v", e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// Retryable wraps err as a RetryableError. A nil err stays nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err is a transient backend failure.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// DispatchError represents a unit that could not be applied.
type DispatchError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// DN is the entry the unit targets.
	DN string

	// USN is the unit's sequence number.
	USN int64

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes dispatch errors.
type ErrorCode string

const (
	// ErrCodeAmbiguousTombstone indicates a tombstone identity matched more than one live entry.
	ErrCodeAmbiguousTombstone ErrorCode = "AMBIGUOUS_TOMBSTONE"

	// ErrCodeUnknownSyncState indicates a unit whose sync state is none of add/modify/delete.
	ErrCodeUnknownSyncState ErrorCode = "UNKNOWN_SYNC_STATE"

	// ErrCodeRetriesExhausted indicates a retryable backend error persisted past the retry budget.
	ErrCodeRetriesExhausted ErrorCode = "RETRIES_EXHAUSTED"

	// ErrCodeBackend indicates a non-retryable backend failure.
	ErrCodeBackend ErrorCode = "BACKEND_FAILED"
)

// Error implements the error interface.
func (e *DispatchError) Error() string {
	msg := fmt.Sprintf("%s: %s (dn=%s, usn=%d)", e.Code, e.Message, e.DN, e.USN)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *DispatchError) Unwrap() error {
	return e.Err
}

// IsAmbiguousTombstone reports whether err is a tombstone ambiguity error.
func IsAmbiguousTombstone(err error) bool {
	var de *DispatchError
	if errors.As(err, &de) {
		return de.Code == ErrCodeAmbiguousTombstone
	}
	return false
}

// IsRetriesExhausted reports whether err is a retry-budget exhaustion.
func IsRetriesExhausted(err error) bool {
	var de *DispatchError
	if errors.As(err, &de) {
		return de.Code == ErrCodeRetriesExhausted
	}
	return false
}

// ErrorCodeOf returns the code of a DispatchError in err's chain, or "".
func ErrorCodeOf(err error) ErrorCode {
	var de *DispatchError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}
