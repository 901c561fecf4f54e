package engine

import (
	"errors"
	"fmt"
)

// MessageError reports a message that was discarded. Units applied before
// the failure stay applied and recorded in the ledger; the partner cursor is
// not advanced, so the partner resends the message and the ledger skips the
// units already done.
type MessageError struct {
	// Code identifies the stage that failed.
	Code MessageErrorCode

	// Message is a human-readable description.
	Message string

	// Partner identifies the sending partner.
	Partner string

	// BatchID correlates the message's log lines and ledger rows.
	BatchID string

	// DN is the combined update's entry.
	DN string

	// Unit is the index of the failing unit in replay order, -1 when the
	// failure is not tied to one unit.
	Unit int

	// Err is the underlying cause.
	Err error
}

// MessageErrorCode categorizes message failures.
type MessageErrorCode string

const (
	// ErrCodeInvalidMessage indicates a message without an update or partner.
	ErrCodeInvalidMessage MessageErrorCode = "INVALID_MESSAGE"

	// ErrCodeSplitFailed indicates the combined update could not be split.
	ErrCodeSplitFailed MessageErrorCode = "SPLIT_FAILED"

	// ErrCodeApplyFailed indicates a unit could not be applied.
	ErrCodeApplyFailed MessageErrorCode = "APPLY_FAILED"

	// ErrCodeLedgerFailed indicates the ledger or cursor could not be written.
	ErrCodeLedgerFailed MessageErrorCode = "LEDGER_FAILED"
)

// Error implements the error interface.
func (e *MessageError) Error() string {
	msg := fmt.Sprintf("%s: %s (partner=%s, dn=%s", e.Code, e.Message, e.Partner, e.DN)
	if e.Unit >= 0 {
		msg += fmt.Sprintf(", unit=%d", e.Unit)
	}
	msg += ")"
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *MessageError) Unwrap() error {
	return e.Err
}

// IsSplitError reports whether err is a split failure.
func IsSplitError(err error) bool {
	var me *MessageError
	if errors.As(err, &me) {
		return me.Code == ErrCodeSplitFailed
	}
	return false
}

// IsApplyError reports whether err is a unit application failure.
func IsApplyError(err error) bool {
	var me *MessageError
	if errors.As(err, &me) {
		return me.Code == ErrCodeApplyFailed
	}
	return false
}
