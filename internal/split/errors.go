package split

import (
	"errors"
	"fmt"
)

// SplitError represents a combined update that cannot be partitioned.
//
// Every SplitError is fatal for the message: the caller discards the message
// and leaves the partner cursor where it was, so the update is redelivered.
type SplitError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// DN is the entry the update targets.
	DN string

	// USN is the sequence number being processed, when one applies.
	USN int64

	// Attr names the offending attribute, when one applies.
	Attr string

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes split errors.
type ErrorCode string

const (
	// ErrCodeNoAttributeMetadata indicates the update carries no attribute-level metadata.
	ErrCodeNoAttributeMetadata ErrorCode = "NO_ATTRIBUTE_METADATA"

	// ErrCodeMissingUSNChanged indicates the uSNChanged metadata record is absent.
	ErrCodeMissingUSNChanged ErrorCode = "MISSING_USN_CHANGED"

	// ErrCodeNoMatchingRecords indicates a USN matched no metadata record.
	ErrCodeNoMatchingRecords ErrorCode = "NO_MATCHING_RECORDS"

	// ErrCodeMissingMandatory indicates an Add lacks a mandatory attribute everywhere.
	ErrCodeMissingMandatory ErrorCode = "MISSING_MANDATORY_ATTRIBUTE"

	// ErrCodeMissingObjectClass indicates an Add names no object class.
	ErrCodeMissingObjectClass ErrorCode = "MISSING_OBJECT_CLASS"

	// ErrCodeMissingLastKnownDN indicates a tombstone Add lacks lastKnownDn.
	ErrCodeMissingLastKnownDN ErrorCode = "MISSING_LAST_KNOWN_DN"

	// ErrCodeSchema indicates the schema could not resolve the entry's classes.
	ErrCodeSchema ErrorCode = "SCHEMA_LOOKUP_FAILED"
)

// Error implements the error interface.
func (e *SplitError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.DN != "" {
		msg += fmt.Sprintf(" (dn=%s", e.DN)
		if e.USN != 0 {
			msg += fmt.Sprintf(", usn=%d", e.USN)
		}
		msg += ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *SplitError) Unwrap() error {
	return e.Err
}

// IsProtocolError reports whether err is a malformed-update error: required
// metadata missing or inconsistent.
func IsProtocolError(err error) bool {
	var se *SplitError
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code {
	case ErrCodeNoAttributeMetadata, ErrCodeMissingUSNChanged, ErrCodeNoMatchingRecords, ErrCodeMissingLastKnownDN:
		return true
	}
	return false
}

// IsMandatoryAttributeError reports whether err is a schema-validity failure
// of an Add.
func IsMandatoryAttributeError(err error) bool {
	var se *SplitError
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code {
	case ErrCodeMissingMandatory, ErrCodeMissingObjectClass, ErrCodeSchema:
		return true
	}
	return false
}

// ErrorCodeOf returns the code of a SplitError in err's chain, or "".
func ErrorCodeOf(err error) ErrorCode {
	var se *SplitError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}
