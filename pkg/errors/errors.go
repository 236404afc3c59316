// Package errors defines the categorized error taxonomy used across the
// bookkeeping core. Every failure surfaced to a caller carries a category,
// a stable machine-checkable code, a human message, and optional context.
package errors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Category groups related error codes.
type Category string

const (
	CategoryValidation Category = "validation"
	CategorySession    Category = "session"
	CategoryMatching   Category = "matching"
	CategoryStorage    Category = "storage"
	CategoryTransfer   Category = "transfer"
)

// Code identifies a specific error condition within a category.
type Code string

const (
	// Validation errors
	CodeInvalidDateRange Code = "invalid_date_range"
	CodeInvalidAmount    Code = "invalid_amount"
	CodeInvalidDate      Code = "invalid_date"
	CodeMissingField     Code = "missing_field"

	// Session errors
	CodeSessionNotFound Code = "session_not_found"
	CodeSessionLocked   Code = "session_locked"
	CodeNotBalanced     Code = "not_balanced"
	CodeSessionOverlap  Code = "session_overlap"

	// Storage errors
	CodeEntryNotFound   Code = "entry_not_found"
	CodePostingNotFound Code = "posting_not_found"
	CodeStorageFailure  Code = "storage_failure"

	// Transfer errors
	CodeMergeFailed  Code = "merge_failed"
	CodeNotBalancing Code = "postings_not_balancing"
)

// Error is the base error type for the bookkeeping core.
type Error struct {
	Category   Category          `json:"category"`
	Code       Code              `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context provides additional structured information about the error.
type Context map[string]interface{}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", e.Message, e.Suggestion)
	}
	return e.Message
}

// Unwrap returns the underlying cause error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithContext adds a context key/value to the error.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a hint for resolving the error.
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestion = suggestion
	return e
}

// New creates a new Error with a captured stack trace.
func New(category Category, code Code, message string) *Error {
	return &Error{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with taxonomy information.
func Wrap(err error, category Category, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// SessionNotFound reports a lookup of an unknown reconciliation session.
func SessionNotFound(sessionID string) *Error {
	return New(CategorySession, CodeSessionNotFound,
		fmt.Sprintf("reconciliation session not found: %s", sessionID)).
		WithContext("session_id", sessionID)
}

// SessionLocked reports an attempted mutation on a locked session.
func SessionLocked(sessionID string) *Error {
	return New(CategorySession, CodeSessionLocked,
		fmt.Sprintf("reconciliation session is locked: %s", sessionID)).
		WithSuggestion("unlock the session before modifying its postings").
		WithContext("session_id", sessionID)
}

// NotBalanced reports a lock attempt while statement and ledger disagree.
func NotBalanced(sessionID, difference string) *Error {
	return New(CategorySession, CodeNotBalanced,
		fmt.Sprintf("session %s is out of balance by %s", sessionID, difference)).
		WithSuggestion("reconcile the missing postings or correct the statement balances").
		WithContext("session_id", sessionID).
		WithContext("difference", difference)
}

// InvalidDateRange reports a range whose end precedes its start.
func InvalidDateRange(start, end string) *Error {
	return New(CategoryValidation, CodeInvalidDateRange,
		fmt.Sprintf("invalid date range: end %s is before start %s", end, start)).
		WithContext("start", start).
		WithContext("end", end)
}

// EntryNotFound reports a lookup of an unknown ledger entry.
func EntryNotFound(entryID string) *Error {
	return New(CategoryStorage, CodeEntryNotFound,
		fmt.Sprintf("ledger entry not found: %s", entryID)).
		WithContext("entry_id", entryID)
}

// PostingNotFound reports a lookup of an unknown posting.
func PostingNotFound(postingID string) *Error {
	return New(CategoryStorage, CodePostingNotFound,
		fmt.Sprintf("posting not found: %s", postingID)).
		WithContext("posting_id", postingID)
}

// StorageError wraps a failure in the underlying store.
func StorageError(operation string, err error) *Error {
	return Wrap(err, CategoryStorage, CodeStorageFailure,
		fmt.Sprintf("storage failure during %s", operation)).
		WithContext("operation", operation)
}

// TransferError wraps a per-pair failure during transfer-merge commit.
func TransferError(code Code, idA, idB string, err error) *Error {
	msg := fmt.Sprintf("transfer merge failed for pair %s / %s", idA, idB)
	var result *Error
	if err != nil {
		result = Wrap(err, CategoryTransfer, code, msg)
	} else {
		result = New(CategoryTransfer, code, msg)
	}
	return result.
		WithContext("entry_a", idA).
		WithContext("entry_b", idB)
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	e, ok := AsError(err)
	return ok && e.Code == code
}

// AsError extracts an *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// WrapIfNeeded wraps err unless it already carries taxonomy information.
func WrapIfNeeded(err error, category Category, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	if e, ok := AsError(err); ok {
		return e
	}
	return Wrap(err, category, code, message)
}
