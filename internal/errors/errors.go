package errors

import (
	"errors"
	"fmt"
)

// XrefError carries a stable code plus what logging and the HTTP error
// body need. Category, Severity and Retryable are derived from Code.
type XrefError struct {
	Code       string
	Message    string
	Category   Category
	Severity   Severity
	Retryable  bool
	Suggestion string
	Details    map[string]string
	Cause      error
}

func (e *XrefError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *XrefError) Unwrap() error {
	return e.Cause
}

// Is matches another XrefError by code, so errors.Is(err, ErrDaemonUnavailable)
// holds for any daemon-unavailable error regardless of message.
func (e *XrefError) Is(target error) bool {
	if t, ok := target.(*XrefError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail records key=value for logs. Details never reach clients.
func (e *XrefError) WithDetail(key, value string) *XrefError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion sets the hint printed under CLI errors.
func (e *XrefError) WithSuggestion(suggestion string) *XrefError {
	e.Suggestion = suggestion
	return e
}

// New returns an error with the given code. cause may be nil.
func New(code string, message string, cause error) *XrefError {
	return &XrefError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap reuses err's text as the message. It returns nil for a nil err.
func Wrap(code string, err error) *XrefError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Sentinels for errors.Is comparisons.
var (
	ErrDaemonUnavailable = New(ErrCodeDaemonUnavailable, "full-text daemon unavailable", nil)
	ErrUnknownTree       = New(ErrCodeUnknownTree, "unknown tree", nil)
	ErrRequestTimeout    = New(ErrCodeRequestTimeout, "request timed out", nil)
	ErrCorruptIndex      = New(ErrCodeCorruptIndex, "corrupt index payload", nil)
)

// IsRetryable reports whether a later identical request may succeed.
func IsRetryable(err error) bool {
	var xe *XrefError
	if errors.As(err, &xe) {
		return xe.Retryable
	}
	return false
}

// GetCode returns the code of the first XrefError in err's chain, or "".
func GetCode(err error) string {
	var xe *XrefError
	if errors.As(err, &xe) {
		return xe.Code
	}
	return ""
}
