package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// FormatForCLI formats an error for terminal output.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	var xe *XrefError
	if !errors.As(err, &xe) {
		xe = Wrap(ErrCodeInternal, err)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Error: %s\n", xe.Message))
	if xe.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("  Hint: %s\n", xe.Suggestion))
	}
	sb.WriteString(fmt.Sprintf("  Code: %s\n", xe.Code))
	return sb.String()
}

// clientError is the body sent to HTTP clients. It never includes the cause
// chain, which may contain paths or stack traces.
type clientError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// FormatForClient returns the JSON error body for an HTTP response.
// Errors that are not XrefErrors are reported as a generic internal error.
func FormatForClient(err error) []byte {
	body := clientError{Code: ErrCodeInternal, Message: "internal error"}
	var xe *XrefError
	if errors.As(err, &xe) {
		body = clientError{Code: xe.Code, Message: xe.Message, Retryable: xe.Retryable}
	}
	out, mErr := json.Marshal(body)
	if mErr != nil {
		return []byte(`{"code":"` + ErrCodeInternal + `"}`)
	}
	return out
}

// FormatForLog formats an error as slog attributes.
func FormatForLog(err error) []any {
	if err == nil {
		return nil
	}

	xe, ok := err.(*XrefError)
	if !ok {
		return []any{"error", err.Error()}
	}

	attrs := []any{
		"error_code", xe.Code,
		"message", xe.Message,
		"category", string(xe.Category),
		"severity", string(xe.Severity),
	}
	if xe.Cause != nil {
		attrs = append(attrs, "cause", xe.Cause.Error())
	}
	for k, v := range xe.Details {
		attrs = append(attrs, "detail_"+k, v)
	}
	return attrs
}
