package errors

import (
	stderrors "errors"
	"fmt"
)

// RAGError is the structured error type for groundedrag.
// It carries enough context for logging, transport mapping and CLI output.
type RAGError struct {
	// Code is the unique error code (e.g., "ERR_404_QUERY_EMPTY").
	Code string

	// Message is the human-readable error message.
	Message string

	Category Category
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried by a client.
	Retryable bool

	// Suggestion is an actionable hint for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *RAGError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *RAGError) Unwrap() error {
	return e.Cause
}

// Is matches another RAGError by code.
func (e *RAGError) Is(target error) bool {
	if t, ok := target.(*RAGError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *RAGError) WithDetail(key, value string) *RAGError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *RAGError) WithSuggestion(suggestion string) *RAGError {
	e.Suggestion = suggestion
	return e
}

// New creates a RAGError. Category, severity and the retryable flag are
// derived from the code.
func New(code string, message string, cause error) *RAGError {
	return &RAGError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a RAGError from an existing error, reusing its message.
func Wrap(code string, err error) *RAGError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *RAGError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// ValidationError creates an input validation error.
func ValidationError(message string, cause error) *RAGError {
	return New(ErrCodeInvalidInput, message, cause)
}

// NetworkError creates a retryable network error.
func NetworkError(message string, cause error) *RAGError {
	return New(ErrCodeNetworkTimeout, message, cause)
}

// UpstreamStatusError reports a non-2xx response from a remote collaborator.
// 429 and 5xx responses are retryable, everything else is not.
func UpstreamStatusError(service string, status int, body string) *RAGError {
	e := New(ErrCodeUpstreamStatus, fmt.Sprintf("%s returned status %d: %s", service, status, body), nil)
	e.Retryable = status == 429 || status >= 500
	return e.WithDetail("status", fmt.Sprintf("%d", status))
}

// IsRetryable reports whether any RAGError in the chain is retryable.
func IsRetryable(err error) bool {
	var re *RAGError
	if stderrors.As(err, &re) {
		return re.Retryable
	}
	return false
}

// GetCode extracts the error code from the first RAGError in the chain.
// Returns empty string if there is none.
func GetCode(err error) string {
	var re *RAGError
	if stderrors.As(err, &re) {
		return re.Code
	}
	return ""
}

// GetCategory extracts the category from the first RAGError in the chain.
func GetCategory(err error) Category {
	var re *RAGError
	if stderrors.As(err, &re) {
		return re.Category
	}
	return ""
}
