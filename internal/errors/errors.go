package errors

import (
	"errors"
	"fmt"
)

// IndexError is the structured error type for indexpool.
// It carries enough context to be logged, matched with errors.Is, and shown to a user.
type IndexError struct {
	// Code is the unique error code (e.g., "ERR_601_INDEXING_DISABLED").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Admission, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *IndexError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *IndexError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This lets the package sentinels work with errors.Is regardless of message or details.
func (e *IndexError) Is(target error) bool {
	if t, ok := target.(*IndexError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *IndexError) WithDetail(key, value string) *IndexError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *IndexError) WithSuggestion(suggestion string) *IndexError {
	e.Suggestion = suggestion
	return e
}

// New creates a new IndexError with the given code and message.
// Category and severity are derived from the code.
func New(code string, message string, cause error) *IndexError {
	return &IndexError{
		Code:     code,
		Message:  message,
		Category: categoryFromCode(code),
		Severity: severityFromCode(code),
		Cause:    cause,
	}
}

// Wrap creates an IndexError from an existing error.
// The error's message becomes the IndexError message.
func Wrap(code string, err error) *IndexError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Sentinels for errors.Is. Match is by code, so callers get a fresh
// IndexError with details while still comparing equal to these.
var (
	ErrInvalidTask       = New(ErrCodeInvalidTask, "invalid task", nil)
	ErrIndexingDisabled  = New(ErrCodeIndexingDisabled, "indexing disabled", nil)
	ErrReindexInProgress = New(ErrCodeReindexInProgress, "reindex already in progress", nil)
	ErrPoolStopped       = New(ErrCodePoolStopped, "pool stopped", nil)
	ErrQueueFull         = New(ErrCodeQueueFull, "queue full", nil)
	ErrTaskTimeout       = New(ErrCodeTaskTimeout, "task deadline exceeded", nil)
	ErrDocumentNotFound  = New(ErrCodeDocumentNotFound, "document not found", nil)
)

// InvalidTask creates a validation error describing why a task was refused.
func InvalidTask(message string) *IndexError {
	return New(ErrCodeInvalidTask, message, nil)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *IndexError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// IOError creates an index storage error.
func IOError(message string, cause error) *IndexError {
	return New(ErrCodeIndexStore, message, cause)
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	var ie *IndexError
	if errors.As(err, &ie) {
		return ie.Severity == SeverityFatal
	}
	return false
}

// IsAdmission reports whether err was raised while admitting a task.
func IsAdmission(err error) bool {
	return GetCategory(err) == CategoryAdmission || GetCategory(err) == CategoryValidation
}

// GetCode extracts the error code from an IndexError anywhere in the chain.
// Returns empty string if there is none.
func GetCode(err error) string {
	var ie *IndexError
	if errors.As(err, &ie) {
		return ie.Code
	}
	return ""
}

// GetCategory extracts the category from an IndexError anywhere in the chain.
func GetCategory(err error) Category {
	var ie *IndexError
	if errors.As(err, &ie) {
		return ie.Category
	}
	return ""
}
