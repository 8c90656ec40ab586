// Package errors provides structured error handling for indexpool.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO errors (document resolution, index storage)
//   - 4XX: Validation errors
//   - 5XX: Internal errors
//   - 6XX: Admission and lifecycle errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates document resolution and index storage errors.
	CategoryIO Category = "IO"
	// CategoryValidation indicates malformed task or input errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
	// CategoryAdmission indicates a task was refused at submission time.
	CategoryAdmission Category = "ADMISSION"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates a programming error that must never happen.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// IO errors (200-299)
	ErrCodeDocumentNotFound = "ERR_201_DOCUMENT_NOT_FOUND"
	ErrCodeUnknownRepo      = "ERR_202_UNKNOWN_REPOSITORY"
	ErrCodeIndexStore       = "ERR_203_INDEX_STORE"
	ErrCodeDataDirLocked    = "ERR_204_DATA_DIR_LOCKED"

	// Validation errors (400-499)
	ErrCodeInvalidTask  = "ERR_401_INVALID_TASK"
	ErrCodeInvalidInput = "ERR_402_INVALID_INPUT"

	// Internal errors (500-599)
	ErrCodeInternal           = "ERR_501_INTERNAL"
	ErrCodeInvariantViolation = "ERR_502_INVARIANT_VIOLATION"
	ErrCodeTaskTimeout        = "ERR_503_TASK_TIMEOUT"
	ErrCodeTaskPanic          = "ERR_504_TASK_PANIC"

	// Admission errors (600-699)
	ErrCodeIndexingDisabled  = "ERR_601_INDEXING_DISABLED"
	ErrCodeReindexInProgress = "ERR_602_REINDEX_IN_PROGRESS"
	ErrCodePoolStopped       = "ERR_603_POOL_STOPPED"
	ErrCodeQueueFull         = "ERR_604_QUEUE_FULL"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract numeric portion (e.g., "601" from "ERR_601_INDEXING_DISABLED")
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '4':
		return CategoryValidation
	case '6':
		return CategoryAdmission
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeInvariantViolation:
		return SeverityFatal
	case ErrCodeQueueFull, ErrCodeReindexInProgress:
		// Both are transient: the caller can simply submit again later.
		return SeverityWarning
	default:
		return SeverityError
	}
}
