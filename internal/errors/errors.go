// Package errors provides structured error types for csvbulkload.
// All errors include a category, code, message, and fatal flag so the
// loader can apply its row-level versus run-level failure policy.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by pipeline stage.
type ErrorCategory string

const (
	ErrCategorySetup    ErrorCategory = "SETUP"
	ErrCategoryInput    ErrorCategory = "INPUT"
	ErrCategorySchema   ErrorCategory = "SCHEMA"
	ErrCategoryRow      ErrorCategory = "ROW"
	ErrCategoryFlush    ErrorCategory = "FLUSH"
	ErrCategoryStorage  ErrorCategory = "STORAGE"
	ErrCategoryManifest ErrorCategory = "MANIFEST"
	ErrCategoryConfig   ErrorCategory = "CONFIG"
	ErrCategoryInternal ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Setup codes
	CodeDirectoryCreation = "DIRECTORY_CREATION"

	// Input codes
	CodeInputNotFound = "INPUT_NOT_FOUND"

	// Schema codes
	CodeInvalidSchema = "INVALID_SCHEMA"

	// Row codes
	CodeRowParse    = "ROW_PARSE"
	CodeRowRejected = "ROW_REJECTED"

	// Flush codes
	CodeFlushFailed = "FLUSH_FAILED"

	// Storage codes
	CodeUploadFailed = "UPLOAD_FAILED"

	// Manifest codes
	CodeRegisterFailed = "REGISTER_FAILED"

	// Config codes
	CodeInvalidConfig = "INVALID_CONFIG"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// LoadError is the structured error type used throughout the loader.
type LoadError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Details  map[string]interface{}
	Cause    error
	Fatal    bool
}

// Error returns a formatted error string.
func (e *LoadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *LoadError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *LoadError) Is(target error) bool {
	var t *LoadError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// Sentinels for errors.Is checks. Only category and code are compared.
var (
	ErrDirectoryCreation = New(ErrCategorySetup, CodeDirectoryCreation, "cannot create output directory")
	ErrInputNotFound     = New(ErrCategoryInput, CodeInputNotFound, "input not found")
	ErrSchema            = New(ErrCategorySchema, CodeInvalidSchema, "invalid schema")
	ErrRowParse          = New(ErrCategoryRow, CodeRowParse, "malformed row")
	ErrRowRejected       = New(ErrCategoryRow, CodeRowRejected, "row rejected")
	ErrFlush             = New(ErrCategoryFlush, CodeFlushFailed, "flush failed")
	ErrUpload            = New(ErrCategoryStorage, CodeUploadFailed, "upload failed")
	ErrRegister          = New(ErrCategoryManifest, CodeRegisterFailed, "manifest registration failed")
	ErrInvalidConfig     = New(ErrCategoryConfig, CodeInvalidConfig, "invalid configuration")
)

// New creates a new LoadError.
func New(category ErrorCategory, code, message string) *LoadError {
	return &LoadError{
		Category: category,
		Code:     code,
		Message:  message,
		Fatal:    isFatal(category, code),
	}
}

// Wrap creates a new LoadError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *LoadError {
	return &LoadError{
		Category: category,
		Code:     code,
		Message:  message,
		Cause:    cause,
		Fatal:    isFatal(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *LoadError) WithDetails(details map[string]interface{}) *LoadError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsFatal checks whether an error (or its chain) aborts the run by default.
// Errors that are not LoadErrors are fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var le *LoadError
	if errors.As(err, &le) {
		return le.Fatal
	}
	return true
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a LoadError.
func GetCategory(err error) ErrorCategory {
	var le *LoadError
	if errors.As(err, &le) {
		return le.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a LoadError.
func GetCode(err error) string {
	var le *LoadError
	if errors.As(err, &le) {
		return le.Code
	}
	return ""
}

// isFatal encodes the default failure policy: row rejections, flush
// failures and post-load bookkeeping are reported without aborting.
func isFatal(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryRow && code == CodeRowRejected:
		return false
	case category == ErrCategoryFlush:
		return false
	case category == ErrCategoryManifest:
		return false
	default:
		return true
	}
}

// Convenience constructors for common errors.

func NewDirectoryCreationError(path string, cause error) *LoadError {
	return Wrap(ErrCategorySetup, CodeDirectoryCreation, fmt.Sprintf("cannot create output directory %s", path), cause)
}

func NewInputNotFoundError(path string, cause error) *LoadError {
	return Wrap(ErrCategoryInput, CodeInputNotFound, fmt.Sprintf("cannot open input %s", path), cause)
}

func NewSchemaError(message string, cause error) *LoadError {
	return Wrap(ErrCategorySchema, CodeInvalidSchema, message, cause)
}

func NewRowParseError(line int, cause error) *LoadError {
	return Wrap(ErrCategoryRow, CodeRowParse, fmt.Sprintf("malformed row at line %d", line), cause).
		WithDetails(map[string]interface{}{"line": line})
}

func NewRowRejectedError(message string, cause error) *LoadError {
	return Wrap(ErrCategoryRow, CodeRowRejected, message, cause)
}

func NewFlushError(message string, cause error) *LoadError {
	return Wrap(ErrCategoryFlush, CodeFlushFailed, message, cause)
}

func NewStorageError(code, message string, cause error) *LoadError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewManifestError(message string, cause error) *LoadError {
	return Wrap(ErrCategoryManifest, CodeRegisterFailed, message, cause)
}

func NewConfigError(message string, cause error) *LoadError {
	return Wrap(ErrCategoryConfig, CodeInvalidConfig, message, cause)
}

func NewInternalError(message string, cause error) *LoadError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
