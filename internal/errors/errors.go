// Package errors provides structured error types for Strata.
// Every error carries a category, a code, a message and, where known, the
// table and column being processed so failures can be diagnosed without
// re-running the pipeline.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by failure domain.
type ErrorCategory string

const (
	ErrCategorySchema     ErrorCategory = "SCHEMA"
	ErrCategoryAlignment  ErrorCategory = "ALIGNMENT"
	ErrCategoryIO         ErrorCategory = "IO"
	ErrCategoryCorruption ErrorCategory = "CORRUPTION"
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Schema codes
	CodeSchemaIncompatible = "SCHEMA_INCOMPATIBLE"

	// Alignment codes
	CodeChunkMisalignment = "CHUNK_MISALIGNMENT"

	// IO codes
	CodeIOFailure = "IO_FAILURE"

	// Corruption codes
	CodeCorruptArchive = "CORRUPT_ARCHIVE"

	// Validation codes
	CodeInvalidConfig   = "INVALID_CONFIG"
	CodeInvalidFilter   = "INVALID_FILTER"
	CodeTableNotFound   = "TABLE_NOT_FOUND"
	CodeDuplicateColumn = "DUPLICATE_COLUMN"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// Sentinels for errors.Is matching by category and code.
var (
	ErrSchemaIncompatible = New(ErrCategorySchema, CodeSchemaIncompatible, "schema incompatible")
	ErrChunkMisalignment  = New(ErrCategoryAlignment, CodeChunkMisalignment, "chunk misalignment")
	ErrIOFailure          = New(ErrCategoryIO, CodeIOFailure, "io failure")
	ErrCorruptArchive     = New(ErrCategoryCorruption, CodeCorruptArchive, "corrupt archive")
	ErrTableNotFound      = New(ErrCategoryValidation, CodeTableNotFound, "table not found")
)

// StrataError is the structured error type used throughout the system.
type StrataError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Table    string
	Column   string
	Details  map[string]interface{}
	Cause    error
}

// Error returns a formatted error string.
func (e *StrataError) Error() string {
	msg := e.Message
	switch {
	case e.Table != "" && e.Column != "":
		msg = fmt.Sprintf("%s (column %s.%s)", msg, e.Table, e.Column)
	case e.Table != "":
		msg = fmt.Sprintf("%s (table %s)", msg, e.Table)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, msg, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, msg)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *StrataError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *StrataError) Is(target error) bool {
	var t *StrataError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new StrataError.
func New(category ErrorCategory, code, message string) *StrataError {
	return &StrataError{
		Category: category,
		Code:     code,
		Message:  message,
	}
}

// Wrap creates a new StrataError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *StrataError {
	return &StrataError{
		Category: category,
		Code:     code,
		Message:  message,
		Cause:    cause,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *StrataError) WithDetails(details map[string]interface{}) *StrataError {
	cp := *e
	cp.Details = details
	return &cp
}

// InTable returns a copy of the error scoped to a table. An existing table is kept.
func (e *StrataError) InTable(table string) *StrataError {
	cp := *e
	if cp.Table == "" {
		cp.Table = table
	}
	return &cp
}

// InColumn returns a copy of the error scoped to a column.
func (e *StrataError) InColumn(table, column string) *StrataError {
	cp := *e
	cp.Table = table
	cp.Column = column
	return &cp
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a StrataError.
func GetCategory(err error) ErrorCategory {
	var se *StrataError
	if errors.As(err, &se) {
		return se.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a StrataError.
func GetCode(err error) string {
	var se *StrataError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// ScopeTable attaches a table name to err. Errors that are not yet classified
// are reported as internal failures.
func ScopeTable(err error, table string) error {
	if err == nil {
		return nil
	}
	var se *StrataError
	if errors.As(err, &se) {
		if se.Table != "" {
			return err
		}
		return se.InTable(table)
	}
	return NewInternalError("unexpected failure", err).InTable(table)
}

// Convenience constructors for common errors.

func SchemaIncompatible(table, column, message string) *StrataError {
	return New(ErrCategorySchema, CodeSchemaIncompatible, message).InColumn(table, column)
}

func Misalignment(table, message string) *StrataError {
	return New(ErrCategoryAlignment, CodeChunkMisalignment, message).InTable(table)
}

func IO(message string, cause error) *StrataError {
	return Wrap(ErrCategoryIO, CodeIOFailure, message, cause)
}

func Corrupt(message string, cause error) *StrataError {
	return Wrap(ErrCategoryCorruption, CodeCorruptArchive, message, cause)
}

func NewValidationError(code, message string) *StrataError {
	return New(ErrCategoryValidation, code, message)
}

func NewInternalError(message string, cause error) *StrataError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
