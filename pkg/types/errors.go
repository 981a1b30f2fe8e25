package types

import "errors"

// Value-related errors
var (
	// ErrUnknownKind is returned when a storage class name is not recognized
	ErrUnknownKind = errors.New("unknown value kind")

	// ErrUnsupportedDriverValue is returned when a scanned driver value has no relational equivalent
	ErrUnsupportedDriverValue = errors.New("unsupported driver value")

	// ErrMalformedValue is returned when a serialized value is missing its payload
	ErrMalformedValue = errors.New("malformed value")
)

// Schema-related errors
var (
	// ErrDuplicateColumn is returned when a table declares the same column name twice
	ErrDuplicateColumn = errors.New("duplicate column")

	// ErrUnknownColumn is returned when a column is referenced that the table does not have
	ErrUnknownColumn = errors.New("unknown column")

	// ErrMalformedIndex is returned when an index's per-column options disagree with its columns
	ErrMalformedIndex = errors.New("malformed index")

	// ErrUnknownPhysicalType is returned when a physical type id or name is not recognized
	ErrUnknownPhysicalType = errors.New("unknown physical type")
)
