package types

import (
	"fmt"
	"strings"
)

// PhysicalType is the static columnar type chosen for an archived column.
// The numeric values are persisted in archive files and must not change.
type PhysicalType uint8

const (
	// PhysicalInt64 stores 64-bit signed integers
	PhysicalInt64 PhysicalType = 1

	// PhysicalFloat64 stores IEEE-754 doubles
	PhysicalFloat64 PhysicalType = 2

	// PhysicalString stores UTF-8 text
	PhysicalString PhysicalType = 3

	// PhysicalBytes stores opaque byte arrays
	PhysicalBytes PhysicalType = 4

	// PhysicalBoolean stores true/false
	PhysicalBoolean PhysicalType = 5
)

// Valid reports whether p is a known physical type.
func (p PhysicalType) Valid() bool {
	return p >= PhysicalInt64 && p <= PhysicalBoolean
}

// String returns the physical type name.
func (p PhysicalType) String() string {
	switch p {
	case PhysicalInt64:
		return "int64"
	case PhysicalFloat64:
		return "float64"
	case PhysicalString:
		return "string"
	case PhysicalBytes:
		return "bytes"
	case PhysicalBoolean:
		return "boolean"
	default:
		return fmt.Sprintf("physical(%d)", uint8(p))
	}
}

// ParsePhysicalType parses a physical type name.
func ParsePhysicalType(s string) (PhysicalType, error) {
	switch strings.ToLower(s) {
	case "int64":
		return PhysicalInt64, nil
	case "float64":
		return PhysicalFloat64, nil
	case "string":
		return PhysicalString, nil
	case "bytes":
		return PhysicalBytes, nil
	case "boolean":
		return PhysicalBoolean, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownPhysicalType, s)
}

// Affinity is the SQLite type affinity of a declared column type.
type Affinity string

const (
	AffinityInteger Affinity = "INTEGER"
	AffinityText    Affinity = "TEXT"
	AffinityBlob    Affinity = "BLOB"
	AffinityReal    Affinity = "REAL"
	AffinityNumeric Affinity = "NUMERIC"
)
