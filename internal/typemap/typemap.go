// Package typemap maps SQLite's dynamically typed columns onto Strata's
// static columnar physical types and back.
package typemap

import (
	"fmt"
	"math"
	"sort"
	"strings"

	strataerrors "github.com/stratadb/strata/internal/errors"
	"github.com/stratadb/strata/pkg/types"
)

// AffinityOf derives the SQLite column affinity from a declared type using
// the rules of section 3.1 of the SQLite datatype documentation.
func AffinityOf(declared string) types.Affinity {
	d := strings.ToUpper(declared)
	switch {
	case strings.Contains(d, "INT"):
		return types.AffinityInteger
	case strings.Contains(d, "CHAR"), strings.Contains(d, "CLOB"), strings.Contains(d, "TEXT"):
		return types.AffinityText
	case strings.Contains(d, "BLOB"), strings.TrimSpace(d) == "":
		return types.AffinityBlob
	case strings.Contains(d, "REAL"), strings.Contains(d, "FLOA"), strings.Contains(d, "DOUB"):
		return types.AffinityReal
	default:
		return types.AffinityNumeric
	}
}

// IsBooleanDecl reports whether the declared type names a boolean.
func IsBooleanDecl(declared string) bool {
	switch strings.ToUpper(baseType(declared)) {
	case "BOOL", "BOOLEAN":
		return true
	}
	return false
}

// LogicalOf returns a logical label for the declared type, or "" if none applies.
func LogicalOf(declared string) string {
	switch strings.ToUpper(baseType(declared)) {
	case "BOOL", "BOOLEAN":
		return "boolean"
	case "DATE":
		return "date"
	case "DATETIME", "TIMESTAMP":
		return "timestamp"
	case "TIME":
		return "time"
	case "JSON", "JSONB":
		return "json"
	case "UUID":
		return "uuid"
	case "DECIMAL", "NUMERIC":
		return "decimal"
	}
	return ""
}

// baseType strips any "(precision, scale)" suffix from a declared type.
func baseType(declared string) string {
	if i := strings.IndexByte(declared, '('); i >= 0 {
		declared = declared[:i]
	}
	return strings.TrimSpace(declared)
}

// Choose selects the physical type for a column from its declaration and
// the values observed for it. Only non-null values influence the choice; a
// column with none falls back to its affinity.
func Choose(table string, col types.ColumnDef, observed []types.Value) (types.PhysicalType, error) {
	var seen [types.KindBlob + 1]bool
	boolish := true
	for _, v := range observed {
		seen[v.Kind()] = true
		if v.Kind() == types.KindInteger && v.Int() != 0 && v.Int() != 1 {
			boolish = false
		}
	}
	kinds := make([]types.Kind, 0, 4)
	for k := types.KindInteger; k <= types.KindBlob; k++ {
		if seen[k] {
			kinds = append(kinds, k)
		}
	}
	return ChooseFromKinds(table, col, kinds, boolish)
}

// ChooseFromKinds is Choose for callers that have only the set of storage
// classes present, such as a full-column typeof() probe. allBoolish reports
// whether every integer seen was 0 or 1.
func ChooseFromKinds(table string, col types.ColumnDef, kinds []types.Kind, allBoolish bool) (types.PhysicalType, error) {
	var hasInt, hasReal, hasText, hasBlob bool
	for _, k := range kinds {
		switch k {
		case types.KindInteger:
			hasInt = true
		case types.KindReal:
			hasReal = true
		case types.KindText:
			hasText = true
		case types.KindBlob:
			hasBlob = true
		}
	}

	affinity := col.Affinity
	if affinity == "" {
		affinity = AffinityOf(col.DeclaredType)
	}
	isBool := IsBooleanDecl(col.DeclaredType)

	switch {
	case !hasInt && !hasReal && !hasText && !hasBlob:
		if isBool {
			return types.PhysicalBoolean, nil
		}
		return fromAffinity(affinity), nil
	case hasText && !hasInt && !hasReal && !hasBlob:
		return types.PhysicalString, nil
	case hasBlob && !hasInt && !hasReal && !hasText:
		return types.PhysicalBytes, nil
	case (hasInt || hasReal) && !hasText && !hasBlob:
		if hasReal || affinity == types.AffinityReal {
			return types.PhysicalFloat64, nil
		}
		if isBool && allBoolish {
			return types.PhysicalBoolean, nil
		}
		return types.PhysicalInt64, nil
	}

	names := make([]string, 0, len(kinds))
	for _, k := range kinds {
		if k != types.KindNull {
			names = append(names, k.String())
		}
	}
	sort.Strings(names)
	return 0, strataerrors.SchemaIncompatible(table, col.Name,
		fmt.Sprintf("values of kinds %s cannot share one physical type", strings.Join(names, ", "))).
		WithDetails(map[string]interface{}{"kinds": names, "declared_type": col.DeclaredType})
}

func fromAffinity(a types.Affinity) types.PhysicalType {
	switch a {
	case types.AffinityInteger, types.AffinityNumeric:
		return types.PhysicalInt64
	case types.AffinityReal:
		return types.PhysicalFloat64
	case types.AffinityText:
		return types.PhysicalString
	default:
		return types.PhysicalBytes
	}
}

// Coerce converts v into the domain of the physical type p. Integers widen to
// Float64 and 0/1 integers narrow to Boolean; any other mismatch is a
// SchemaIncompatible error. Booleans are represented as Integer 0 or 1.
func Coerce(table, column string, v types.Value, p types.PhysicalType) (types.Value, error) {
	if v.IsNull() {
		return v, nil
	}
	switch p {
	case types.PhysicalInt64:
		if v.Kind() == types.KindInteger {
			return v, nil
		}
	case types.PhysicalFloat64:
		switch v.Kind() {
		case types.KindReal:
			return v, nil
		case types.KindInteger:
			return types.Real(float64(v.Int())), nil
		}
	case types.PhysicalString:
		if v.Kind() == types.KindText {
			return v, nil
		}
	case types.PhysicalBytes:
		if v.Kind() == types.KindBlob {
			return v, nil
		}
	case types.PhysicalBoolean:
		if v.Kind() == types.KindInteger && (v.Int() == 0 || v.Int() == 1) {
			return v, nil
		}
	}
	return types.Null(), strataerrors.SchemaIncompatible(table, column,
		fmt.Sprintf("%s value %s does not fit physical type %s", v.Kind(), truncate(v.String()), p)).
		WithDetails(map[string]interface{}{"kind": v.Kind().String(), "physical_type": p.String()})
}

// Restore converts a decoded physical value back into a relational value.
// Decoded values are already relational, Boolean included as Integer 0/1.
// The one exception is NaN, which SQLite stores as NULL.
func Restore(v types.Value, p types.PhysicalType) types.Value {
	if p == types.PhysicalFloat64 && v.Kind() == types.KindReal && math.IsNaN(v.Float()) {
		return types.Null()
	}
	return v
}

// Reverse returns the declared type for a restored column. The original
// declaration is preferred; otherwise the physical type picks a SQLite type.
func Reverse(declared string, p types.PhysicalType) string {
	if strings.TrimSpace(declared) != "" {
		return declared
	}
	switch p {
	case types.PhysicalInt64:
		return "INTEGER"
	case types.PhysicalFloat64:
		return "REAL"
	case types.PhysicalString:
		return "TEXT"
	case types.PhysicalBoolean:
		return "BOOLEAN"
	default:
		// An untyped column round-trips as untyped.
		return ""
	}
}

func truncate(s string) string {
	const max = 32
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
