// Package query reads archived tables selectively. Filters are parsed into
// column predicates; chunk statistics and bloom filters rule out row groups
// that cannot match, and the remaining rows are filtered exactly.
package query

import (
	"math"
	"strings"

	"github.com/stratadb/strata/internal/bloom"
	"github.com/stratadb/strata/internal/stats"
	"github.com/stratadb/strata/pkg/types"
)

// Op is a predicate operator.
type Op int

const (
	OpEq Op = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpBetween
	OpIn
	OpIsNull
	OpIsNotNull
)

// String returns the operator as written in a filter.
func (o Op) String() string {
	switch o {
	case OpEq:
		return "="
	case OpNe:
		return "<>"
	case OpLt:
		return "<"
	case OpLe:
		return "<="
	case OpGt:
		return ">"
	case OpGe:
		return ">="
	case OpBetween:
		return "BETWEEN"
	case OpIn:
		return "IN"
	case OpIsNull:
		return "IS NULL"
	case OpIsNotNull:
		return "IS NOT NULL"
	default:
		return "?"
	}
}

// Predicate tests one column. Values holds the single operand of a
// comparison, the low and high bounds of BETWEEN, or the IN list.
type Predicate struct {
	Column string
	Op     Op
	Values []types.Value
}

// String renders the predicate as filter text.
func (p Predicate) String() string {
	var b strings.Builder
	b.WriteString(p.Column)
	b.WriteString(" ")
	b.WriteString(p.Op.String())
	switch p.Op {
	case OpIsNull, OpIsNotNull:
	case OpBetween:
		b.WriteString(" " + literal(p.Values[0]) + " AND " + literal(p.Values[1]))
	case OpIn:
		parts := make([]string, len(p.Values))
		for i, v := range p.Values {
			parts[i] = literal(v)
		}
		b.WriteString(" (" + strings.Join(parts, ", ") + ")")
	default:
		b.WriteString(" " + literal(p.Values[0]))
	}
	return b.String()
}

func literal(v types.Value) string {
	if v.Kind() == types.KindText {
		return "'" + strings.ReplaceAll(v.Str(), "'", "''") + "'"
	}
	return v.String()
}

// isNaN reports whether v is a NaN real. NaN is a value, not a NULL, but no
// comparison matches it.
func isNaN(v types.Value) bool {
	return v.Kind() == types.KindReal && math.IsNaN(v.Float())
}

// Match evaluates the predicate against one stored value. Comparisons
// involving NULL are false, as in SQL. Values of different storage classes
// are ordered NULL < numeric < TEXT < BLOB.
func (p Predicate) Match(v types.Value) bool {
	switch p.Op {
	case OpIsNull:
		return v.IsNull()
	case OpIsNotNull:
		return !v.IsNull()
	}
	if v.IsNull() || isNaN(v) {
		return false
	}

	switch p.Op {
	case OpBetween:
		low, high := p.Values[0], p.Values[1]
		if low.IsNull() || high.IsNull() {
			return false
		}
		return v.Compare(low) >= 0 && v.Compare(high) <= 0
	case OpIn:
		for _, x := range p.Values {
			if !x.IsNull() && v.Compare(x) == 0 {
				return true
			}
		}
		return false
	}

	x := p.Values[0]
	if x.IsNull() {
		return false
	}
	c := v.Compare(x)
	switch p.Op {
	case OpEq:
		return c == 0
	case OpNe:
		return c != 0
	case OpLt:
		return c < 0
	case OpLe:
		return c <= 0
	case OpGt:
		return c > 0
	case OpGe:
		return c >= 0
	}
	return false
}

// CanSkip reports whether no value summarized by st can satisfy the
// predicate. It never returns true for a chunk holding a matching value.
// The bloom filter is optional.
func CanSkip(p Predicate, st stats.ColumnStats, bf *bloom.Filter) bool {
	if st.RowCount == 0 {
		return true
	}
	switch p.Op {
	case OpIsNull:
		return st.NullCount == 0
	case OpIsNotNull:
		return st.NullCount == st.RowCount
	}

	// Without bounds every value is NULL or NaN, and neither matches.
	if !st.HasMinMax() {
		return true
	}
	min, max := *st.Min, *st.Max

	switch p.Op {
	case OpBetween:
		low, high := p.Values[0], p.Values[1]
		if low.IsNull() || high.IsNull() {
			return true
		}
		return low.Compare(high) > 0 || max.Compare(low) < 0 || min.Compare(high) > 0
	case OpIn:
		for _, x := range p.Values {
			if !x.IsNull() && !skipEqual(x, min, max, bf) {
				return false
			}
		}
		return true
	}

	x := p.Values[0]
	if x.IsNull() {
		return true
	}
	switch p.Op {
	case OpEq:
		return skipEqual(x, min, max, bf)
	case OpNe:
		return min.Compare(x) == 0 && max.Compare(x) == 0
	case OpLt:
		return min.Compare(x) >= 0
	case OpLe:
		return min.Compare(x) > 0
	case OpGt:
		return max.Compare(x) <= 0
	case OpGe:
		return max.Compare(x) < 0
	}
	return false
}

// skipEqual reports whether x lies outside [min, max] or is absent from the
// bloom filter.
func skipEqual(x, min, max types.Value, bf *bloom.Filter) bool {
	if x.Compare(min) < 0 || x.Compare(max) > 0 {
		return true
	}
	if bf == nil {
		return false
	}
	probe, ok := asStoredKind(x, min.Kind())
	return ok && !bf.MayContainValue(probe)
}

// asStoredKind converts a literal to the storage class the chunk holds so it
// can be looked up in the chunk's bloom filter. ok is false when no exact
// conversion exists.
func asStoredKind(x types.Value, kind types.Kind) (types.Value, bool) {
	if x.Kind() == kind {
		return x, true
	}
	switch {
	case kind == types.KindReal && x.Kind() == types.KindInteger:
		f := float64(x.Int())
		if int64(f) != x.Int() {
			return x, false
		}
		return types.Real(f), true
	case kind == types.KindInteger && x.Kind() == types.KindReal:
		// Beyond 2^53 several integers compare equal to the same float.
		f := x.Float()
		if f != math.Trunc(f) || math.Abs(f) >= 1<<53 {
			return x, false
		}
		return types.Integer(int64(f)), true
	}
	return x, false
}
