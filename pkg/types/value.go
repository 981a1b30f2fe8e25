// Package types provides the core data types shared by the Strata archival and restoration pipelines.
package types

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"time"
	"unicode/utf8"

	gojson "github.com/goccy/go-json"
)

// Kind is the dynamic storage class of a single relational value.
type Kind uint8

const (
	KindNull Kind = iota
	KindInteger
	KindReal
	KindText
	KindBlob
)

// String returns the SQLite storage class name for the kind.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInteger:
		return "integer"
	case KindReal:
		return "real"
	case KindText:
		return "text"
	case KindBlob:
		return "blob"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind parses a storage class name as returned by SQLite's typeof().
func ParseKind(s string) (Kind, error) {
	switch s {
	case "null":
		return KindNull, nil
	case "integer":
		return KindInteger, nil
	case "real":
		return KindReal, nil
	case "text":
		return KindText, nil
	case "blob":
		return KindBlob, nil
	}
	return KindNull, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Value is a tagged relational value: NULL, INTEGER, REAL, TEXT or BLOB.
// The zero Value is NULL.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
	b    []byte
}

// Null returns the NULL value.
func Null() Value { return Value{} }

// Integer returns an INTEGER value.
func Integer(v int64) Value { return Value{kind: KindInteger, i: v} }

// Real returns a REAL value.
func Real(v float64) Value { return Value{kind: KindReal, f: v} }

// Text returns a TEXT value.
func Text(v string) Value { return Value{kind: KindText, s: v} }

// Blob returns a BLOB value. The slice is not copied.
func Blob(v []byte) Value {
	if v == nil {
		v = []byte{}
	}
	return Value{kind: KindBlob, b: v}
}

// Bool returns an INTEGER 0 or 1.
func Bool(v bool) Value {
	if v {
		return Integer(1)
	}
	return Integer(0)
}

// Kind returns the storage class of the value.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is NULL.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Int returns the integer payload. It is zero unless Kind is KindInteger.
func (v Value) Int() int64 { return v.i }

// Float returns the real payload. It is zero unless Kind is KindReal.
func (v Value) Float() float64 { return v.f }

// Str returns the text payload. It is empty unless Kind is KindText.
func (v Value) Str() string { return v.s }

// Bytes returns the blob payload. It is nil unless Kind is KindBlob.
func (v Value) Bytes() []byte { return v.b }

// IsNumeric reports whether the value is an INTEGER or a REAL.
func (v Value) IsNumeric() bool { return v.kind == KindInteger || v.kind == KindReal }

// AsFloat returns the numeric value as a float64.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindInteger:
		return float64(v.i), true
	case KindReal:
		return v.f, true
	}
	return 0, false
}

// Equal reports whether two values have the same kind and payload.
// Two NaN reals are equal.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindInteger:
		return v.i == o.i
	case KindReal:
		return v.f == o.f || (math.IsNaN(v.f) && math.IsNaN(o.f))
	case KindText:
		return v.s == o.s
	case KindBlob:
		return bytes.Equal(v.b, o.b)
	}
	return false
}

// Equivalent is Equal extended with numeric equality between INTEGER and REAL,
// so an integer widened to a real compares equal to its source.
func (v Value) Equivalent(o Value) bool {
	if v.IsNumeric() && o.IsNumeric() && v.kind != o.kind {
		a, _ := v.AsFloat()
		b, _ := o.AsFloat()
		return a == b
	}
	return v.Equal(o)
}

// Compare orders two values the way SQLite does: NULL < numeric < TEXT < BLOB,
// numerics compared by value, TEXT and BLOB compared byte-wise.
// NaN sorts before every other number.
func (v Value) Compare(o Value) int {
	rv, ro := v.rank(), o.rank()
	if rv != ro {
		if rv < ro {
			return -1
		}
		return 1
	}
	switch rv {
	case 0:
		return 0
	case 1:
		if v.kind == KindInteger && o.kind == KindInteger {
			switch {
			case v.i < o.i:
				return -1
			case v.i > o.i:
				return 1
			}
			return 0
		}
		a, _ := v.AsFloat()
		b, _ := o.AsFloat()
		return compareFloat(a, b)
	case 2:
		switch {
		case v.s < o.s:
			return -1
		case v.s > o.s:
			return 1
		}
		return 0
	default:
		return bytes.Compare(v.b, o.b)
	}
}

func (v Value) rank() int {
	switch v.kind {
	case KindInteger, KindReal:
		return 1
	case KindText:
		return 2
	case KindBlob:
		return 3
	}
	return 0
}

func compareFloat(a, b float64) int {
	an, bn := math.IsNaN(a), math.IsNaN(b)
	switch {
	case an && bn:
		return 0
	case an:
		return -1
	case bn:
		return 1
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// sqliteTimestampFormat is the layout go-sqlite3 uses when writing time.Time values.
const sqliteTimestampFormat = "2006-01-02 15:04:05.999999999-07:00"

// FromDriver converts a value produced by database/sql scanning into a Value.
func FromDriver(src any) (Value, error) {
	switch x := src.(type) {
	case nil:
		return Null(), nil
	case int64:
		return Integer(x), nil
	case int:
		return Integer(int64(x)), nil
	case int32:
		return Integer(int64(x)), nil
	case float64:
		return Real(x), nil
	case float32:
		return Real(float64(x)), nil
	case bool:
		return Bool(x), nil
	case string:
		return Text(x), nil
	case []byte:
		cp := make([]byte, len(x))
		copy(cp, x)
		return Blob(cp), nil
	case time.Time:
		return Text(x.Format(sqliteTimestampFormat)), nil
	}
	return Null(), fmt.Errorf("%w: %T", ErrUnsupportedDriverValue, src)
}

// Driver returns the database/sql argument form of the value.
func (v Value) Driver() any {
	switch v.kind {
	case KindInteger:
		return v.i
	case KindReal:
		return v.f
	case KindText:
		return v.s
	case KindBlob:
		return v.b
	}
	return nil
}

// String renders the value for display.
func (v Value) String() string {
	switch v.kind {
	case KindInteger:
		return strconv.FormatInt(v.i, 10)
	case KindReal:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindText:
		return v.s
	case KindBlob:
		return fmt.Sprintf("x'%x'", v.b)
	}
	return "NULL"
}

// wireValue is the JSON form of a Value. Reals travel as IEEE-754 bits so
// that NaN and infinities survive. Text that is not valid UTF-8 travels as
// raw bytes, since JSON strings would substitute U+FFFD.
type wireValue struct {
	Kind  string  `json:"kind"`
	Int   *int64  `json:"int,omitempty"`
	Bits  *uint64 `json:"bits,omitempty"`
	Text  *string `json:"text,omitempty"`
	Bytes []byte  `json:"bytes,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	w := wireValue{Kind: v.kind.String()}
	switch v.kind {
	case KindInteger:
		w.Int = &v.i
	case KindReal:
		bits := math.Float64bits(v.f)
		w.Bits = &bits
	case KindText:
		if utf8.ValidString(v.s) {
			w.Text = &v.s
		} else {
			w.Bytes = []byte(v.s)
		}
	case KindBlob:
		w.Bytes = v.b
	}
	return gojson.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := gojson.Unmarshal(data, &w); err != nil {
		return err
	}
	kind, err := ParseKind(w.Kind)
	if err != nil {
		return err
	}
	switch kind {
	case KindNull:
		*v = Null()
	case KindInteger:
		if w.Int == nil {
			return fmt.Errorf("%w: integer without payload", ErrMalformedValue)
		}
		*v = Integer(*w.Int)
	case KindReal:
		if w.Bits == nil {
			return fmt.Errorf("%w: real without payload", ErrMalformedValue)
		}
		*v = Real(math.Float64frombits(*w.Bits))
	case KindText:
		switch {
		case w.Text != nil:
			*v = Text(*w.Text)
		case w.Bytes != nil:
			*v = Text(string(w.Bytes))
		default:
			return fmt.Errorf("%w: text without payload", ErrMalformedValue)
		}
	case KindBlob:
		*v = Blob(w.Bytes)
	}
	return nil
}
