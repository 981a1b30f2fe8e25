// Package encoding converts a column chunk's values to and from their
// uncompressed byte form.
//
// A payload is laid out as:
//
//	uvarint  row count
//	byte     presence mode (all present, bitmap, all null)
//	[]byte   presence bitmap, one bit per row, only in bitmap mode
//	...      the non-null values, encoded per Encoding
//
// Nulls never occupy a value slot.
package encoding

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/stratadb/strata/pkg/types"
)

// Encoding identifies how non-null values are laid out. Values are persisted.
type Encoding uint8

const (
	// Plain stores fixed-width little-endian numbers or length-prefixed bytes
	Plain Encoding = 0

	// DeltaVarint stores zigzag varint deltas between consecutive integers
	DeltaVarint Encoding = 1

	// BitPacked stores one bit per boolean
	BitPacked Encoding = 2

	// Dictionary stores distinct strings once followed by varint indices
	Dictionary Encoding = 3
)

// String returns the encoding name.
func (e Encoding) String() string {
	switch e {
	case Plain:
		return "plain"
	case DeltaVarint:
		return "delta_varint"
	case BitPacked:
		return "bit_packed"
	case Dictionary:
		return "dictionary"
	default:
		return fmt.Sprintf("encoding(%d)", uint8(e))
	}
}

// Valid reports whether e is a known encoding.
func (e Encoding) Valid() bool {
	return e <= Dictionary
}

const (
	presenceAll    byte = 0
	presenceBitmap byte = 1
	presenceNone   byte = 2
)

// MaxDictionarySize caps the number of distinct entries in a dictionary page.
const MaxDictionarySize = 1 << 16

// maxRows bounds the row count accepted from a payload header.
const maxRows = 1 << 32

var (
	// ErrMalformed is returned when a payload cannot be decoded.
	ErrMalformed = errors.New("malformed column payload")

	// ErrUnsupported is returned for an encoding that does not apply to a physical type.
	ErrUnsupported = errors.New("unsupported encoding for physical type")
)

// Options controls encoding choices.
type Options struct {
	// Dictionary enables dictionary encoding for string and byte columns
	Dictionary bool
}

// Encode encodes values, which must already be coerced to the physical type.
func Encode(p types.PhysicalType, values []types.Value, opts Options) ([]byte, Encoding, error) {
	present := 0
	for _, v := range values {
		if !v.IsNull() {
			present++
		}
	}

	buf := binary.AppendUvarint(nil, uint64(len(values)))
	switch {
	case present == len(values):
		buf = append(buf, presenceAll)
	case present == 0:
		buf = append(buf, presenceNone)
	default:
		buf = append(buf, presenceBitmap)
		bitmap := make([]byte, (len(values)+7)/8)
		for i, v := range values {
			if !v.IsNull() {
				bitmap[i/8] |= 1 << (i % 8)
			}
		}
		buf = append(buf, bitmap...)
	}

	enc := choose(p, values, present, opts)
	var err error
	switch enc {
	case DeltaVarint:
		buf, err = appendDeltaVarint(buf, values)
	case BitPacked:
		buf, err = appendBitPacked(buf, values, present)
	case Dictionary:
		buf, err = appendDictionary(buf, values, p)
	default:
		buf, err = appendPlain(buf, values, p)
	}
	if err != nil {
		return nil, 0, err
	}
	return buf, enc, nil
}

func choose(p types.PhysicalType, values []types.Value, present int, opts Options) Encoding {
	switch p {
	case types.PhysicalInt64:
		return DeltaVarint
	case types.PhysicalBoolean:
		return BitPacked
	case types.PhysicalString, types.PhysicalBytes:
		if !opts.Dictionary || present < 2 {
			return Plain
		}
		distinct := make(map[string]struct{})
		for _, v := range values {
			if v.IsNull() {
				continue
			}
			distinct[key(v)] = struct{}{}
			if len(distinct) > present/2 || len(distinct) > MaxDictionarySize {
				return Plain
			}
		}
		return Dictionary
	}
	return Plain
}

func key(v types.Value) string {
	if v.Kind() == types.KindText {
		return v.Str()
	}
	return string(v.Bytes())
}

func mismatch(p types.PhysicalType, v types.Value) error {
	return fmt.Errorf("encoding: %s value in %s column", v.Kind(), p)
}

func appendPlain(buf []byte, values []types.Value, p types.PhysicalType) ([]byte, error) {
	for _, v := range values {
		if v.IsNull() {
			continue
		}
		switch p {
		case types.PhysicalInt64:
			if v.Kind() != types.KindInteger {
				return nil, mismatch(p, v)
			}
			buf = binary.LittleEndian.AppendUint64(buf, uint64(v.Int()))
		case types.PhysicalFloat64:
			if v.Kind() != types.KindReal {
				return nil, mismatch(p, v)
			}
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v.Float()))
		case types.PhysicalString:
			if v.Kind() != types.KindText {
				return nil, mismatch(p, v)
			}
			buf = binary.AppendUvarint(buf, uint64(len(v.Str())))
			buf = append(buf, v.Str()...)
		case types.PhysicalBytes:
			if v.Kind() != types.KindBlob {
				return nil, mismatch(p, v)
			}
			buf = binary.AppendUvarint(buf, uint64(len(v.Bytes())))
			buf = append(buf, v.Bytes()...)
		default:
			return nil, fmt.Errorf("%w: plain/%s", ErrUnsupported, p)
		}
	}
	return buf, nil
}

func appendDeltaVarint(buf []byte, values []types.Value) ([]byte, error) {
	var prev int64
	for _, v := range values {
		if v.IsNull() {
			continue
		}
		if v.Kind() != types.KindInteger {
			return nil, mismatch(types.PhysicalInt64, v)
		}
		buf = binary.AppendVarint(buf, v.Int()-prev)
		prev = v.Int()
	}
	return buf, nil
}

func appendBitPacked(buf []byte, values []types.Value, present int) ([]byte, error) {
	packed := make([]byte, (present+7)/8)
	i := 0
	for _, v := range values {
		if v.IsNull() {
			continue
		}
		if v.Kind() != types.KindInteger || (v.Int() != 0 && v.Int() != 1) {
			return nil, mismatch(types.PhysicalBoolean, v)
		}
		if v.Int() == 1 {
			packed[i/8] |= 1 << (i % 8)
		}
		i++
	}
	return append(buf, packed...), nil
}

func appendDictionary(buf []byte, values []types.Value, p types.PhysicalType) ([]byte, error) {
	index := make(map[string]uint64)
	var entries []string
	ids := make([]uint64, 0, len(values))
	for _, v := range values {
		if v.IsNull() {
			continue
		}
		if (p == types.PhysicalString && v.Kind() != types.KindText) || (p == types.PhysicalBytes && v.Kind() != types.KindBlob) {
			return nil, mismatch(p, v)
		}
		k := key(v)
		id, ok := index[k]
		if !ok {
			id = uint64(len(entries))
			index[k] = id
			entries = append(entries, k)
		}
		ids = append(ids, id)
	}

	buf = binary.AppendUvarint(buf, uint64(len(entries)))
	for _, e := range entries {
		buf = binary.AppendUvarint(buf, uint64(len(e)))
		buf = append(buf, e...)
	}
	for _, id := range ids {
		buf = binary.AppendUvarint(buf, id)
	}
	return buf, nil
}

// RowCount reads the row count from a payload header without decoding values.
func RowCount(data []byte) (int, error) {
	n, k := binary.Uvarint(data)
	if k <= 0 || n > maxRows {
		return 0, fmt.Errorf("%w: bad row count", ErrMalformed)
	}
	return int(n), nil
}
