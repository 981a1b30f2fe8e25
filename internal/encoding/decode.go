package encoding

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/stratadb/strata/pkg/types"
)

// reader is a bounds-checked cursor over a payload.
type reader struct {
	data []byte
	off  int
}

func (r *reader) uvarint() (uint64, error) {
	v, k := binary.Uvarint(r.data[r.off:])
	if k <= 0 {
		return 0, fmt.Errorf("%w: truncated varint at offset %d", ErrMalformed, r.off)
	}
	r.off += k
	return v, nil
}

func (r *reader) varint() (int64, error) {
	v, k := binary.Varint(r.data[r.off:])
	if k <= 0 {
		return 0, fmt.Errorf("%w: truncated varint at offset %d", ErrMalformed, r.off)
	}
	r.off += k
	return v, nil
}

func (r *reader) bytes(n uint64) ([]byte, error) {
	if n > uint64(len(r.data)-r.off) {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrMalformed, n, r.off, len(r.data)-r.off)
	}
	b := r.data[r.off : r.off+int(n)]
	r.off += int(n)
	return b, nil
}

// Decode decodes a payload produced by Encode. It returns one value per row,
// with nulls restored from the presence information.
func Decode(p types.PhysicalType, enc Encoding, data []byte) ([]types.Value, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: physical type %d", ErrUnsupported, uint8(p))
	}
	r := &reader{data: data}
	n64, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	if n64 > maxRows {
		return nil, fmt.Errorf("%w: row count %d", ErrMalformed, n64)
	}
	n := int(n64)

	mode, err := r.bytes(1)
	if err != nil {
		return nil, err
	}

	// Every present value costs at least one bit.
	if mode[0] != presenceNone && n64 > 8*uint64(len(data)) {
		return nil, fmt.Errorf("%w: row count %d exceeds payload size", ErrMalformed, n64)
	}

	presence := make([]bool, n)
	present := 0
	switch mode[0] {
	case presenceAll:
		for i := range presence {
			presence[i] = true
		}
		present = n
	case presenceNone:
	case presenceBitmap:
		bitmap, err := r.bytes(uint64((n + 7) / 8))
		if err != nil {
			return nil, err
		}
		for i := range presence {
			if bitmap[i/8]&(1<<(i%8)) != 0 {
				presence[i] = true
				present++
			}
		}
	default:
		return nil, fmt.Errorf("%w: presence mode %d", ErrMalformed, mode[0])
	}

	var dense []types.Value
	switch enc {
	case Plain:
		dense, err = decodePlain(r, p, present)
	case DeltaVarint:
		if p != types.PhysicalInt64 {
			return nil, fmt.Errorf("%w: %s/%s", ErrUnsupported, enc, p)
		}
		dense, err = decodeDeltaVarint(r, present)
	case BitPacked:
		if p != types.PhysicalBoolean {
			return nil, fmt.Errorf("%w: %s/%s", ErrUnsupported, enc, p)
		}
		dense, err = decodeBitPacked(r, present)
	case Dictionary:
		if p != types.PhysicalString && p != types.PhysicalBytes {
			return nil, fmt.Errorf("%w: %s/%s", ErrUnsupported, enc, p)
		}
		dense, err = decodeDictionary(r, p, present)
	default:
		return nil, fmt.Errorf("%w: encoding %d", ErrUnsupported, uint8(enc))
	}
	if err != nil {
		return nil, err
	}
	if r.off != len(r.data) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(r.data)-r.off)
	}

	out := make([]types.Value, n)
	j := 0
	for i, ok := range presence {
		if ok {
			out[i] = dense[j]
			j++
		}
	}
	return out, nil
}

func decodePlain(r *reader, p types.PhysicalType, present int) ([]types.Value, error) {
	out := make([]types.Value, 0, present)
	for i := 0; i < present; i++ {
		switch p {
		case types.PhysicalInt64, types.PhysicalFloat64:
			b, err := r.bytes(8)
			if err != nil {
				return nil, err
			}
			bits := binary.LittleEndian.Uint64(b)
			if p == types.PhysicalInt64 {
				out = append(out, types.Integer(int64(bits)))
			} else {
				out = append(out, types.Real(math.Float64frombits(bits)))
			}
		case types.PhysicalString, types.PhysicalBytes:
			l, err := r.uvarint()
			if err != nil {
				return nil, err
			}
			b, err := r.bytes(l)
			if err != nil {
				return nil, err
			}
			out = append(out, bytesValue(p, b))
		default:
			return nil, fmt.Errorf("%w: plain/%s", ErrUnsupported, p)
		}
	}
	return out, nil
}

func decodeDeltaVarint(r *reader, present int) ([]types.Value, error) {
	out := make([]types.Value, 0, present)
	var prev int64
	for i := 0; i < present; i++ {
		d, err := r.varint()
		if err != nil {
			return nil, err
		}
		prev += d
		out = append(out, types.Integer(prev))
	}
	return out, nil
}

func decodeBitPacked(r *reader, present int) ([]types.Value, error) {
	packed, err := r.bytes(uint64((present + 7) / 8))
	if err != nil {
		return nil, err
	}
	out := make([]types.Value, present)
	for i := range out {
		out[i] = types.Bool(packed[i/8]&(1<<(i%8)) != 0)
	}
	return out, nil
}

func decodeDictionary(r *reader, p types.PhysicalType, present int) ([]types.Value, error) {
	size, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	if size > MaxDictionarySize {
		return nil, fmt.Errorf("%w: dictionary size %d", ErrMalformed, size)
	}
	entries := make([]types.Value, size)
	for i := range entries {
		l, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		b, err := r.bytes(l)
		if err != nil {
			return nil, err
		}
		entries[i] = bytesValue(p, b)
	}

	out := make([]types.Value, 0, present)
	for i := 0; i < present; i++ {
		id, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		if id >= size {
			return nil, fmt.Errorf("%w: dictionary index %d out of range %d", ErrMalformed, id, size)
		}
		out = append(out, entries[id])
	}
	return out, nil
}

// bytesValue copies b out of the payload buffer.
func bytesValue(p types.PhysicalType, b []byte) types.Value {
	if p == types.PhysicalString {
		return types.Text(string(b))
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return types.Blob(cp)
}
