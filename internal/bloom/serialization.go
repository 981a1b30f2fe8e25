package bloom

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/golang/snappy"
)

const headerSize = 24

// Limits applied when reading filters back from an archive.
const (
	maxBits   = 1 << 32
	maxHashes = 64
)

// ErrInvalidFilter is returned when serialized filter bytes are malformed.
var ErrInvalidFilter = errors.New("bloom: invalid serialized filter")

// Serialize encodes the filter as a 24-byte header followed by a
// Snappy-compressed bit array:
//   - 8 bytes: numBits (uint64, little-endian)
//   - 8 bytes: numHashes (uint64, little-endian)
//   - 8 bytes: count (uint64, little-endian)
//   - remaining: snappy(bit array as little-endian uint64 words)
func (f *Filter) Serialize() []byte {
	bitData := make([]byte, len(f.bits)*8)
	for i, word := range f.bits {
		binary.LittleEndian.PutUint64(bitData[i*8:(i+1)*8], word)
	}
	compressed := snappy.Encode(nil, bitData)

	buf := make([]byte, headerSize+len(compressed))
	binary.LittleEndian.PutUint64(buf[0:8], f.numBits)
	binary.LittleEndian.PutUint64(buf[8:16], f.numHashes)
	binary.LittleEndian.PutUint64(buf[16:24], f.count)
	copy(buf[headerSize:], compressed)
	return buf
}

// Deserialize reconstructs a filter produced by Serialize.
func Deserialize(data []byte) (*Filter, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrInvalidFilter, len(data))
	}

	numBits := binary.LittleEndian.Uint64(data[0:8])
	numHashes := binary.LittleEndian.Uint64(data[8:16])
	count := binary.LittleEndian.Uint64(data[16:24])

	if numBits == 0 || numBits%64 != 0 || numBits > maxBits {
		return nil, fmt.Errorf("%w: numBits %d", ErrInvalidFilter, numBits)
	}
	if numHashes == 0 || numHashes > maxHashes {
		return nil, fmt.Errorf("%w: numHashes %d", ErrInvalidFilter, numHashes)
	}

	numWords := numBits / 64
	n, err := snappy.DecodedLen(data[headerSize:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	if uint64(n) != numWords*8 {
		return nil, fmt.Errorf("%w: bit array is %d bytes, want %d", ErrInvalidFilter, n, numWords*8)
	}
	bitData, err := snappy.Decode(nil, data[headerSize:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}

	bits := make([]uint64, numWords)
	for i := range bits {
		bits[i] = binary.LittleEndian.Uint64(bitData[i*8 : (i+1)*8])
	}

	return &Filter{
		bits:      bits,
		numBits:   numBits,
		numHashes: numHashes,
		count:     count,
	}, nil
}
