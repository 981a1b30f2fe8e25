// Package bloom provides the per-chunk membership filters used to skip
// column chunks on equality predicates.
package bloom

import (
	"encoding/binary"
	"math"

	"github.com/spaolacci/murmur3"

	"github.com/stratadb/strata/pkg/types"
)

// Filter provides probabilistic membership testing with a configurable false
// positive rate. It never reports a false negative: if a value was added,
// MayContain returns true.
type Filter struct {
	bits      []uint64
	numBits   uint64
	numHashes uint64
	count     uint64
}

// New creates a Filter with the given number of bits and hash functions.
func New(numBits, numHashes int) *Filter {
	if numBits <= 0 {
		numBits = 1024
	}
	if numHashes <= 0 {
		numHashes = 7
	}

	// Round up to whole 64-bit words.
	numWords := (numBits + 63) / 64
	return &Filter{
		bits:      make([]uint64, numWords),
		numBits:   uint64(numWords * 64),
		numHashes: uint64(numHashes),
	}
}

// NewWithEstimates creates a Filter sized for the expected number of distinct
// values and target false positive rate.
func NewWithEstimates(expectedItems int, targetFPR float64) *Filter {
	numBits, numHashes := OptimalParameters(expectedItems, targetFPR)
	return New(numBits, numHashes)
}

// OptimalParameters calculates the number of bits and hash functions for n
// expected items at false positive rate p:
//
//	m = -n * ln(p) / (ln(2)^2)
//	k = (m/n) * ln(2)
func OptimalParameters(expectedItems int, targetFPR float64) (numBits, numHashes int) {
	if expectedItems <= 0 {
		expectedItems = 1
	}
	if targetFPR <= 0 || targetFPR >= 1 {
		targetFPR = 0.01
	}

	n := float64(expectedItems)
	m := -n * math.Log(targetFPR) / (math.Ln2 * math.Ln2)
	numBits = int(math.Ceil(m))
	numHashes = int(math.Ceil((m / n) * math.Ln2))

	if numBits < 64 {
		numBits = 64
	}
	if numHashes < 1 {
		numHashes = 1
	}
	return numBits, numHashes
}

// Add adds raw bytes to the filter.
func (f *Filter) Add(item []byte) {
	h1, h2 := murmur3.Sum128(item)
	for i := uint64(0); i < f.numHashes; i++ {
		// Double hashing: h(i) = h1 + i*h2
		pos := (h1 + i*h2) % f.numBits
		f.bits[pos/64] |= 1 << (pos % 64)
	}
	f.count++
}

// MayContain reports whether raw bytes might have been added.
func (f *Filter) MayContain(item []byte) bool {
	h1, h2 := murmur3.Sum128(item)
	for i := uint64(0); i < f.numHashes; i++ {
		pos := (h1 + i*h2) % f.numBits
		if f.bits[pos/64]&(1<<(pos%64)) == 0 {
			return false
		}
	}
	return true
}

// AddValue adds a non-null physical value. Nulls are ignored.
func (f *Filter) AddValue(v types.Value) {
	if v.IsNull() {
		return
	}
	f.Add(Key(v))
}

// MayContainValue reports whether v might be present in the chunk.
func (f *Filter) MayContainValue(v types.Value) bool {
	if v.IsNull() {
		return false
	}
	return f.MayContain(Key(v))
}

// Key returns the canonical byte form of a value. The kind is part of the key
// and negative zero hashes like zero so that numeric equality holds.
func Key(v types.Value) []byte {
	switch v.Kind() {
	case types.KindInteger:
		buf := make([]byte, 9)
		buf[0] = 'i'
		binary.LittleEndian.PutUint64(buf[1:], uint64(v.Int()))
		return buf
	case types.KindReal:
		f := v.Float()
		if f == 0 {
			f = 0
		}
		buf := make([]byte, 9)
		buf[0] = 'r'
		binary.LittleEndian.PutUint64(buf[1:], math.Float64bits(f))
		return buf
	case types.KindText:
		return append([]byte{'t'}, v.Str()...)
	case types.KindBlob:
		return append([]byte{'b'}, v.Bytes()...)
	}
	return nil
}

// NumBits returns the number of bits in the filter.
func (f *Filter) NumBits() int {
	return int(f.numBits)
}

// NumHashes returns the number of hash functions used.
func (f *Filter) NumHashes() int {
	return int(f.numHashes)
}

// Count returns the number of items added to the filter.
func (f *Filter) Count() uint64 {
	return f.count
}

// FalsePositiveRate returns the estimated false positive rate at the current
// fill: (1 - e^(-k*n/m))^k.
func (f *Filter) FalsePositiveRate() float64 {
	if f.count == 0 {
		return 0
	}
	k := float64(f.numHashes)
	n := float64(f.count)
	m := float64(f.numBits)
	return math.Pow(1-math.Exp(-k*n/m), k)
}
