package stats

import (
	"encoding/binary"
	"math"
	"math/bits"

	"github.com/spaolacci/murmur3"

	"github.com/stratadb/strata/pkg/types"
)

// HyperLogLog with 2^10 one-byte registers: about 3.25% standard error in 1 KiB.
const (
	hllPrecision = 10
	hllRegisters = 1 << hllPrecision
)

type hyperLogLog struct {
	registers [hllRegisters]uint8
}

func newHyperLogLog() *hyperLogLog {
	return &hyperLogLog{}
}

func (h *hyperLogLog) add(hash uint64) {
	idx := hash >> (64 - hllPrecision)
	w := hash<<hllPrecision | 1<<(hllPrecision-1)
	rho := uint8(bits.LeadingZeros64(w) + 1)
	if rho > h.registers[idx] {
		h.registers[idx] = rho
	}
}

func (h *hyperLogLog) estimate() uint64 {
	m := float64(hllRegisters)
	alpha := 0.7213 / (1 + 1.079/m)

	sum := 0.0
	zeros := 0
	for _, r := range h.registers {
		sum += math.Ldexp(1, -int(r))
		if r == 0 {
			zeros++
		}
	}

	est := alpha * m * m / sum
	if est <= 2.5*m && zeros > 0 {
		// Linear counting for small cardinalities.
		est = m * math.Log(m/float64(zeros))
	}
	return uint64(est + 0.5)
}

// hashValue hashes a value's physical payload. Kinds are salted so that
// Integer 1 and Text "\x01..." do not collide by construction.
func hashValue(v types.Value) uint64 {
	var buf [9]byte
	switch v.Kind() {
	case types.KindInteger:
		buf[0] = 'i'
		binary.LittleEndian.PutUint64(buf[1:], uint64(v.Int()))
		return murmur3.Sum64(buf[:])
	case types.KindReal:
		buf[0] = 'r'
		binary.LittleEndian.PutUint64(buf[1:], math.Float64bits(v.Float()))
		return murmur3.Sum64(buf[:])
	case types.KindText:
		return murmur3.Sum64WithSeed([]byte(v.Str()), 't')
	default:
		return murmur3.Sum64WithSeed(v.Bytes(), 'b')
	}
}
