// Package stats accumulates per-chunk column statistics in a single pass.
package stats

import (
	"math"

	"github.com/stratadb/strata/pkg/types"
)

// ColumnStats is the immutable statistics record sealed with a column chunk.
// Min and Max are in the column's physical domain and are nil when the chunk
// holds no comparable (non-null, non-NaN) value.
type ColumnStats struct {
	Min              *types.Value `json:"min,omitempty"`
	Max              *types.Value `json:"max,omitempty"`
	NullCount        int64        `json:"null_count"`
	RowCount         int64        `json:"row_count"`
	DistinctEstimate uint64       `json:"distinct_estimate"`
}

// HasMinMax reports whether the chunk recorded bounds.
func (s ColumnStats) HasMinMax() bool {
	return s.Min != nil && s.Max != nil
}

// AllNull reports whether every row in the chunk is null.
func (s ColumnStats) AllNull() bool {
	return s.NullCount == s.RowCount
}

// Bounds reports whether v lies within [Min, Max]. Nulls and NaN are never
// bounded by min/max and always report true.
func (s ColumnStats) Bounds(v types.Value) bool {
	if v.IsNull() || (v.Kind() == types.KindReal && math.IsNaN(v.Float())) {
		return true
	}
	if !s.HasMinMax() {
		return false
	}
	return s.Min.Compare(v) <= 0 && v.Compare(*s.Max) <= 0
}

// Collector tracks min, max, null count, row count and an approximate distinct
// count for one column chunk. A Collector is used for exactly one chunk.
type Collector struct {
	physical types.PhysicalType

	rowCount  int64
	nullCount int64

	min    types.Value
	max    types.Value
	hasMin bool

	sketch       *hyperLogLog
	lastEstimate uint64

	finalized bool
}

// NewCollector creates a collector for a chunk of the given physical type.
func NewCollector(physical types.PhysicalType) *Collector {
	return &Collector{
		physical: physical,
		sketch:   newHyperLogLog(),
	}
}

// Observe records one value. Values must already be coerced into the
// collector's physical domain.
func (c *Collector) Observe(v types.Value) {
	if c.finalized {
		panic("stats: Observe called after Finalize")
	}
	c.rowCount++
	if v.IsNull() {
		c.nullCount++
		return
	}

	c.sketch.add(hashValue(v))

	if v.Kind() == types.KindReal && math.IsNaN(v.Float()) {
		return
	}
	if !c.hasMin {
		c.min, c.max, c.hasMin = v, v, true
		return
	}
	if v.Compare(c.min) < 0 {
		c.min = v
	}
	if v.Compare(c.max) > 0 {
		c.max = v
	}
}

// Physical returns the physical type the collector was created for.
func (c *Collector) Physical() types.PhysicalType {
	return c.physical
}

// RowCount returns the number of values observed so far.
func (c *Collector) RowCount() int64 {
	return c.rowCount
}

// NullCount returns the number of nulls observed so far.
func (c *Collector) NullCount() int64 {
	return c.nullCount
}

// Estimate returns the current distinct-value estimate. Successive calls never
// return a smaller value, and the estimate never exceeds the non-null count.
func (c *Collector) Estimate() uint64 {
	est := c.sketch.estimate()
	if nonNull := uint64(c.rowCount - c.nullCount); est > nonNull {
		est = nonNull
	}
	if nonNull := c.rowCount - c.nullCount; nonNull > 0 && est == 0 {
		est = 1
	}
	if est < c.lastEstimate {
		est = c.lastEstimate
	}
	c.lastEstimate = est
	return est
}

// Finalize seals the collector and returns its statistics.
func (c *Collector) Finalize() ColumnStats {
	est := c.Estimate()
	c.finalized = true

	out := ColumnStats{
		NullCount:        c.nullCount,
		RowCount:         c.rowCount,
		DistinctEstimate: est,
	}
	if c.hasMin {
		lo, hi := cloneValue(c.min), cloneValue(c.max)
		out.Min, out.Max = &lo, &hi
	}
	return out
}

// cloneValue detaches blob payloads from buffers owned by the caller.
func cloneValue(v types.Value) types.Value {
	if v.Kind() != types.KindBlob {
		return v
	}
	cp := make([]byte, len(v.Bytes()))
	copy(cp, v.Bytes())
	return types.Blob(cp)
}
