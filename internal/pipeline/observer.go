// Package pipeline holds the progress and result types shared by the archival
// and restoration pipelines, and the Observer interface through which both
// report what they are doing.
package pipeline

import "time"

// Direction identifies which pipeline produced an event.
type Direction string

const (
	Archive Direction = "archive"
	Restore Direction = "restore"
)

// Progress is reported after every row group.
type Progress struct {
	Direction Direction
	Table     string

	// RowGroup is the zero-based index of the row group just completed
	RowGroup int

	// Rows is the number of rows in that row group
	Rows int64

	// TotalRows is the number of rows processed so far for the table
	TotalRows int64

	// ExpectedRows is the table's row count when known, otherwise 0
	ExpectedRows int64

	// RawBytes and CompressedBytes are the encoded and stored sizes of the
	// row group's chunks. They are zero on restore.
	RawBytes        int64
	CompressedBytes int64
}

// ColumnResult summarizes one archived column.
type ColumnResult struct {
	Name            string
	Physical        string
	RawBytes        int64
	CompressedBytes int64
}

// TableResult is the outcome of processing one table.
type TableResult struct {
	Direction Direction
	Table     string
	Rows      int64
	RowGroups int
	Columns   []ColumnResult
	Duration  time.Duration

	// Err is nil on success. A failed table leaves no trace in its target.
	Err error
}

// OK reports whether the table was processed successfully.
func (r TableResult) OK() bool {
	return r.Err == nil
}

// RawBytes returns the encoded size of all columns.
func (r TableResult) RawBytes() int64 {
	var n int64
	for _, c := range r.Columns {
		n += c.RawBytes
	}
	return n
}

// CompressedBytes returns the stored size of all columns.
func (r TableResult) CompressedBytes() int64 {
	var n int64
	for _, c := range r.Columns {
		n += c.CompressedBytes
	}
	return n
}

// Observer receives pipeline events. Implementations must not block for long;
// they run on the pipeline goroutine.
type Observer interface {
	TableStarted(dir Direction, table string, expectedRows int64)
	RowGroupSealed(p Progress)
	TableFinished(r TableResult)
}

// Nop returns obs, or an Observer that ignores every event when obs is nil.
func Nop(obs Observer) Observer {
	if obs == nil {
		return nopObserver{}
	}
	return obs
}

type nopObserver struct{}

func (nopObserver) TableStarted(Direction, string, int64) {}
func (nopObserver) RowGroupSealed(Progress)               {}
func (nopObserver) TableFinished(TableResult)             {}

// Failed returns the results that carry an error.
func Failed(results []TableResult) []TableResult {
	var out []TableResult
	for _, r := range results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}
