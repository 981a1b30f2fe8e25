package query

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stratadb/strata/internal/bloom"
	"github.com/stratadb/strata/internal/container"
	strataerrors "github.com/stratadb/strata/internal/errors"
	"github.com/stratadb/strata/internal/typemap"
	"github.com/stratadb/strata/pkg/types"
)

// ErrStop may be returned by a row callback to end a scan early without error.
var ErrStop = errors.New("query: stop scan")

// ScanStats reports how much of a table a scan had to read.
type ScanStats struct {
	RowGroups        int
	RowGroupsSkipped int
	RowsScanned      int64
	RowsMatched      int64
}

// Recorder is told about every predicate evaluation against row group
// statistics.
type Recorder interface {
	RecordPredicate(column, operator string, skipped bool)
}

// Scanner reads the rows of an archived table that satisfy a filter.
type Scanner struct {
	// Columns restricts the output to the named columns. Empty means all.
	Columns []string

	// Recorder, when set, receives pruning outcomes.
	Recorder Recorder
}

type boundPredicate struct {
	Predicate
	col int
}

// Scan calls fn for every row of table that satisfies all predicates, in
// archive order. Row groups that statistics prove cannot match are not read.
// fn receives a fresh slice per row. Returning ErrStop from fn ends the scan.
func (s *Scanner) Scan(ctx context.Context, r *container.Reader, table string, preds []Predicate, fn func(row []types.Value) error) (ScanStats, error) {
	var st ScanStats
	meta, err := r.TableMeta(table)
	if err != nil {
		return st, err
	}

	bound := make([]boundPredicate, len(preds))
	for i, p := range preds {
		col := resolveColumn(meta, p.Column)
		if col < 0 {
			return st, strataerrors.NewValidationError(strataerrors.CodeInvalidFilter,
				fmt.Sprintf("unknown column %q", p.Column)).InTable(table)
		}
		bound[i] = boundPredicate{Predicate: p, col: col}
	}

	out := make([]int, 0, len(meta.Columns))
	if len(s.Columns) == 0 {
		for i := range meta.Columns {
			out = append(out, i)
		}
	} else {
		for _, name := range s.Columns {
			col := resolveColumn(meta, name)
			if col < 0 {
				return st, strataerrors.NewValidationError(strataerrors.CodeInvalidFilter,
					fmt.Sprintf("unknown column %q", name)).InTable(table)
			}
			out = append(out, col)
		}
	}

	st.RowGroups = len(meta.RowGroups)
	for g := range meta.RowGroups {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		skip, err := s.skipRowGroup(meta, g, bound)
		if err != nil {
			return st, err
		}
		if skip {
			st.RowGroupsSkipped++
			continue
		}

		columns, err := r.ReadRowGroup(meta, g, nil)
		if err != nil {
			return st, err
		}
		rows := int(meta.RowGroups[g].Rows)
		st.RowsScanned += int64(rows)

	rowLoop:
		for i := 0; i < rows; i++ {
			for _, p := range bound {
				if !p.Match(columns[p.col][i]) {
					continue rowLoop
				}
			}
			st.RowsMatched++
			row := make([]types.Value, len(out))
			for j, c := range out {
				row[j] = typemap.Restore(columns[c][i], meta.Columns[c].Physical)
			}
			if err := fn(row); err != nil {
				if errors.Is(err, ErrStop) {
					return st, nil
				}
				return st, err
			}
		}
	}
	return st, nil
}

// skipRowGroup reports whether any predicate rules the row group out.
func (s *Scanner) skipRowGroup(meta *container.TableMeta, group int, preds []boundPredicate) (bool, error) {
	rg := meta.RowGroups[group]
	for _, p := range preds {
		chunk := rg.Chunks[p.col]
		var bf *bloom.Filter
		if len(chunk.Bloom) > 0 && (p.Op == OpEq || p.Op == OpIn) {
			var err error
			bf, err = bloom.Deserialize(chunk.Bloom)
			if err != nil {
				return false, strataerrors.Corrupt("decode bloom filter", err).InColumn(meta.Name(), meta.Columns[p.col].Name)
			}
		}
		skip := CanSkip(p.Predicate, chunk.Stats, bf)
		if s.Recorder != nil {
			s.Recorder.RecordPredicate(meta.Columns[p.col].Name, p.Op.String(), skip)
		}
		if skip {
			return true, nil
		}
	}
	return false, nil
}

// resolveColumn finds a column by exact name, then case-insensitively as
// SQLite does.
func resolveColumn(meta *container.TableMeta, name string) int {
	if i := meta.ColumnIndex(name); i >= 0 {
		return i
	}
	for i, c := range meta.Columns {
		if strings.EqualFold(c.Name, name) {
			return i
		}
	}
	return -1
}
