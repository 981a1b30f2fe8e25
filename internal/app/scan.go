package app

import (
	"context"

	"go.uber.org/zap"

	"github.com/stratadb/strata/internal/observability"
	"github.com/stratadb/strata/internal/query"
	"github.com/stratadb/strata/pkg/types"
)

// ScanRequest selects rows from an archived table.
type ScanRequest struct {
	Table string

	// Where is a filter expression such as "id > 10 AND name IS NOT NULL"
	Where string

	// Columns restricts the output. Empty means all columns.
	Columns []string

	// Limit stops the scan after that many rows. Zero means no limit.
	Limit int

	// OnHeader, when set, receives the output column names before any row.
	OnHeader func(columns []string) error
}

// ScanResult reports what a scan read and which predicates pruned row groups.
type ScanResult struct {
	Columns []string
	Stats   query.ScanStats
	Pruning []observability.PredicateStats
}

// Scan streams the rows of req.Table that match req.Where to fn.
func (a *App) Scan(ctx context.Context, archiveRef string, req ScanRequest, fn func(row []types.Value) error) (*ScanResult, error) {
	preds, err := query.ParseFilter(req.Where)
	if err != nil {
		return nil, err
	}

	r, cleanup, err := a.openArchive(ctx, archiveRef)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	meta, err := r.TableMeta(req.Table)
	if err != nil {
		return nil, err
	}
	res := &ScanResult{Columns: req.Columns}
	if len(res.Columns) == 0 {
		for _, c := range meta.Columns {
			res.Columns = append(res.Columns, c.Name)
		}
	}

	if req.OnHeader != nil {
		if err := req.OnHeader(res.Columns); err != nil {
			return nil, err
		}
	}

	pruning := observability.NewPruningStats()
	scanner := &query.Scanner{Columns: req.Columns, Recorder: pruning}

	emitted := 0
	res.Stats, err = scanner.Scan(ctx, r, req.Table, preds, func(row []types.Value) error {
		if err := fn(row); err != nil {
			return err
		}
		emitted++
		if req.Limit > 0 && emitted >= req.Limit {
			return query.ErrStop
		}
		return nil
	})
	res.Pruning = pruning.Top(len(preds))
	if err != nil {
		return res, err
	}

	a.logger.Debug("scan finished",
		zap.String("table", req.Table),
		zap.Int("row_groups", res.Stats.RowGroups),
		zap.Int("row_groups_skipped", res.Stats.RowGroupsSkipped),
		zap.Int64("rows_matched", res.Stats.RowsMatched))
	return res, nil
}
