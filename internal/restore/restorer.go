// Package restore rebuilds relational tables from a columnar archive.
package restore

import (
	"context"
	"fmt"
	"time"

	"github.com/stratadb/strata/internal/container"
	strataerrors "github.com/stratadb/strata/internal/errors"
	"github.com/stratadb/strata/internal/pipeline"
	"github.com/stratadb/strata/internal/typemap"
	"github.com/stratadb/strata/pkg/types"
)

// DefaultBatchSize is the number of rows per insert batch unless configured.
const DefaultBatchSize = 1000

// Observer receives restoration progress. It may be nil.
type Observer = pipeline.Observer

// TableResult is the outcome of restoring one table.
type TableResult = pipeline.TableResult

// Options configures a Restorer.
type Options struct {
	BatchSize   int
	Overwrite   bool
	SkipIndexes bool

	// Tables restricts restoration to the listed tables. Empty restores all.
	Tables []string

	// FailFast stops RestoreArchive after the first failed table.
	FailFast bool
}

// DefaultOptions returns the default restoration options.
func DefaultOptions() Options {
	return Options{BatchSize: DefaultBatchSize}
}

// Validate checks the options.
func (o Options) Validate() error {
	if o.BatchSize <= 0 {
		return strataerrors.NewValidationError(strataerrors.CodeInvalidConfig,
			fmt.Sprintf("batch size must be positive, got %d", o.BatchSize))
	}
	return nil
}

// Restorer rebuilds tables from an archive into a Destination.
type Restorer struct {
	opts     Options
	observer Observer
}

// New creates a Restorer. A nil observer is allowed.
func New(opts Options, observer Observer) (*Restorer, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Restorer{opts: opts, observer: pipeline.Nop(observer)}, nil
}

// RestoreArchive restores the selected tables of r into dst in archive order.
// The returned error is non-nil only when ctx was cancelled.
func (rs *Restorer) RestoreArchive(ctx context.Context, r *container.Reader, dst Destination) ([]TableResult, error) {
	tables := r.Tables()
	var results []TableResult
	if len(rs.opts.Tables) > 0 {
		tables = tables[:0:0]
		for _, name := range rs.opts.Tables {
			if !r.HasTable(name) {
				results = append(results, TableResult{
					Direction: pipeline.Restore,
					Table:     name,
					Err:       strataerrors.ErrTableNotFound.InTable(name),
				})
				continue
			}
			tables = append(tables, name)
		}
		if rs.opts.FailFast && len(results) > 0 {
			return results, nil
		}
	}

	for _, table := range tables {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := rs.RestoreTable(ctx, r, table, dst)
		results = append(results, res)
		if err != nil {
			if ctx.Err() != nil {
				return results, ctx.Err()
			}
			if rs.opts.FailFast {
				return results, nil
			}
		}
	}
	return results, nil
}

// RestoreTable restores one table inside a single destination transaction.
// On failure nothing of the table remains in dst.
func (rs *Restorer) RestoreTable(ctx context.Context, r *container.Reader, table string, dst Destination) (TableResult, error) {
	start := time.Now()
	res := TableResult{Direction: pipeline.Restore, Table: table}

	meta, err := r.TableMeta(table)
	if err == nil {
		rs.observer.TableStarted(pipeline.Restore, table, meta.Rows)
		err = rs.restoreTable(ctx, r, meta, dst, &res)
	} else {
		rs.observer.TableStarted(pipeline.Restore, table, 0)
	}

	res.Duration = time.Since(start)
	if err != nil {
		if err != ctx.Err() {
			err = strataerrors.ScopeTable(err, table)
		}
		res.Err = err
	}
	rs.observer.TableFinished(res)
	return res, err
}

func (rs *Restorer) restoreTable(ctx context.Context, r *container.Reader, meta *container.TableMeta, dst Destination, res *TableResult) (err error) {
	table := meta.Name()
	schema := RestoredSchema(meta)

	sink, err := dst.BeginTable(ctx, schema, rs.opts.Overwrite)
	if err != nil {
		return strataerrors.IO("create destination table", err)
	}
	defer func() {
		if err != nil {
			if abortErr := sink.Abort(); abortErr != nil {
				err = fmt.Errorf("%w (rollback failed: %v)", err, abortErr)
			}
		}
	}()

	batch := make([][]types.Value, 0, rs.opts.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := sink.InsertRows(ctx, batch); err != nil {
			return strataerrors.IO("insert rows", err)
		}
		batch = make([][]types.Value, 0, rs.opts.BatchSize)
		return nil
	}

	var total int64
	for g, rg := range meta.RowGroups {
		if err := ctx.Err(); err != nil {
			return err
		}
		columns, err := r.ReadRowGroup(meta, g, nil)
		if err != nil {
			return err
		}
		for i := int64(0); i < rg.Rows; i++ {
			row := make([]types.Value, len(columns))
			for c, values := range columns {
				row[c] = typemap.Restore(values[i], meta.Columns[c].Physical)
			}
			batch = append(batch, row)
			if len(batch) == rs.opts.BatchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		total += rg.Rows
		rs.observer.RowGroupSealed(pipeline.Progress{
			Direction:    pipeline.Restore,
			Table:        table,
			RowGroup:     g,
			Rows:         rg.Rows,
			TotalRows:    total,
			ExpectedRows: meta.Rows,
		})
	}
	if err := flush(); err != nil {
		return err
	}
	if err := sink.Finish(ctx, !rs.opts.SkipIndexes); err != nil {
		return strataerrors.IO("commit table", err)
	}

	res.Rows = total
	res.RowGroups = len(meta.RowGroups)
	return nil
}

// RestoredSchema returns the schema to recreate for an archived table: the
// archived schema with each declared type resolved through the type mapper.
func RestoredSchema(meta *container.TableMeta) *types.Schema {
	schema := meta.Schema
	schema.Columns = make([]types.ColumnDef, len(meta.Schema.Columns))
	copy(schema.Columns, meta.Schema.Columns)
	for i := range schema.Columns {
		schema.Columns[i].DeclaredType = typemap.Reverse(meta.Columns[i].DeclaredType, meta.Columns[i].Physical)
	}
	return &schema
}
