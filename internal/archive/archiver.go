// Package archive converts the tables of a relational source into a columnar
// archive, one table at a time, one row group at a time.
package archive

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/stratadb/strata/internal/bloom"
	"github.com/stratadb/strata/internal/compression"
	"github.com/stratadb/strata/internal/container"
	"github.com/stratadb/strata/internal/encoding"
	strataerrors "github.com/stratadb/strata/internal/errors"
	"github.com/stratadb/strata/internal/pipeline"
	"github.com/stratadb/strata/internal/stats"
	"github.com/stratadb/strata/internal/typemap"
	"github.com/stratadb/strata/pkg/types"
)

// Observer receives archival progress. It may be nil.
type Observer = pipeline.Observer

// TableResult is the outcome of archiving one table.
type TableResult = pipeline.TableResult

// Archiver streams source tables into an archive container.
type Archiver struct {
	opts       Options
	compressor compression.Compressor
	observer   Observer
}

// New creates an Archiver. A nil observer is allowed.
func New(opts Options, observer Observer) (*Archiver, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	comp, err := compression.NewCompressor(opts.Codec, opts.Level)
	if err != nil {
		return nil, strataerrors.NewValidationError(strataerrors.CodeInvalidConfig, err.Error())
	}
	return &Archiver{
		opts:       opts,
		compressor: comp,
		observer:   pipeline.Nop(observer),
	}, nil
}

// Options returns the archiver's options.
func (a *Archiver) Options() Options {
	return a.opts
}

// ArchiveDatabase archives every selected table of src into w, sequentially.
// A failed table is reported in its result and does not stop the run unless
// FailFast is set. The returned error is non-nil only when the tables cannot
// be listed or ctx was cancelled.
func (a *Archiver) ArchiveDatabase(ctx context.Context, src Source, w *container.Writer) ([]TableResult, error) {
	tables, err := src.ListTables(ctx)
	if err != nil {
		return nil, strataerrors.IO("list source tables", err)
	}

	selected, missing := a.selectTables(tables)
	results := make([]TableResult, 0, len(selected)+len(missing))
	for _, name := range missing {
		results = append(results, TableResult{
			Direction: pipeline.Archive,
			Table:     name,
			Err:       strataerrors.ErrTableNotFound.InTable(name),
		})
	}
	if a.opts.FailFast && len(missing) > 0 {
		return results, nil
	}

	for _, table := range selected {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := a.ArchiveTable(ctx, src, table, w)
		results = append(results, res)
		if err != nil {
			if ctx.Err() != nil {
				return results, ctx.Err()
			}
			if a.opts.FailFast {
				return results, nil
			}
		}
	}
	return results, nil
}

// selectTables applies the table allow-list. Tables named in the allow-list
// but absent from the source are returned as missing, sorted.
func (a *Archiver) selectTables(tables []string) (selected, missing []string) {
	if len(a.opts.Tables) == 0 {
		return tables, nil
	}
	present := make(map[string]bool, len(tables))
	for _, t := range tables {
		present[t] = true
		if _, ok := a.opts.Tables[t]; ok {
			selected = append(selected, t)
		}
	}
	for t := range a.opts.Tables {
		if !present[t] {
			missing = append(missing, t)
		}
	}
	sort.Strings(missing)
	return selected, missing
}

// ArchiveTable archives one table. On failure everything written for the
// table is truncated from w and the error is returned both directly and in
// the result.
func (a *Archiver) ArchiveTable(ctx context.Context, src Source, table string, w *container.Writer) (TableResult, error) {
	start := time.Now()
	res := TableResult{Direction: pipeline.Archive, Table: table}

	expected, err := src.CountRows(ctx, table)
	if err != nil {
		expected = 0
	}
	a.observer.TableStarted(pipeline.Archive, table, expected)

	err = a.archiveTable(ctx, src, table, w, expected, &res)
	res.Duration = time.Since(start)
	if err != nil {
		// Cancellation is reported as the bare context error.
		if err != ctx.Err() {
			err = strataerrors.ScopeTable(err, table)
		}
		res.Err = err
	}
	a.observer.TableFinished(res)
	return res, err
}

func (a *Archiver) archiveTable(ctx context.Context, src Source, table string, w *container.Writer, expected int64, res *TableResult) (err error) {
	schema, err := src.TableSchema(ctx, table)
	if err != nil {
		return strataerrors.IO("read table schema", err)
	}
	if err := schema.Validate(); err != nil {
		return strataerrors.NewValidationError(strataerrors.CodeDuplicateColumn, err.Error())
	}
	projected, err := schema.Project(a.opts.Tables[table])
	if err != nil {
		return strataerrors.NewValidationError(strataerrors.CodeInvalidConfig, err.Error())
	}

	tw, err := w.BeginTable(table)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if abortErr := tw.Abort(); abortErr != nil {
				err = fmt.Errorf("%w (abort failed: %v)", err, abortErr)
			}
		}
	}()

	b := newTableBuilder(a, projected, tw)
	if a.opts.Probe == ProbeFull {
		if err := b.probe(ctx, src); err != nil {
			return err
		}
	}

	cursor, err := src.OpenCursor(ctx, schema, projected.ColumnNames())
	if err != nil {
		return strataerrors.IO("open source cursor", err)
	}
	defer cursor.Close()

	size := a.opts.RowGroupSize
	for {
		rows := make([][]types.Value, 0, size)
		for len(rows) < size && cursor.Next() {
			rows = append(rows, cursor.Row())
		}
		if err := cursor.Err(); err != nil {
			return strataerrors.IO("read source rows", err)
		}
		if len(rows) > 0 {
			p, err := b.writeRowGroup(rows)
			if err != nil {
				return err
			}
			p.ExpectedRows = expected
			a.observer.RowGroupSealed(p)
		}
		if len(rows) < size {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	meta, err := b.seal()
	if err != nil {
		return err
	}
	if err := tw.Commit(meta); err != nil {
		return err
	}

	res.Rows = meta.Rows
	res.RowGroups = len(meta.RowGroups)
	for i, c := range meta.Columns {
		res.Columns = append(res.Columns, pipeline.ColumnResult{
			Name:            c.Name,
			Physical:        c.Physical.String(),
			RawBytes:        meta.RawBytes(i),
			CompressedBytes: meta.CompressedBytes(i),
		})
	}
	return nil
}

// tableBuilder accumulates the metadata of one table while its row groups
// are sealed.
type tableBuilder struct {
	a      *Archiver
	schema *types.Schema
	tw     *container.TableWriter
	meta   *container.TableMeta
	typed  bool
}

func newTableBuilder(a *Archiver, schema *types.Schema, tw *container.TableWriter) *tableBuilder {
	meta := &container.TableMeta{Schema: *schema}
	meta.Columns = make([]container.ColumnMeta, len(schema.Columns))
	for i, c := range schema.Columns {
		affinity := c.Affinity
		if affinity == "" {
			affinity = typemap.AffinityOf(c.DeclaredType)
		}
		meta.Columns[i] = container.ColumnMeta{
			Name:         c.Name,
			DeclaredType: c.DeclaredType,
			Affinity:     affinity,
			Logical:      typemap.LogicalOf(c.DeclaredType),
		}
	}
	return &tableBuilder{a: a, schema: schema, tw: tw, meta: meta}
}

func (b *tableBuilder) table() string {
	return b.schema.Table
}

// probe fixes every column's physical type from the storage classes of the
// whole column.
func (b *tableBuilder) probe(ctx context.Context, src Source) error {
	for i, col := range b.schema.Columns {
		kinds, boolish, err := src.ProbeKinds(ctx, b.table(), col.Name)
		if err != nil {
			return strataerrors.IO("probe column types", err).InColumn(b.table(), col.Name)
		}
		p, err := typemap.ChooseFromKinds(b.table(), col, kinds, boolish)
		if err != nil {
			return err
		}
		b.meta.Columns[i].Physical = p
	}
	b.typed = true
	return nil
}

// chooseTypes fixes every column's physical type from the first row group.
func (b *tableBuilder) chooseTypes(columns [][]types.Value) error {
	for i, col := range b.schema.Columns {
		var values []types.Value
		if columns != nil {
			values = columns[i]
		}
		p, err := typemap.Choose(b.table(), col, values)
		if err != nil {
			return err
		}
		b.meta.Columns[i].Physical = p
	}
	b.typed = true
	return nil
}

// writeRowGroup transposes rows into columns and seals one chunk per column.
func (b *tableBuilder) writeRowGroup(rows [][]types.Value) (pipeline.Progress, error) {
	columns := make([][]types.Value, len(b.schema.Columns))
	for i := range columns {
		columns[i] = make([]types.Value, len(rows))
	}
	for r, row := range rows {
		if len(row) != len(columns) {
			return pipeline.Progress{}, strataerrors.NewInternalError(
				fmt.Sprintf("source row has %d values for %d columns", len(row), len(columns)), nil)
		}
		for i, v := range row {
			columns[i][r] = v
		}
	}

	if !b.typed {
		if err := b.chooseTypes(columns); err != nil {
			return pipeline.Progress{}, err
		}
	}

	group := len(b.meta.RowGroups)
	rg := container.RowGroupMeta{Rows: int64(len(rows)), Chunks: make([]container.ChunkMeta, len(columns))}
	p := pipeline.Progress{Direction: pipeline.Archive, Table: b.table(), RowGroup: group, Rows: rg.Rows}
	for i, values := range columns {
		chunk, err := b.sealChunk(i, values)
		if err != nil {
			return pipeline.Progress{}, err
		}
		rg.Chunks[i] = chunk
		p.RawBytes += chunk.RawLength
		p.CompressedBytes += chunk.Length
	}
	b.meta.RowGroups = append(b.meta.RowGroups, rg)
	b.meta.Rows += rg.Rows
	p.TotalRows = b.meta.Rows
	return p, nil
}

// sealChunk coerces, measures, encodes, compresses and writes one column chunk.
func (b *tableBuilder) sealChunk(col int, values []types.Value) (container.ChunkMeta, error) {
	name := b.schema.Columns[col].Name
	physical := b.meta.Columns[col].Physical
	opts := b.a.opts

	collector := stats.NewCollector(physical)
	var filter *bloom.Filter
	if opts.Bloom && physical != types.PhysicalBoolean {
		filter = bloom.NewWithEstimates(len(values), opts.BloomFPR)
	}
	for j, v := range values {
		c, err := typemap.Coerce(b.table(), name, v, physical)
		if err != nil {
			return container.ChunkMeta{}, err
		}
		collector.Observe(c)
		if filter != nil && !c.IsNull() {
			filter.AddValue(c)
		}
		values[j] = c
	}

	payload, enc, err := encoding.Encode(physical, values, encoding.Options{Dictionary: opts.Dictionary})
	if err != nil {
		return container.ChunkMeta{}, strataerrors.NewInternalError("encode chunk", err).InColumn(b.table(), name)
	}
	stored, err := b.a.compressor.Compress(payload)
	if err != nil {
		return container.ChunkMeta{}, strataerrors.NewInternalError("compress chunk", err).InColumn(b.table(), name)
	}
	offset, length, checksum, err := b.tw.WriteChunk(stored)
	if err != nil {
		return container.ChunkMeta{}, err
	}

	chunk := container.ChunkMeta{
		Offset:    offset,
		Length:    length,
		RawLength: int64(len(payload)),
		Codec:     b.a.compressor.Codec(),
		Encoding:  enc,
		Checksum:  checksum,
		Stats:     collector.Finalize(),
	}
	if filter != nil && filter.Count() > 0 {
		chunk.Bloom = filter.Serialize()
	}
	return chunk, nil
}

// seal completes the metadata. A table with no rows still gets physical
// types, chosen from the declarations.
func (b *tableBuilder) seal() (*container.TableMeta, error) {
	if !b.typed {
		if err := b.chooseTypes(nil); err != nil {
			return nil, err
		}
	}
	return b.meta, nil
}
