package restore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratadb/strata/internal/archive"
	"github.com/stratadb/strata/internal/container"
	strataerrors "github.com/stratadb/strata/internal/errors"
	"github.com/stratadb/strata/pkg/types"
)

type memSink struct {
	dst       *memDestination
	schema    *types.Schema
	rows      [][]types.Value
	batches   int
	indexes   bool
	committed bool
	aborted   bool
}

func (s *memSink) InsertRows(ctx context.Context, rows [][]types.Value) error {
	s.batches++
	s.rows = append(s.rows, rows...)
	return nil
}

func (s *memSink) Finish(ctx context.Context, createIndexes bool) error {
	s.indexes = createIndexes
	s.committed = true
	s.dst.tables[s.schema.Table] = s
	return nil
}

func (s *memSink) Abort() error {
	s.aborted = true
	return nil
}

type memDestination struct {
	tables map[string]*memSink
	sinks  []*memSink
}

func newMemDestination() *memDestination {
	return &memDestination{tables: make(map[string]*memSink)}
}

func (d *memDestination) BeginTable(ctx context.Context, schema *types.Schema, overwrite bool) (TableSink, error) {
	if _, ok := d.tables[schema.Table]; ok && !overwrite {
		return nil, errors.New("table already exists")
	}
	s := &memSink{dst: d, schema: schema}
	d.sinks = append(d.sinks, s)
	return s, nil
}

// staticSource serves fixed tables to the archiver.
type staticSource struct {
	schemas []types.Schema
	rows    map[string][][]types.Value
}

func (s *staticSource) ListTables(ctx context.Context) ([]string, error) {
	var names []string
	for _, sc := range s.schemas {
		names = append(names, sc.Table)
	}
	return names, nil
}

func (s *staticSource) TableSchema(ctx context.Context, table string) (*types.Schema, error) {
	for _, sc := range s.schemas {
		if sc.Table == table {
			cp := sc
			return &cp, nil
		}
	}
	return nil, errors.New("no such table")
}

func (s *staticSource) CountRows(ctx context.Context, table string) (int64, error) {
	return int64(len(s.rows[table])), nil
}

func (s *staticSource) OpenCursor(ctx context.Context, schema *types.Schema, columns []string) (archive.Cursor, error) {
	return &sliceCursor{rows: s.rows[schema.Table], pos: -1}, nil
}

func (s *staticSource) ProbeKinds(ctx context.Context, table, column string) ([]types.Kind, bool, error) {
	return nil, false, errors.New("not supported")
}

type sliceCursor struct {
	rows [][]types.Value
	pos  int
}

func (c *sliceCursor) Next() bool         { c.pos++; return c.pos < len(c.rows) }
func (c *sliceCursor) Row() []types.Value { return append([]types.Value(nil), c.rows[c.pos]...) }
func (c *sliceCursor) Err() error         { return nil }
func (c *sliceCursor) Close() error       { return nil }

func eventsSchema(name string) types.Schema {
	return types.Schema{
		Table: name,
		Columns: []types.ColumnDef{
			{Name: "id", DeclaredType: "INTEGER", Affinity: types.AffinityInteger, PrimaryKey: 1},
			{Name: "flag", DeclaredType: "BOOLEAN", Affinity: types.AffinityNumeric},
			{Name: "ratio", DeclaredType: "", Affinity: types.AffinityBlob},
			{Name: "label", DeclaredType: "VARCHAR(20)", Affinity: types.AffinityText, NotNull: true},
		},
		Indexes: []types.IndexDef{{Name: name + "_label", Columns: []string{"label"}}},
	}
}

func eventsRows() [][]types.Value {
	return [][]types.Value{
		{types.Integer(1), types.Integer(1), types.Integer(3), types.Text("x")},
		{types.Integer(2), types.Integer(0), types.Real(0.25), types.Text("y")},
		{types.Integer(3), types.Null(), types.Null(), types.Text("z")},
		{types.Integer(4), types.Integer(1), types.Integer(-7), types.Text("x")},
		{types.Integer(5), types.Integer(0), types.Real(1e300), types.Text("")},
	}
}

func writeArchive(t *testing.T, groupSize int, tables ...string) string {
	t.Helper()
	src := &staticSource{rows: make(map[string][][]types.Value)}
	for _, name := range tables {
		src.schemas = append(src.schemas, eventsSchema(name))
		src.rows[name] = eventsRows()
	}
	opts := archive.DefaultOptions()
	opts.RowGroupSize = groupSize
	a, err := archive.New(opts, nil)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "events.strata")
	w, err := container.Create(path, container.ArchiveInfo{RowGroupSize: groupSize})
	require.NoError(t, err)
	results, err := a.ArchiveDatabase(context.Background(), src, w)
	require.NoError(t, err)
	for _, res := range results {
		require.NoError(t, res.Err)
	}
	require.NoError(t, w.Close())
	return path
}

func openArchive(t *testing.T, path string) *container.Reader {
	t.Helper()
	r, err := container.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRestoreTable_RoundTrip(t *testing.T) {
	r := openArchive(t, writeArchive(t, 2, "events"))
	dst := newMemDestination()

	opts := DefaultOptions()
	opts.BatchSize = 2
	rs, err := New(opts, nil)
	require.NoError(t, err)

	res, err := rs.RestoreTable(context.Background(), r, "events", dst)
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Rows)
	assert.Equal(t, 3, res.RowGroups)

	sink := dst.tables["events"]
	require.NotNil(t, sink)
	assert.True(t, sink.committed)
	assert.True(t, sink.indexes)
	assert.Equal(t, 3, sink.batches)

	want := eventsRows()
	require.Len(t, sink.rows, len(want))
	for i := range want {
		for c := range want[i] {
			assert.True(t, want[i][c].Equivalent(sink.rows[i][c]), "row %d column %d: want %v, got %v", i, c, want[i][c], sink.rows[i][c])
		}
	}

	// A 0/1 BOOLEAN column restores as integers.
	assert.Equal(t, types.KindInteger, sink.rows[0][1].Kind())

	// Declared types survive; the untyped column takes its physical type.
	assert.Equal(t, "BOOLEAN", sink.schema.Columns[1].DeclaredType)
	assert.Equal(t, "REAL", sink.schema.Columns[2].DeclaredType)
	assert.Equal(t, "VARCHAR(20)", sink.schema.Columns[3].DeclaredType)
	assert.True(t, sink.schema.Columns[3].NotNull)
	assert.Equal(t, []string{"id"}, sink.schema.PrimaryKeyColumns())
}

func TestRestoreArchive_CorruptChunkIsolated(t *testing.T) {
	path := writeArchive(t, 10, "good", "bad")

	r := openArchive(t, path)
	meta, err := r.TableMeta("bad")
	require.NoError(t, err)
	offset := meta.RowGroups[0].Chunks[2].Offset

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[offset] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0644))

	r = openArchive(t, path)
	dst := newMemDestination()
	rs, err := New(DefaultOptions(), nil)
	require.NoError(t, err)

	results, err := rs.RestoreArchive(context.Background(), r, dst)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.NoError(t, results[0].Err)
	assert.True(t, errors.Is(results[1].Err, strataerrors.ErrCorruptArchive))

	assert.Contains(t, dst.tables, "good")
	assert.NotContains(t, dst.tables, "bad")
	assert.True(t, dst.sinks[1].aborted)
}

func TestRestoreArchive_ExistingTable(t *testing.T) {
	r := openArchive(t, writeArchive(t, 10, "events"))
	dst := newMemDestination()
	dst.tables["events"] = &memSink{}

	rs, err := New(DefaultOptions(), nil)
	require.NoError(t, err)
	results, err := rs.RestoreArchive(context.Background(), r, dst)
	require.NoError(t, err)
	assert.True(t, errors.Is(results[0].Err, strataerrors.ErrIOFailure))

	opts := DefaultOptions()
	opts.Overwrite = true
	opts.SkipIndexes = true
	rs, err = New(opts, nil)
	require.NoError(t, err)
	results, err = rs.RestoreArchive(context.Background(), r, dst)
	require.NoError(t, err)
	require.NoError(t, results[0].Err)
	assert.False(t, dst.tables["events"].indexes)
	assert.Len(t, dst.tables["events"].rows, 5)
}

func TestRestoreArchive_SelectedTables(t *testing.T) {
	r := openArchive(t, writeArchive(t, 10, "a", "b"))
	dst := newMemDestination()

	opts := DefaultOptions()
	opts.Tables = []string{"b", "missing"}
	rs, err := New(opts, nil)
	require.NoError(t, err)

	results, err := rs.RestoreArchive(context.Background(), r, dst)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "missing", results[0].Table)
	assert.True(t, errors.Is(results[0].Err, strataerrors.ErrTableNotFound))
	assert.Equal(t, "b", results[1].Table)
	assert.NoError(t, results[1].Err)
	assert.NotContains(t, dst.tables, "a")
}

func TestRestoredSchema_FallsBackToPhysicalType(t *testing.T) {
	meta := &container.TableMeta{
		Schema: types.Schema{Table: "t", Columns: []types.ColumnDef{{Name: "a"}, {Name: "b"}}},
		Columns: []container.ColumnMeta{
			{Name: "a", Physical: types.PhysicalFloat64},
			{Name: "b", Physical: types.PhysicalBoolean, DeclaredType: "bool"},
		},
	}
	schema := RestoredSchema(meta)
	assert.Equal(t, "REAL", schema.Columns[0].DeclaredType)
	assert.Equal(t, "bool", schema.Columns[1].DeclaredType)
	assert.Equal(t, "", meta.Schema.Columns[0].DeclaredType)
}
