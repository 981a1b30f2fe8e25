package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratadb/strata/internal/config"
	"github.com/stratadb/strata/internal/container"
	strataerrors "github.com/stratadb/strata/internal/errors"
	"github.com/stratadb/strata/pkg/types"
)

const sourceDDL = `
CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT, score REAL);
INSERT INTO t VALUES (1, 'a', 1.5), (2, NULL, 2.0), (3, 'c', NULL);
CREATE TABLE events (
	id INTEGER PRIMARY KEY,
	kind TEXT NOT NULL,
	payload BLOB,
	note TEXT,
	flag BOOLEAN
);
CREATE INDEX idx_events_kind ON events (kind);
CREATE TABLE mixed (v);
INSERT INTO mixed VALUES ('text'), (x'00');
`

func newSource(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(sourceDDL)
	require.NoError(t, err)
	for i := 1; i <= 10; i++ {
		_, err := db.Exec(`INSERT INTO events (id, kind, payload, note, flag) VALUES (?, ?, ?, NULL, ?)`,
			i, fmt.Sprintf("k%d", i%3), []byte{byte(i), 0xff}, i%2)
		require.NoError(t, err)
	}
	return path
}

func newApp(t *testing.T, modify func(*config.Config)) *App {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Archive.RowGroupSize = 2
	if modify != nil {
		modify(cfg)
	}
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	return a
}

func queryRows(t *testing.T, dbPath, q string) [][]any {
	t.Helper()
	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	defer db.Close()

	rows, err := db.Query(q)
	require.NoError(t, err)
	defer rows.Close()
	cols, err := rows.Columns()
	require.NoError(t, err)

	var out [][]any
	for rows.Next() {
		row := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range row {
			ptrs[i] = &row[i]
		}
		require.NoError(t, rows.Scan(ptrs...))
		out = append(out, row)
	}
	require.NoError(t, rows.Err())
	return out
}

func TestArchive_ExampleScenario(t *testing.T) {
	a := newApp(t, func(c *config.Config) { c.Archive.Tables = map[string][]string{"t": nil} })
	archivePath := filepath.Join(t.TempDir(), "t.strata")

	report, err := a.Archive(context.Background(), newSource(t), archivePath, false, "")
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	require.NoError(t, report.Results[0].Err)
	assert.Equal(t, int64(3), report.Results[0].Rows)
	assert.Equal(t, 2, report.Results[0].RowGroups)

	r, err := container.Open(archivePath)
	require.NoError(t, err)
	defer r.Close()
	meta, err := r.TableMeta("t")
	require.NoError(t, err)

	require.Len(t, meta.RowGroups, 2)
	assert.Equal(t, types.PhysicalInt64, meta.Columns[0].Physical)
	assert.Equal(t, types.PhysicalString, meta.Columns[1].Physical)
	assert.Equal(t, types.PhysicalFloat64, meta.Columns[2].Physical)
	assert.Equal(t, int64(2), meta.RowGroups[0].Rows)
	assert.Equal(t, int64(1), meta.RowGroups[1].Rows)
	assert.Equal(t, int64(1), meta.RowGroups[1].Chunks[2].Stats.NullCount)
	assert.Equal(t, int64(1), meta.RowGroups[0].Chunks[1].Stats.NullCount)
}

func TestArchive_FailureIsolation(t *testing.T) {
	a := newApp(t, nil)
	archivePath := filepath.Join(t.TempDir(), "db.strata")

	report, err := a.Archive(context.Background(), newSource(t), archivePath, false, "")
	require.NoError(t, err)
	require.Len(t, report.Results, 3)

	failed := report.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "mixed", failed[0].Table)
	assert.True(t, errors.Is(failed[0].Err, strataerrors.ErrSchemaIncompatible))

	r, err := container.Open(archivePath)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, []string{"t", "events"}, r.Tables())
}

func TestArchive_FailFast(t *testing.T) {
	a := newApp(t, func(c *config.Config) {
		c.Archive.Tables = map[string][]string{"ghost": nil, "t": nil}
	})
	archivePath := filepath.Join(t.TempDir(), "db.strata")

	report, err := a.Archive(context.Background(), newSource(t), archivePath, true, "")
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, "ghost", report.Results[0].Table)
	assert.Equal(t, strataerrors.CodeTableNotFound, strataerrors.GetCode(report.Results[0].Err))

	r, err := container.Open(archivePath)
	require.NoError(t, err)
	defer r.Close()
	assert.Empty(t, r.Tables())
}

func TestRoundTrip(t *testing.T) {
	a := newApp(t, func(c *config.Config) { c.Restore.BatchSize = 3 })
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "db.strata")
	restoredPath := filepath.Join(dir, "restored.db")

	_, err := a.Archive(context.Background(), newSource(t), archivePath, false, "")
	require.NoError(t, err)

	report, err := a.Restore(context.Background(), archivePath, restoredPath, false)
	require.NoError(t, err)
	require.Len(t, report.Results, 2)
	assert.Empty(t, report.Failed())

	rows := queryRows(t, restoredPath, `SELECT id, name, score, typeof(score) FROM t ORDER BY rowid`)
	assert.Equal(t, [][]any{
		{int64(1), "a", 1.5, "real"},
		{int64(2), nil, 2.0, "real"},
		{int64(3), "c", nil, "null"},
	}, rows)

	events := queryRows(t, restoredPath, `SELECT id, kind, payload, note, +flag, typeof(flag) FROM events ORDER BY id`)
	require.Len(t, events, 10)
	for i, row := range events {
		id := int64(i + 1)
		assert.Equal(t, id, row[0])
		assert.Equal(t, fmt.Sprintf("k%d", id%3), row[1])
		assert.Equal(t, []byte{byte(id), 0xff}, row[2])
		assert.Nil(t, row[3], "an all-null column restores as null")
		assert.Equal(t, id%2, row[4])
		assert.Equal(t, "integer", row[5], "booleans restore as integer 0/1")
	}

	idx := queryRows(t, restoredPath, `SELECT name FROM sqlite_master WHERE type = 'index' AND tbl_name = 'events'`)
	assert.Equal(t, [][]any{{"idx_events_kind"}}, idx)
}

func TestAllNullColumnUsesAffinity(t *testing.T) {
	a := newApp(t, nil)
	archivePath := filepath.Join(t.TempDir(), "db.strata")
	_, err := a.Archive(context.Background(), newSource(t), archivePath, false, "")
	require.NoError(t, err)

	insp, err := a.Inspect(context.Background(), archivePath, []string{"events"})
	require.NoError(t, err)
	require.Len(t, insp.Tables, 1)

	cols := map[string]ColumnInspection{}
	for _, c := range insp.Tables[0].Columns {
		cols[c.Name] = c
	}
	assert.Equal(t, "string", cols["note"].Physical)
	assert.Equal(t, int64(10), cols["note"].NullCount)
	assert.Nil(t, cols["note"].Min)
	assert.Equal(t, "boolean", cols["flag"].Physical)
	assert.Equal(t, "bytes", cols["payload"].Physical)
	assert.Equal(t, "1", cols["id"].MinText)
	assert.Equal(t, "10", cols["id"].MaxText)
	assert.Equal(t, []string{"idx_events_kind"}, insp.Tables[0].Indexes)
	assert.Equal(t, []string{"zstd"}, cols["kind"].Codecs)
	assert.Equal(t, 5, insp.Tables[0].RowGroups)

	_, err = a.Inspect(context.Background(), archivePath, []string{"nope"})
	assert.True(t, errors.Is(err, strataerrors.ErrTableNotFound))
}

func TestScan(t *testing.T) {
	a := newApp(t, nil)
	archivePath := filepath.Join(t.TempDir(), "db.strata")
	_, err := a.Archive(context.Background(), newSource(t), archivePath, false, "")
	require.NoError(t, err)

	var ids []int64
	res, err := a.Scan(context.Background(), archivePath, ScanRequest{
		Table:   "events",
		Where:   "id > 5 AND flag = 1",
		Columns: []string{"id", "kind"},
		Limit:   2,
	}, func(row []types.Value) error {
		ids = append(ids, row[0].Int())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 9}, ids)
	assert.Equal(t, []string{"id", "kind"}, res.Columns)
	assert.GreaterOrEqual(t, res.Stats.RowGroupsSkipped, 2)
	require.NotEmpty(t, res.Pruning)
	assert.Equal(t, "id", res.Pruning[0].Column)

	_, err = a.Scan(context.Background(), archivePath, ScanRequest{Table: "events", Where: "id >"}, func([]types.Value) error { return nil })
	assert.Equal(t, strataerrors.CodeInvalidFilter, strataerrors.GetCode(err))
}

func TestUploadAndRestoreFromStorage(t *testing.T) {
	dir := t.TempDir()
	a := newApp(t, func(c *config.Config) {
		c.Storage.Type = config.StorageLocal
		c.Storage.Path = filepath.Join(dir, "bucket")
		c.Metrics.Textfile = filepath.Join(dir, "strata.prom")
	})

	archivePath := filepath.Join(dir, "db.strata")
	report, err := a.Archive(context.Background(), newSource(t), archivePath, false, "nightly/db.strata")
	require.NoError(t, err)
	assert.Equal(t, "nightly/db.strata", report.UploadedTo)
	require.NoError(t, os.Remove(archivePath))

	restoredPath := filepath.Join(dir, "restored.db")
	restored, err := a.Restore(context.Background(), "storage:nightly/db.strata", restoredPath, false)
	require.NoError(t, err)
	assert.Empty(t, restored.Failed())
	assert.Equal(t, report.Info.ID, restored.Info.ID)

	prom, err := os.ReadFile(filepath.Join(dir, "strata.prom"))
	require.NoError(t, err)
	assert.Contains(t, string(prom), `strata_rows_total{direction="restore",table="events"} 10`)
	assert.Contains(t, string(prom), `strata_table_failures_total{code="SCHEMA_INCOMPATIBLE",direction="archive"} 1`)
}

func TestUploadWithoutStorage(t *testing.T) {
	a := newApp(t, nil)
	_, err := a.Archive(context.Background(), newSource(t), filepath.Join(t.TempDir(), "db.strata"), false, "db.strata")
	assert.Error(t, err)
}

func TestArchiveOptions(t *testing.T) {
	a := newApp(t, func(c *config.Config) {
		c.Archive.Compression.Codec = "LZ4"
		c.Archive.Compression.Level = "best"
		c.Archive.TypeProbe = "full"
	})
	opts, err := a.ArchiveOptions()
	require.NoError(t, err)
	assert.Equal(t, "lz4", opts.Codec.String())
	assert.Equal(t, "full", string(opts.Probe))
	assert.Equal(t, 2, opts.RowGroupSize)
}

func TestFetchArchive_UsesCache(t *testing.T) {
	dir := t.TempDir()
	a := newApp(t, func(c *config.Config) {
		c.Storage.Type = config.StorageLocal
		c.Storage.Path = filepath.Join(dir, "bucket")
		c.Storage.Cache.Dir = filepath.Join(dir, "cache")
		c.Metrics.Textfile = filepath.Join(dir, "strata.prom")
	})

	archivePath := filepath.Join(dir, "db.strata")
	_, err := a.Archive(context.Background(), newSource(t), archivePath, false, "db.strata")
	require.NoError(t, err)

	first, err := a.Inspect(context.Background(), "storage:db.strata", nil)
	require.NoError(t, err)

	// The second lookup is served from the cache even with the object gone.
	require.NoError(t, os.Remove(filepath.Join(dir, "bucket", "db.strata")))
	second, err := a.Inspect(context.Background(), "storage:db.strata", nil)
	require.NoError(t, err)
	assert.Equal(t, first.Info.ID, second.Info.ID)

	hits, misses, _ := a.cache.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)

	_, err = a.Restore(context.Background(), "storage:db.strata", filepath.Join(dir, "restored.db"), false)
	require.NoError(t, err)
	prom, err := os.ReadFile(filepath.Join(dir, "strata.prom"))
	require.NoError(t, err)
	assert.Contains(t, string(prom), `strata_archive_cache_lookups_total{result="hit"} 2`)
}
