package main

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	gojson "github.com/goccy/go-json"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratadb/strata/pkg/types"
)

func newFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`
CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT NOT NULL, score REAL);
INSERT INTO users VALUES (1, 'a@example.com', 1.5), (2, 'b@example.com', NULL), (3, 'tab	here', 3.25);
CREATE INDEX idx_users_email ON users (email);
`)
	require.NoError(t, err)
	return path
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout, &stderr)
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestCLI_ArchiveInspectScanRestore(t *testing.T) {
	dir := t.TempDir()
	src := newFixture(t)
	archivePath := filepath.Join(dir, "app.strata")

	out, _, err := run(t, "archive", src, archivePath, "--group-size", "2", "--codec", "lz4")
	require.NoError(t, err)
	assert.Contains(t, out, "users")
	assert.Contains(t, out, "ok")

	out, _, err = run(t, "inspect", archivePath, "--json")
	require.NoError(t, err)
	var insp struct {
		Info struct {
			Codec        string `json:"codec"`
			RowGroupSize int    `json:"row_group_size"`
		} `json:"info"`
		Tables []struct {
			Name      string   `json:"name"`
			Rows      int64    `json:"rows"`
			RowGroups int      `json:"row_groups"`
			Indexes   []string `json:"indexes"`
			Columns   []struct {
				Name     string `json:"name"`
				Physical string `json:"physical"`
				Min      string `json:"min"`
				Max      string `json:"max"`
			} `json:"columns"`
		} `json:"tables"`
	}
	require.NoError(t, gojson.Unmarshal([]byte(out), &insp))
	require.Len(t, insp.Tables, 1)
	assert.Equal(t, "users", insp.Tables[0].Name)
	assert.Equal(t, int64(3), insp.Tables[0].Rows)
	assert.Equal(t, 2, insp.Tables[0].RowGroups)
	assert.Equal(t, []string{"idx_users_email"}, insp.Tables[0].Indexes)
	assert.Equal(t, "float64", insp.Tables[0].Columns[2].Physical)
	assert.Equal(t, "1", insp.Tables[0].Columns[0].Min)
	assert.Equal(t, "3", insp.Tables[0].Columns[0].Max)

	out, _, err = run(t, "inspect", archivePath)
	require.NoError(t, err)
	assert.Contains(t, out, "table users: 3 rows, 2 row groups")

	out, stderr, err := run(t, "scan", archivePath, "users", "--where", "id >= 3")
	require.NoError(t, err)
	assert.Equal(t, "id\temail\tscore\n3\ttab\\there\t3.25\n", out)
	assert.Contains(t, stderr, "1 rows matched")
	assert.Contains(t, stderr, "skipped 1 of 2 row groups")
	assert.Contains(t, stderr, "id >=: ruled out 1 of 2 row groups checked")

	out, _, err = run(t, "scan", archivePath, "users", "--where", "score IS NULL", "--columns", "email,score")
	require.NoError(t, err)
	assert.Equal(t, "email\tscore\nb@example.com\t\\N\n", out)

	restored := filepath.Join(dir, "restored.db")
	out, _, err = run(t, "restore", archivePath, restored)
	require.NoError(t, err)
	assert.Contains(t, out, "users")

	db, err := sql.Open("sqlite3", restored)
	require.NoError(t, err)
	defer db.Close()
	var n int
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM users WHERE email LIKE '%@example.com'`).Scan(&n))
	assert.Equal(t, 2, n)
}

func TestCLI_TableFailureExitsNonZero(t *testing.T) {
	src := filepath.Join(t.TempDir(), "mixed.db")
	db, err := sql.Open("sqlite3", src)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE good (a INTEGER); INSERT INTO good VALUES (1);
CREATE TABLE bad (v); INSERT INTO bad VALUES ('x'), (x'01');`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	out, stderr, err := run(t, "archive", src, filepath.Join(t.TempDir(), "out.strata"))
	require.True(t, errors.Is(err, errTablesFailed))
	assert.Contains(t, out, "SCHEMA_INCOMPATIBLE")
	assert.Contains(t, stderr, "1 of 2 tables failed")
}

func TestCLI_InvalidFlags(t *testing.T) {
	src := newFixture(t)
	_, _, err := run(t, "archive", src, filepath.Join(t.TempDir(), "x.strata"), "--codec", "brotli")
	assert.Error(t, err)

	_, _, err = run(t, "archive", src, filepath.Join(t.TempDir(), "x.strata"), "--table", ":id")
	assert.Error(t, err)

	_, _, err = run(t, "scan", "missing.strata")
	assert.Error(t, err)
}

func TestCLI_Version(t *testing.T) {
	out, _, err := run(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "strata version "))
}

func TestTSVField(t *testing.T) {
	tests := []struct {
		in   types.Value
		want string
	}{
		{types.Null(), `\N`},
		{types.Integer(-4), "-4"},
		{types.Text("a\tb\nc"), `a\tb\nc`},
		{types.Text(`back\slash`), `back\\slash`},
	}
	for _, tt := range tests {
		if got := tsvField(tt.in); got != tt.want {
			t.Errorf("tsvField(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := map[int64]string{
		0:       "0 B",
		1023:    "1023 B",
		1024:    "1.0 KiB",
		1536:    "1.5 KiB",
		5 << 20: "5.0 MiB",
		3 << 30: "3.0 GiB",
	}
	for in, want := range tests {
		if got := formatBytes(in); got != want {
			t.Errorf("formatBytes(%d) = %q, want %q", in, got, want)
		}
	}
}
