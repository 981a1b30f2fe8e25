package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/stratadb/strata/internal/archive"
	"github.com/stratadb/strata/internal/typemap"
	"github.com/stratadb/strata/pkg/types"
)

// SQLiteSource reads tables from a SQLite database file opened read-only.
type SQLiteSource struct {
	db   *sql.DB
	path string
}

var _ archive.Source = (*SQLiteSource)(nil)

// OpenSource opens the database at path for reading.
func OpenSource(ctx context.Context, path string) (*SQLiteSource, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("store: failed to open source: %w", err)
	}
	db, err := openDB(ctx, path, true)
	if err != nil {
		return nil, err
	}
	return &SQLiteSource{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *SQLiteSource) Path() string {
	return s.path
}

// Close closes the database.
func (s *SQLiteSource) Close() error {
	return s.db.Close()
}

// ListTables returns the ordinary tables of the main schema in creation
// order. Internal sqlite_ tables, virtual tables and their shadow tables are
// excluded.
func (s *SQLiteSource) ListTables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.name
		FROM sqlite_master AS m
		JOIN pragma_table_list AS t ON t.name = m.name AND t.schema = 'main'
		WHERE m.type = 'table' AND t.type = 'table' AND m.name NOT LIKE 'sqlite\_%' ESCAPE '\'
		ORDER BY m.rowid`)
	if err != nil {
		return nil, fmt.Errorf("store: failed to list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("store: failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: failed to list tables: %w", err)
	}
	return tables, nil
}

// TableSchema introspects a table: its columns, primary key, explicit and
// constraint indexes, and whether it is a WITHOUT ROWID table.
func (s *SQLiteSource) TableSchema(ctx context.Context, table string) (*types.Schema, error) {
	var withoutRowID bool
	err := s.db.QueryRowContext(ctx,
		`SELECT wr FROM pragma_table_list WHERE schema = 'main' AND type = 'table' AND name = ?`, table).
		Scan(&withoutRowID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("store: table %s not found", table)
	}
	if err != nil {
		return nil, fmt.Errorf("store: failed to read table %s: %w", table, err)
	}

	schema := &types.Schema{Table: table, WithoutRowID: withoutRowID}
	if schema.Columns, err = s.columns(ctx, table); err != nil {
		return nil, err
	}
	if schema.Indexes, err = s.indexes(ctx, table); err != nil {
		return nil, err
	}

	indexed := make(map[string]bool)
	for _, idx := range schema.Indexes {
		for _, c := range idx.Columns {
			indexed[c] = true
		}
	}
	for i := range schema.Columns {
		schema.Columns[i].Indexed = indexed[schema.Columns[i].Name]
	}
	return schema, nil
}

func (s *SQLiteSource) columns(ctx context.Context, table string) ([]types.ColumnDef, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, type, "notnull", dflt_value, pk FROM pragma_table_info(?) ORDER BY cid`, table)
	if err != nil {
		return nil, fmt.Errorf("store: failed to read columns of %s: %w", table, err)
	}
	defer rows.Close()

	var cols []types.ColumnDef
	for rows.Next() {
		var (
			c     types.ColumnDef
			dflt  sql.NullString
			notNl int
		)
		if err := rows.Scan(&c.Name, &c.DeclaredType, &notNl, &dflt, &c.PrimaryKey); err != nil {
			return nil, fmt.Errorf("store: failed to scan column of %s: %w", table, err)
		}
		c.NotNull = notNl != 0
		c.Affinity = typemap.AffinityOf(c.DeclaredType)
		if dflt.Valid {
			d := dflt.String
			c.Default = &d
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: failed to read columns of %s: %w", table, err)
	}
	return cols, nil
}

type indexEntry struct {
	name   string
	unique bool
	origin string
}

// indexes returns the indexes worth rebuilding: those created by CREATE INDEX
// and those backing UNIQUE constraints. Primary key indexes come back with the
// table, and partial or expression indexes are not carried.
func (s *SQLiteSource) indexes(ctx context.Context, table string) ([]types.IndexDef, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, "unique", origin FROM pragma_index_list(?) WHERE partial = 0 ORDER BY name`, table)
	if err != nil {
		return nil, fmt.Errorf("store: failed to list indexes of %s: %w", table, err)
	}
	var entries []indexEntry
	for rows.Next() {
		var e indexEntry
		if err := rows.Scan(&e.name, &e.unique, &e.origin); err != nil {
			rows.Close()
			return nil, fmt.Errorf("store: failed to scan index of %s: %w", table, err)
		}
		if e.origin == "c" || e.origin == "u" {
			entries = append(entries, e)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: failed to list indexes of %s: %w", table, err)
	}

	var out []types.IndexDef
	for _, e := range entries {
		idx, ok, err := s.indexKeys(ctx, e.name)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		idx.Name = e.name
		if e.origin == "u" {
			// Constraint indexes carry reserved sqlite_autoindex names.
			idx.Name = fmt.Sprintf("%s_%s_key", table, strings.Join(idx.Columns, "_"))
		}
		idx.Unique = e.unique
		out = append(out, idx)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// indexKeys fills the key columns of an index along with their collations
// and sort order. ok is false when the index has an expression column.
func (s *SQLiteSource) indexKeys(ctx context.Context, index string) (idx types.IndexDef, ok bool, err error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, "desc", coll FROM pragma_index_xinfo(?) WHERE key = 1 ORDER BY seqno`, index)
	if err != nil {
		return idx, false, fmt.Errorf("store: failed to read index %s: %w", index, err)
	}
	defer rows.Close()

	ok = true
	var colls []string
	var desc []bool
	custom, anyDesc := false, false
	for rows.Next() {
		var (
			name sql.NullString
			d    bool
			coll sql.NullString
		)
		if err := rows.Scan(&name, &d, &coll); err != nil {
			return idx, false, fmt.Errorf("store: failed to scan index %s: %w", index, err)
		}
		if !name.Valid {
			ok = false
			continue
		}
		c := coll.String
		if strings.EqualFold(c, "BINARY") {
			c = ""
		}
		custom = custom || c != ""
		anyDesc = anyDesc || d
		idx.Columns = append(idx.Columns, name.String)
		colls = append(colls, c)
		desc = append(desc, d)
	}
	if err := rows.Err(); err != nil {
		return idx, false, fmt.Errorf("store: failed to read index %s: %w", index, err)
	}
	if custom {
		idx.Collations = colls
	}
	if anyDesc {
		idx.Descending = desc
	}
	return idx, ok && len(idx.Columns) > 0, nil
}

// CountRows returns the table's row count.
func (s *SQLiteSource) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM "+quoteIdent(table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: failed to count rows of %s: %w", table, err)
	}
	return n, nil
}

// OpenCursor selects the named columns in primary key order, else rowid
// order, else ordered by every column. Each column is selected as an
// expression so the driver returns the stored value without converting it
// by declared type. The query is not cancelled by ctx; callers stop between
// row groups instead.
func (s *SQLiteSource) OpenCursor(ctx context.Context, schema *types.Schema, columns []string) (archive.Cursor, error) {
	if len(columns) == 0 {
		columns = schema.ColumnNames()
	}
	exprs := make([]string, len(columns))
	for i, c := range columns {
		exprs[i] = "+" + quoteIdent(c)
	}
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s",
		strings.Join(exprs, ", "), quoteIdent(schema.Table), orderClause(schema))

	rows, err := s.db.QueryContext(context.WithoutCancel(ctx), query)
	if err != nil {
		return nil, fmt.Errorf("store: failed to query %s: %w", schema.Table, err)
	}
	return newRowCursor(rows, len(columns)), nil
}

// orderClause returns the ORDER BY expression list for a full-table scan.
func orderClause(schema *types.Schema) string {
	if pk := schema.PrimaryKeyColumns(); len(pk) > 0 {
		return quoteList(pk)
	}
	if !schema.WithoutRowID {
		// Any of the rowid aliases a column does not shadow.
		for _, alias := range []string{"rowid", "_rowid_", "oid"} {
			shadowed := false
			for _, c := range schema.Columns {
				if strings.EqualFold(c.Name, alias) {
					shadowed = true
					break
				}
			}
			if !shadowed {
				return alias
			}
		}
	}
	return quoteList(schema.ColumnNames())
}

// ProbeKinds returns the storage classes present in a column across the whole
// table, and whether every integer in it is 0 or 1.
func (s *SQLiteSource) ProbeKinds(ctx context.Context, table, column string) ([]types.Kind, bool, error) {
	t, c := quoteIdent(table), quoteIdent(column)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT DISTINCT typeof(%s) FROM %s", c, t))
	if err != nil {
		return nil, false, fmt.Errorf("store: failed to probe %s.%s: %w", table, column, err)
	}
	var kinds []types.Kind
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, false, fmt.Errorf("store: failed to probe %s.%s: %w", table, column, err)
		}
		k, err := types.ParseKind(name)
		if err != nil {
			rows.Close()
			return nil, false, fmt.Errorf("store: failed to probe %s.%s: %w", table, column, err)
		}
		if k != types.KindNull {
			kinds = append(kinds, k)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("store: failed to probe %s.%s: %w", table, column, err)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	var boolish bool
	err = s.db.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT NOT EXISTS (SELECT 1 FROM %s WHERE typeof(%s) = 'integer' AND %s NOT IN (0, 1))", t, c, c)).
		Scan(&boolish)
	if err != nil {
		return nil, false, fmt.Errorf("store: failed to probe %s.%s: %w", table, column, err)
	}
	return kinds, boolish, nil
}

// rowCursor adapts sql.Rows to archive.Cursor.
type rowCursor struct {
	rows *sql.Rows
	dest []any
	ptrs []any
	row  []types.Value
	err  error
}

func newRowCursor(rows *sql.Rows, n int) *rowCursor {
	c := &rowCursor{rows: rows, dest: make([]any, n), ptrs: make([]any, n)}
	for i := range c.dest {
		c.ptrs[i] = &c.dest[i]
	}
	return c
}

func (c *rowCursor) Next() bool {
	if c.err != nil || !c.rows.Next() {
		return false
	}
	if err := c.rows.Scan(c.ptrs...); err != nil {
		c.err = fmt.Errorf("store: failed to scan row: %w", err)
		return false
	}
	row := make([]types.Value, len(c.dest))
	for i, src := range c.dest {
		v, err := types.FromDriver(src)
		if err != nil {
			c.err = fmt.Errorf("store: failed to convert column %d: %w", i, err)
			return false
		}
		row[i] = v
	}
	c.row = row
	return true
}

func (c *rowCursor) Row() []types.Value {
	return c.row
}

func (c *rowCursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.rows.Err()
}

func (c *rowCursor) Close() error {
	return c.rows.Close()
}
