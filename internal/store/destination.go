package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/stratadb/strata/internal/restore"
	"github.com/stratadb/strata/pkg/types"
)

// SQLiteDestination writes restored tables into a SQLite database file,
// creating the file if needed.
type SQLiteDestination struct {
	db   *sql.DB
	path string
}

var _ restore.Destination = (*SQLiteDestination)(nil)

// OpenDestination opens or creates the database at path for writing.
func OpenDestination(ctx context.Context, path string) (*SQLiteDestination, error) {
	db, err := openDB(ctx, path, false)
	if err != nil {
		return nil, err
	}
	// Close returns the file to rollback journal mode.
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: failed to set journal mode: %w", err)
	}
	return &SQLiteDestination{db: db, path: path}, nil
}

// Path returns the database file path.
func (d *SQLiteDestination) Path() string {
	return d.path
}

// Close checkpoints the write-ahead log, returns the database to rollback
// journal mode and closes it.
func (d *SQLiteDestination) Close() error {
	ctx := context.Background()
	if _, err := d.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		d.db.Close()
		return fmt.Errorf("store: failed to checkpoint: %w", err)
	}
	if _, err := d.db.ExecContext(ctx, "PRAGMA journal_mode=DELETE"); err != nil {
		d.db.Close()
		return fmt.Errorf("store: failed to set journal mode: %w", err)
	}
	return d.db.Close()
}

// TableExists reports whether the database has a table with the given name.
func (d *SQLiteDestination) TableExists(ctx context.Context, table string) (bool, error) {
	return tableExists(ctx, d.db, table)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func tableExists(ctx context.Context, q queryer, table string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("store: failed to look up table %s: %w", table, err)
	}
	return n > 0, nil
}

// BeginTable starts a transaction and creates the table in it.
func (d *SQLiteDestination) BeginTable(ctx context.Context, schema *types.Schema, overwrite bool) (restore.TableSink, error) {
	ddl, err := CreateTableSQL(schema)
	if err != nil {
		return nil, err
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: failed to begin transaction: %w", err)
	}
	fail := func(err error) (restore.TableSink, error) {
		tx.Rollback()
		return nil, err
	}

	exists, err := tableExists(ctx, tx, schema.Table)
	if err != nil {
		return fail(err)
	}
	if exists {
		if !overwrite {
			return fail(fmt.Errorf("store: table %s already exists", schema.Table))
		}
		if _, err := tx.ExecContext(ctx, "DROP TABLE "+quoteIdent(schema.Table)); err != nil {
			return fail(fmt.Errorf("store: failed to drop table %s: %w", schema.Table, err))
		}
	}
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return fail(fmt.Errorf("store: failed to create table %s: %w", schema.Table, err))
	}

	stmt, err := tx.PrepareContext(ctx, InsertSQL(schema))
	if err != nil {
		return fail(fmt.Errorf("store: failed to prepare insert for %s: %w", schema.Table, err))
	}
	return &sqliteSink{tx: tx, stmt: stmt, schema: schema}, nil
}

// sqliteSink inserts one table's rows inside its transaction.
type sqliteSink struct {
	tx     *sql.Tx
	stmt   *sql.Stmt
	schema *types.Schema
	args   []any
}

// InsertRows inserts a batch. Statements run to completion even if ctx is
// cancelled; the restorer stops between row groups.
func (s *sqliteSink) InsertRows(ctx context.Context, rows [][]types.Value) error {
	ctx = context.WithoutCancel(ctx)
	for _, row := range rows {
		if len(row) != len(s.schema.Columns) {
			return fmt.Errorf("store: row has %d values for %d columns of %s", len(row), len(s.schema.Columns), s.schema.Table)
		}
		s.args = s.args[:0]
		for _, v := range row {
			s.args = append(s.args, v.Driver())
		}
		if _, err := s.stmt.ExecContext(ctx, s.args...); err != nil {
			return fmt.Errorf("store: failed to insert into %s: %w", s.schema.Table, err)
		}
	}
	return nil
}

// Finish creates the declared indexes when asked to, then commits.
func (s *sqliteSink) Finish(ctx context.Context, createIndexes bool) error {
	if err := s.stmt.Close(); err != nil {
		return fmt.Errorf("store: failed to close insert statement: %w", err)
	}
	if createIndexes {
		for _, idx := range s.schema.Indexes {
			if _, err := s.tx.ExecContext(ctx, CreateIndexSQL(s.schema.Table, idx)); err != nil {
				return fmt.Errorf("store: failed to create index %s: %w", idx.Name, err)
			}
		}
	}
	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("store: failed to commit %s: %w", s.schema.Table, err)
	}
	return nil
}

// Abort rolls the table back.
func (s *sqliteSink) Abort() error {
	s.stmt.Close()
	if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("store: failed to roll back %s: %w", s.schema.Table, err)
	}
	return nil
}
