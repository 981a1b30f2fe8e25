package archive

import (
	"context"

	"github.com/stratadb/strata/pkg/types"
)

// Source is a relational database the archiver reads from.
type Source interface {
	// ListTables returns the user tables in a stable order.
	ListTables(ctx context.Context) ([]string, error)

	// TableSchema introspects one table.
	TableSchema(ctx context.Context, table string) (*types.Schema, error)

	// CountRows returns the number of rows in the table.
	CountRows(ctx context.Context, table string) (int64, error)

	// OpenCursor opens a forward-only cursor over the named columns of the
	// table, ordered by primary key, then rowid, then all columns.
	OpenCursor(ctx context.Context, schema *types.Schema, columns []string) (Cursor, error)

	// ProbeKinds returns the distinct storage classes present in a column,
	// and whether every integer in it is 0 or 1.
	ProbeKinds(ctx context.Context, table, column string) ([]types.Kind, bool, error)
}

// Cursor iterates rows in the order the source defines. Each call to Row
// returns a new slice that the caller may keep.
type Cursor interface {
	Next() bool
	Row() []types.Value
	Err() error
	Close() error
}
