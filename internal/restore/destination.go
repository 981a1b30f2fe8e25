package restore

import (
	"context"

	"github.com/stratadb/strata/pkg/types"
)

// Destination is a relational database tables are restored into.
type Destination interface {
	// BeginTable creates the table described by schema and returns a sink
	// for its rows. With overwrite set an existing table is dropped first;
	// otherwise an existing table is an error.
	BeginTable(ctx context.Context, schema *types.Schema, overwrite bool) (TableSink, error)
}

// TableSink receives the rows of one table. Nothing it writes is visible
// until Finish succeeds, and Abort discards everything.
type TableSink interface {
	InsertRows(ctx context.Context, rows [][]types.Value) error
	Finish(ctx context.Context, createIndexes bool) error
	Abort() error
}
