package types

import (
	"fmt"
	"sort"
)

// Schema defines the structure of a source table.
type Schema struct {
	// Table is the table name
	Table string `json:"table"`

	// WithoutRowID marks tables declared WITHOUT ROWID
	WithoutRowID bool `json:"without_rowid,omitempty"`

	// Columns defines the columns in declaration order
	Columns []ColumnDef `json:"columns"`

	// Indexes defines the explicit indexes declared on the table
	Indexes []IndexDef `json:"indexes,omitempty"`
}

// ColumnDef defines a single column in the schema.
type ColumnDef struct {
	// Name is the column name
	Name string `json:"name"`

	// DeclaredType is the type as written in CREATE TABLE, possibly empty
	DeclaredType string `json:"declared_type"`

	// Affinity is the SQLite affinity derived from DeclaredType
	Affinity Affinity `json:"affinity"`

	// NotNull indicates a NOT NULL constraint
	NotNull bool `json:"not_null,omitempty"`

	// PrimaryKey is the 1-based position in the primary key, 0 if not a member
	PrimaryKey int `json:"primary_key,omitempty"`

	// Indexed indicates the column participates in at least one explicit index
	Indexed bool `json:"indexed,omitempty"`

	// Default is the default value expression, if any
	Default *string `json:"default,omitempty"`
}

// IndexDef defines an index on the table.
type IndexDef struct {
	// Name is the index name
	Name string `json:"name"`

	// Columns lists the columns included in the index
	Columns []string `json:"columns"`

	// Unique indicates whether the index enforces uniqueness
	Unique bool `json:"unique,omitempty"`

	// Collations holds the collating sequence of each key column, with ""
	// for BINARY. Nil when every key column uses BINARY.
	Collations []string `json:"collations,omitempty"`

	// Descending marks key columns sorted DESC. Nil when all are ASC.
	Descending []bool `json:"descending,omitempty"`
}

// Collation returns the collating sequence of key column i, "" for BINARY.
func (idx IndexDef) Collation(i int) string {
	if i < len(idx.Collations) {
		return idx.Collations[i]
	}
	return ""
}

// Desc reports whether key column i is sorted DESC.
func (idx IndexDef) Desc(i int) bool {
	return i < len(idx.Descending) && idx.Descending[i]
}

// Validate checks that column names are unique and indexes only reference known columns.
func (s *Schema) Validate() error {
	seen := make(map[string]bool, len(s.Columns))
	for _, c := range s.Columns {
		if seen[c.Name] {
			return fmt.Errorf("%w: %s.%s", ErrDuplicateColumn, s.Table, c.Name)
		}
		seen[c.Name] = true
	}
	for _, idx := range s.Indexes {
		for _, col := range idx.Columns {
			if !seen[col] {
				return fmt.Errorf("%w: index %s references %s.%s", ErrUnknownColumn, idx.Name, s.Table, col)
			}
		}
		if (idx.Collations != nil && len(idx.Collations) != len(idx.Columns)) ||
			(idx.Descending != nil && len(idx.Descending) != len(idx.Columns)) {
			return fmt.Errorf("%w: index %s.%s key options do not match its %d columns",
				ErrMalformedIndex, s.Table, idx.Name, len(idx.Columns))
		}
	}
	return nil
}

// ColumnIndex returns the position of the named column, or -1.
func (s *Schema) ColumnIndex(name string) int {
	for i, c := range s.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// ColumnNames returns the column names in order.
func (s *Schema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// PrimaryKeyColumns returns the primary key columns ordered by key position.
func (s *Schema) PrimaryKeyColumns() []string {
	var pk []ColumnDef
	for _, c := range s.Columns {
		if c.PrimaryKey > 0 {
			pk = append(pk, c)
		}
	}
	sort.Slice(pk, func(i, j int) bool { return pk[i].PrimaryKey < pk[j].PrimaryKey })
	names := make([]string, len(pk))
	for i, c := range pk {
		names[i] = c.Name
	}
	return names
}

// Project returns a copy of the schema restricted to the given columns, kept in
// declaration order. An empty list keeps every column. Indexes that lose a
// column are dropped, and the primary key is dropped if any of its columns is
// excluded.
func (s *Schema) Project(columns []string) (*Schema, error) {
	out := &Schema{Table: s.Table, WithoutRowID: s.WithoutRowID}
	if len(columns) == 0 {
		out.Columns = append(out.Columns, s.Columns...)
		out.Indexes = append(out.Indexes, s.Indexes...)
		return out, nil
	}

	keep := make(map[string]bool, len(columns))
	for _, name := range columns {
		if s.ColumnIndex(name) < 0 {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, s.Table, name)
		}
		keep[name] = true
	}

	pkIntact := true
	for _, c := range s.Columns {
		if keep[c.Name] {
			out.Columns = append(out.Columns, c)
		} else if c.PrimaryKey > 0 {
			pkIntact = false
		}
	}
	if !pkIntact {
		for i := range out.Columns {
			out.Columns[i].PrimaryKey = 0
		}
		// WITHOUT ROWID requires a primary key.
		out.WithoutRowID = false
	}

	for _, idx := range s.Indexes {
		covered := true
		for _, col := range idx.Columns {
			if !keep[col] {
				covered = false
				break
			}
		}
		if covered {
			out.Indexes = append(out.Indexes, idx)
		}
	}
	return out, nil
}
