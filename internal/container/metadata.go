// Package container defines the Strata archive file format and the metadata
// shared by the archival and restoration pipelines.
package container

import (
	"fmt"
	"time"

	"github.com/stratadb/strata/internal/compression"
	"github.com/stratadb/strata/internal/encoding"
	strataerrors "github.com/stratadb/strata/internal/errors"
	"github.com/stratadb/strata/internal/stats"
	"github.com/stratadb/strata/pkg/types"
)

// ArchiveInfo describes the archive as a whole.
type ArchiveInfo struct {
	// ID uniquely identifies the archive (UUID v4)
	ID string `json:"id"`

	// CreatedAt is when archival started
	CreatedAt time.Time `json:"created_at"`

	// ToolVersion is the version of the writer
	ToolVersion string `json:"tool_version,omitempty"`

	// Source is the base name of the source database file
	Source string `json:"source,omitempty"`

	// Codec is the default chunk codec name
	Codec string `json:"codec"`

	// RowGroupSize is the configured rows per row group
	RowGroupSize int `json:"row_group_size"`
}

// ColumnMeta records the physical type chosen for a column together with the
// original declaration needed to reverse the mapping.
type ColumnMeta struct {
	Name         string             `json:"name"`
	Physical     types.PhysicalType `json:"physical"`
	DeclaredType string             `json:"declared_type"`
	Affinity     types.Affinity     `json:"affinity"`
	Logical      string             `json:"logical,omitempty"`
}

// ChunkMeta locates one sealed column chunk in the file.
type ChunkMeta struct {
	Offset    int64             `json:"offset"`
	Length    int64             `json:"length"`
	RawLength int64             `json:"raw_length"`
	Codec     compression.Codec `json:"codec"`
	Encoding  encoding.Encoding `json:"encoding"`
	Checksum  uint64            `json:"checksum"`
	Stats     stats.ColumnStats `json:"stats"`
	Bloom     []byte            `json:"bloom,omitempty"`
}

// RowGroupMeta holds one chunk per column, in column order.
type RowGroupMeta struct {
	Rows   int64       `json:"rows"`
	Chunks []ChunkMeta `json:"chunks"`
}

// TableMeta is the sealed metadata for one archived table.
type TableMeta struct {
	Schema    types.Schema   `json:"schema"`
	Columns   []ColumnMeta   `json:"columns"`
	RowGroups []RowGroupMeta `json:"row_groups"`
	Rows      int64          `json:"rows"`
}

// Name returns the table name.
func (m *TableMeta) Name() string {
	return m.Schema.Table
}

// ColumnIndex returns the position of the named column, or -1.
func (m *TableMeta) ColumnIndex(name string) int {
	for i, c := range m.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// CompressedBytes returns the total stored bytes for column i.
func (m *TableMeta) CompressedBytes(i int) int64 {
	var n int64
	for _, rg := range m.RowGroups {
		n += rg.Chunks[i].Length
	}
	return n
}

// RawBytes returns the total uncompressed bytes for column i.
func (m *TableMeta) RawBytes(i int) int64 {
	var n int64
	for _, rg := range m.RowGroups {
		n += rg.Chunks[i].RawLength
	}
	return n
}

// Validate checks the structural integrity of the metadata against a file
// whose chunk region ends at dataEnd. Violations are CorruptArchive errors.
func (m *TableMeta) Validate(dataEnd int64) error {
	table := m.Schema.Table
	corrupt := func(format string, args ...interface{}) error {
		return strataerrors.Corrupt(fmt.Sprintf(format, args...), nil).InTable(table)
	}

	if err := m.Schema.Validate(); err != nil {
		return strataerrors.Corrupt("invalid schema", err).InTable(table)
	}
	if len(m.Columns) != len(m.Schema.Columns) {
		return corrupt("%d column entries for %d schema columns", len(m.Columns), len(m.Schema.Columns))
	}
	for i, c := range m.Columns {
		if c.Name != m.Schema.Columns[i].Name {
			return corrupt("column %d is %q in metadata but %q in schema", i, c.Name, m.Schema.Columns[i].Name)
		}
		if !c.Physical.Valid() {
			return corrupt("column %s has unknown physical type tag %d", c.Name, uint8(c.Physical))
		}
	}

	var total int64
	for g, rg := range m.RowGroups {
		if rg.Rows < 0 {
			return corrupt("row group %d has negative row count", g)
		}
		if len(rg.Chunks) != len(m.Columns) {
			return corrupt("row group %d has %d chunks for %d columns", g, len(rg.Chunks), len(m.Columns))
		}
		for i, ch := range rg.Chunks {
			col := m.Columns[i].Name
			if !ch.Codec.Valid() {
				return corrupt("row group %d column %s has unsupported codec id %d", g, col, uint8(ch.Codec))
			}
			if !ch.Encoding.Valid() {
				return corrupt("row group %d column %s has unknown encoding id %d", g, col, uint8(ch.Encoding))
			}
			if ch.Offset < int64(headerSize) || ch.Length < 0 || ch.RawLength < 0 || ch.Offset+ch.Length > dataEnd {
				return corrupt("row group %d column %s chunk [%d,+%d) is out of bounds", g, col, ch.Offset, ch.Length)
			}
		}
		total += rg.Rows
	}
	if total != m.Rows {
		return corrupt("row groups hold %d rows but table records %d", total, m.Rows)
	}
	return nil
}
