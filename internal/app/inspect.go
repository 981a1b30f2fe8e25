package app

import (
	"context"
	"sort"

	"github.com/stratadb/strata/internal/container"
	"github.com/stratadb/strata/pkg/types"
)

// Inspection describes the contents of an archive.
type Inspection struct {
	Info   container.ArchiveInfo `json:"info"`
	Size   int64                 `json:"size"`
	Tables []TableInspection     `json:"tables"`
}

// TableInspection describes one archived table.
type TableInspection struct {
	Name         string             `json:"name"`
	Rows         int64              `json:"rows"`
	RowGroups    int                `json:"row_groups"`
	WithoutRowID bool               `json:"without_rowid,omitempty"`
	Indexes      []string           `json:"indexes,omitempty"`
	Columns      []ColumnInspection `json:"columns"`
}

// ColumnInspection aggregates a column's chunks across all row groups.
type ColumnInspection struct {
	Name            string   `json:"name"`
	DeclaredType    string   `json:"declared_type"`
	Physical        string   `json:"physical"`
	Logical         string   `json:"logical,omitempty"`
	Codecs          []string `json:"codecs"`
	Encodings       []string `json:"encodings"`
	CompressedBytes int64    `json:"compressed_bytes"`
	RawBytes        int64    `json:"raw_bytes"`
	NullCount       int64    `json:"null_count"`

	// Min and Max are nil when the column holds no comparable value
	Min *types.Value `json:"-"`
	Max *types.Value `json:"-"`

	// MinText and MaxText are the display forms of Min and Max
	MinText string `json:"min,omitempty"`
	MaxText string `json:"max,omitempty"`

	// MaxChunkDistinct is the largest per-chunk distinct estimate, a lower
	// bound for the column as a whole
	MaxChunkDistinct uint64 `json:"max_chunk_distinct"`
}

// Inspect reads the metadata of the archive referenced by archiveRef. With
// tables set only those tables are described; a missing one is
// TABLE_NOT_FOUND.
func (a *App) Inspect(ctx context.Context, archiveRef string, tables []string) (*Inspection, error) {
	r, cleanup, err := a.openArchive(ctx, archiveRef)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	return InspectReader(r, tables)
}

// InspectReader describes the tables of an open archive.
func InspectReader(r *container.Reader, tables []string) (*Inspection, error) {
	if len(tables) == 0 {
		tables = r.Tables()
	}
	out := &Inspection{Info: r.Info(), Size: r.Size()}
	for _, name := range tables {
		meta, err := r.TableMeta(name)
		if err != nil {
			return nil, err
		}
		out.Tables = append(out.Tables, inspectTable(meta))
	}
	return out, nil
}

func inspectTable(meta *container.TableMeta) TableInspection {
	t := TableInspection{
		Name:         meta.Name(),
		Rows:         meta.Rows,
		RowGroups:    len(meta.RowGroups),
		WithoutRowID: meta.Schema.WithoutRowID,
	}
	for _, idx := range meta.Schema.Indexes {
		t.Indexes = append(t.Indexes, idx.Name)
	}
	for i, col := range meta.Columns {
		ci := ColumnInspection{
			Name:            col.Name,
			DeclaredType:    col.DeclaredType,
			Physical:        col.Physical.String(),
			Logical:         col.Logical,
			CompressedBytes: meta.CompressedBytes(i),
			RawBytes:        meta.RawBytes(i),
		}
		codecs := map[string]bool{}
		encodings := map[string]bool{}
		for _, rg := range meta.RowGroups {
			chunk := rg.Chunks[i]
			codecs[chunk.Codec.String()] = true
			encodings[chunk.Encoding.String()] = true
			st := chunk.Stats
			ci.NullCount += st.NullCount
			if st.DistinctEstimate > ci.MaxChunkDistinct {
				ci.MaxChunkDistinct = st.DistinctEstimate
			}
			if st.HasMinMax() {
				if ci.Min == nil || st.Min.Compare(*ci.Min) < 0 {
					v := *st.Min
					ci.Min = &v
				}
				if ci.Max == nil || st.Max.Compare(*ci.Max) > 0 {
					v := *st.Max
					ci.Max = &v
				}
			}
		}
		if ci.Min != nil {
			ci.MinText = ci.Min.String()
			ci.MaxText = ci.Max.String()
		}
		ci.Codecs = sortedKeys(codecs)
		ci.Encodings = sortedKeys(encodings)
		t.Columns = append(t.Columns, ci)
	}
	return t
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
