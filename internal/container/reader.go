package container

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
	gojson "github.com/goccy/go-json"

	"github.com/stratadb/strata/internal/compression"
	"github.com/stratadb/strata/internal/encoding"
	strataerrors "github.com/stratadb/strata/internal/errors"
	"github.com/stratadb/strata/pkg/types"
)

// Reader provides read-only access to an archive file.
// A Reader is not safe for concurrent use.
type Reader struct {
	f       io.ReaderAt
	closer  io.Closer
	size    int64
	dataEnd int64
	info    ArchiveInfo
	entries []tableEntry
	index   map[string]int
	codecs  *compression.Registry
	metas   map[string]*TableMeta
}

// Open opens and validates the archive at path.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, strataerrors.IO("open archive "+path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, strataerrors.IO("stat archive "+path, err)
	}
	r, err := NewReader(f, st.Size())
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// NewReader reads the archive directory from ra, which holds size bytes.
func NewReader(ra io.ReaderAt, size int64) (*Reader, error) {
	if size < int64(headerSize+trailerSize) {
		return nil, strataerrors.Corrupt(fmt.Sprintf("file is %d bytes, too small for an archive", size), nil)
	}

	header := make([]byte, headerSize)
	if _, err := ra.ReadAt(header, 0); err != nil {
		return nil, strataerrors.IO("read header", err)
	}
	if string(header[:len(magic)]) != magic {
		return nil, strataerrors.Corrupt("bad magic, not a strata archive", nil)
	}
	if header[len(magic)] != formatVersion {
		return nil, strataerrors.Corrupt(fmt.Sprintf("unsupported format version %d", header[len(magic)]), nil)
	}

	trailer := make([]byte, trailerSize)
	if _, err := ra.ReadAt(trailer, size-int64(trailerSize)); err != nil {
		return nil, strataerrors.IO("read trailer", err)
	}
	if string(trailer[20:]) != trailerMagic {
		return nil, strataerrors.Corrupt("bad trailer magic, archive is truncated or was not closed", nil)
	}
	dirOffset := int64(binary.LittleEndian.Uint64(trailer[0:8]))
	dirLen := int64(binary.LittleEndian.Uint32(trailer[8:12]))
	dirSum := binary.LittleEndian.Uint64(trailer[12:20])

	if dirLen > maxDirectorySize || dirOffset < int64(headerSize) || dirOffset+dirLen != size-int64(trailerSize) {
		return nil, strataerrors.Corrupt(fmt.Sprintf("directory [%d,+%d) is out of bounds", dirOffset, dirLen), nil)
	}
	dirBytes := make([]byte, dirLen)
	if _, err := ra.ReadAt(dirBytes, dirOffset); err != nil {
		return nil, strataerrors.IO("read directory", err)
	}
	if xxhash.Sum64(dirBytes) != dirSum {
		return nil, strataerrors.Corrupt("directory checksum mismatch", nil)
	}

	var dir directory
	if err := gojson.Unmarshal(dirBytes, &dir); err != nil {
		return nil, strataerrors.Corrupt("decode directory", err)
	}

	r := &Reader{
		f:       ra,
		size:    size,
		dataEnd: dirOffset,
		info:    dir.Info,
		entries: dir.Tables,
		index:   make(map[string]int, len(dir.Tables)),
		codecs:  compression.NewRegistry(),
		metas:   make(map[string]*TableMeta),
	}
	for i, e := range dir.Tables {
		if _, dup := r.index[e.Name]; dup {
			return nil, strataerrors.Corrupt("duplicate directory entry", nil).InTable(e.Name)
		}
		if e.Offset < int64(headerSize) || e.Length <= 0 || e.Offset+e.Length > dirOffset || e.RawLength <= 0 || e.RawLength > maxMetaSize {
			return nil, strataerrors.Corrupt(fmt.Sprintf("metadata block [%d,+%d) is out of bounds", e.Offset, e.Length), nil).InTable(e.Name)
		}
		r.index[e.Name] = i
	}
	return r, nil
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// Info returns the archive-level information.
func (r *Reader) Info() ArchiveInfo {
	return r.info
}

// Size returns the archive size in bytes.
func (r *Reader) Size() int64 {
	return r.size
}

// Tables returns the archived table names in archive order.
func (r *Reader) Tables() []string {
	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.Name
	}
	return names
}

// HasTable reports whether the archive contains the named table.
func (r *Reader) HasTable(name string) bool {
	_, ok := r.index[name]
	return ok
}

// TableMeta reads, verifies and caches the metadata for a table.
func (r *Reader) TableMeta(name string) (*TableMeta, error) {
	if m, ok := r.metas[name]; ok {
		return m, nil
	}
	i, ok := r.index[name]
	if !ok {
		return nil, strataerrors.ErrTableNotFound.InTable(name)
	}
	e := r.entries[i]

	block := make([]byte, e.Length)
	if _, err := r.f.ReadAt(block, e.Offset); err != nil {
		return nil, strataerrors.IO("read table metadata", err).InTable(name)
	}
	if xxhash.Sum64(block) != e.Checksum {
		return nil, strataerrors.Corrupt("table metadata checksum mismatch", nil).InTable(name)
	}
	codec, err := r.codecs.Get(compression.Zstd)
	if err != nil {
		return nil, strataerrors.NewInternalError("metadata codec", err)
	}
	raw, err := codec.Decompress(block, int(e.RawLength))
	if err != nil {
		return nil, strataerrors.Corrupt("decompress table metadata", err).InTable(name)
	}

	meta := &TableMeta{}
	if err := gojson.Unmarshal(raw, meta); err != nil {
		return nil, strataerrors.Corrupt("decode table metadata", err).InTable(name)
	}
	if meta.Schema.Table != name {
		return nil, strataerrors.Corrupt(fmt.Sprintf("metadata names table %q", meta.Schema.Table), nil).InTable(name)
	}
	if err := meta.Validate(e.Offset); err != nil {
		return nil, err
	}
	r.metas[name] = meta
	return meta, nil
}

// ReadChunk reads, verifies and decompresses one chunk, returning the
// encoded payload.
func (r *Reader) ReadChunk(table, column string, c ChunkMeta) ([]byte, error) {
	stored := make([]byte, c.Length)
	if _, err := r.f.ReadAt(stored, c.Offset); err != nil {
		return nil, strataerrors.IO("read chunk", err).InColumn(table, column)
	}
	if xxhash.Sum64(stored) != c.Checksum {
		return nil, strataerrors.Corrupt(fmt.Sprintf("chunk checksum mismatch at offset %d", c.Offset), nil).InColumn(table, column)
	}
	codec, err := r.codecs.Get(c.Codec)
	if err != nil {
		return nil, strataerrors.Corrupt("unsupported codec", err).InColumn(table, column)
	}
	raw, err := codec.Decompress(stored, int(c.RawLength))
	if err != nil {
		return nil, strataerrors.Corrupt("decompress chunk", err).InColumn(table, column)
	}
	return raw, nil
}

// ReadColumn decodes one column chunk of a row group into physical values.
// A chunk whose row count differs from the row group's is a ChunkMisalignment.
func (r *Reader) ReadColumn(meta *TableMeta, group, col int) ([]types.Value, error) {
	table := meta.Name()
	rg := meta.RowGroups[group]
	c := rg.Chunks[col]
	name := meta.Columns[col].Name

	if c.Stats.RowCount != rg.Rows {
		return nil, strataerrors.Misalignment(table,
			fmt.Sprintf("row group %d column %s records %d rows, row group has %d", group, name, c.Stats.RowCount, rg.Rows))
	}

	raw, err := r.ReadChunk(table, name, c)
	if err != nil {
		return nil, err
	}
	n, err := encoding.RowCount(raw)
	if err != nil {
		return nil, strataerrors.Corrupt("decode chunk header", err).InColumn(table, name)
	}
	if int64(n) != rg.Rows {
		return nil, strataerrors.Misalignment(table,
			fmt.Sprintf("row group %d column %s decoded %d rows, row group has %d", group, name, n, rg.Rows))
	}
	values, err := encoding.Decode(meta.Columns[col].Physical, c.Encoding, raw)
	if err != nil {
		return nil, strataerrors.Corrupt("decode chunk", err).InColumn(table, name)
	}
	return values, nil
}

// ReadRowGroup decodes the listed columns of a row group. A nil cols reads
// every column. The result is indexed like cols.
func (r *Reader) ReadRowGroup(meta *TableMeta, group int, cols []int) ([][]types.Value, error) {
	if group < 0 || group >= len(meta.RowGroups) {
		return nil, strataerrors.NewInternalError(fmt.Sprintf("row group %d out of range", group), nil).InTable(meta.Name())
	}
	if cols == nil {
		cols = make([]int, len(meta.Columns))
		for i := range cols {
			cols[i] = i
		}
	}
	out := make([][]types.Value, len(cols))
	for i, col := range cols {
		values, err := r.ReadColumn(meta, group, col)
		if err != nil {
			return nil, err
		}
		out[i] = values
	}
	return out, nil
}

// NewBytesReader opens an archive held in memory.
func NewBytesReader(data []byte) (*Reader, error) {
	return NewReader(bytes.NewReader(data), int64(len(data)))
}
