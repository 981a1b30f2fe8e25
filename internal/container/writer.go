package container

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"github.com/cespare/xxhash/v2"
	gojson "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/stratadb/strata/internal/compression"
	strataerrors "github.com/stratadb/strata/internal/errors"
)

// Writer appends tables to a new archive file. Only one table may be open at
// a time and a Writer is not safe for concurrent use.
type Writer struct {
	f       *os.File
	path    string
	offset  int64
	info    ArchiveInfo
	entries []tableEntry
	names   map[string]bool
	active  *TableWriter
	meta    compression.Compressor
	closed  bool
}

// Create creates (or truncates) the archive file at path and writes its header.
// An empty info.ID is filled with a new UUID and a zero CreatedAt with now.
func Create(path string, info ArchiveInfo) (*Writer, error) {
	if info.ID == "" {
		info.ID = uuid.NewString()
	}
	if info.CreatedAt.IsZero() {
		info.CreatedAt = time.Now().UTC()
	}

	metaCompressor, err := compression.NewCompressor(compression.Zstd, compression.Default)
	if err != nil {
		return nil, strataerrors.NewInternalError("create metadata compressor", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
	if err != nil {
		return nil, strataerrors.IO("create archive "+path, err)
	}

	w := &Writer{
		f:     f,
		path:  path,
		info:  info,
		names: make(map[string]bool),
		meta:  metaCompressor,
	}
	header := append([]byte(magic), formatVersion)
	if err := w.write(header); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// Info returns the archive info that will be written to the directory.
func (w *Writer) Info() ArchiveInfo {
	return w.info
}

// Path returns the archive file path.
func (w *Writer) Path() string {
	return w.path
}

func (w *Writer) write(p []byte) error {
	n, err := w.f.WriteAt(p, w.offset)
	w.offset += int64(n)
	if err != nil {
		return strataerrors.IO("write archive "+w.path, err)
	}
	return nil
}

// BeginTable starts a new table at the current end of file.
func (w *Writer) BeginTable(name string) (*TableWriter, error) {
	if w.closed {
		return nil, strataerrors.NewInternalError("archive writer is closed", nil)
	}
	if w.active != nil {
		return nil, strataerrors.NewInternalError(fmt.Sprintf("table %s is still open", w.active.name), nil)
	}
	if w.names[name] {
		return nil, strataerrors.NewInternalError("table already archived", nil).InTable(name)
	}
	t := &TableWriter{w: w, name: name, start: w.offset}
	w.active = t
	return t, nil
}

// Close aborts any open table, writes the directory and trailer, and syncs
// the file.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if w.active != nil {
		if err := w.active.Abort(); err != nil {
			w.f.Close()
			return err
		}
	}

	dir, err := gojson.Marshal(directory{Info: w.info, Tables: w.entries})
	if err != nil {
		w.f.Close()
		return strataerrors.NewInternalError("marshal directory", err)
	}
	dirOffset := w.offset
	if err := w.write(dir); err != nil {
		w.f.Close()
		return err
	}

	trailer := make([]byte, trailerSize)
	binary.LittleEndian.PutUint64(trailer[0:8], uint64(dirOffset))
	binary.LittleEndian.PutUint32(trailer[8:12], uint32(len(dir)))
	binary.LittleEndian.PutUint64(trailer[12:20], xxhash.Sum64(dir))
	copy(trailer[20:], trailerMagic)
	if err := w.write(trailer); err != nil {
		w.f.Close()
		return err
	}

	if err := w.f.Truncate(w.offset); err != nil {
		w.f.Close()
		return strataerrors.IO("truncate archive "+w.path, err)
	}
	if err := w.f.Sync(); err != nil {
		w.f.Close()
		return strataerrors.IO("sync archive "+w.path, err)
	}
	if err := w.f.Close(); err != nil {
		return strataerrors.IO("close archive "+w.path, err)
	}
	return nil
}

// TableWriter writes one table's chunks and metadata.
type TableWriter struct {
	w     *Writer
	name  string
	start int64
	done  bool
}

// WriteChunk appends a sealed chunk payload and returns its location and checksum.
func (t *TableWriter) WriteChunk(payload []byte) (offset, length int64, checksum uint64, err error) {
	if t.done {
		return 0, 0, 0, strataerrors.NewInternalError("table writer is finished", nil).InTable(t.name)
	}
	offset = t.w.offset
	if err := t.w.write(payload); err != nil {
		return 0, 0, 0, err
	}
	return offset, int64(len(payload)), xxhash.Sum64(payload), nil
}

// Commit validates and writes the table metadata, making the table visible
// in the directory once the archive is closed.
func (t *TableWriter) Commit(meta *TableMeta) error {
	if t.done {
		return strataerrors.NewInternalError("table writer is finished", nil).InTable(t.name)
	}
	if meta.Schema.Table != t.name {
		return strataerrors.NewInternalError(fmt.Sprintf("metadata is for table %q", meta.Schema.Table), nil).InTable(t.name)
	}
	if err := meta.Validate(t.w.offset); err != nil {
		return err
	}

	raw, err := gojson.Marshal(meta)
	if err != nil {
		return strataerrors.NewInternalError("marshal table metadata", err).InTable(t.name)
	}
	block, err := t.w.meta.Compress(raw)
	if err != nil {
		return strataerrors.NewInternalError("compress table metadata", err).InTable(t.name)
	}

	offset := t.w.offset
	if err := t.w.write(block); err != nil {
		return err
	}
	t.w.entries = append(t.w.entries, tableEntry{
		Name:      t.name,
		Offset:    offset,
		Length:    int64(len(block)),
		RawLength: int64(len(raw)),
		Checksum:  xxhash.Sum64(block),
	})
	t.w.names[t.name] = true
	t.finish()
	return nil
}

// Abort discards everything written for the table by truncating the file
// back to where the table started.
func (t *TableWriter) Abort() error {
	if t.done {
		return nil
	}
	t.finish()
	t.w.offset = t.start
	if err := t.w.f.Truncate(t.start); err != nil {
		return strataerrors.IO("truncate aborted table", err).InTable(t.name)
	}
	return nil
}

func (t *TableWriter) finish() {
	t.done = true
	t.w.active = nil
}

// Name returns the table name.
func (t *TableWriter) Name() string {
	return t.name
}
