// Package compression provides the chunk codecs used in Strata archives.
//
// Codec ids are persisted in archive metadata. Decompression is always
// bounded by the uncompressed length recorded alongside the chunk, so a
// corrupted or hostile payload cannot expand without limit.
package compression

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies a compression algorithm.
type Codec uint8

const (
	// None stores chunks uncompressed
	None Codec = 0
	// Snappy is fast with moderate ratio
	Snappy Codec = 1
	// Zstd gives the best ratio at good speed
	Zstd Codec = 2
	// LZ4 is the fastest to decode
	LZ4 Codec = 3
	// S2 is a faster Snappy-compatible variant
	S2 Codec = 4
	// Gzip is the most widely readable
	Gzip Codec = 5
)

var codecNames = map[Codec]string{
	None:   "none",
	Snappy: "snappy",
	Zstd:   "zstd",
	LZ4:    "lz4",
	S2:     "s2",
	Gzip:   "gzip",
}

// String returns the codec name.
func (c Codec) String() string {
	if name, ok := codecNames[c]; ok {
		return name
	}
	return fmt.Sprintf("codec(%d)", uint8(c))
}

// Valid reports whether c is a known codec.
func (c Codec) Valid() bool {
	_, ok := codecNames[c]
	return ok
}

// ParseCodec parses a codec name.
func ParseCodec(s string) (Codec, error) {
	for c, name := range codecNames {
		if strings.EqualFold(name, s) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCodec, s)
}

// Level trades compression speed for ratio.
type Level int

const (
	Fastest Level = 1
	Default Level = 5
	Better  Level = 7
	Best    Level = 9
)

// ParseLevel parses a level name: fastest, default, better or best.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "fastest":
		return Fastest, nil
	case "", "default":
		return Default, nil
	case "better":
		return Better, nil
	case "best":
		return Best, nil
	}
	return 0, fmt.Errorf("compression: unknown level %q", s)
}

// String returns the level name.
func (l Level) String() string {
	switch l {
	case Fastest:
		return "fastest"
	case Default:
		return "default"
	case Better:
		return "better"
	case Best:
		return "best"
	}
	return fmt.Sprintf("level(%d)", int(l))
}

var (
	// ErrUnknownCodec is returned for codec ids or names that are not recognized.
	ErrUnknownCodec = errors.New("unknown codec")

	// ErrSizeMismatch is returned when a payload does not decompress to its recorded length.
	ErrSizeMismatch = errors.New("decompressed size mismatch")
)

// Compressor compresses and decompresses whole chunk payloads.
// Implementations are safe for concurrent use.
type Compressor interface {
	// Compress returns the compressed form of data. data is not modified.
	Compress(data []byte) ([]byte, error)

	// Decompress returns the original bytes. rawLen is the exact
	// uncompressed length recorded when the chunk was written.
	Decompress(data []byte, rawLen int) ([]byte, error)

	// Codec returns the algorithm id.
	Codec() Codec
}

// NewCompressor creates a compressor for the given codec and level.
func NewCompressor(codec Codec, level Level) (Compressor, error) {
	switch codec {
	case None:
		return noneCompressor{}, nil
	case Snappy:
		return snappyCompressor{}, nil
	case S2:
		return s2Compressor{level: level}, nil
	case LZ4:
		return &lz4Compressor{level: mapLZ4Level(level)}, nil
	case Gzip:
		return &gzipCompressor{level: mapGzipLevel(level)}, nil
	case Zstd:
		return newZstdCompressor(level)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownCodec, uint8(codec))
	}
}

// Registry caches one compressor per codec so readers can decode chunks
// written with any codec.
type Registry struct {
	compressors map[Codec]Compressor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{compressors: make(map[Codec]Compressor)}
}

// Get returns the compressor for codec, creating it with the default level.
// A Registry is not safe for concurrent use.
func (r *Registry) Get(codec Codec) (Compressor, error) {
	if c, ok := r.compressors[codec]; ok {
		return c, nil
	}
	c, err := NewCompressor(codec, Default)
	if err != nil {
		return nil, err
	}
	r.compressors[codec] = c
	return c, nil
}

// capHint limits up-front allocation when rawLen comes from untrusted metadata.
func capHint(rawLen int) int {
	const maxHint = 64 << 20
	if rawLen < 0 {
		return 0
	}
	if rawLen > maxHint {
		return maxHint
	}
	return rawLen
}

func checkLen(out []byte, rawLen int) ([]byte, error) {
	if len(out) != rawLen {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrSizeMismatch, len(out), rawLen)
	}
	return out, nil
}

// readBounded reads at most rawLen+1 bytes so an oversized stream is detected
// without buffering it.
func readBounded(r io.Reader, rawLen int) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, capHint(rawLen)))
	if _, err := io.Copy(buf, io.LimitReader(r, int64(rawLen)+1)); err != nil {
		return nil, err
	}
	return checkLen(buf.Bytes(), rawLen)
}

type noneCompressor struct{}

func (noneCompressor) Codec() Codec { return None }

func (noneCompressor) Compress(data []byte) ([]byte, error) {
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (noneCompressor) Decompress(data []byte, rawLen int) ([]byte, error) {
	return checkLen(data, rawLen)
}

type snappyCompressor struct{}

func (snappyCompressor) Codec() Codec { return Snappy }

func (snappyCompressor) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (snappyCompressor) Decompress(data []byte, rawLen int) ([]byte, error) {
	n, err := snappy.DecodedLen(data)
	if err != nil {
		return nil, err
	}
	if n != rawLen {
		return nil, fmt.Errorf("%w: header says %d bytes, want %d", ErrSizeMismatch, n, rawLen)
	}
	return snappy.Decode(nil, data)
}

type s2Compressor struct {
	level Level
}

func (s2Compressor) Codec() Codec { return S2 }

func (c s2Compressor) Compress(data []byte) ([]byte, error) {
	switch {
	case c.level >= Best:
		return s2.EncodeBest(nil, data), nil
	case c.level >= Better:
		return s2.EncodeBetter(nil, data), nil
	}
	return s2.Encode(nil, data), nil
}

func (s2Compressor) Decompress(data []byte, rawLen int) ([]byte, error) {
	n, err := s2.DecodedLen(data)
	if err != nil {
		return nil, err
	}
	if n != rawLen {
		return nil, fmt.Errorf("%w: header says %d bytes, want %d", ErrSizeMismatch, n, rawLen)
	}
	return s2.Decode(nil, data)
}

type lz4Compressor struct {
	level lz4.CompressionLevel
}

func (*lz4Compressor) Codec() Codec { return LZ4 }

func (c *lz4Compressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if err := w.Apply(lz4.CompressionLevelOption(c.level)); err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *lz4Compressor) Decompress(data []byte, rawLen int) ([]byte, error) {
	return readBounded(lz4.NewReader(bytes.NewReader(data)), rawLen)
}

type gzipCompressor struct {
	level int
}

func (*gzipCompressor) Codec() Codec { return Gzip }

func (c *gzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *gzipCompressor) Decompress(data []byte, rawLen int) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return readBounded(r, rawLen)
}

type zstdCompressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func newZstdCompressor(level Level) (*zstdCompressor, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(mapZstdLevel(level)))
	if err != nil {
		return nil, fmt.Errorf("compression: failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("compression: failed to create zstd decoder: %w", err)
	}
	return &zstdCompressor{encoder: enc, decoder: dec}, nil
}

func (*zstdCompressor) Codec() Codec { return Zstd }

func (c *zstdCompressor) Compress(data []byte) ([]byte, error) {
	return c.encoder.EncodeAll(data, nil), nil
}

func (c *zstdCompressor) Decompress(data []byte, rawLen int) ([]byte, error) {
	out, err := c.decoder.DecodeAll(data, make([]byte, 0, capHint(rawLen)))
	if err != nil {
		return nil, err
	}
	return checkLen(out, rawLen)
}

func mapZstdLevel(level Level) zstd.EncoderLevel {
	switch {
	case level <= Fastest:
		return zstd.SpeedFastest
	case level <= Default:
		return zstd.SpeedDefault
	case level <= Better:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

func mapLZ4Level(level Level) lz4.CompressionLevel {
	switch {
	case level <= Fastest:
		return lz4.Fast
	case level <= Default:
		return lz4.Level5
	case level <= Better:
		return lz4.Level7
	default:
		return lz4.Level9
	}
}

func mapGzipLevel(level Level) int {
	switch {
	case level <= Fastest:
		return gzip.BestSpeed
	case level <= Default:
		return gzip.DefaultCompression
	case level <= Better:
		return 7
	default:
		return gzip.BestCompression
	}
}
