package compression

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleData() []byte {
	var buf bytes.Buffer
	for i := 0; i < 2000; i++ {
		buf.WriteString("tenant-42,page_view,")
		buf.WriteByte(byte(i))
	}
	return buf.Bytes()
}

func TestCompressors_RoundTrip(t *testing.T) {
	data := sampleData()
	for codec := range codecNames {
		for _, level := range []Level{Fastest, Default, Better, Best} {
			t.Run(codec.String()+"/"+level.String(), func(t *testing.T) {
				c, err := NewCompressor(codec, level)
				require.NoError(t, err)
				assert.Equal(t, codec, c.Codec())

				compressed, err := c.Compress(data)
				require.NoError(t, err)
				if codec != None {
					assert.Less(t, len(compressed), len(data))
				}

				out, err := c.Decompress(compressed, len(data))
				require.NoError(t, err)
				assert.Equal(t, data, out)
			})
		}
	}
}

func TestCompressors_SizeMismatch(t *testing.T) {
	data := sampleData()
	for codec := range codecNames {
		t.Run(codec.String(), func(t *testing.T) {
			c, err := NewCompressor(codec, Default)
			require.NoError(t, err)
			compressed, err := c.Compress(data)
			require.NoError(t, err)

			_, err = c.Decompress(compressed, len(data)-1)
			assert.Error(t, err)
		})
	}
}

func TestCompressors_Garbage(t *testing.T) {
	garbage := []byte("definitely not a compressed stream")
	for codec := range codecNames {
		if codec == None {
			continue
		}
		t.Run(codec.String(), func(t *testing.T) {
			c, err := NewCompressor(codec, Default)
			require.NoError(t, err)
			_, err = c.Decompress(garbage, 1024)
			assert.Error(t, err)
		})
	}
}

func TestParseCodec(t *testing.T) {
	c, err := ParseCodec("ZSTD")
	require.NoError(t, err)
	assert.Equal(t, Zstd, c)

	_, err = ParseCodec("brotli")
	assert.True(t, errors.Is(err, ErrUnknownCodec))

	assert.False(t, Codec(77).Valid())
	_, err = NewCompressor(Codec(77), Default)
	assert.ErrorIs(t, err, ErrUnknownCodec)
}

func TestParseLevel(t *testing.T) {
	for _, name := range []string{"fastest", "default", "better", "best"} {
		l, err := ParseLevel(name)
		require.NoError(t, err)
		assert.Equal(t, name, l.String())
	}
	_, err := ParseLevel("ultra")
	assert.Error(t, err)
}

func TestRegistry_Caches(t *testing.T) {
	r := NewRegistry()
	a, err := r.Get(Zstd)
	require.NoError(t, err)
	b, err := r.Get(Zstd)
	require.NoError(t, err)
	assert.Same(t, a, b)

	_, err = r.Get(Codec(200))
	assert.Error(t, err)
}
