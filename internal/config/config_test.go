package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	strataerrors "github.com/stratadb/strata/internal/errors"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 50000, cfg.Archive.RowGroupSize)
	assert.Equal(t, "zstd", cfg.Archive.Compression.Codec)
	assert.Equal(t, 1000, cfg.Restore.BatchSize)
	assert.Equal(t, StorageNone, cfg.Storage.Type)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero row group", func(c *Config) { c.Archive.RowGroupSize = 0 }},
		{"unknown codec", func(c *Config) { c.Archive.Compression.Codec = "brotli" }},
		{"unknown level", func(c *Config) { c.Archive.Compression.Level = "max" }},
		{"fpr of one", func(c *Config) { c.Archive.BloomFPR = 1 }},
		{"unknown probe", func(c *Config) { c.Archive.TypeProbe = "sample" }},
		{"zero batch", func(c *Config) { c.Restore.BatchSize = 0 }},
		{"unknown log format", func(c *Config) { c.Log.Format = "xml" }},
		{"unknown storage", func(c *Config) { c.Storage.Type = "ftp" }},
		{"s3 without bucket", func(c *Config) { c.Storage.Type = StorageS3 }},
		{"local without path", func(c *Config) { c.Storage.Type = StorageLocal }},
		{"cache without size", func(c *Config) {
			c.Storage.Cache.Dir = "/tmp/strata-cache"
			c.Storage.Cache.MaxBytes = 0
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, strataerrors.CodeInvalidConfig, strataerrors.GetCode(err))
		})
	}
}

func TestLoadFromFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strata.yaml")
	data := `
archive:
  row_group_size: 1000
  compression:
    codec: lz4
  tables:
    users: [id, email]
    logs: []
restore:
  tables: [users]
storage:
  type: s3
  s3:
    bucket: archives
    path_style: true
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.Archive.RowGroupSize)
	assert.Equal(t, "lz4", cfg.Archive.Compression.Codec)
	assert.Equal(t, "default", cfg.Archive.Compression.Level, "unset keys keep their defaults")
	assert.Equal(t, []string{"id", "email"}, cfg.Archive.Tables["users"])
	assert.Contains(t, cfg.Archive.Tables, "logs")
	assert.Equal(t, []string{"users"}, cfg.Restore.Tables)
	assert.Equal(t, "archives", cfg.Storage.S3.Bucket)
	assert.True(t, cfg.Storage.S3.PathStyle)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromFile_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strata.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"archive": {"bloom_filters": false}, "log": {"level": "debug"}}`), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.False(t, cfg.Archive.BloomFilters)
	assert.True(t, cfg.Archive.Dictionary)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadFromFile_UnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strata.toml")
	require.NoError(t, os.WriteFile(path, []byte(""), 0644))
	_, err := LoadFromFile(path)
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("STRATA_ARCHIVE_ROW_GROUP_SIZE", "64")
	t.Setenv("STRATA_ARCHIVE_CODEC", "snappy")
	t.Setenv("STRATA_ARCHIVE_BLOOM_FPR", "0.05")
	t.Setenv("STRATA_RESTORE_OVERWRITE", "true")
	t.Setenv("STRATA_S3_PREFIX", "nightly/")
	t.Setenv("STRATA_CACHE_DIR", "/var/cache/strata")
	t.Setenv("STRATA_CACHE_MAX_BYTES", "1048576")

	cfg := DefaultConfig()
	require.NoError(t, LoadFromEnv(cfg))
	assert.Equal(t, 64, cfg.Archive.RowGroupSize)
	assert.Equal(t, "snappy", cfg.Archive.Compression.Codec)
	assert.Equal(t, 0.05, cfg.Archive.BloomFPR)
	assert.True(t, cfg.Restore.Overwrite)
	assert.Equal(t, "nightly/", cfg.Storage.S3.Prefix)
	assert.Equal(t, "/var/cache/strata", cfg.Storage.Cache.Dir)
	assert.Equal(t, int64(1<<20), cfg.Storage.Cache.MaxBytes)
}

func TestLoadFromEnv_RejectsMalformedValues(t *testing.T) {
	t.Setenv("STRATA_ARCHIVE_ROW_GROUP_SIZE", "lots")
	t.Setenv("STRATA_RESTORE_OVERWRITE", "perhaps")
	err := LoadFromEnv(DefaultConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STRATA_ARCHIVE_ROW_GROUP_SIZE")
	assert.Contains(t, err.Error(), "STRATA_RESTORE_OVERWRITE")
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "strata.env")
	require.NoError(t, os.WriteFile(envFile, []byte("STRATA_LOG_FORMAT=json\n"), 0644))
	t.Setenv("STRATA_LOG_FORMAT", "")
	os.Unsetenv("STRATA_LOG_FORMAT")

	cfg, err := Load("", envFile)
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestParseTableSpec(t *testing.T) {
	tests := []struct {
		spec    string
		table   string
		columns []string
		wantErr bool
	}{
		{"users", "users", nil, false},
		{"users:id,email", "users", []string{"id", "email"}, false},
		{"users: id , email ", "users", []string{"id", "email"}, false},
		{":id", "", nil, true},
		{"users:id,,email", "", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			table, cols, err := ParseTableSpec(tt.spec)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.table, table)
			assert.Equal(t, tt.columns, cols)
		})
	}
}
