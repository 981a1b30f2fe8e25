// Package config provides configuration for the Strata archive and restore
// commands.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	gojson "github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	strataerrors "github.com/stratadb/strata/internal/errors"
)

// EnvPrefix is the prefix of every environment variable Strata reads.
const EnvPrefix = "STRATA_"

// Storage types.
const (
	StorageNone  = "none"
	StorageLocal = "local"
	StorageS3    = "s3"
)

// Config holds the configuration for all Strata commands.
type Config struct {
	// Archive configures archival
	Archive ArchiveConfig `json:"archive" yaml:"archive"`

	// Restore configures restoration
	Restore RestoreConfig `json:"restore" yaml:"restore"`

	// Log configures logging
	Log LogConfig `json:"log" yaml:"log"`

	// Storage configures where archives are uploaded to and fetched from
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Metrics configures the metrics export
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
}

// ArchiveConfig holds archival settings.
type ArchiveConfig struct {
	// RowGroupSize is the number of rows per row group
	RowGroupSize int `json:"row_group_size" yaml:"row_group_size"`

	// Compression selects the chunk codec
	Compression CompressionConfig `json:"compression" yaml:"compression"`

	// Dictionary enables dictionary encoding for repetitive columns
	Dictionary bool `json:"dictionary" yaml:"dictionary"`

	// BloomFilters enables per-chunk bloom filters
	BloomFilters bool `json:"bloom_filters" yaml:"bloom_filters"`

	// BloomFPR is the target bloom filter false positive rate
	BloomFPR float64 `json:"bloom_fpr" yaml:"bloom_fpr"`

	// TypeProbe is first_group or full
	TypeProbe string `json:"type_probe" yaml:"type_probe"`

	// Tables maps table names to their column allow-lists. An empty list
	// keeps every column; an empty map archives every table.
	Tables map[string][]string `json:"tables" yaml:"tables"`
}

// CompressionConfig selects a codec and level.
type CompressionConfig struct {
	// Codec is none, snappy, zstd, lz4, s2 or gzip
	Codec string `json:"codec" yaml:"codec"`

	// Level is fastest, default, better or best
	Level string `json:"level" yaml:"level"`
}

// RestoreConfig holds restoration settings.
type RestoreConfig struct {
	// BatchSize is the number of rows per insert batch
	BatchSize int `json:"batch_size" yaml:"batch_size"`

	// Overwrite drops existing destination tables
	Overwrite bool `json:"overwrite" yaml:"overwrite"`

	// SkipIndexes leaves declared indexes out of the restored database
	SkipIndexes bool `json:"skip_indexes" yaml:"skip_indexes"`

	// Tables restricts restoration to the listed tables
	Tables []string `json:"tables" yaml:"tables"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is debug, info, warn or error
	Level string `json:"level" yaml:"level"`

	// Format is console or json
	Format string `json:"format" yaml:"format"`
}

// StorageConfig holds storage configuration.
type StorageConfig struct {
	// Type is the storage type: none, local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`

	// Cache keeps downloaded archives on local disk
	Cache CacheConfig `json:"cache" yaml:"cache"`
}

// CacheConfig holds the local archive cache settings. The cache is keyed by
// archive reference, so it suits keys that are never overwritten.
type CacheConfig struct {
	// Dir enables the cache when set
	Dir string `json:"dir" yaml:"dir"`

	// MaxBytes bounds the cache size; least recently used archives go first
	MaxBytes int64 `json:"max_bytes" yaml:"max_bytes"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// Prefix is prepended to every object key
	Prefix string `json:"prefix" yaml:"prefix"`

	// PathStyle forces path-style addressing
	PathStyle bool `json:"path_style" yaml:"path_style"`
}

// MetricsConfig holds metrics export settings.
type MetricsConfig struct {
	// Textfile is the path of a Prometheus textfile written after each run
	Textfile string `json:"textfile" yaml:"textfile"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Archive: ArchiveConfig{
			RowGroupSize: 50000,
			Compression: CompressionConfig{
				Codec: "zstd",
				Level: "default",
			},
			Dictionary:   true,
			BloomFilters: true,
			BloomFPR:     0.01,
			TypeProbe:    "first_group",
		},
		Restore: RestoreConfig{
			BatchSize: 1000,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Storage: StorageConfig{
			Type:  StorageNone,
			Cache: CacheConfig{MaxBytes: 1 << 30},
		},
	}
}

var (
	validCodecs = map[string]bool{"none": true, "snappy": true, "zstd": true, "lz4": true, "s2": true, "gzip": true}
	validLevels = map[string]bool{"fastest": true, "default": true, "better": true, "best": true}
)

// Validate validates the configuration. Failures carry the INVALID_CONFIG
// code.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return strataerrors.Wrap(strataerrors.ErrCategoryValidation, strataerrors.CodeInvalidConfig, "invalid configuration", err)
	}
	return nil
}

func (c *Config) validate() error {
	if c.Archive.RowGroupSize <= 0 {
		return fmt.Errorf("archive.row_group_size must be positive, got %d", c.Archive.RowGroupSize)
	}
	if !validCodecs[strings.ToLower(c.Archive.Compression.Codec)] {
		return fmt.Errorf("invalid archive.compression.codec: %s (must be none, snappy, zstd, lz4, s2 or gzip)", c.Archive.Compression.Codec)
	}
	if !validLevels[strings.ToLower(c.Archive.Compression.Level)] {
		return fmt.Errorf("invalid archive.compression.level: %s (must be fastest, default, better or best)", c.Archive.Compression.Level)
	}
	if c.Archive.BloomFPR <= 0 || c.Archive.BloomFPR >= 1 {
		return fmt.Errorf("archive.bloom_fpr must be between 0 and 1 exclusive, got %g", c.Archive.BloomFPR)
	}
	switch c.Archive.TypeProbe {
	case "first_group", "full":
	default:
		return fmt.Errorf("invalid archive.type_probe: %s (must be first_group or full)", c.Archive.TypeProbe)
	}

	if c.Restore.BatchSize <= 0 {
		return fmt.Errorf("restore.batch_size must be positive, got %d", c.Restore.BatchSize)
	}

	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log.format: %s (must be console or json)", c.Log.Format)
	}

	switch c.Storage.Type {
	case StorageNone, StorageLocal, StorageS3:
	default:
		return fmt.Errorf("invalid storage type: %s (must be none, local or s3)", c.Storage.Type)
	}
	if c.Storage.Type == StorageLocal && c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required when storage type is local")
	}
	if c.Storage.Type == StorageS3 && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}
	if c.Storage.Cache.Dir != "" && c.Storage.Cache.MaxBytes <= 0 {
		return fmt.Errorf("storage.cache.max_bytes must be positive, got %d", c.Storage.Cache.MaxBytes)
	}
	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file on top of the
// defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := gojson.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// Load reads .env files, then the config file at path (the defaults when
// path is empty), then applies environment overrides and validates.
func Load(path string, envFiles ...string) (*Config, error) {
	if err := LoadDotEnv(envFiles...); err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := LoadFromEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads variables from .env files without overriding variables
// already set. With no arguments it loads ./.env if present.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		files = []string{".env"}
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// LoadFromEnv applies environment variables with the STRATA_ prefix.
func LoadFromEnv(cfg *Config) error {
	var errs []string
	intVar := func(name string, dst *int) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	boolVar := func(name string, dst *bool) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}
	stringVar := func(name string, dst *string) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}

	// Archive configuration
	intVar("ARCHIVE_ROW_GROUP_SIZE", &cfg.Archive.RowGroupSize)
	stringVar("ARCHIVE_CODEC", &cfg.Archive.Compression.Codec)
	stringVar("ARCHIVE_LEVEL", &cfg.Archive.Compression.Level)
	boolVar("ARCHIVE_DICTIONARY", &cfg.Archive.Dictionary)
	boolVar("ARCHIVE_BLOOM_FILTERS", &cfg.Archive.BloomFilters)
	if v := os.Getenv(EnvPrefix + "ARCHIVE_BLOOM_FPR"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%sARCHIVE_BLOOM_FPR: %v", EnvPrefix, err))
		} else {
			cfg.Archive.BloomFPR = f
		}
	}
	stringVar("ARCHIVE_TYPE_PROBE", &cfg.Archive.TypeProbe)

	// Restore configuration
	intVar("RESTORE_BATCH_SIZE", &cfg.Restore.BatchSize)
	boolVar("RESTORE_OVERWRITE", &cfg.Restore.Overwrite)
	boolVar("RESTORE_SKIP_INDEXES", &cfg.Restore.SkipIndexes)

	// Log configuration
	stringVar("LOG_LEVEL", &cfg.Log.Level)
	stringVar("LOG_FORMAT", &cfg.Log.Format)

	// Storage configuration
	stringVar("STORAGE_TYPE", &cfg.Storage.Type)
	stringVar("STORAGE_PATH", &cfg.Storage.Path)
	stringVar("S3_BUCKET", &cfg.Storage.S3.Bucket)
	stringVar("S3_REGION", &cfg.Storage.S3.Region)
	stringVar("S3_ENDPOINT", &cfg.Storage.S3.Endpoint)
	stringVar("S3_PREFIX", &cfg.Storage.S3.Prefix)
	boolVar("S3_PATH_STYLE", &cfg.Storage.S3.PathStyle)
	stringVar("CACHE_DIR", &cfg.Storage.Cache.Dir)
	if v := os.Getenv(EnvPrefix + "CACHE_MAX_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%sCACHE_MAX_BYTES: %v", EnvPrefix, err))
		} else {
			cfg.Storage.Cache.MaxBytes = n
		}
	}

	// Metrics configuration
	stringVar("METRICS_TEXTFILE", &cfg.Metrics.Textfile)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ParseTableSpec parses a table selector of the form "table" or
// "table:col1,col2".
func ParseTableSpec(spec string) (table string, columns []string, err error) {
	table, cols, hasCols := strings.Cut(spec, ":")
	table = strings.TrimSpace(table)
	if table == "" {
		return "", nil, fmt.Errorf("empty table name in %q", spec)
	}
	if !hasCols {
		return table, nil, nil
	}
	for _, c := range strings.Split(cols, ",") {
		c = strings.TrimSpace(c)
		if c == "" {
			return "", nil, fmt.Errorf("empty column name in %q", spec)
		}
		columns = append(columns, c)
	}
	return table, columns, nil
}
