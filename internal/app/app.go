// Package app wires configuration, stores, pipelines, storage and
// observability together for the Strata commands.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stratadb/strata/internal/archive"
	"github.com/stratadb/strata/internal/cache"
	"github.com/stratadb/strata/internal/compression"
	"github.com/stratadb/strata/internal/config"
	"github.com/stratadb/strata/internal/container"
	"github.com/stratadb/strata/internal/observability"
	"github.com/stratadb/strata/internal/pipeline"
	"github.com/stratadb/strata/internal/restore"
	"github.com/stratadb/strata/internal/storage"
	"github.com/stratadb/strata/internal/store"
)

// Version is the tool version recorded in every archive. It is set at build
// time with -ldflags.
var Version = "dev"

// App runs archive, restore, inspect and scan operations.
type App struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *observability.Metrics
	storage storage.ObjectStorage

	// cache holds downloaded archives; nil when disabled
	cache *cache.DiskCache

	// observer receives pipeline events from every run
	observer pipeline.Observer
}

// New creates an App. Extra observers, such as a progress bar, receive
// pipeline events alongside the logging and metrics observers.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, extra ...pipeline.Observer) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	st, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	if st != nil {
		logger.Debug("storage initialized", zap.String("type", cfg.Storage.Type))
	}

	var archives *cache.DiskCache
	if cfg.Storage.Cache.Dir != "" {
		if archives, err = cache.New(cfg.Storage.Cache.Dir, cfg.Storage.Cache.MaxBytes, logger); err != nil {
			return nil, err
		}
	}

	metrics := observability.NewMetrics()
	observers := append([]pipeline.Observer{
		observability.NewLoggingObserver(logger),
		observability.NewMetricsObserver(metrics),
	}, extra...)

	return &App{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		storage:  st,
		cache:    archives,
		observer: observability.NewMultiObserver(observers...),
	}, nil
}

// Config returns the configuration the App was built with.
func (a *App) Config() *config.Config {
	return a.cfg
}

// Metrics returns the App's metrics.
func (a *App) Metrics() *observability.Metrics {
	return a.metrics
}

// ArchiveOptions converts the archive configuration section.
func (a *App) ArchiveOptions() (archive.Options, error) {
	c := a.cfg.Archive
	opts := archive.DefaultOptions()
	opts.RowGroupSize = c.RowGroupSize
	opts.Dictionary = c.Dictionary
	opts.Bloom = c.BloomFilters
	opts.BloomFPR = c.BloomFPR
	opts.Tables = c.Tables

	var err error
	if opts.Codec, err = compression.ParseCodec(c.Compression.Codec); err != nil {
		return opts, err
	}
	if opts.Level, err = compression.ParseLevel(c.Compression.Level); err != nil {
		return opts, err
	}
	if opts.Probe, err = archive.ParseProbeMode(c.TypeProbe); err != nil {
		return opts, err
	}
	return opts, opts.Validate()
}

// RestoreOptions converts the restore configuration section.
func (a *App) RestoreOptions() restore.Options {
	c := a.cfg.Restore
	return restore.Options{
		BatchSize:   c.BatchSize,
		Overwrite:   c.Overwrite,
		SkipIndexes: c.SkipIndexes,
		Tables:      c.Tables,
	}
}

// ArchiveReport summarizes an archive run.
type ArchiveReport struct {
	Path     string
	Info     container.ArchiveInfo
	Size     int64
	Results  []pipeline.TableResult
	Duration time.Duration

	// UploadedTo is the object key the archive was uploaded to, if any
	UploadedTo string
}

// Failed returns the tables that failed.
func (r *ArchiveReport) Failed() []pipeline.TableResult {
	return pipeline.Failed(r.Results)
}

// Archive converts the database at dbPath into an archive at archivePath.
// With a non-empty uploadKey the finished archive is uploaded to the
// configured storage. Table failures are reported in the results; the error
// is reserved for failures of the run as a whole. A cancelled run still
// leaves a valid archive holding the tables finished before cancellation.
func (a *App) Archive(ctx context.Context, dbPath, archivePath string, failFast bool, uploadKey string) (*ArchiveReport, error) {
	start := time.Now()
	opts, err := a.ArchiveOptions()
	if err != nil {
		return nil, err
	}
	opts.FailFast = failFast
	if uploadKey != "" && a.storage == nil {
		return nil, fmt.Errorf("cannot upload %s: storage type is none", uploadKey)
	}

	src, err := store.OpenSource(ctx, dbPath)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	archiver, err := archive.New(opts, a.observer)
	if err != nil {
		return nil, err
	}

	w, err := container.Create(archivePath, container.ArchiveInfo{
		ToolVersion:  Version,
		Source:       filepath.Base(dbPath),
		Codec:        opts.Codec.String(),
		RowGroupSize: opts.RowGroupSize,
	})
	if err != nil {
		return nil, err
	}

	a.logger.Info("archiving",
		zap.String("source", dbPath),
		zap.String("archive", archivePath),
		zap.String("id", w.Info().ID),
		zap.String("codec", opts.Codec.String()),
		zap.Int("row_group_size", opts.RowGroupSize))

	results, runErr := archiver.ArchiveDatabase(ctx, src, w)
	if err := w.Close(); err != nil {
		os.Remove(archivePath)
		return nil, err
	}

	report := &ArchiveReport{
		Path:    archivePath,
		Info:    w.Info(),
		Results: results,
	}
	if fi, err := os.Stat(archivePath); err == nil {
		report.Size = fi.Size()
	}
	if runErr != nil {
		report.Duration = time.Since(start)
		a.writeMetrics()
		return report, runErr
	}

	if uploadKey != "" {
		if err := a.storage.Upload(ctx, archivePath, uploadKey); err != nil {
			return report, err
		}
		report.UploadedTo = uploadKey
		a.logger.Info("archive uploaded", zap.String("key", uploadKey))
	}

	report.Duration = time.Since(start)
	a.writeMetrics()
	return report, nil
}

// RestoreReport summarizes a restore run.
type RestoreReport struct {
	Archive  string
	Info     container.ArchiveInfo
	Results  []pipeline.TableResult
	Duration time.Duration
}

// Failed returns the tables that failed.
func (r *RestoreReport) Failed() []pipeline.TableResult {
	return pipeline.Failed(r.Results)
}

// Restore rebuilds tables from the archive referenced by archiveRef into the
// database at dbPath. archiveRef is a file path, "storage:<key>" or
// "s3://bucket/key".
func (a *App) Restore(ctx context.Context, archiveRef, dbPath string, failFast bool) (*RestoreReport, error) {
	start := time.Now()
	opts := a.RestoreOptions()
	opts.FailFast = failFast

	restorer, err := restore.New(opts, a.observer)
	if err != nil {
		return nil, err
	}

	r, cleanup, err := a.openArchive(ctx, archiveRef)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	dst, err := store.OpenDestination(ctx, dbPath)
	if err != nil {
		return nil, err
	}

	a.logger.Info("restoring",
		zap.String("archive", archiveRef),
		zap.String("destination", dbPath),
		zap.String("id", r.Info().ID))

	results, runErr := restorer.RestoreArchive(ctx, r, dst)
	closeErr := dst.Close()

	report := &RestoreReport{
		Archive:  archiveRef,
		Info:     r.Info(),
		Results:  results,
		Duration: time.Since(start),
	}
	a.writeMetrics()
	if runErr != nil {
		return report, runErr
	}
	return report, closeErr
}

// openArchive opens a local archive, downloading it first when archiveRef
// names a storage object. The returned cleanup closes the reader and removes
// any downloaded copy.
func (a *App) openArchive(ctx context.Context, archiveRef string) (*container.Reader, func(), error) {
	path, removeLocal, err := a.fetchArchive(ctx, archiveRef)
	if err != nil {
		return nil, nil, err
	}
	r, err := container.Open(path)
	if err != nil {
		removeLocal()
		return nil, nil, err
	}
	return r, func() {
		r.Close()
		removeLocal()
	}, nil
}

func (a *App) fetchArchive(ctx context.Context, archiveRef string) (path string, cleanup func(), err error) {
	loc, remote, err := storage.ParseLocation(archiveRef)
	if err != nil {
		return "", nil, err
	}
	if !remote {
		return archiveRef, func() {}, nil
	}

	st := a.storage
	if loc.Bucket != "" {
		s3cfg := storage.S3ConfigFrom(a.cfg.Storage.S3)
		s3cfg.Prefix = ""
		if st, err = storage.NewS3Storage(ctx, loc.Bucket, s3cfg); err != nil {
			return "", nil, err
		}
	}
	if st == nil {
		return "", nil, fmt.Errorf("cannot fetch %s: storage type is none", archiveRef)
	}

	key := a.cacheKey(loc)
	if a.cache != nil {
		if cached, ok := a.cache.Get(key); ok {
			a.metrics.RecordCacheLookup(true, a.cache.Size())
			a.logger.Debug("archive cache hit", zap.String("ref", archiveRef), zap.String("path", cached))
			a.cache.Pin(key)
			return cached, func() { a.cache.Unpin(key) }, nil
		}
	}

	tempParent := ""
	if a.cache != nil {
		tempParent = a.cache.Dir()
	}
	dir, err := os.MkdirTemp(tempParent, "strata-")
	if err != nil {
		return "", nil, err
	}
	cleanup = func() { os.RemoveAll(dir) }

	local := filepath.Join(dir, filepath.Base(strings.TrimSuffix(loc.Key, "/")))
	a.logger.Info("downloading archive", zap.String("ref", archiveRef))
	if err := st.Download(ctx, loc.Key, local); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to download %s: %w", archiveRef, err)
	}
	if a.cache == nil {
		return local, cleanup, nil
	}

	cached, err := a.cache.Put(key, local)
	cleanup()
	if err != nil {
		return "", nil, err
	}
	a.metrics.RecordCacheLookup(false, a.cache.Size())
	a.cache.Pin(key)
	return cached, func() { a.cache.Unpin(key) }, nil
}

// cacheKey identifies a remote archive independently of how it was
// referenced.
func (a *App) cacheKey(loc storage.Location) string {
	if loc.Bucket != "" {
		return "s3://" + loc.Bucket + "/" + loc.Key
	}
	sc := a.cfg.Storage
	switch sc.Type {
	case config.StorageS3:
		return "s3://" + sc.S3.Bucket + "/" + storage.JoinKey(sc.S3.Prefix, loc.Key)
	case config.StorageLocal:
		return "local://" + filepath.ToSlash(filepath.Join(sc.Path, loc.Key))
	}
	return loc.Key
}

func (a *App) writeMetrics() {
	if a.cfg.Metrics.Textfile == "" {
		return
	}
	if err := a.metrics.WriteTextfile(a.cfg.Metrics.Textfile); err != nil {
		a.logger.Warn("failed to write metrics", zap.Error(err))
	}
}
