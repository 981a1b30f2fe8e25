package observability

import (
	"context"
	"errors"

	"go.uber.org/zap"

	strataerrors "github.com/stratadb/strata/internal/errors"
	"github.com/stratadb/strata/internal/pipeline"
)

// MultiObserver fans events out to several observers in order. Nil entries
// are skipped.
type MultiObserver []pipeline.Observer

// NewMultiObserver combines the non-nil observers.
func NewMultiObserver(observers ...pipeline.Observer) MultiObserver {
	var m MultiObserver
	for _, o := range observers {
		if o != nil {
			m = append(m, o)
		}
	}
	return m
}

func (m MultiObserver) TableStarted(dir pipeline.Direction, table string, expectedRows int64) {
	for _, o := range m {
		o.TableStarted(dir, table, expectedRows)
	}
}

func (m MultiObserver) RowGroupSealed(p pipeline.Progress) {
	for _, o := range m {
		o.RowGroupSealed(p)
	}
}

func (m MultiObserver) TableFinished(r pipeline.TableResult) {
	for _, o := range m {
		o.TableFinished(r)
	}
}

// LoggingObserver logs pipeline events.
type LoggingObserver struct {
	logger *zap.Logger
}

// NewLoggingObserver returns an observer logging to logger.
func NewLoggingObserver(logger *zap.Logger) *LoggingObserver {
	return &LoggingObserver{logger: logger}
}

func (o *LoggingObserver) TableStarted(dir pipeline.Direction, table string, expectedRows int64) {
	o.logger.Info("table started",
		zap.String("direction", string(dir)),
		zap.String("table", table),
		zap.Int64("expected_rows", expectedRows))
}

func (o *LoggingObserver) RowGroupSealed(p pipeline.Progress) {
	if ce := o.logger.Check(zap.DebugLevel, "row group"); ce != nil {
		ce.Write(
			zap.String("direction", string(p.Direction)),
			zap.String("table", p.Table),
			zap.Int("row_group", p.RowGroup),
			zap.Int64("rows", p.Rows),
			zap.Int64("total_rows", p.TotalRows),
			zap.Int64("raw_bytes", p.RawBytes),
			zap.Int64("compressed_bytes", p.CompressedBytes))
	}
}

func (o *LoggingObserver) TableFinished(r pipeline.TableResult) {
	fields := []zap.Field{
		zap.String("direction", string(r.Direction)),
		zap.String("table", r.Table),
		zap.Int64("rows", r.Rows),
		zap.Int("row_groups", r.RowGroups),
		zap.Duration("duration", r.Duration),
	}
	if r.Err != nil {
		fields = append(fields, zap.String("code", ErrorCode(r.Err)), zap.Error(r.Err))
		o.logger.Error("table failed", fields...)
		return
	}
	if r.Direction == pipeline.Archive {
		fields = append(fields,
			zap.Int64("raw_bytes", r.RawBytes()),
			zap.Int64("compressed_bytes", r.CompressedBytes()))
	}
	o.logger.Info("table finished", fields...)
}

// MetricsObserver records pipeline events in Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver returns an observer updating m.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) TableStarted(pipeline.Direction, string, int64) {}

func (o *MetricsObserver) RowGroupSealed(p pipeline.Progress) {
	dir := string(p.Direction)
	o.metrics.rows.WithLabelValues(p.Table, dir).Add(float64(p.Rows))
	o.metrics.rowGroups.WithLabelValues(p.Table, dir).Inc()
	if p.Direction == pipeline.Archive {
		o.metrics.chunkBytes.WithLabelValues("raw").Add(float64(p.RawBytes))
		o.metrics.chunkBytes.WithLabelValues("compressed").Add(float64(p.CompressedBytes))
	}
}

func (o *MetricsObserver) TableFinished(r pipeline.TableResult) {
	dir := string(r.Direction)
	o.metrics.tableDuration.WithLabelValues(dir).Observe(r.Duration.Seconds())
	if r.Err != nil {
		o.metrics.failures.WithLabelValues(dir, ErrorCode(r.Err)).Inc()
	}
}

// ErrorCode returns the Strata error code of err, CANCELED for context
// cancellation and UNEXPECTED for anything unclassified.
func ErrorCode(err error) string {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "CANCELED"
	}
	if code := strataerrors.GetCode(err); code != "" {
		return code
	}
	return strataerrors.CodeUnexpected
}
