package observability

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/stratadb/strata/internal/config"
	strataerrors "github.com/stratadb/strata/internal/errors"
	"github.com/stratadb/strata/internal/pipeline"
)

func TestNewLogger(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		logger, err := NewLogger(config.LogConfig{Level: "debug", Format: format})
		require.NoError(t, err)
		assert.True(t, logger.Core().Enabled(zap.DebugLevel))
	}

	_, err := NewLogger(config.LogConfig{Level: "chatty"})
	assert.Error(t, err)
}

func TestLoggingObserver(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	obs := NewLoggingObserver(zap.New(core))

	obs.TableStarted(pipeline.Archive, "users", 10)
	obs.RowGroupSealed(pipeline.Progress{Direction: pipeline.Archive, Table: "users", Rows: 10, TotalRows: 10})
	obs.TableFinished(pipeline.TableResult{Direction: pipeline.Archive, Table: "users", Rows: 10, RowGroups: 1})
	obs.TableFinished(pipeline.TableResult{
		Direction: pipeline.Archive,
		Table:     "events",
		Err:       strataerrors.SchemaIncompatible("events", "payload", "mixed TEXT and BLOB"),
	})

	entries := logs.AllUntimed()
	require.Len(t, entries, 4)
	assert.Equal(t, "table started", entries[0].Message)
	assert.Equal(t, zap.DebugLevel, entries[1].Level)
	assert.Equal(t, "table finished", entries[2].Message)
	assert.Equal(t, zap.ErrorLevel, entries[3].Level)
	assert.Equal(t, strataerrors.CodeSchemaIncompatible, entries[3].ContextMap()["code"])
}

func TestMetricsObserver_WriteTextfile(t *testing.T) {
	m := NewMetrics()
	obs := NewMultiObserver(nil, NewMetricsObserver(m))

	obs.TableStarted(pipeline.Archive, "users", 3)
	obs.RowGroupSealed(pipeline.Progress{Direction: pipeline.Archive, Table: "users", Rows: 2, RawBytes: 100, CompressedBytes: 40})
	obs.RowGroupSealed(pipeline.Progress{Direction: pipeline.Archive, Table: "users", Rows: 1, RawBytes: 50, CompressedBytes: 20})
	obs.TableFinished(pipeline.TableResult{Direction: pipeline.Archive, Table: "users", Rows: 3, Duration: time.Second})
	obs.TableFinished(pipeline.TableResult{Direction: pipeline.Restore, Table: "events", Err: errors.New("boom")})
	m.RecordCacheLookup(false, 0)
	m.RecordCacheLookup(true, 4096)

	path := filepath.Join(t.TempDir(), "strata.prom")
	require.NoError(t, m.WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)

	assert.Contains(t, text, `strata_rows_total{direction="archive",table="users"} 3`)
	assert.Contains(t, text, `strata_row_groups_total{direction="archive",table="users"} 2`)
	assert.Contains(t, text, `strata_chunk_bytes_total{kind="compressed"} 60`)
	assert.Contains(t, text, `strata_chunk_bytes_total{kind="raw"} 150`)
	assert.Contains(t, text, `strata_table_failures_total{code="UNEXPECTED",direction="restore"} 1`)
	assert.Contains(t, text, `strata_archive_cache_lookups_total{result="hit"} 1`)
	assert.Contains(t, text, "strata_archive_cache_bytes 4096")
	assert.True(t, strings.Contains(text, "strata_table_duration_seconds_count"))
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "CANCELED", ErrorCode(fmt.Errorf("table users: %w", context.Canceled)))
	assert.Equal(t, strataerrors.CodeCorruptArchive, ErrorCode(strataerrors.Corrupt("bad", nil)))
	assert.Equal(t, strataerrors.CodeUnexpected, ErrorCode(errors.New("x")))
}

func TestPruningStats_Concurrent(t *testing.T) {
	s := NewPruningStats()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.RecordPredicate("id", "=", j%2 == 0)
				s.RecordPredicate("sensor", "IN", true)
			}
		}()
	}
	wg.Wait()

	top := s.Top(5)
	require.Len(t, top, 2)
	assert.Equal(t, PredicateStats{Column: "sensor", Operator: "IN", Evaluated: 1000, Skipped: 1000}, top[0])
	assert.Equal(t, PredicateStats{Column: "id", Operator: "=", Evaluated: 1000, Skipped: 500}, top[1])
	assert.Empty(t, s.Top(0))
}
