package telemetry

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/soundprediction/ipifhub/pkg/types"
)

func TestParquetHandler(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	h, err := NewParquetHandler(slog.NewTextHandler(&out, nil), dir, 2)
	require.NoError(t, err)

	log := slog.New(h).With("component", "indexsync")
	ctx := context.WithValue(context.Background(), types.ContextKeyRepo, "alpha")

	log.InfoContext(ctx, "not persisted")
	log.ErrorContext(ctx, "refresh task dropped", "error", errors.New("index unavailable"))
	assert.Equal(t, 1, h.Pending(), "derived loggers share the buffer")
	assert.Contains(t, out.String(), "not persisted")

	log.ErrorContext(ctx, "refresh task dropped", "ref", "person:p1")
	assert.Equal(t, 0, h.Pending())

	files, err := filepath.Glob(filepath.Join(dir, "hub_errors_*.parquet"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	records, err := ReadLogRecords(files[0])
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "refresh task dropped", records[0].Message)
	assert.Equal(t, "ERROR", records[0].Level)
	assert.Equal(t, "alpha", records[0].Repo)
	assert.Contains(t, records[0].Attributes, `"component":"indexsync"`)
	assert.Contains(t, records[0].Attributes, `"error":"index unavailable"`)
	assert.Contains(t, records[1].Attributes, `"ref":"person:p1"`)
}

func TestParquetHandlerFlushOnClose(t *testing.T) {
	dir := t.TempDir()
	h, err := NewParquetHandler(slog.NewTextHandler(&bytes.Buffer{}, nil), dir, 100)
	require.NoError(t, err)

	slog.New(h).Error("unit of work aborted")
	assert.Equal(t, 1, h.Pending())
	require.NoError(t, h.Close())
	assert.Equal(t, 0, h.Pending())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	// nothing buffered, nothing written
	require.NoError(t, h.Flush())
	entries, err = os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSQLHandler(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "telemetry.db"))
	require.NoError(t, err)
	defer db.Close()

	var out bytes.Buffer
	h, err := NewSQLHandler(ctx, slog.NewTextHandler(&out, nil), db, nil)
	require.NoError(t, err)

	log := slog.New(h).With("repo", "alpha")
	log.Warn("breaker half open")
	log.Error("refresh task dropped", "ref", "factoid:f1")
	log.Error("unit of work aborted")

	n, err := h.Count(ctx, "refresh task")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = h.Count(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Contains(t, out.String(), "breaker half open")

	var attrs string
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT attributes FROM telemetry_logs WHERE message = ?`, "refresh task dropped").Scan(&attrs))
	assert.Contains(t, attrs, `"repo":"alpha"`)
	assert.Contains(t, attrs, `"ref":"factoid:f1"`)

	// reopening keeps existing rows
	again, err := NewSQLHandler(ctx, slog.NewTextHandler(&out, nil), db, nil)
	require.NoError(t, err)
	n, err = again.Count(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
