package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// SQLHandler is a slog.Handler that writes error logs to a SQL database.
// Give it its own database: a SQLite store holding its single connection in
// an open transaction would block the insert.
type SQLHandler struct {
	next      slog.Handler
	db        *sql.DB
	tableName string
	rebind    func(string) string
	attrs     []slog.Attr
}

// NewSQLHandler creates a new SQLHandler using an existing DB connection.
// rebind converts "?" placeholders to the driver's form; nil keeps them.
func NewSQLHandler(ctx context.Context, next slog.Handler, db *sql.DB, rebind func(string) string) (*SQLHandler, error) {
	if rebind == nil {
		rebind = func(q string) string { return q }
	}
	h := &SQLHandler{
		next:      next,
		db:        db,
		tableName: "telemetry_logs",
		rebind:    rebind,
	}

	if err := h.ensureTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure telemetry table: %w", err)
	}

	return h, nil
}

func (h *SQLHandler) ensureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(36) PRIMARY KEY,
			timestamp TEXT,
			level VARCHAR(10),
			message TEXT,
			user_id VARCHAR(255),
			repo VARCHAR(255),
			request_source VARCHAR(255),
			source_file VARCHAR(255),
			line_number INT,
			attributes TEXT
		)
	`, h.tableName)

	_, err := h.db.ExecContext(ctx, query)
	return err
}

// Enabled implements slog.Handler
func (h *SQLHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle implements slog.Handler
func (h *SQLHandler) Handle(ctx context.Context, r slog.Record) error {
	// Always pass to next handler first
	if err := h.next.Handle(ctx, r); err != nil {
		return err
	}

	// Only log errors (and above) to DB, similar to ParquetHandler
	if r.Level < slog.LevelError {
		return nil
	}

	rec := newLogRecord(ctx, r, h.attrs)
	query := h.rebind(fmt.Sprintf(`
		INSERT INTO %s (id, timestamp, level, message, user_id, repo, request_source, source_file, line_number, attributes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, h.tableName))

	_, err := h.db.ExecContext(context.WithoutCancel(ctx), query,
		rec.ID,
		rec.Timestamp.Format("2006-01-02T15:04:05.000000000Z07:00"),
		rec.Level,
		rec.Message,
		rec.UserID,
		rec.Repo,
		rec.RequestSource,
		rec.SourceFile,
		rec.LineNumber,
		rec.Attributes,
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write log to SQL: %v\n", err)
	}

	return nil // Don't block logging chain on database error
}

// Count returns the number of stored records whose message contains substr.
func (h *SQLHandler) Count(ctx context.Context, substr string) (int, error) {
	var n int
	query := h.rebind(fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE message LIKE ?`, h.tableName))
	err := h.db.QueryRowContext(ctx, query, "%"+strings.ReplaceAll(substr, "%", "")+"%").Scan(&n)
	return n, err
}

// WithAttrs implements slog.Handler
func (h *SQLHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &SQLHandler{
		next:      h.next.WithAttrs(attrs),
		db:        h.db,
		tableName: h.tableName,
		rebind:    h.rebind,
		attrs:     append(append([]slog.Attr(nil), h.attrs...), attrs...),
	}
}

// WithGroup implements slog.Handler
func (h *SQLHandler) WithGroup(name string) slog.Handler {
	return &SQLHandler{
		next:      h.next.WithGroup(name),
		db:        h.db,
		tableName: h.tableName,
		rebind:    h.rebind,
		attrs:     h.attrs,
	}
}
