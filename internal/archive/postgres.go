// Package archive records terminal job outcomes in Postgres for audit.
// Archiving is optional and best-effort: with no database configured nothing
// is recorded, and a failing insert never affects job processing.
// NewPostgresArchive returns an error when the pool or the schema cannot be
// set up.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"mediaqueue/internal/media"
)

// Entry is one archived attempt.
type Entry struct {
	PostID  string
	UserID  string
	Attempt int
	Status  string
	Results []media.Result
	Error   string
}

// Archive is the job-history sink. NoopArchive satisfies it when no database
// is configured.
type Archive interface {
	Record(ctx context.Context, entry Entry)
	Close()
}

// NoopArchive discards every entry.
type NoopArchive struct{}

func (NoopArchive) Record(ctx context.Context, entry Entry) {}
func (NoopArchive) Close()                                  {}

// PostgresArchive appends attempt rows to the job_history table.
type PostgresArchive struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	now    func() time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS job_history (
    id BIGSERIAL PRIMARY KEY,
    post_id TEXT NOT NULL,
    user_id TEXT NOT NULL DEFAULT '',
    attempt INT NOT NULL,
    status TEXT NOT NULL,
    results JSONB,
    error TEXT NOT NULL DEFAULT '',
    recorded_at TIMESTAMPTZ NOT NULL
)`

// NewPostgresArchive opens the pool and ensures the history table exists.
func NewPostgresArchive(ctx context.Context, dsn string, logger *slog.Logger) (*PostgresArchive, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure job_history table: %w", err)
	}
	return &PostgresArchive{pool: pool, logger: logger, now: time.Now}, nil
}

// Record inserts one attempt row. Failures are logged and dropped.
func (a *PostgresArchive) Record(ctx context.Context, entry Entry) {
	var results any
	if len(entry.Results) > 0 {
		raw, err := json.Marshal(entry.Results)
		if err != nil {
			a.logger.Warn("encode archive results failed", "post_id", entry.PostID, "error", err)
		} else {
			results = raw
		}
	}
	_, err := a.pool.Exec(ctx, `
        INSERT INTO job_history (post_id, user_id, attempt, status, results, error, recorded_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.PostID, entry.UserID, entry.Attempt, entry.Status, results, entry.Error, a.now().UTC(),
	)
	if err != nil {
		a.logger.Warn("archive job history failed", "post_id", entry.PostID, "error", err)
	}
}

// Close releases the pool.
func (a *PostgresArchive) Close() {
	if a != nil && a.pool != nil {
		a.pool.Close()
	}
}
