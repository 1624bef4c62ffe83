// Package history records synthesis jobs in a local SQLite database so
// past runs can be listed with their cost estimates and outcomes.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/chanterlabs/chanter/internal/config"
	_ "modernc.org/sqlite"
)

// Job statuses as stored in the jobs table.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusAborted   = "aborted"
)

// Job is one synthesis run.
type Job struct {
	ID           string
	CreatedAt    time.Time
	CompletedAt  time.Time
	Model        string
	Voice        string
	Format       string
	Characters   int
	Chunks       int
	EstimatedUSD float64
	OutputPath   string
	Status       string
	Error        string
}

// Store wraps a SQLite-backed job history. An empty path disables
// persistence and every method becomes a no-op.
type Store struct {
	db    *sql.DB
	cfg   config.HistoryConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the history store according to config.
func Open(ctx context.Context, cfg config.HistoryConfig, log *slog.Logger) (*Store, error) {
	if cfg.Path == "" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("job history prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS jobs (
    job_id TEXT PRIMARY KEY,
    created_at TIMESTAMP NOT NULL,
    completed_at TIMESTAMP,
    model TEXT,
    voice TEXT,
    format TEXT,
    characters INTEGER,
    chunks INTEGER,
    estimated_usd REAL,
    output_path TEXT,
    status TEXT NOT NULL,
    error TEXT
);
CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append records a new job, typically in the running state.
func (s *Store) Append(ctx context.Context, job Job) error {
	if s.db == nil {
		return nil
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.clock().UTC()
	}
	if job.Status == "" {
		job.Status = StatusRunning
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs(job_id, created_at, model, voice, format, characters, chunks, estimated_usd, output_path, status, error)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(job_id) DO UPDATE SET status=excluded.status, error=excluded.error`,
		job.ID, job.CreatedAt, job.Model, job.Voice, job.Format, job.Characters,
		job.Chunks, job.EstimatedUSD, job.OutputPath, job.Status, job.Error)
	return err
}

// Complete marks a job finished with the given status and optional error text.
func (s *Store) Complete(ctx context.Context, id, status, errMsg string) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error = ?, completed_at = ? WHERE job_id = ?`,
		status, errMsg, s.clock().UTC(), id)
	return err
}

// List retrieves up to limit jobs ordered newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Job, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, created_at, completed_at, model, voice, format, characters, chunks, estimated_usd, output_path, status, error
		 FROM jobs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		var created string
		var completed sql.NullString
		if err := rows.Scan(&j.ID, &created, &completed, &j.Model, &j.Voice, &j.Format,
			&j.Characters, &j.Chunks, &j.EstimatedUSD, &j.OutputPath, &j.Status, &j.Error); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			j.CreatedAt = ts
		}
		if completed.Valid {
			if ts, err := time.Parse(time.RFC3339Nano, completed.String); err == nil {
				j.CompletedAt = ts
			}
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// Prune keeps only the newest max_jobs entries (called on startup and
// after each completed run).
func (s *Store) Prune(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	if s.cfg.MaxJobs <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE job_id IN (
		SELECT job_id FROM jobs ORDER BY created_at DESC LIMIT -1 OFFSET ?
	)`, s.cfg.MaxJobs)
	return err
}
