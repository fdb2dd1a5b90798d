package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mailgauge/internal/models"
)

// Job tracks one bulk upload batch.
type Job struct {
	ID             string     `json:"id"`
	Status         string     `json:"status"`
	TotalCount     int        `json:"total_count"`
	ProcessedCount int        `json:"processed_count"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// VerdictRow is one stored verdict. Data carries the full verdict JSON
// so results can be re-read later without re-validating.
type VerdictRow struct {
	Email       string          `json:"email"`
	Result      string          `json:"result"`
	IsValid     bool            `json:"is_valid"`
	Deliverable bool            `json:"deliverable"`
	Confidence  int             `json:"confidence"`
	Data        json.RawMessage `json:"data"`
}

// Store wraps the Postgres pool used by the API and the workers.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to Postgres, pings it, and applies the migrations.
func New(ctx context.Context, connString string) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the tables if they don't exist.
func (s *Store) migrate(ctx context.Context) error {
	jobs := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		total_count INT DEFAULT 0,
		processed_count INT DEFAULT 0,
		created_at TIMESTAMP DEFAULT NOW(),
		completed_at TIMESTAMP
	);`

	verdicts := `
	CREATE TABLE IF NOT EXISTS verdicts (
		id SERIAL PRIMARY KEY,
		job_id TEXT NOT NULL REFERENCES jobs(id),
		email TEXT NOT NULL,
		result TEXT NOT NULL,
		is_valid BOOLEAN NOT NULL,
		deliverable BOOLEAN NOT NULL,
		confidence INT NOT NULL,
		data JSONB NOT NULL
	);`

	if _, err := s.pool.Exec(ctx, jobs); err != nil {
		return fmt.Errorf("migration failed (jobs): %w", err)
	}
	if _, err := s.pool.Exec(ctx, verdicts); err != nil {
		return fmt.Errorf("migration failed (verdicts): %w", err)
	}
	return nil
}

// CreateJob registers a pending batch with its total size.
func (s *Store) CreateJob(ctx context.Context, jobID string, total int) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, status, total_count, created_at) VALUES ($1, 'pending', $2, NOW())`,
		jobID, total)
	if err != nil {
		return fmt.Errorf("create job %s: %w", jobID, err)
	}
	return nil
}

// GetJob fetches one job. The error satisfies IsNotFound when the id is
// unknown.
func (s *Store) GetJob(ctx context.Context, jobID string) (Job, error) {
	var job Job
	err := s.pool.QueryRow(ctx,
		`SELECT id, status, total_count, processed_count, created_at, completed_at
		 FROM jobs WHERE id = $1`, jobID).
		Scan(&job.ID, &job.Status, &job.TotalCount, &job.ProcessedCount, &job.CreatedAt, &job.CompletedAt)
	if err != nil {
		return Job{}, err
	}
	return job, nil
}

// SaveVerdict stores one verdict and bumps the job's progress in the
// same transaction; the job flips to completed when the counter reaches
// the total.
func (s *Store) SaveVerdict(ctx context.Context, jobID string, verdict models.ValidationVerdict) error {
	data, err := json.Marshal(verdict)
	if err != nil {
		return fmt.Errorf("marshal verdict for %s: %w", verdict.Email, err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO verdicts (job_id, email, result, is_valid, deliverable, confidence, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, jobID, verdict.Email, string(verdict.Result), verdict.IsValid, verdict.Deliverable, verdict.Confidence, data)
	if err != nil {
		return fmt.Errorf("insert verdict: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE jobs
		SET processed_count = processed_count + 1,
		    status = CASE
		        WHEN processed_count + 1 >= total_count THEN 'completed'
		        ELSE status
		    END,
		    completed_at = CASE
		        WHEN processed_count + 1 >= total_count THEN NOW()
		        ELSE completed_at
		    END
		WHERE id = $1
	`, jobID)
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}

	return tx.Commit(ctx)
}

// ListVerdicts returns a job's verdicts in the order they were saved.
func (s *Store) ListVerdicts(ctx context.Context, jobID string) ([]VerdictRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT email, result, is_valid, deliverable, confidence, data
		 FROM verdicts WHERE job_id = $1 ORDER BY id ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query verdicts for %s: %w", jobID, err)
	}
	defer rows.Close()

	results := []VerdictRow{}
	for rows.Next() {
		var row VerdictRow
		if err := rows.Scan(&row.Email, &row.Result, &row.IsValid, &row.Deliverable, &row.Confidence, &row.Data); err != nil {
			return nil, fmt.Errorf("scan verdict row: %w", err)
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

// IsNotFound reports whether err means the row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}
