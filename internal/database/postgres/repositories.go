package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bardlex/snapminer/internal/telemetry"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS submissions (
		id            BIGSERIAL PRIMARY KEY,
		miner         TEXT        NOT NULL,
		worker        INTEGER     NOT NULL,
		height        BIGINT      NOT NULL,
		block_hash    TEXT        NOT NULL,
		outcome       TEXT        NOT NULL,
		reason        TEXT        NOT NULL DEFAULT '',
		since_last_ms BIGINT      NOT NULL DEFAULT 0,
		latency_ms    BIGINT      NOT NULL DEFAULT 0,
		submitted_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS submissions_miner_time ON submissions (miner, submitted_at DESC)`,
	`CREATE TABLE IF NOT EXISTS hashrate_samples (
		id             BIGSERIAL PRIMARY KEY,
		miner          TEXT             NOT NULL,
		hashes         BIGINT           NOT NULL,
		interval_ms    BIGINT           NOT NULL,
		hashes_per_sec DOUBLE PRECISION NOT NULL,
		workers        INTEGER          NOT NULL,
		sampled_at     TIMESTAMPTZ      NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS hashrate_samples_miner_time ON hashrate_samples (miner, sampled_at DESC)`,
}

// EnsureSchema creates the tables and indexes if they do not exist
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// SubmissionRepository handles submission rows
type SubmissionRepository struct {
	db *sql.DB
}

// NewSubmissionRepository creates a new submission repository
func NewSubmissionRepository(db *sql.DB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

// Insert stores a submission and sets its ID
func (r *SubmissionRepository) Insert(ctx context.Context, s *Submission) error {
	query := `
		INSERT INTO submissions (miner, worker, height, block_hash, outcome, reason,
		                         since_last_ms, latency_ms, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		s.Miner, s.Worker, s.Height, s.BlockHash, s.Outcome, s.Reason,
		s.SinceLastMs, s.LatencyMs, s.SubmittedAt,
	).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("failed to insert submission: %w", err)
	}

	return nil
}

// Recent returns the miner's latest submissions, newest first
func (r *SubmissionRepository) Recent(ctx context.Context, miner string, limit int) ([]*Submission, error) {
	query := `
		SELECT id, miner, worker, height, block_hash, outcome, reason,
		       since_last_ms, latency_ms, submitted_at
		FROM submissions
		WHERE miner = $1
		ORDER BY submitted_at DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, miner, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query submissions: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []*Submission
	for rows.Next() {
		s := &Submission{}
		if err := rows.Scan(
			&s.ID, &s.Miner, &s.Worker, &s.Height, &s.BlockHash, &s.Outcome, &s.Reason,
			&s.SinceLastMs, &s.LatencyMs, &s.SubmittedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		out = append(out, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating submissions: %w", err)
	}

	return out, nil
}

// CountByOutcome totals the miner's submissions per outcome
func (r *SubmissionRepository) CountByOutcome(ctx context.Context, miner string) ([]OutcomeCount, error) {
	query := `SELECT outcome, COUNT(*) FROM submissions WHERE miner = $1 GROUP BY outcome ORDER BY outcome`

	rows, err := r.db.QueryContext(ctx, query, miner)
	if err != nil {
		return nil, fmt.Errorf("failed to count submissions: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []OutcomeCount
	for rows.Next() {
		var c OutcomeCount
		if err := rows.Scan(&c.Outcome, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan outcome count: %w", err)
		}
		out = append(out, c)
	}

	return out, rows.Err()
}

// HashrateRepository handles hashrate sample rows
type HashrateRepository struct {
	db *sql.DB
}

// NewHashrateRepository creates a new hashrate repository
func NewHashrateRepository(db *sql.DB) *HashrateRepository {
	return &HashrateRepository{db: db}
}

// Insert stores a hashrate sample
func (r *HashrateRepository) Insert(ctx context.Context, h *HashrateSample) error {
	query := `
		INSERT INTO hashrate_samples (miner, hashes, interval_ms, hashes_per_sec, workers, sampled_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		h.Miner, h.Hashes, h.IntervalMs, h.HashesPerSec, h.Workers, h.SampledAt,
	).Scan(&h.ID)
	if err != nil {
		return fmt.Errorf("failed to insert hashrate sample: %w", err)
	}

	return nil
}

// RecordHashrate implements telemetry.Sink
func (c *Client) RecordHashrate(ctx context.Context, h telemetry.Hashrate) error {
	return c.Hashrates.Insert(ctx, HashrateFromEvent(h))
}

// RecordSubmission implements telemetry.Sink
func (c *Client) RecordSubmission(ctx context.Context, s telemetry.Submission) error {
	return c.Submissions.Insert(ctx, SubmissionFromEvent(s))
}

// RecentSubmissions returns the miner's latest submissions, newest first
func (c *Client) RecentSubmissions(ctx context.Context, miner string, limit int) ([]telemetry.Submission, error) {
	rows, err := c.Submissions.Recent(ctx, miner, limit)
	if err != nil {
		return nil, err
	}
	out := make([]telemetry.Submission, len(rows))
	for i, row := range rows {
		out[i] = row.Event()
	}
	return out, nil
}

// OutcomeCounts returns the per-outcome submission totals
func (c *Client) OutcomeCounts(ctx context.Context, miner string) (map[string]int64, error) {
	counts, err := c.Submissions.CountByOutcome(ctx, miner)
	if err != nil {
		return nil, err
	}
	return outcomeMap(counts), nil
}

func outcomeMap(counts []OutcomeCount) map[string]int64 {
	out := make(map[string]int64, len(counts))
	for _, c := range counts {
		out[c.Outcome] += c.Count
	}
	return out
}
