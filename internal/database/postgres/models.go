package postgres

import (
	"time"

	"github.com/bardlex/snapminer/internal/telemetry"
)

// Submission is one row of the submissions table
type Submission struct {
	ID          int64     `db:"id"`
	Miner       string    `db:"miner"`
	Worker      int       `db:"worker"`
	Height      int64     `db:"height"`
	BlockHash   string    `db:"block_hash"`
	Outcome     string    `db:"outcome"`
	Reason      string    `db:"reason"`
	SinceLastMs int64     `db:"since_last_ms"`
	LatencyMs   int64     `db:"latency_ms"`
	SubmittedAt time.Time `db:"submitted_at"`
}

// SubmissionFromEvent converts a telemetry event into a row
func SubmissionFromEvent(s telemetry.Submission) *Submission {
	return &Submission{
		Miner:       s.Miner,
		Worker:      s.Worker,
		Height:      s.Height,
		BlockHash:   s.BlockHash,
		Outcome:     s.Outcome,
		Reason:      s.Reason,
		SinceLastMs: s.SinceLast.Milliseconds(),
		LatencyMs:   s.Latency.Milliseconds(),
		SubmittedAt: s.Time,
	}
}

// HashrateSample is one row of the hashrate_samples table
type HashrateSample struct {
	ID           int64     `db:"id"`
	Miner        string    `db:"miner"`
	Hashes       int64     `db:"hashes"`
	IntervalMs   int64     `db:"interval_ms"`
	HashesPerSec float64   `db:"hashes_per_sec"`
	Workers      int       `db:"workers"`
	SampledAt    time.Time `db:"sampled_at"`
}

// HashrateFromEvent converts a telemetry sample into a row
func HashrateFromEvent(h telemetry.Hashrate) *HashrateSample {
	return &HashrateSample{
		Miner:        h.Miner,
		Hashes:       int64(h.Hashes),
		IntervalMs:   h.Interval.Milliseconds(),
		HashesPerSec: h.Rate,
		Workers:      h.Workers,
		SampledAt:    h.Time,
	}
}

// OutcomeCount is the number of submissions with one outcome
type OutcomeCount struct {
	Outcome string `db:"outcome"`
	Count   int64  `db:"count"`
}

// Event converts the row back into a telemetry event
func (s *Submission) Event() telemetry.Submission {
	return telemetry.Submission{
		Time:      s.SubmittedAt,
		Miner:     s.Miner,
		Worker:    s.Worker,
		Height:    s.Height,
		BlockHash: s.BlockHash,
		Outcome:   s.Outcome,
		Reason:    s.Reason,
		SinceLast: time.Duration(s.SinceLastMs) * time.Millisecond,
		Latency:   time.Duration(s.LatencyMs) * time.Millisecond,
	}
}
