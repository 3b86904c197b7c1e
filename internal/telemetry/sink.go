// Package telemetry aggregates hash throughput and submission outcomes and
// fans them out to whatever sinks are configured. Nothing here is on the
// correctness path of mining.
package telemetry

import (
	"context"
	"time"
)

// Hashrate is one reporting interval's throughput.
type Hashrate struct {
	Time        time.Time     `json:"time"`
	Miner       string        `json:"miner"`
	Hashes      uint64        `json:"hashes"`
	Interval    time.Duration `json:"interval_ns"`
	Rate        float64       `json:"hashes_per_sec"`
	Workers     int           `json:"workers"`
	SinceAccept time.Duration `json:"since_accept_ns"`
}

// Submission outcomes.
const (
	OutcomeStale    = "stale"
	OutcomeFailed   = "failed"
	OutcomeRejected = "rejected"
	OutcomeAccepted = "accepted"
)

// Submission is the decided fate of one qualifying digest.
type Submission struct {
	Time      time.Time     `json:"time"`
	Miner     string        `json:"miner"`
	Worker    int           `json:"worker"`
	Height    int64         `json:"height"`
	BlockHash string        `json:"block_hash"`
	Outcome   string        `json:"outcome"`
	Reason    string        `json:"reason,omitempty"`
	SinceLast time.Duration `json:"since_last_ns,omitempty"`
	Latency   time.Duration `json:"latency_ns,omitempty"`
}

// Sink receives telemetry events.
type Sink interface {
	RecordHashrate(ctx context.Context, h Hashrate) error
	RecordSubmission(ctx context.Context, s Submission) error
}

// NopSink discards everything.
type NopSink struct{}

// RecordHashrate implements Sink.
func (NopSink) RecordHashrate(context.Context, Hashrate) error { return nil }

// RecordSubmission implements Sink.
func (NopSink) RecordSubmission(context.Context, Submission) error { return nil }
