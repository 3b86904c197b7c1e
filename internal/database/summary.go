package database

import (
	"context"
	"time"

	"github.com/bardlex/snapminer/internal/database/influx"
	"github.com/bardlex/snapminer/internal/database/postgres"
	"github.com/bardlex/snapminer/internal/database/redis"
	"github.com/bardlex/snapminer/internal/telemetry"
	"github.com/bardlex/snapminer/pkg/errors"
)

// Summary is what one backend has stored about a miner. Fields the backend
// cannot answer stay zero.
type Summary struct {
	Backend      string
	Hashrate     float64
	HasHashrate  bool
	Outcomes     map[string]int64
	LastAccepted *telemetry.Submission
	Recent       []telemetry.Submission
	Err          error
}

type hashrateAverager interface {
	AverageHashrate(ctx context.Context, miner string, window time.Duration) (float64, error)
}

type outcomeCounter interface {
	OutcomeCounts(ctx context.Context, miner string) (map[string]int64, error)
}

type lastAcceptedReader interface {
	LastAccepted(ctx context.Context, miner string) (*telemetry.Submission, error)
}

type recentReader interface {
	RecentSubmissions(ctx context.Context, miner string, limit int) ([]telemetry.Submission, error)
}

// SummaryQuery selects what Summaries reads back.
type SummaryQuery struct {
	Miner  string
	Window time.Duration
	Recent int
}

// Summaries reads q back from every backend. A failing backend reports its
// error in its own Summary and does not stop the others.
func (m *Manager) Summaries(ctx context.Context, q SummaryQuery) []Summary {
	out := make([]Summary, 0, len(m.backends))
	for _, b := range m.backends {
		s, err := summarize(ctx, b.Backend, q)
		if err != nil {
			s.Err = errors.Wrap(err, errors.ErrorTypeDatabase, "read_summary",
				"backend read failed").WithContext("backend", b.Name())
		}
		out = append(out, s)
	}
	return out
}

func summarize(ctx context.Context, b Backend, q SummaryQuery) (Summary, error) {
	s := Summary{Backend: b.Name()}

	if r, ok := b.(hashrateAverager); ok && q.Window > 0 {
		rate, err := r.AverageHashrate(ctx, q.Miner, q.Window)
		if err != nil {
			return s, err
		}
		s.Hashrate, s.HasHashrate = rate, true
	}
	if r, ok := b.(outcomeCounter); ok {
		counts, err := r.OutcomeCounts(ctx, q.Miner)
		if err != nil {
			return s, err
		}
		s.Outcomes = counts
	}
	if r, ok := b.(lastAcceptedReader); ok {
		last, err := r.LastAccepted(ctx, q.Miner)
		if err != nil {
			return s, err
		}
		s.LastAccepted = last
	}
	if r, ok := b.(recentReader); ok && q.Recent > 0 {
		recent, err := r.RecentSubmissions(ctx, q.Miner, q.Recent)
		if err != nil {
			return s, err
		}
		s.Recent = recent
	}
	return s, nil
}

var (
	_ hashrateAverager   = (*redis.Client)(nil)
	_ hashrateAverager   = (*influx.Client)(nil)
	_ outcomeCounter     = (*redis.Client)(nil)
	_ outcomeCounter     = (*postgres.Client)(nil)
	_ lastAcceptedReader = (*redis.Client)(nil)
	_ recentReader       = (*postgres.Client)(nil)
)
