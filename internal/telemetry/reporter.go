package telemetry

import (
	"context"
	"time"

	"github.com/bardlex/snapminer/pkg/log"
)

// Counter is drained once per reporting interval.
type Counter interface {
	Drain() uint64
}

// Clock reports time since the last accepted block.
type Clock interface {
	Since(now time.Time) time.Duration
}

// Reporter turns the shared hash counter into a periodic rate.
type Reporter struct {
	counter  Counter
	clock    Clock
	sink     Sink
	interval time.Duration
	miner    string
	workers  int
	logger   *log.Logger
	now      func() time.Time

	last time.Time
}

// NewReporter creates a reporter. sink may be nil.
func NewReporter(counter Counter, clock Clock, sink Sink, interval time.Duration, miner string, workers int, logger *log.Logger) *Reporter {
	if sink == nil {
		sink = NopSink{}
	}
	return &Reporter{
		counter:  counter,
		clock:    clock,
		sink:     sink,
		interval: interval,
		miner:    miner,
		workers:  workers,
		logger:   logger.WithComponent("reporter"),
		now:      time.Now,
	}
}

// Run reports every interval until ctx is done.
func (r *Reporter) Run(ctx context.Context) error {
	r.last = r.now()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Report(ctx)
		}
	}
}

// Report drains the counter and emits one sample. The rate is computed over
// the time actually elapsed since the previous report.
func (r *Reporter) Report(ctx context.Context) Hashrate {
	now := r.now()
	hashes := r.counter.Drain()

	elapsed := now.Sub(r.last)
	if r.last.IsZero() || elapsed <= 0 {
		elapsed = r.interval
	}
	r.last = now

	sample := Hashrate{
		Time:        now,
		Miner:       r.miner,
		Hashes:      hashes,
		Interval:    elapsed,
		Rate:        float64(hashes) / elapsed.Seconds(),
		Workers:     r.workers,
		SinceAccept: r.clock.Since(now),
	}

	r.logger.LogHashrate(hashes, elapsed, sample.Rate)
	_ = r.sink.RecordHashrate(ctx, sample)

	return sample
}
