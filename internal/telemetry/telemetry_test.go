package telemetry

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	minerErrors "github.com/bardlex/snapminer/pkg/errors"
	"github.com/bardlex/snapminer/pkg/log"
)

type recordingSink struct {
	mu          sync.Mutex
	hashrates   []Hashrate
	submissions []Submission
	err         error
	block       chan struct{}
}

func (r *recordingSink) RecordHashrate(_ context.Context, h Hashrate) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hashrates = append(r.hashrates, h)
	return r.err
}

func (r *recordingSink) RecordSubmission(_ context.Context, s Submission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submissions = append(r.submissions, s)
	return r.err
}

func (r *recordingSink) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hashrates), len(r.submissions)
}

type fixedCounter struct{ n uint64 }

func (c *fixedCounter) Drain() uint64 {
	n := c.n
	c.n = 0
	return n
}

type fixedClock struct{ since time.Duration }

func (c fixedClock) Since(time.Time) time.Duration { return c.since }

func TestDispatcher_DeliversToEverySink(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{err: errors.New("db down")}
	d := NewDispatcher(log.Nop(), 8, a, b)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = d.Run(ctx)
		close(done)
	}()

	_ = d.RecordHashrate(ctx, Hashrate{Hashes: 1})
	_ = d.RecordSubmission(ctx, Submission{Outcome: OutcomeAccepted})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h, s := b.counts(); h == 1 && s == 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done

	if h, s := a.counts(); h != 1 || s != 1 {
		t.Errorf("sink a got %d/%d events", h, s)
	}
	if d.Failed() != 2 {
		t.Errorf("Failed() = %d, want 2", d.Failed())
	}
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	d := NewDispatcher(log.Nop(), 1, &recordingSink{})

	if err := d.RecordHashrate(context.Background(), Hashrate{}); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := d.RecordHashrate(context.Background(), Hashrate{}); !minerErrors.IsType(err, minerErrors.ErrorTypeTelemetry) {
		t.Errorf("err = %v, want telemetry error", err)
	}
	if d.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", d.Dropped())
	}
}

func TestDispatcher_DrainsOnShutdown(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(log.Nop(), 4, sink)
	for range 3 {
		_ = d.RecordSubmission(context.Background(), Submission{Outcome: OutcomeStale})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() = %v", err)
	}

	if _, s := sink.counts(); s != 3 {
		t.Errorf("drained %d submissions, want 3", s)
	}
}

func TestReporter_RateOverElapsed(t *testing.T) {
	sink := &recordingSink{}
	counter := &fixedCounter{n: 600}
	r := NewReporter(counter, fixedClock{since: 5 * time.Second}, sink, 3*time.Second, "miner", 4, log.Nop())

	start := time.Unix(1000, 0)
	r.last = start
	r.now = func() time.Time { return start.Add(2 * time.Second) }

	sample := r.Report(context.Background())

	if sample.Hashes != 600 || sample.Rate != 300 {
		t.Errorf("sample = %+v, want 600 hashes at 300/s", sample)
	}
	if sample.Interval != 2*time.Second || sample.Workers != 4 || sample.SinceAccept != 5*time.Second {
		t.Errorf("sample = %+v", sample)
	}
	if counter.n != 0 {
		t.Error("counter not drained")
	}

	second := r.Report(context.Background())
	if second.Hashes != 0 || second.Interval != r.interval {
		t.Errorf("zero-elapsed report = %+v, want configured interval", second)
	}
	if h, _ := sink.counts(); h != 2 {
		t.Errorf("sink got %d samples", h)
	}
}

func TestPrometheusSink(t *testing.T) {
	s := NewPrometheusSink()
	ctx := context.Background()

	_ = s.RecordHashrate(ctx, Hashrate{Hashes: 60, Rate: 20, SinceAccept: 4 * time.Second})
	_ = s.RecordHashrate(ctx, Hashrate{Hashes: 40, Rate: 10})
	_ = s.RecordSubmission(ctx, Submission{Outcome: OutcomeStale})
	_ = s.RecordSubmission(ctx, Submission{Outcome: OutcomeAccepted, Latency: 30 * time.Millisecond})

	if got := testutil.ToFloat64(s.hashesTotal); got != 100 {
		t.Errorf("hashes_total = %v, want 100", got)
	}
	if got := testutil.ToFloat64(s.hashrate); got != 10 {
		t.Errorf("hashrate = %v, want 10", got)
	}
	if got := testutil.ToFloat64(s.submissions.WithLabelValues(OutcomeStale)); got != 1 {
		t.Errorf("stale = %v, want 1", got)
	}
	if got := testutil.ToFloat64(s.submissions.WithLabelValues(OutcomeFailed)); got != 0 {
		t.Errorf("failed = %v, want 0", got)
	}

	s.GaugeFunc("refresh_height", "test", func() float64 { return 12 })

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{"snapminer_hashes_total 100", "snapminer_refresh_height 12", `snapminer_submissions_total{outcome="accepted"} 1`} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestNopSink(t *testing.T) {
	var s Sink = NopSink{}
	if s.RecordHashrate(context.Background(), Hashrate{}) != nil || s.RecordSubmission(context.Background(), Submission{}) != nil {
		t.Error("NopSink must never fail")
	}
}
