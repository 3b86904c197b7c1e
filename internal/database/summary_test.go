package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bardlex/snapminer/internal/telemetry"
	minerErrors "github.com/bardlex/snapminer/pkg/errors"
	"github.com/bardlex/snapminer/pkg/log"
)

// MockStore answers every read a backend can serve.
type MockStore struct {
	*MockBackend
	rate    float64
	counts  map[string]int64
	last    *telemetry.Submission
	recent  []telemetry.Submission
	readErr error

	gotMiner  string
	gotWindow time.Duration
	gotLimit  int
}

func (m *MockStore) AverageHashrate(_ context.Context, miner string, window time.Duration) (float64, error) {
	m.gotMiner, m.gotWindow = miner, window
	return m.rate, m.readErr
}

func (m *MockStore) OutcomeCounts(context.Context, string) (map[string]int64, error) {
	return m.counts, m.readErr
}

func (m *MockStore) LastAccepted(context.Context, string) (*telemetry.Submission, error) {
	return m.last, m.readErr
}

func (m *MockStore) RecentSubmissions(_ context.Context, _ string, limit int) ([]telemetry.Submission, error) {
	m.gotLimit = limit
	return m.recent, m.readErr
}

func TestManager_Summaries(t *testing.T) {
	last := &telemetry.Submission{Height: 9, Outcome: telemetry.OutcomeAccepted}
	store := &MockStore{
		MockBackend: &MockBackend{name: "store"},
		rate:        12.5,
		counts:      map[string]int64{telemetry.OutcomeAccepted: 2},
		last:        last,
		recent:      []telemetry.Submission{*last},
	}
	writeOnly := &MockBackend{name: "write-only"}
	m := NewManagerWithBackends(log.Nop(), store, writeOnly)

	got := m.Summaries(context.Background(), SummaryQuery{Miner: "m", Window: time.Hour, Recent: 5})
	if len(got) != 2 {
		t.Fatalf("len(Summaries) = %d, want 2", len(got))
	}

	s := got[0]
	if s.Backend != "store" || s.Err != nil {
		t.Fatalf("summary = %+v", s)
	}
	if !s.HasHashrate || s.Hashrate != 12.5 {
		t.Errorf("hashrate = %v (%v)", s.Hashrate, s.HasHashrate)
	}
	if s.Outcomes[telemetry.OutcomeAccepted] != 2 || s.LastAccepted != last || len(s.Recent) != 1 {
		t.Errorf("summary = %+v", s)
	}
	if store.gotMiner != "m" || store.gotWindow != time.Hour || store.gotLimit != 5 {
		t.Errorf("query = %q %s %d", store.gotMiner, store.gotWindow, store.gotLimit)
	}

	if w := got[1]; w.Backend != "write-only" || w.HasHashrate || w.Outcomes != nil || w.Err != nil {
		t.Errorf("write-only summary = %+v", w)
	}
}

func TestManager_SummariesSkipsUnrequested(t *testing.T) {
	store := &MockStore{MockBackend: &MockBackend{name: "store"}}
	m := NewManagerWithBackends(log.Nop(), store)

	s := m.Summaries(context.Background(), SummaryQuery{Miner: "m"})[0]
	if s.HasHashrate || store.gotLimit != 0 {
		t.Errorf("zero window or limit still read: %+v, limit %d", s, store.gotLimit)
	}
}

func TestManager_SummariesReportsReadErrors(t *testing.T) {
	failing := &MockStore{MockBackend: &MockBackend{name: "failing"}, readErr: errors.New("connection refused")}
	healthy := &MockStore{MockBackend: &MockBackend{name: "healthy"}, rate: 3}
	m := NewManagerWithBackends(log.Nop(), failing, healthy)

	got := m.Summaries(context.Background(), SummaryQuery{Miner: "m", Window: time.Minute})
	if !minerErrors.IsType(got[0].Err, minerErrors.ErrorTypeDatabase) {
		t.Errorf("failing backend err = %v, want database error", got[0].Err)
	}
	if minerErrors.Context(got[0].Err)["backend"] != "failing" {
		t.Errorf("context = %v", minerErrors.Context(got[0].Err))
	}
	if got[1].Err != nil || got[1].Hashrate != 3 {
		t.Errorf("healthy summary = %+v", got[1])
	}
}
