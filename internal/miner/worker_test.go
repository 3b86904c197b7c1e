package miner

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bardlex/snapminer/internal/chain"
	"github.com/bardlex/snapminer/internal/work"
	"github.com/bardlex/snapminer/pkg/log"
)

// hasherFunc adapts a function to Hasher.
type hasherFunc func(buf []byte) (*big.Int, error)

func (f hasherFunc) Evaluate(buf []byte) (*big.Int, error) { return f(buf) }

func constHasher(v int64) Hasher {
	return hasherFunc(func([]byte) (*big.Int, error) { return big.NewInt(v), nil })
}

// MockGate records found digests.
type MockGate struct {
	mu      sync.Mutex
	blocks  []*chain.CandidateBlock
	digests []*big.Int
	outcome Outcome
}

func (m *MockGate) Submit(_ context.Context, _ int, block *chain.CandidateBlock, digest *big.Int) Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks = append(m.blocks, block)
	m.digests = append(m.digests, digest)
	return m.outcome
}

func (m *MockGate) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.blocks)
}

// countingSource counts snapshots taken from a State.
type countingSource struct {
	*work.State
	snapshots atomic.Int64
}

func (s *countingSource) Snapshot() work.Snapshot {
	s.snapshots.Add(1)
	return s.State.Snapshot()
}

func newTestWorker(t *testing.T, source WorkSource, hasher Hasher, gate SubmitGate, counter *HashCounter, batch int) *Worker {
	t.Helper()
	w, err := NewWorker(0, source, hasher, gate, counter, batch, 0, log.Nop())
	if err != nil {
		t.Fatalf("NewWorker() error = %v", err)
	}
	return w
}

func TestWorkers_CounterIsExactUnderContention(t *testing.T) {
	const workers, batches, batchSize = 4, 1000, 20

	state := work.NewState()
	state.SetTarget(big.NewInt(0))
	counter := &HashCounter{}
	gate := &MockGate{}

	var wg sync.WaitGroup
	for range workers {
		w := newTestWorker(t, state, constHasher(1), gate, counter, batchSize)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range batches {
				w.runBatch(context.Background())
			}
		}()
	}
	wg.Wait()

	if got := counter.Drain(); got != workers*batches*batchSize {
		t.Errorf("counter = %d, want %d", got, workers*batches*batchSize)
	}
	if gate.count() != 0 {
		t.Error("nothing should have met a zero target")
	}
}

func TestWorker_FoundBatchIsNotCounted(t *testing.T) {
	state := work.NewState()
	state.SetTarget(big.NewInt(100))
	counter := &HashCounter{}
	gate := &MockGate{}

	w := newTestWorker(t, state, constHasher(99), gate, counter, 20)
	if !w.runBatch(context.Background()) {
		t.Fatal("expected a found batch")
	}

	if counter.Drain() != 0 {
		t.Error("found batch must not add to the counter")
	}
	if gate.count() != 1 {
		t.Fatalf("gate received %d blocks, want 1", gate.count())
	}

	solved := gate.blocks[0]
	if solved.Hash == nil || *solved.Hash != chain.HashFromDigest(big.NewInt(99)) {
		t.Errorf("solved hash = %v", solved.Hash)
	}
	if st := w.Stats(); st.Found != 1 || st.Batches != 1 || st.Exhausted != 0 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestWorker_StopsAtFirstQualifyingTrial(t *testing.T) {
	state := work.NewState()
	state.SetTarget(big.NewInt(10))

	var trials atomic.Int64
	hasher := hasherFunc(func([]byte) (*big.Int, error) {
		if trials.Add(1) == 3 {
			return big.NewInt(10), nil
		}
		return big.NewInt(11), nil
	})

	w := newTestWorker(t, state, hasher, &MockGate{}, &HashCounter{}, 20)
	w.runBatch(context.Background())

	if trials.Load() != 3 {
		t.Errorf("ran %d trials, want 3", trials.Load())
	}
}

func TestWorker_HashErrorsSkipTrials(t *testing.T) {
	state := work.NewState()
	state.SetTarget(big.NewInt(1 << 40))
	counter := &HashCounter{}
	gate := &MockGate{}

	hasher := hasherFunc(func([]byte) (*big.Int, error) {
		return nil, errors.New("argon2 failure")
	})

	w := newTestWorker(t, state, hasher, gate, counter, 5)
	if w.runBatch(context.Background()) {
		t.Fatal("failed trials must not be found")
	}
	if counter.Drain() != 5 {
		t.Error("exhausted batch counts its batch size")
	}
	if st := w.Stats(); st.Skipped != 5 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestWorker_MalformedBlockSkipsTrials(t *testing.T) {
	state := work.NewState()
	bad := chain.PlaceholderBlock()
	bad.Height = -1
	state.SetBlock(bad)
	state.SetTarget(big.NewInt(1 << 40))

	var called atomic.Bool
	hasher := hasherFunc(func([]byte) (*big.Int, error) {
		called.Store(true)
		return big.NewInt(0), nil
	})

	w := newTestWorker(t, state, hasher, &MockGate{}, &HashCounter{}, 3)
	if w.runBatch(context.Background()) {
		t.Fatal("malformed block produced a solution")
	}
	if called.Load() {
		t.Error("hasher called for an unserializable block")
	}
}

func TestWorker_OneSnapshotPerBatch(t *testing.T) {
	source := &countingSource{State: work.NewState()}
	w := newTestWorker(t, source, constHasher(1), &MockGate{}, &HashCounter{}, 20)

	for range 5 {
		w.runBatch(context.Background())
	}
	if source.snapshots.Load() != 5 {
		t.Errorf("took %d snapshots for 5 batches", source.snapshots.Load())
	}
}

func TestWorker_BatchUsesSnapshotTarget(t *testing.T) {
	// The live target changes mid-batch; the batch keeps comparing against
	// the target it started with.
	state := work.NewState()
	state.SetTarget(big.NewInt(0))

	var trials atomic.Int64
	hasher := hasherFunc(func([]byte) (*big.Int, error) {
		if trials.Add(1) == 1 {
			state.SetTarget(big.NewInt(1000))
		}
		return big.NewInt(5), nil
	})

	gate := &MockGate{}
	w := newTestWorker(t, state, hasher, gate, &HashCounter{}, 10)
	if w.runBatch(context.Background()) {
		t.Error("batch found against a target installed after its snapshot")
	}
	if !w.runBatch(context.Background()) {
		t.Error("next batch should see the new target")
	}
}

func TestWorker_NoncesDiffer(t *testing.T) {
	state := work.NewState()
	state.SetTarget(big.NewInt(0))

	seen := make(map[string]bool)
	hasher := hasherFunc(func(buf []byte) (*big.Int, error) {
		seen[string(buf)] = true
		return big.NewInt(1), nil
	})

	w := newTestWorker(t, state, hasher, &MockGate{}, &HashCounter{}, 50)
	w.runBatch(context.Background())

	if len(seen) < 49 {
		t.Errorf("only %d distinct hashing buffers in 50 trials", len(seen))
	}
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	state := work.NewState()
	w, err := NewWorker(0, state, constHasher(1), &MockGate{}, &HashCounter{}, 1, time.Millisecond, log.Nop())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

type fakeService struct {
	err     error
	started atomic.Bool
}

func (s *fakeService) Run(ctx context.Context) error {
	s.started.Store(true)
	if s.err != nil {
		return s.err
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestEngine_RunAndShutdown(t *testing.T) {
	state := work.NewState()
	counter := &HashCounter{}
	svc := &fakeService{}

	engine, err := NewEngine(EngineConfig{Workers: 3, BatchSize: 4, Yield: time.Millisecond},
		state, constHasher(1), &MockGate{}, counter, log.Nop(), svc)
	if err != nil {
		t.Fatal(err)
	}
	if engine.Workers() != 3 {
		t.Errorf("Workers() = %d", engine.Workers())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- engine.Run(runCtx) }()

	time.Sleep(20 * time.Millisecond)
	stop()

	if err := <-done; err != nil {
		t.Errorf("Run() = %v, want nil on cancel", err)
	}
	if !svc.started.Load() {
		t.Error("service never started")
	}

	stats := engine.Stats()
	if got := counter.Drain(); got != stats.Exhausted*4 {
		t.Errorf("counter = %d, exhausted batches = %d", got, stats.Exhausted)
	}
}

func TestEngine_ServiceFailureStopsMining(t *testing.T) {
	boom := errors.New("metrics listener failed")
	engine, err := NewEngine(EngineConfig{Workers: 2, BatchSize: 1},
		work.NewState(), constHasher(1), &MockGate{}, &HashCounter{}, log.Nop(), &fakeService{err: boom})
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- engine.Run(context.Background()) }()

	select {
	case err := <-done:
		if !errors.Is(err, boom) {
			t.Errorf("Run() = %v, want %v", err, boom)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop")
	}
}

func TestNewEngine_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  EngineConfig
	}{
		{"no workers", EngineConfig{Workers: 0, BatchSize: 20}},
		{"no batch", EngineConfig{Workers: 1, BatchSize: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewEngine(tt.cfg, work.NewState(), constHasher(1), &MockGate{}, &HashCounter{}, log.Nop()); err == nil {
				t.Error("expected error")
			}
		})
	}
}
