package miner

import (
	"context"
	cryptorand "crypto/rand"
	"math/big"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/bardlex/snapminer/internal/chain"
	"github.com/bardlex/snapminer/internal/pow"
	"github.com/bardlex/snapminer/internal/work"
	"github.com/bardlex/snapminer/pkg/errors"
	"github.com/bardlex/snapminer/pkg/log"
)

// Hasher computes the proof-of-work digest of a hashing buffer.
type Hasher interface {
	Evaluate(buf []byte) (*big.Int, error)
}

// WorkSource hands out private copies of the shared work.
type WorkSource interface {
	Snapshot() work.Snapshot
}

// SubmitGate receives every digest that met its batch target.
type SubmitGate interface {
	Submit(ctx context.Context, workerID int, block *chain.CandidateBlock, digest *big.Int) Outcome
}

// WorkerStats are per-worker totals.
type WorkerStats struct {
	Batches   uint64
	Exhausted uint64
	Found     uint64
	Skipped   uint64
}

// Worker searches random nonces against the shared work, one batch per
// snapshot.
type Worker struct {
	id        int
	source    WorkSource
	hasher    Hasher
	gate      SubmitGate
	counter   *HashCounter
	batchSize int
	yield     time.Duration
	rng       *rand.Rand
	logger    *log.Logger

	batches   atomic.Uint64
	exhausted atomic.Uint64
	found     atomic.Uint64
	skipped   atomic.Uint64
}

// NewWorker creates a worker with its own nonce stream seeded from the
// operating system.
func NewWorker(id int, source WorkSource, hasher Hasher, gate SubmitGate, counter *HashCounter, batchSize int, yield time.Duration, logger *log.Logger) (*Worker, error) {
	var seed [32]byte
	if _, err := cryptorand.Read(seed[:]); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "new_worker", "failed to seed nonce stream").
			WithContext("worker", id)
	}

	return &Worker{
		id:        id,
		source:    source,
		hasher:    hasher,
		gate:      gate,
		counter:   counter,
		batchSize: batchSize,
		yield:     yield,
		rng:       rand.New(rand.NewChaCha8(seed)),
		logger:    logger.WithComponent("worker").WithWorker(id),
	}, nil
}

// Run mines until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Debug("worker started", "batch_size", w.batchSize)
	defer w.logger.Debug("worker stopped")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if w.runBatch(ctx) {
			continue
		}

		if w.yield > 0 {
			timer := time.NewTimer(w.yield)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
}

// runBatch runs one batch and counts it if it was exhausted. Found batches
// are not counted.
func (w *Worker) runBatch(ctx context.Context) bool {
	if w.searchBatch(ctx) {
		return true
	}
	w.counter.Add(uint64(w.batchSize))
	w.exhausted.Add(1)
	return false
}

// searchBatch runs one batch against a fresh snapshot and reports whether a
// digest met the snapshot target. A found block goes to the gate before
// returning, whatever the outcome.
func (w *Worker) searchBatch(ctx context.Context) bool {
	snap := w.source.Snapshot()
	w.batches.Add(1)

	// snap.Block is private to this batch, so trials set the nonce in place.
	block := snap.Block
	for range w.batchSize {
		block.Nonce = w.rng.Uint64()

		buf, err := block.HashingBuf()
		if err != nil {
			w.skipped.Add(1)
			continue
		}
		digest, err := w.hasher.Evaluate(buf)
		if err != nil {
			w.skipped.Add(1)
			continue
		}

		if pow.Meets(digest, snap.Target) {
			solved := block.Clone()
			h := chain.HashFromDigest(digest)
			solved.Hash = &h

			w.found.Add(1)
			w.gate.Submit(ctx, w.id, solved, digest)
			return true
		}
	}
	return false
}

// Stats returns this worker's totals.
func (w *Worker) Stats() WorkerStats {
	return WorkerStats{
		Batches:   w.batches.Load(),
		Exhausted: w.exhausted.Load(),
		Found:     w.found.Load(),
		Skipped:   w.skipped.Load(),
	}
}
