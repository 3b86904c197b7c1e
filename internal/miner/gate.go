package miner

import (
	"context"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/bardlex/snapminer/internal/chain"
	"github.com/bardlex/snapminer/internal/pow"
	"github.com/bardlex/snapminer/internal/telemetry"
	"github.com/bardlex/snapminer/pkg/log"
)

// Outcome is what became of a digest that met its batch target.
type Outcome int

const (
	// OutcomeStale means the live target tightened after the batch started.
	OutcomeStale Outcome = iota
	// OutcomeFailed means the block never reached the node.
	OutcomeFailed
	// OutcomeRejected means the node refused the block.
	OutcomeRejected
	// OutcomeAccepted means the block was appended to the chain.
	OutcomeAccepted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeStale:
		return telemetry.OutcomeStale
	case OutcomeFailed:
		return telemetry.OutcomeFailed
	case OutcomeRejected:
		return telemetry.OutcomeRejected
	case OutcomeAccepted:
		return telemetry.OutcomeAccepted
	default:
		return "unknown"
	}
}

// TargetReader exposes the live target.
type TargetReader interface {
	Target() *big.Int
}

// Submitter delivers solved blocks to the node.
type Submitter interface {
	SubmitBlock(ctx context.Context, block *chain.CandidateBlock) (chain.SubmitResult, error)
}

// GateStats counts outcomes since start.
type GateStats struct {
	Stale    uint64
	Failed   uint64
	Rejected uint64
	Accepted uint64
}

// Gate rechecks a found digest against the live target and submits it.
type Gate struct {
	live    TargetReader
	node    Submitter
	clock   *AcceptClock
	sink    telemetry.Sink
	timeout time.Duration
	miner   string
	logger  *log.Logger
	now     func() time.Time

	stale    atomic.Uint64
	failed   atomic.Uint64
	rejected atomic.Uint64
	accepted atomic.Uint64
}

// NewGate creates a submission gate. sink may be nil.
func NewGate(live TargetReader, node Submitter, clock *AcceptClock, sink telemetry.Sink, timeout time.Duration, miner string, logger *log.Logger) *Gate {
	if sink == nil {
		sink = telemetry.NopSink{}
	}
	return &Gate{
		live:    live,
		node:    node,
		clock:   clock,
		sink:    sink,
		timeout: timeout,
		miner:   miner,
		logger:  logger.WithComponent("gate"),
		now:     time.Now,
	}
}

// Submit decides the fate of block, whose digest met the target of the
// snapshot it was mined against. It blocks the calling worker until the
// node answers or the submit timeout expires.
func (g *Gate) Submit(ctx context.Context, workerID int, block *chain.CandidateBlock, digest *big.Int) Outcome {
	logger := g.logger.WithWorker(workerID)
	blockHash := chain.HashFromDigest(digest).String()

	sub := telemetry.Submission{
		Miner:     g.miner,
		Worker:    workerID,
		Height:    block.Height,
		BlockHash: blockHash,
	}

	// The refresher may have installed a harder target since the snapshot.
	if !pow.Meets(digest, g.live.Target()) {
		logger.Debug("discarding stale solution", "block_hash", blockHash, "block_height", block.Height)
		g.stale.Add(1)
		return g.record(ctx, sub, OutcomeStale)
	}

	// A solved block is worth finishing even while the process shuts down.
	submitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
	defer cancel()

	start := g.now()
	result, err := g.node.SubmitBlock(submitCtx, block)
	sub.Latency = g.now().Sub(start)

	if err != nil {
		logger.WithError(err).Error("block submission failed",
			"block_hash", blockHash,
			"block_height", block.Height,
		)
		sub.Reason = err.Error()
		g.failed.Add(1)
		return g.record(ctx, sub, OutcomeFailed)
	}

	if !result.Accepted {
		logger.Info("block rejected",
			"block_hash", blockHash,
			"block_height", block.Height,
			"reason", result.Reason,
		)
		sub.Reason = result.Reason
		g.rejected.Add(1)
		return g.record(ctx, sub, OutcomeRejected)
	}

	sub.SinceLast = g.clock.MarkAccepted(g.now())
	logger.LogBlockAccepted(blockHash, block.Height, workerID, sub.SinceLast)
	g.accepted.Add(1)
	return g.record(ctx, sub, OutcomeAccepted)
}

func (g *Gate) record(ctx context.Context, sub telemetry.Submission, outcome Outcome) Outcome {
	sub.Time = g.now()
	sub.Outcome = outcome.String()
	_ = g.sink.RecordSubmission(ctx, sub)
	return outcome
}

// Stats returns outcome totals.
func (g *Gate) Stats() GateStats {
	return GateStats{
		Stale:    g.stale.Load(),
		Failed:   g.failed.Load(),
		Rejected: g.rejected.Load(),
		Accepted: g.accepted.Load(),
	}
}
