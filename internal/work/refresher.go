package work

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/bardlex/snapminer/internal/chain"
	"github.com/bardlex/snapminer/internal/pow"
	"github.com/bardlex/snapminer/pkg/errors"
	"github.com/bardlex/snapminer/pkg/log"
)

// Source is the part of the node the refresher reads from.
type Source interface {
	FetchPendingWork(ctx context.Context) (chain.PendingSet, error)
	FetchRawDifficulty(ctx context.Context) (pow.RawDifficulty, error)
}

// TargetFunc converts the node difficulty and a transaction count into a target.
type TargetFunc func(raw pow.RawDifficulty, txCount int) (*big.Int, error)

// RefreshStats counts refresh outcomes since start.
type RefreshStats struct {
	Succeeded   uint64
	Failed      uint64
	LastSuccess time.Time
	Height      int64
}

// Refresher periodically rebuilds the candidate block and target.
type Refresher struct {
	state    *State
	source   Source
	miner    chain.Identity
	derive   TargetFunc
	interval time.Duration
	trigger  <-chan struct{}
	logger   *log.Logger
	now      func() time.Time

	mu    sync.Mutex
	stats RefreshStats
}

// NewRefresher creates a refresher that installs work for miner into state.
func NewRefresher(state *State, source Source, miner chain.Identity, interval time.Duration, logger *log.Logger) *Refresher {
	return &Refresher{
		state:    state,
		source:   source,
		miner:    miner,
		derive:   pow.DeriveTarget,
		interval: interval,
		logger:   logger.WithComponent("refresher"),
		now:      time.Now,
	}
}

// SetTrigger makes every receive on ch start an immediate refresh. Used for
// new-block notifications.
func (r *Refresher) SetTrigger(ch <-chan struct{}) {
	r.trigger = ch
}

// Run refreshes immediately, then on every tick and trigger until ctx is done.
// Failures are logged and never stop the loop.
func (r *Refresher) Run(ctx context.Context) error {
	r.logger.Info("work refresher starting", "interval", r.interval)

	r.tick(ctx, "startup")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.tick(ctx, "interval")
		case <-r.trigger:
			r.tick(ctx, "notification")
			ticker.Reset(r.interval)
		}
	}
}

func (r *Refresher) tick(ctx context.Context, reason string) {
	tickCtx, cancel := context.WithTimeout(ctx, r.interval)
	defer cancel()

	if err := r.Refresh(tickCtx); err != nil {
		if ctx.Err() != nil {
			return
		}
		r.logger.WithError(err).Warn("work refresh failed, keeping previous work", "reason", reason)
	}
}

// Refresh performs one cycle. On any error the shared state is left exactly
// as it was.
func (r *Refresher) Refresh(ctx context.Context) error {
	start := r.now()

	block, target, err := r.fetch(ctx)
	if err != nil {
		r.mu.Lock()
		r.stats.Failed++
		r.mu.Unlock()
		return err
	}

	r.state.SetBlock(block)
	r.state.SetTarget(target)

	r.mu.Lock()
	previousHeight := r.stats.Height
	r.stats.Succeeded++
	r.stats.LastSuccess = start
	r.stats.Height = block.Height
	r.mu.Unlock()

	if block.Height != previousHeight {
		r.logger.Info("new work installed",
			"block_height", block.Height,
			"prev_hash", block.PrevHash.String(),
			"transactions", len(block.Transactions),
		)
	}
	r.logger.LogDuration("work_refresh", r.now().Sub(start))

	return nil
}

func (r *Refresher) fetch(ctx context.Context) (*chain.CandidateBlock, *big.Int, error) {
	pending, err := r.source.FetchPendingWork(ctx)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrorTypeNode, "refresh_block", "failed to fetch pending work")
	}

	block, err := chain.BuildCandidate(pending, r.miner, r.now())
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrorTypeValidation, "refresh_block", "failed to build candidate")
	}

	raw, err := r.source.FetchRawDifficulty(ctx)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrorTypeNode, "refresh_target", "failed to fetch difficulty")
	}

	target, err := r.derive(raw, len(block.Transactions))
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrorTypeValidation, "refresh_target", "failed to derive target").
			WithContext("difficulty", raw.String())
	}

	return block, target, nil
}

// Stats returns a copy of the refresh counters.
func (r *Refresher) Stats() RefreshStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
