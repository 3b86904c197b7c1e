package miner

import (
	"context"
	stderrors "errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bardlex/snapminer/pkg/errors"
	"github.com/bardlex/snapminer/pkg/log"
)

// Service is a long-running component started alongside the workers.
type Service interface {
	Run(ctx context.Context) error
}

// EngineConfig sizes the worker pool.
type EngineConfig struct {
	Workers   int
	BatchSize int
	Yield     time.Duration
}

// Engine owns the workers and the services that feed and observe them.
type Engine struct {
	workers  []*Worker
	services []Service
	logger   *log.Logger
}

// NewEngine creates cfg.Workers workers sharing source, hasher, gate and
// counter. services run for the lifetime of the engine.
func NewEngine(cfg EngineConfig, source WorkSource, hasher Hasher, gate SubmitGate, counter *HashCounter, logger *log.Logger, services ...Service) (*Engine, error) {
	if cfg.Workers < 1 {
		return nil, errors.New(errors.ErrorTypeConfig, "new_engine", "at least one worker is required").
			WithContext("workers", cfg.Workers)
	}
	if cfg.BatchSize < 1 {
		return nil, errors.New(errors.ErrorTypeConfig, "new_engine", "batch size must be positive").
			WithContext("batch_size", cfg.BatchSize)
	}

	e := &Engine{
		services: services,
		logger:   logger.WithComponent("engine"),
	}
	for i := range cfg.Workers {
		w, err := NewWorker(i, source, hasher, gate, counter, cfg.BatchSize, cfg.Yield, logger)
		if err != nil {
			return nil, err
		}
		e.workers = append(e.workers, w)
	}
	return e, nil
}

// Run blocks until ctx is done or a service fails. Cancellation is a clean
// shutdown and returns nil.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("mining started", "workers", len(e.workers), "services", len(e.services))

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range e.services {
		g.Go(func() error {
			return e.shutdownIsClean(ctx, s.Run(gctx))
		})
	}
	for _, w := range e.workers {
		g.Go(func() error {
			return e.shutdownIsClean(ctx, w.Run(gctx))
		})
	}

	err := g.Wait()
	stats := e.Stats()
	e.logger.Info("mining stopped",
		"batches", stats.Batches,
		"found", stats.Found,
		"skipped_trials", stats.Skipped,
	)
	return err
}

func (e *Engine) shutdownIsClean(ctx context.Context, err error) error {
	if err != nil && ctx.Err() != nil && stderrors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Workers returns the number of workers.
func (e *Engine) Workers() int {
	return len(e.workers)
}

// Stats sums the worker totals.
func (e *Engine) Stats() WorkerStats {
	var total WorkerStats
	for _, w := range e.workers {
		s := w.Stats()
		total.Batches += s.Batches
		total.Exhausted += s.Exhausted
		total.Found += s.Found
		total.Skipped += s.Skipped
	}
	return total
}

// ServiceFunc adapts a function to Service.
type ServiceFunc func(ctx context.Context) error

// Run implements Service.
func (f ServiceFunc) Run(ctx context.Context) error {
	return f(ctx)
}
