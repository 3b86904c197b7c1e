// Package database fans the miner's telemetry out to whichever of
// PostgreSQL, Redis and InfluxDB are configured.
package database

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/bardlex/snapminer/internal/database/influx"
	"github.com/bardlex/snapminer/internal/database/postgres"
	"github.com/bardlex/snapminer/internal/database/redis"
	"github.com/bardlex/snapminer/internal/telemetry"
	"github.com/bardlex/snapminer/pkg/circuit"
	"github.com/bardlex/snapminer/pkg/errors"
	"github.com/bardlex/snapminer/pkg/log"
	"github.com/bardlex/snapminer/pkg/retry"
)

// Backend is one configured store.
type Backend interface {
	telemetry.Sink
	Name() string
	Health(ctx context.Context) error
	Close() error
}

type guardedBackend struct {
	Backend
	breaker *circuit.Breaker
}

// Manager coordinates writes across every configured backend
type Manager struct {
	backends    []guardedBackend
	retryConfig *retry.Config
	logger      *log.Logger
}

// Config selects the backends. A nil entry leaves that backend out.
type Config struct {
	Postgres *postgres.Config
	Redis    *redis.Config
	Influx   *influx.Config
}

// NewManager connects to every configured backend. If one fails, those
// already opened are closed.
func NewManager(cfg *Config, logger *log.Logger) (*Manager, error) {
	var backends []Backend

	closeAll := func() {
		for _, b := range backends {
			_ = b.Close()
		}
	}

	if cfg.Postgres != nil {
		pg, err := postgres.NewClient(cfg.Postgres)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "postgres_connection",
				"failed to connect to PostgreSQL database")
		}
		backends = append(backends, pg)
	}

	if cfg.Redis != nil {
		rc, err := redis.NewClient(cfg.Redis)
		if err != nil {
			closeAll()
			return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "redis_connection",
				"failed to connect to Redis database")
		}
		backends = append(backends, rc)
	}

	if cfg.Influx != nil {
		ic, err := influx.NewClient(cfg.Influx)
		if err != nil {
			closeAll()
			return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "influx_connection",
				"failed to connect to InfluxDB database")
		}
		backends = append(backends, ic)
	}

	return NewManagerWithBackends(logger, backends...), nil
}

// NewManagerWithBackends wraps already-open backends, each behind its own
// circuit breaker.
func NewManagerWithBackends(logger *log.Logger, backends ...Backend) *Manager {
	m := &Manager{
		retryConfig: retry.DatabaseConfig(),
		logger:      logger.WithComponent("database"),
	}

	for _, b := range backends {
		m.backends = append(m.backends, guardedBackend{
			Backend: b,
			breaker: circuit.New(&circuit.Config{
				Name:            b.Name(),
				MaxFailures:     3,
				SuccessRequired: 2,
				Timeout:         30 * time.Second,
				ResetTimeout:    60 * time.Second,
				OnStateChange: func(name string, from, to circuit.State) {
					m.logger.Warn("database circuit breaker state changed",
						"backend", name, "from", from.String(), "to", to.String())
				},
			}),
		})
	}
	return m
}

// Empty reports whether no backend is configured
func (m *Manager) Empty() bool {
	return len(m.backends) == 0
}

// Backends lists the configured backend names
func (m *Manager) Backends() []string {
	names := make([]string, len(m.backends))
	for i, b := range m.backends {
		names[i] = b.Name()
	}
	return names
}

// RecordHashrate writes h to every backend. One failing backend does not
// stop the others.
func (m *Manager) RecordHashrate(ctx context.Context, h telemetry.Hashrate) error {
	return m.each(ctx, "record_hashrate", func(b Backend) error {
		return b.RecordHashrate(ctx, h)
	})
}

// RecordSubmission writes s to every backend.
func (m *Manager) RecordSubmission(ctx context.Context, s telemetry.Submission) error {
	return m.each(ctx, "record_submission", func(b Backend) error {
		return b.RecordSubmission(ctx, s)
	})
}

func (m *Manager) each(ctx context.Context, op string, fn func(Backend) error) error {
	var errs []error
	for _, b := range m.backends {
		err := b.breaker.Execute(ctx, func() error {
			return retry.Do(ctx, m.retryConfig, func() error {
				return fn(b.Backend)
			})
		})
		if err != nil {
			errs = append(errs, errors.Wrap(err, errors.ErrorTypeDatabase, op,
				"backend write failed").WithContext("backend", b.Name()))
		}
	}
	return stderrors.Join(errs...)
}

// Health checks every backend
func (m *Manager) Health(ctx context.Context) error {
	for _, b := range m.backends {
		if err := b.Health(ctx); err != nil {
			return fmt.Errorf("%s health check failed: %w", b.Name(), err)
		}
	}
	return nil
}

// Close closes every backend
func (m *Manager) Close() error {
	var errs []error
	for _, b := range m.backends {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s close error: %w", b.Name(), err))
		}
	}
	return stderrors.Join(errs...)
}

// BreakerStates returns the circuit state of every backend
func (m *Manager) BreakerStates() map[string]circuit.State {
	states := make(map[string]circuit.State, len(m.backends))
	for _, b := range m.backends {
		states[b.Name()] = b.breaker.GetState()
	}
	return states
}

var _ telemetry.Sink = (*Manager)(nil)

var (
	_ Backend = (*postgres.Client)(nil)
	_ Backend = (*redis.Client)(nil)
	_ Backend = (*influx.Client)(nil)
)
