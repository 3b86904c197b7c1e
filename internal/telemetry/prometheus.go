package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "snapminer"

// PrometheusSink exposes telemetry as metrics on its own registry.
type PrometheusSink struct {
	registry *prometheus.Registry

	hashrate      prometheus.Gauge
	hashesTotal   prometheus.Counter
	submissions   *prometheus.CounterVec
	sinceAccept   prometheus.Gauge
	submitLatency prometheus.Histogram
}

// NewPrometheusSink creates the metrics and registers them.
func NewPrometheusSink() *PrometheusSink {
	s := &PrometheusSink{
		registry: prometheus.NewRegistry(),
		hashrate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hashrate",
			Help:      "Hashes per second over the last reporting interval.",
		}),
		hashesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hashes_total",
			Help:      "Hashes computed in exhausted batches.",
		}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Qualifying digests by outcome.",
		}, []string{"outcome"}),
		sinceAccept: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "seconds_since_accept",
			Help:      "Seconds since the last accepted block, or since start.",
		}),
		submitLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "submit_latency_seconds",
			Help:      "Round trip of block submissions that reached the node.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}

	s.registry.MustRegister(
		s.hashrate,
		s.hashesTotal,
		s.submissions,
		s.sinceAccept,
		s.submitLatency,
		collectors.NewGoCollector(),
	)

	for _, outcome := range []string{OutcomeStale, OutcomeFailed, OutcomeRejected, OutcomeAccepted} {
		s.submissions.WithLabelValues(outcome)
	}

	return s
}

// RecordHashrate implements Sink.
func (s *PrometheusSink) RecordHashrate(_ context.Context, h Hashrate) error {
	s.hashrate.Set(h.Rate)
	s.hashesTotal.Add(float64(h.Hashes))
	s.sinceAccept.Set(h.SinceAccept.Seconds())
	return nil
}

// RecordSubmission implements Sink.
func (s *PrometheusSink) RecordSubmission(_ context.Context, sub Submission) error {
	s.submissions.WithLabelValues(sub.Outcome).Inc()
	if sub.Outcome == OutcomeAccepted || sub.Outcome == OutcomeRejected {
		s.submitLatency.Observe(sub.Latency.Seconds())
	}
	if sub.Outcome == OutcomeAccepted {
		s.sinceAccept.Set(0)
	}
	return nil
}

// GaugeFunc registers a gauge read from fn at scrape time.
func (s *PrometheusSink) GaugeFunc(name, help string, fn func() float64) {
	s.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// CounterFunc registers a counter read from fn at scrape time.
func (s *PrometheusSink) CounterFunc(name, help string, fn func() float64) {
	s.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// Handler serves the registry.
func (s *PrometheusSink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (s *PrometheusSink) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	}
}
