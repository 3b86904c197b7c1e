package telemetry

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/bardlex/snapminer/pkg/errors"
	"github.com/bardlex/snapminer/pkg/log"
)

type event struct {
	hashrate   *Hashrate
	submission *Submission
}

// Dispatcher queues events and delivers them to every sink from one
// goroutine, so a slow database never reaches a worker. A full queue drops.
type Dispatcher struct {
	sinks   []Sink
	queue   chan event
	logger  *log.Logger
	timeout time.Duration
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// NewDispatcher creates a dispatcher with a queue of size events.
func NewDispatcher(logger *log.Logger, size int, sinks ...Sink) *Dispatcher {
	return &Dispatcher{
		sinks:   sinks,
		queue:   make(chan event, size),
		logger:  logger.WithComponent("telemetry"),
		timeout: 5 * time.Second,
	}
}

// RecordHashrate enqueues a sample without blocking.
func (d *Dispatcher) RecordHashrate(_ context.Context, h Hashrate) error {
	return d.enqueue(event{hashrate: &h})
}

// RecordSubmission enqueues a submission outcome without blocking.
func (d *Dispatcher) RecordSubmission(_ context.Context, s Submission) error {
	return d.enqueue(event{submission: &s})
}

func (d *Dispatcher) enqueue(e event) error {
	select {
	case d.queue <- e:
		return nil
	default:
		n := d.dropped.Add(1)
		d.logger.Warn("telemetry queue full, dropping event", "dropped_total", n)
		return errors.New(errors.ErrorTypeTelemetry, "enqueue", "telemetry queue full").
			WithContext("queue_size", cap(d.queue))
	}
}

// Run delivers events until ctx is done, then drains what is already queued.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			d.drain()
			return ctx.Err()
		case e := <-d.queue:
			d.deliver(context.Background(), e)
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case e := <-d.queue:
			d.deliver(context.Background(), e)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(parent context.Context, e event) {
	ctx, cancel := context.WithTimeout(parent, d.timeout)
	defer cancel()

	for _, sink := range d.sinks {
		var err error
		switch {
		case e.hashrate != nil:
			err = sink.RecordHashrate(ctx, *e.hashrate)
		case e.submission != nil:
			err = sink.RecordSubmission(ctx, *e.submission)
		}
		if err != nil {
			d.failed.Add(1)
			d.logger.WithError(err).Warn("telemetry sink failed", "sink", fmt.Sprintf("%T", sink))
		}
	}
}

// Dropped returns how many events were dropped on a full queue.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Failed returns how many sink deliveries returned an error.
func (d *Dispatcher) Failed() uint64 {
	return d.failed.Load()
}
