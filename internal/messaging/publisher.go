package messaging

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/bardlex/snapminer/internal/telemetry"
	"github.com/bardlex/snapminer/pkg/errors"
)

// JSONPublisher sends encoded messages to a topic
type JSONPublisher interface {
	PublishJSON(ctx context.Context, topic, key string, data []byte) error
}

// Publisher is a telemetry sink that streams events keyed by miner, so one
// miner's events stay ordered within a partition.
type Publisher struct {
	client JSONPublisher
	newID  func() string
}

// NewPublisher creates a publisher on top of client
func NewPublisher(client JSONPublisher) *Publisher {
	return &Publisher{
		client: client,
		newID:  uuid.NewString,
	}
}

// RecordHashrate implements telemetry.Sink
func (p *Publisher) RecordHashrate(ctx context.Context, h telemetry.Hashrate) error {
	return p.publish(ctx, TopicHashrate, EventHashrate, h.Miner, h.Time, h)
}

// RecordSubmission implements telemetry.Sink
func (p *Publisher) RecordSubmission(ctx context.Context, s telemetry.Submission) error {
	return p.publish(ctx, TopicSubmissions, EventSubmission, s.Miner, s.Time, s)
}

func (p *Publisher) publish(ctx context.Context, topic, eventType, miner string, at time.Time, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "json_marshal", "failed to marshal payload").
			WithContext("type", eventType)
	}

	envelope, err := json.Marshal(Event{
		EventID: p.newID(),
		Type:    eventType,
		Miner:   miner,
		Time:    at,
		Data:    data,
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "json_marshal", "failed to marshal event").
			WithContext("type", eventType)
	}

	return p.client.PublishJSON(ctx, topic, miner, envelope)
}

var _ telemetry.Sink = (*Publisher)(nil)
