package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bardlex/snapminer/internal/telemetry"
)

type published struct {
	topic string
	key   string
	data  []byte
}

// MockPublisher captures published messages.
type MockPublisher struct {
	messages []published
	err      error
}

func (m *MockPublisher) PublishJSON(_ context.Context, topic, key string, data []byte) error {
	m.messages = append(m.messages, published{topic: topic, key: key, data: data})
	return m.err
}

func TestPublisher_RecordSubmission(t *testing.T) {
	mock := &MockPublisher{}
	p := NewPublisher(mock)

	now := time.Unix(1_700_000_000, 0).UTC()
	sub := telemetry.Submission{
		Time:      now,
		Miner:     "miner-a",
		Worker:    1,
		Height:    12,
		BlockHash: "abcd",
		Outcome:   telemetry.OutcomeAccepted,
		SinceLast: time.Minute,
	}
	if err := p.RecordSubmission(context.Background(), sub); err != nil {
		t.Fatal(err)
	}

	if len(mock.messages) != 1 {
		t.Fatalf("published %d messages", len(mock.messages))
	}
	msg := mock.messages[0]
	if msg.topic != TopicSubmissions || msg.key != "miner-a" {
		t.Errorf("published to %s with key %s", msg.topic, msg.key)
	}

	var event Event
	if err := json.Unmarshal(msg.data, &event); err != nil {
		t.Fatal(err)
	}
	if _, err := uuid.Parse(event.EventID); err != nil {
		t.Errorf("event id %q is not a UUID", event.EventID)
	}
	if event.Type != EventSubmission || event.Miner != "miner-a" || !event.Time.Equal(now) {
		t.Errorf("event = %+v", event)
	}

	var got telemetry.Submission
	if err := event.Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Outcome != telemetry.OutcomeAccepted || got.Height != 12 || got.SinceLast != time.Minute {
		t.Errorf("payload = %+v", got)
	}
}

func TestPublisher_RecordHashrate(t *testing.T) {
	mock := &MockPublisher{}
	p := NewPublisher(mock)
	p.newID = func() string { return "fixed" }

	if err := p.RecordHashrate(context.Background(), telemetry.Hashrate{Miner: "m", Rate: 12.5}); err != nil {
		t.Fatal(err)
	}

	var event Event
	if err := json.Unmarshal(mock.messages[0].data, &event); err != nil {
		t.Fatal(err)
	}
	if mock.messages[0].topic != TopicHashrate || event.Type != EventHashrate || event.EventID != "fixed" {
		t.Errorf("event = %+v on %s", event, mock.messages[0].topic)
	}
}

func TestPublisher_PropagatesErrors(t *testing.T) {
	boom := errors.New("broker down")
	p := NewPublisher(&MockPublisher{err: boom})

	if err := p.RecordHashrate(context.Background(), telemetry.Hashrate{}); !errors.Is(err, boom) {
		t.Errorf("RecordHashrate() = %v", err)
	}
}

func TestPublisher_UniqueEventIDs(t *testing.T) {
	mock := &MockPublisher{}
	p := NewPublisher(mock)

	for range 3 {
		_ = p.RecordHashrate(context.Background(), telemetry.Hashrate{})
	}

	seen := make(map[string]bool)
	for _, m := range mock.messages {
		var e Event
		_ = json.Unmarshal(m.data, &e)
		seen[e.EventID] = true
	}
	if len(seen) != 3 {
		t.Errorf("got %d distinct event ids for 3 events", len(seen))
	}
}
