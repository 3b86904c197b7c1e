package messaging

import (
	"encoding/json"
	"time"
)

// Event types
const (
	EventHashrate   = "hashrate"
	EventSubmission = "submission"
)

// Event is the envelope of every message the miner publishes
type Event struct {
	EventID string          `json:"event_id"`
	Type    string          `json:"type"`
	Miner   string          `json:"miner"`
	Time    time.Time       `json:"time"`
	Data    json.RawMessage `json:"data"`
}

// Decode unmarshals the payload into v
func (e *Event) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}
