// Package influx writes the miner's hashrate and submission history to
// InfluxDB for long-term dashboards.
package influx

import (
	"context"
	"fmt"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/bardlex/snapminer/internal/telemetry"
)

// Client wraps InfluxDB operations for time-series metrics
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	queryAPI api.QueryAPI
	bucket   string
	org      string
}

// Config holds InfluxDB connection configuration
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// NewClient creates a new InfluxDB client
func NewClient(cfg *Config) (*Client, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := &Client{client: client, bucket: cfg.Bucket, org: cfg.Org}
	if err := c.Health(ctx); err != nil {
		client.Close()
		return nil, err
	}

	c.writeAPI = client.WriteAPI(cfg.Org, cfg.Bucket)
	c.queryAPI = client.QueryAPI(cfg.Org)
	return c, nil
}

// Name identifies the backend in logs
func (c *Client) Name() string {
	return "influx"
}

// Close flushes pending points and closes the connection
func (c *Client) Close() error {
	c.writeAPI.Flush()
	c.client.Close()
	return nil
}

// Health checks InfluxDB connectivity
func (c *Client) Health(ctx context.Context) error {
	health, err := c.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("failed to check InfluxDB health: %w", err)
	}

	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return fmt.Errorf("InfluxDB health check failed: %s", msg)
	}

	return nil
}

// RecordHashrate writes a hashrate point. Writes are batched by the client.
func (c *Client) RecordHashrate(_ context.Context, h telemetry.Hashrate) error {
	c.writeAPI.WritePoint(hashratePoint(h))
	return nil
}

// RecordSubmission writes a submission point
func (c *Client) RecordSubmission(_ context.Context, s telemetry.Submission) error {
	c.writeAPI.WritePoint(submissionPoint(s))
	return nil
}

func hashratePoint(h telemetry.Hashrate) *write.Point {
	tags := map[string]string{
		"miner": h.Miner,
	}

	fields := map[string]interface{}{
		"hashes":         int64(h.Hashes),
		"hashes_per_sec": h.Rate,
		"interval_s":     h.Interval.Seconds(),
		"workers":        int64(h.Workers),
		"since_accept_s": h.SinceAccept.Seconds(),
	}

	return write.NewPoint("hashrate", tags, fields, h.Time)
}

func submissionPoint(s telemetry.Submission) *write.Point {
	tags := map[string]string{
		"miner":   s.Miner,
		"outcome": s.Outcome,
		"worker":  strconv.Itoa(s.Worker),
	}

	fields := map[string]interface{}{
		"height":     s.Height,
		"block_hash": s.BlockHash,
		"latency_s":  s.Latency.Seconds(),
		"count":      int64(1),
	}
	if s.Outcome == telemetry.OutcomeAccepted {
		fields["since_last_s"] = s.SinceLast.Seconds()
	}
	if s.Reason != "" {
		fields["reason"] = s.Reason
	}

	return write.NewPoint("submissions", tags, fields, s.Time)
}

// HashrateHistory returns the miner's mean hashrate per window over duration
func (c *Client) HashrateHistory(ctx context.Context, miner string, duration, every time.Duration) ([]HashratePoint, error) {
	query := fmt.Sprintf(`
		from(bucket: "%s")
		|> range(start: -%s)
		|> filter(fn: (r) => r._measurement == "hashrate")
		|> filter(fn: (r) => r.miner == "%s")
		|> filter(fn: (r) => r._field == "hashes_per_sec")
		|> aggregateWindow(every: %s, fn: mean, createEmpty: false)
	`, c.bucket, duration.String(), miner, every.String())

	result, err := c.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query hashrate history: %w", err)
	}
	defer func() {
		_ = result.Close()
	}()

	var points []HashratePoint
	for result.Next() {
		record := result.Record()
		if value, ok := record.Value().(float64); ok {
			points = append(points, HashratePoint{
				Time:     record.Time(),
				Hashrate: value,
			})
		}
	}

	if result.Err() != nil {
		return nil, fmt.Errorf("error reading query result: %w", result.Err())
	}

	return points, nil
}

// AverageHashrate is the mean of the miner's hashrate history over window
func (c *Client) AverageHashrate(ctx context.Context, miner string, window time.Duration) (float64, error) {
	points, err := c.HashrateHistory(ctx, miner, window, historyStep(window))
	if err != nil {
		return 0, err
	}
	return meanHashrate(points), nil
}

// historyStep splits window into about a dozen buckets of at least a minute.
func historyStep(window time.Duration) time.Duration {
	return max((window / 12).Round(time.Second), time.Minute)
}

func meanHashrate(points []HashratePoint) float64 {
	if len(points) == 0 {
		return 0
	}
	var total float64
	for _, p := range points {
		total += p.Hashrate
	}
	return total / float64(len(points))
}

// Flush forces a write of all pending points
func (c *Client) Flush() {
	c.writeAPI.Flush()
}

// HashratePoint represents a hashrate measurement at a point in time
type HashratePoint struct {
	Time     time.Time `json:"time"`
	Hashrate float64   `json:"hashrate"`
}
