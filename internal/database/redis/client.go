// Package redis keeps the miner's live statistics in Redis: recent hashrate
// samples, submission outcome counters and the last accepted block.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bardlex/snapminer/internal/telemetry"
)

// Client wraps Redis operations for one or more miners
type Client struct {
	rdb    *redis.Client
	window time.Duration
}

// Config holds Redis connection configuration
type Config struct {
	URL          string
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// HashrateWindow is how long hashrate samples are kept.
	HashrateWindow time.Duration
}

// DefaultConfig returns settings suited to a single miner process.
func DefaultConfig(url string) *Config {
	return &Config{
		URL:            url,
		PoolSize:       4,
		DialTimeout:    5 * time.Second,
		ReadTimeout:    3 * time.Second,
		WriteTimeout:   3 * time.Second,
		HashrateWindow: 10 * time.Minute,
	}
}

// NewClient creates a new Redis client and pings it
func NewClient(cfg *Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}
	opts.PoolSize = cfg.PoolSize
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &Client{rdb: rdb, window: cfg.HashrateWindow}, nil
}

// Name identifies the backend in logs
func (c *Client) Name() string {
	return "redis"
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Health checks Redis connectivity
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func hashrateKey(miner string) string {
	return "hashrate:" + miner
}

func submissionsKey(miner string) string {
	return "submissions:" + miner
}

func lastAcceptedKey(miner string) string {
	return "last_accepted:" + miner
}

// hashrateMember makes every sample unique within the sorted set, so two
// intervals with the same rate are both kept.
func hashrateMember(h telemetry.Hashrate) string {
	return strconv.FormatInt(h.Time.UnixNano(), 10) + ":" + strconv.FormatFloat(h.Rate, 'f', -1, 64)
}

func parseHashrateMember(member string) (float64, bool) {
	_, rate, ok := strings.Cut(member, ":")
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(rate, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// RecordHashrate adds a sample to the miner's sorted set and trims samples
// older than the window.
func (c *Client) RecordHashrate(ctx context.Context, h telemetry.Hashrate) error {
	key := hashrateKey(h.Miner)
	ts := h.Time.Unix()

	pipe := c.rdb.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(ts), Member: hashrateMember(h)})
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(ts-int64(c.window.Seconds()), 10))
	pipe.Expire(ctx, key, c.window*2)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record hashrate: %w", err)
	}
	return nil
}

// AverageHashrate averages the samples newer than window
func (c *Client) AverageHashrate(ctx context.Context, miner string, window time.Duration) (float64, error) {
	members, err := c.rdb.ZRangeByScore(ctx, hashrateKey(miner), &redis.ZRangeBy{
		Min: strconv.FormatInt(time.Now().Add(-window).Unix(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get hashrate samples: %w", err)
	}
	return averageMembers(members), nil
}

func averageMembers(members []string) float64 {
	var total float64
	var n int
	for _, m := range members {
		if v, ok := parseHashrateMember(m); ok {
			total += v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return total / float64(n)
}

// RecordSubmission counts the outcome and remembers accepted blocks
func (c *Client) RecordSubmission(ctx context.Context, s telemetry.Submission) error {
	pipe := c.rdb.Pipeline()
	pipe.HIncrBy(ctx, submissionsKey(s.Miner), s.Outcome, 1)

	if s.Outcome == telemetry.OutcomeAccepted {
		data, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("failed to marshal submission: %w", err)
		}
		pipe.Set(ctx, lastAcceptedKey(s.Miner), data, 0)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record submission: %w", err)
	}
	return nil
}

// OutcomeCounts returns the per-outcome submission totals
func (c *Client) OutcomeCounts(ctx context.Context, miner string) (map[string]int64, error) {
	raw, err := c.rdb.HGetAll(ctx, submissionsKey(miner)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get outcome counts: %w", err)
	}

	counts := make(map[string]int64, len(raw))
	for outcome, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		counts[outcome] = n
	}
	return counts, nil
}

// LastAccepted returns the most recent accepted block, or nil if none
func (c *Client) LastAccepted(ctx context.Context, miner string) (*telemetry.Submission, error) {
	data, err := c.rdb.Get(ctx, lastAcceptedKey(miner)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get last accepted block: %w", err)
	}

	var s telemetry.Submission
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal last accepted block: %w", err)
	}
	return &s, nil
}
