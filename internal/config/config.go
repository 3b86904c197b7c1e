// Package config provides configuration management for the snapminer engine.
// It handles loading configuration from environment variables with sensible defaults.
package config

import (
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/bardlex/snapminer/pkg/errors"
)

// DefaultSaltHex is hex("SNAP-COIN-MAGIC!"), the network's fixed hash salt.
const DefaultSaltHex = "534e41502d434f494e2d4d4147494321"

// Config holds the configuration of one miner process
type Config struct {
	// Service identification
	ServiceName string
	Version     string

	// Node connection
	NodeRPCHost     string
	NodeRPCPort     int
	NodeRPCUser     string
	NodeRPCPassword string
	NodeZMQAddr     string

	// Mining
	MinerPublic     string
	Threads         int
	BatchSize       int
	RefreshInterval time.Duration
	StatsInterval   time.Duration
	YieldInterval   time.Duration
	SubmitTimeout   time.Duration

	// Proof-of-work hash parameters
	Argon2MemoryKiB   uint32
	Argon2Time        uint32
	Argon2Parallelism uint8
	Argon2OutputLen   uint32
	Argon2Variant     string
	Argon2Version     int
	Argon2SaltHex     string

	// Telemetry sinks, empty disables
	MetricsAddr  string
	KafkaBrokers []string
	RedisURL     string
	PostgresURL  string
	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	// Logging
	LogLevel  string
	LogFormat string
	LogFile   string
}

// Defaults returns the built-in settings, before any file or environment
// variable is applied.
func Defaults() *Config {
	return &Config{
		ServiceName: "snapminer",
		Version:     "dev",

		NodeRPCHost: "127.0.0.1",
		NodeRPCPort: 3003,

		Threads:         -1,
		BatchSize:       20,
		RefreshInterval: 3 * time.Second,
		StatsInterval:   3 * time.Second,
		YieldInterval:   time.Millisecond,
		SubmitTimeout:   10 * time.Second,

		Argon2MemoryKiB:   8192,
		Argon2Time:        1,
		Argon2Parallelism: 1,
		Argon2OutputLen:   32,
		Argon2Variant:     "argon2id",
		Argon2Version:     0x13,
		Argon2SaltHex:     DefaultSaltHex,

		InfluxOrg:    "snapminer",
		InfluxBucket: "mining",

		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile layers the defaults, the TOML file at path (skipped when path is
// empty) and the environment, then validates the result. A value that does
// not parse is a configuration error, never a silent fallback.
func LoadFile(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	var env envReader

	env.getString("SERVICE_NAME", &c.ServiceName)
	env.getString("VERSION", &c.Version)

	env.getString("NODE_RPC_HOST", &c.NodeRPCHost)
	env.getInt("NODE_RPC_PORT", &c.NodeRPCPort)
	env.getString("NODE_RPC_USER", &c.NodeRPCUser)
	env.getString("NODE_RPC_PASSWORD", &c.NodeRPCPassword)
	env.getString("NODE_ZMQ_ADDR", &c.NodeZMQAddr)

	env.getString("MINER_PUBLIC", &c.MinerPublic)
	env.getInt("MINER_THREADS", &c.Threads)
	env.getInt("BATCH_SIZE", &c.BatchSize)
	env.getDuration("REFRESH_INTERVAL", &c.RefreshInterval)
	env.getDuration("STATS_INTERVAL", &c.StatsInterval)
	env.getDuration("YIELD_INTERVAL", &c.YieldInterval)
	env.getDuration("SUBMIT_TIMEOUT", &c.SubmitTimeout)

	env.getUint32("ARGON2_MEMORY_KIB", &c.Argon2MemoryKiB)
	env.getUint32("ARGON2_TIME", &c.Argon2Time)
	env.getUint8("ARGON2_PARALLELISM", &c.Argon2Parallelism)
	env.getUint32("ARGON2_OUTPUT_LEN", &c.Argon2OutputLen)
	env.getString("ARGON2_VARIANT", &c.Argon2Variant)
	env.getInt("ARGON2_VERSION", &c.Argon2Version)
	env.getString("ARGON2_SALT_HEX", &c.Argon2SaltHex)

	env.getString("METRICS_ADDR", &c.MetricsAddr)
	env.getSlice("KAFKA_BROKERS", &c.KafkaBrokers)
	env.getString("REDIS_URL", &c.RedisURL)
	env.getString("POSTGRES_URL", &c.PostgresURL)
	env.getString("INFLUX_URL", &c.InfluxURL)
	env.getString("INFLUX_TOKEN", &c.InfluxToken)
	env.getString("INFLUX_ORG", &c.InfluxOrg)
	env.getString("INFLUX_BUCKET", &c.InfluxBucket)

	env.getString("LOG_LEVEL", &c.LogLevel)
	env.getString("LOG_FORMAT", &c.LogFormat)
	env.getString("LOG_FILE", &c.LogFile)

	return env.err
}

// Validate checks every value that does not depend on the command being run.
// It is exported so command-line overrides can be validated after they are applied.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return configError("SERVICE_NAME cannot be empty")
	}

	if c.NodeRPCPort <= 0 || c.NodeRPCPort > 65535 {
		return configError("NODE_RPC_PORT must be between 1 and 65535")
	}

	if c.Threads == 0 || c.Threads < -1 {
		return configError("MINER_THREADS must be positive or -1 for all processors")
	}

	if c.BatchSize <= 0 {
		return configError("BATCH_SIZE must be positive")
	}

	if c.RefreshInterval <= 0 || c.StatsInterval <= 0 {
		return configError("REFRESH_INTERVAL and STATS_INTERVAL must be positive")
	}

	if c.YieldInterval < 0 {
		return configError("YIELD_INTERVAL cannot be negative")
	}

	if c.SubmitTimeout <= 0 {
		return configError("SUBMIT_TIMEOUT must be positive")
	}

	if _, err := c.Salt(); err != nil {
		return err
	}

	if c.InfluxURL != "" && c.InfluxToken == "" {
		return configError("INFLUX_TOKEN is required when INFLUX_URL is set")
	}

	return nil
}

// RequireMiner checks the settings only the mining command needs.
func (c *Config) RequireMiner() error {
	if c.MinerPublic == "" {
		return configError("MINER_PUBLIC is required")
	}
	return nil
}

// Workers resolves the configured thread count, -1 meaning every processor.
func (c *Config) Workers() int {
	if c.Threads == -1 {
		return runtime.NumCPU()
	}
	return c.Threads
}

// Salt decodes the configured hash salt.
func (c *Config) Salt() ([]byte, error) {
	salt, err := hex.DecodeString(c.Argon2SaltHex)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "load_config", "ARGON2_SALT_HEX is not valid hex")
	}
	return salt, nil
}

// NodeAddr returns the host:port of the node RPC endpoint.
func (c *Config) NodeAddr() string {
	return net.JoinHostPort(c.NodeRPCHost, strconv.Itoa(c.NodeRPCPort))
}

func configError(msg string) error {
	return errors.New(errors.ErrorTypeConfig, "load_config", msg)
}

// envReader overlays the environment variables that are set onto a config.
// It keeps the first value that does not parse.
type envReader struct {
	err error
}

func (r *envReader) lookup(key string) (string, bool) {
	value := os.Getenv(key)
	return value, value != "" && r.err == nil
}

func (r *envReader) fail(key, value string, err error) {
	r.err = errors.Wrap(err, errors.ErrorTypeConfig, "load_config",
		fmt.Sprintf("%s=%q is not a valid value", key, value))
}

func (r *envReader) getString(key string, dst *string) {
	if value, ok := r.lookup(key); ok {
		*dst = value
	}
}

func (r *envReader) getInt(key string, dst *int) {
	value, ok := r.lookup(key)
	if !ok {
		return
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		r.fail(key, value, err)
		return
	}
	*dst = parsed
}

func (r *envReader) getUint32(key string, dst *uint32) {
	value, ok := r.lookup(key)
	if !ok {
		return
	}
	parsed, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		r.fail(key, value, err)
		return
	}
	*dst = uint32(parsed)
}

func (r *envReader) getUint8(key string, dst *uint8) {
	value, ok := r.lookup(key)
	if !ok {
		return
	}
	parsed, err := strconv.ParseUint(value, 10, 8)
	if err != nil {
		r.fail(key, value, err)
		return
	}
	*dst = uint8(parsed)
}

func (r *envReader) getDuration(key string, dst *time.Duration) {
	value, ok := r.lookup(key)
	if !ok {
		return
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		r.fail(key, value, err)
		return
	}
	*dst = parsed
}

func (r *envReader) getSlice(key string, dst *[]string) {
	value, ok := r.lookup(key)
	if !ok {
		return
	}

	var out []string
	for part := range strings.SplitSeq(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) > 0 {
		*dst = out
	}
}

// String summarizes the config for the startup log line without secrets.
func (c *Config) String() string {
	return fmt.Sprintf("node=%s threads=%d batch=%d refresh=%s stats=%s argon2=%s/m=%d/t=%d/p=%d",
		c.NodeAddr(), c.Workers(), c.BatchSize, c.RefreshInterval, c.StatsInterval,
		c.Argon2Variant, c.Argon2MemoryKiB, c.Argon2Time, c.Argon2Parallelism)
}
