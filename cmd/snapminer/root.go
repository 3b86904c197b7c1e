package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bardlex/snapminer/internal/config"
	"github.com/bardlex/snapminer/pkg/log"
)

// flagOverrides holds command-line values that replace environment settings.
type flagOverrides struct {
	configPath  string
	node        string
	miner       string
	threads     int
	batchSize   int
	metricsAddr string
	zmqAddr     string
	logLevel    string
	logFormat   string
	logFile     string
}

var overrides flagOverrides

var rootCmd = &cobra.Command{
	Use:   "snapminer",
	Short: "Parallel Argon2 proof-of-work miner",
	Long: `snapminer searches random nonces for a block whose Argon2 digest meets
the node's target and submits it. Settings come from an optional TOML file
(--config), then the environment, then flags.

Running snapminer without a subcommand is the same as "snapminer mine".`,
	SilenceUsage: true,
	RunE:         runMineCmd,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	addOverrideFlags(rootCmd)

	rootCmd.AddCommand(mineCmd)
	rootCmd.AddCommand(benchCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(statsCmd)
}

func addOverrideFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVar(&overrides.configPath, "config", "", "TOML config file, created with defaults if missing")
	f.StringVar(&overrides.node, "node", "", "node RPC address host:port (NODE_RPC_HOST/NODE_RPC_PORT)")
	f.StringVar(&overrides.miner, "miner", "", "base58 miner public key (MINER_PUBLIC)")
	f.IntVarP(&overrides.threads, "threads", "t", 0, "worker count, -1 for every processor (MINER_THREADS)")
	f.IntVar(&overrides.batchSize, "batch-size", 0, "trials per batch (BATCH_SIZE)")
	f.StringVar(&overrides.metricsAddr, "metrics-addr", "", "Prometheus listen address (METRICS_ADDR)")
	f.StringVar(&overrides.zmqAddr, "zmq", "", "node ZMQ endpoint for new-block notifications (NODE_ZMQ_ADDR)")
	f.StringVar(&overrides.logLevel, "log-level", "", "debug, info, warn or error (LOG_LEVEL)")
	f.StringVar(&overrides.logFormat, "log-format", "", "text or json (LOG_FORMAT)")
	f.StringVar(&overrides.logFile, "log-file", "", "also write logs to this rotating file (LOG_FILE)")
}

// loadConfig layers the config file, the environment and the flags that
// were set, and validates the result.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadFile(overrides.configPath)
	if err != nil {
		return nil, err
	}
	if err := applyOverrides(cmd, cfg, overrides); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyOverrides(cmd *cobra.Command, cfg *config.Config, o flagOverrides) error {
	changed := func(name string) bool {
		return cmd.Flags().Changed(name)
	}

	if changed("node") {
		host, port, err := config.SplitNodeAddr(o.node)
		if err != nil {
			return err
		}
		cfg.NodeRPCHost, cfg.NodeRPCPort = host, port
	}
	if changed("miner") {
		cfg.MinerPublic = o.miner
	}
	if changed("threads") {
		cfg.Threads = o.threads
	}
	if changed("batch-size") {
		cfg.BatchSize = o.batchSize
	}
	if changed("metrics-addr") {
		cfg.MetricsAddr = o.metricsAddr
	}
	if changed("zmq") {
		cfg.NodeZMQAddr = o.zmqAddr
	}
	if changed("log-level") {
		cfg.LogLevel = strings.ToLower(o.logLevel)
	}
	if changed("log-format") {
		cfg.LogFormat = strings.ToLower(o.logFormat)
	}
	if changed("log-file") {
		cfg.LogFile = o.logFile
	}
	return nil
}

func newLogger(cfg *config.Config) *log.Logger {
	return log.NewWithOptions(cfg.ServiceName, cfg.Version, log.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	})
}
