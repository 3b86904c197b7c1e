package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bardlex/snapminer/internal/chain"
	"github.com/bardlex/snapminer/internal/config"
	"github.com/bardlex/snapminer/internal/database"
	"github.com/bardlex/snapminer/internal/messaging"
	"github.com/bardlex/snapminer/internal/miner"
	"github.com/bardlex/snapminer/internal/notify"
	"github.com/bardlex/snapminer/internal/telemetry"
	"github.com/bardlex/snapminer/internal/work"
	"github.com/bardlex/snapminer/pkg/circuit"
	"github.com/bardlex/snapminer/pkg/log"
)

const telemetryQueueSize = 1024

var mineCmd = &cobra.Command{
	Use:   "mine",
	Short: "Mine against the configured node until interrupted",
	Example: `  MINER_PUBLIC=<base58 key> snapminer mine
  snapminer mine --node 127.0.0.1:3003 --miner <base58 key> --threads 4`,
	RunE: runMineCmd,
}

func runMineCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.RequireMiner(); err != nil {
		return err
	}

	logger := newLogger(cfg)
	logger.Info("starting snapminer", "config", cfg.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runMine(ctx, cfg, logger); err != nil {
		logger.WithError(err).Error("snapminer stopped with error")
		return err
	}
	logger.Info("snapminer stopped")
	return nil
}

// runMine validates everything that can be checked up front, then mines
// until ctx is done.
func runMine(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	identity, err := chain.ParseIdentity(cfg.MinerPublic)
	if err != nil {
		return err
	}

	workers := cfg.Workers()
	evaluator, err := newEvaluator(cfg, workers)
	if err != nil {
		return err
	}

	node, err := chain.NewRPCClient(chain.RPCConfig{
		Addr:     cfg.NodeAddr(),
		User:     cfg.NodeRPCUser,
		Password: cfg.NodeRPCPassword,
		OnBreakerChange: func(name string, from, to circuit.State) {
			logger.Warn("node circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	if err != nil {
		return err
	}
	defer node.Close()

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := node.Ping(pingCtx); err != nil {
		logger.WithError(err).Warn("node not reachable yet, mining the placeholder until a refresh succeeds",
			"node", cfg.NodeAddr())
	} else {
		logger.Info("connected to node", "node", cfg.NodeAddr())
	}
	pingCancel()

	sinks, closeSinks, err := openSinks(cfg, logger)
	if err != nil {
		return err
	}
	defer closeSinks()

	var prom *telemetry.PrometheusSink
	if cfg.MetricsAddr != "" {
		prom = telemetry.NewPrometheusSink()
		sinks = append(sinks, prom)
	}

	dispatcher := telemetry.NewDispatcher(logger, telemetryQueueSize, sinks...)

	state := work.NewState()
	refresher := work.NewRefresher(state, node, identity, cfg.RefreshInterval, logger)

	services := []miner.Service{refresher, dispatcher}

	if cfg.NodeZMQAddr != "" {
		notifier, err := notify.NewNotifier(cfg.NodeZMQAddr, logger)
		if err != nil {
			return err
		}
		defer func() { _ = notifier.Close() }()
		refresher.SetTrigger(notifier.Trigger())
		services = append(services, notifier)
	}

	counter := &miner.HashCounter{}
	clock := miner.NewAcceptClock(time.Now())
	minerID := identity.String()

	gate := miner.NewGate(state, node, clock, dispatcher, cfg.SubmitTimeout, minerID, logger)
	reporter := telemetry.NewReporter(counter, clock, dispatcher, cfg.StatsInterval, minerID, workers, logger)
	services = append(services, reporter)

	if prom != nil {
		addr := cfg.MetricsAddr
		services = append(services, miner.ServiceFunc(func(ctx context.Context) error {
			logger.Info("serving metrics", "addr", addr)
			return prom.Serve(ctx, addr)
		}))
	}

	engine, err := miner.NewEngine(miner.EngineConfig{
		Workers:   workers,
		BatchSize: cfg.BatchSize,
		Yield:     cfg.YieldInterval,
	}, state, evaluator, gate, counter, logger, services...)
	if err != nil {
		return err
	}

	if prom != nil {
		registerRuntimeMetrics(prom, engine, refresher, gate, dispatcher, node)
	}

	return engine.Run(ctx)
}

// openSinks connects to every configured telemetry backend. The returned
// function closes them.
func openSinks(cfg *config.Config, logger *log.Logger) ([]telemetry.Sink, func(), error) {
	var sinks []telemetry.Sink
	var closers []func()

	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	manager, err := database.NewManager(databaseConfig(cfg), logger)
	if err != nil {
		return nil, nil, err
	}
	if !manager.Empty() {
		logger.Info("telemetry databases connected", "backends", manager.Backends())
		sinks = append(sinks, manager)
		closers = append(closers, func() {
			if err := manager.Close(); err != nil {
				logger.WithError(err).Warn("failed to close databases")
			}
		})
	}

	if len(cfg.KafkaBrokers) > 0 {
		kafkaClient := messaging.NewKafkaClient(cfg.KafkaBrokers, logger.Logger)
		logger.Info("streaming telemetry to Kafka", "brokers", cfg.KafkaBrokers)
		sinks = append(sinks, messaging.NewPublisher(kafkaClient))
		closers = append(closers, func() {
			if err := kafkaClient.Close(); err != nil {
				logger.WithError(err).Warn("failed to close Kafka client")
			}
		})
	}

	return sinks, closeAll, nil
}

func registerRuntimeMetrics(prom *telemetry.PrometheusSink, engine *miner.Engine, refresher *work.Refresher, gate *miner.Gate, dispatcher *telemetry.Dispatcher, node *chain.RPCClient) {
	prom.GaugeFunc("workers", "Number of mining workers.", func() float64 {
		return float64(engine.Workers())
	})
	prom.CounterFunc("batches_total", "Batches searched by all workers.", func() float64 {
		return float64(engine.Stats().Batches)
	})
	prom.CounterFunc("skipped_trials_total", "Trials skipped because the block or hash failed.", func() float64 {
		return float64(engine.Stats().Skipped)
	})
	prom.GaugeFunc("work_height", "Height of the installed candidate block.", func() float64 {
		return float64(refresher.Stats().Height)
	})
	prom.CounterFunc("refresh_failures_total", "Work refreshes that left the previous work in place.", func() float64 {
		return float64(refresher.Stats().Failed)
	})
	prom.CounterFunc("telemetry_dropped_total", "Telemetry events dropped on a full queue.", func() float64 {
		return float64(dispatcher.Dropped())
	})
	prom.CounterFunc("telemetry_sink_errors_total", "Telemetry deliveries a sink failed.", func() float64 {
		return float64(dispatcher.Failed())
	})
	prom.GaugeFunc("node_breaker_state", "Node circuit breaker: 0 closed, 1 open, 2 half-open.", func() float64 {
		return float64(node.BreakerStats().State)
	})
	prom.CounterFunc("accepted_blocks_total", "Blocks the node accepted.", func() float64 {
		return float64(gate.Stats().Accepted)
	})
}
