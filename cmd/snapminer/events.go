package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bardlex/snapminer/internal/messaging"
	"github.com/bardlex/snapminer/pkg/errors"
)

var (
	eventsTopic string
	eventsGroup string
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Print telemetry events from Kafka as JSON lines",
	Example: `  KAFKA_BROKERS=localhost:9092 snapminer events
  snapminer events --topic miner.hashrate --group dashboards`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if len(cfg.KafkaBrokers) == 0 {
			return errors.New(errors.ErrorTypeConfig, "events", "KAFKA_BROKERS is required")
		}

		logger := newLogger(cfg)
		client := messaging.NewKafkaClient(cfg.KafkaBrokers, logger.Logger)
		defer func() { _ = client.Close() }()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		err = client.StartConsumer(ctx, eventsTopic, eventsGroup, printEvents(cmd.OutOrStdout()))
		if ctx.Err() != nil {
			return nil
		}
		return err
	},
}

func init() {
	eventsCmd.Flags().StringVar(&eventsTopic, "topic", messaging.TopicSubmissions, "topic to follow")
	eventsCmd.Flags().StringVar(&eventsGroup, "group", "snapminer-events", "consumer group ID")
}

// printEvents writes every event to out as one JSON line.
func printEvents(out io.Writer) messaging.EventHandler {
	enc := json.NewEncoder(out)
	return messaging.EventHandlerFunc(func(_ context.Context, event *messaging.Event) error {
		return enc.Encode(event)
	})
}
