package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bardlex/snapminer/internal/chain"
	"github.com/bardlex/snapminer/internal/database"
	"github.com/bardlex/snapminer/pkg/errors"
)

var (
	statsWindow time.Duration
	statsRecent int
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show what the telemetry databases recorded for this miner",
	Long: `stats reads back from every configured database: the average hashrate
over --window, submission counts per outcome, the last accepted block and
the most recent submissions.`,
	Example: `  POSTGRES_URL=postgres://localhost/snap REDIS_URL=redis://localhost:6379 snapminer stats
  snapminer stats --window 24h --recent 20`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := cfg.RequireMiner(); err != nil {
			return err
		}
		identity, err := chain.ParseIdentity(cfg.MinerPublic)
		if err != nil {
			return err
		}
		if statsRecent < 0 || statsWindow < 0 {
			return errors.New(errors.ErrorTypeConfig, "stats", "--window and --recent must not be negative")
		}

		logger := newLogger(cfg)
		manager, err := database.NewManager(databaseConfig(cfg), logger)
		if err != nil {
			return err
		}
		defer func() { _ = manager.Close() }()
		if manager.Empty() {
			return errors.New(errors.ErrorTypeConfig, "stats",
				"no database configured; set POSTGRES_URL, REDIS_URL or INFLUX_URL")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		summaries := manager.Summaries(ctx, database.SummaryQuery{
			Miner:  identity.String(),
			Window: statsWindow,
			Recent: statsRecent,
		})
		return writeSummaries(cmd.OutOrStdout(), statsWindow, summaries)
	},
}

func init() {
	statsCmd.Flags().DurationVar(&statsWindow, "window", time.Hour, "window the average hashrate covers")
	statsCmd.Flags().IntVar(&statsRecent, "recent", 10, "number of recent submissions to list")
}

// writeSummaries prints one block per backend. It fails only when every
// backend failed to answer.
func writeSummaries(out io.Writer, window time.Duration, summaries []database.Summary) error {
	var failed []error
	for i, s := range summaries {
		if i > 0 {
			fmt.Fprintln(out)
		}
		fmt.Fprintf(out, "[%s]\n", s.Backend)
		if s.Err != nil {
			fmt.Fprintf(out, "  error: %v\n", s.Err)
			failed = append(failed, s.Err)
			continue
		}
		writeSummary(out, window, s)
	}

	if len(summaries) > 0 && len(failed) == len(summaries) {
		return failed[0]
	}
	return nil
}

func writeSummary(out io.Writer, window time.Duration, s database.Summary) {
	if s.HasHashrate {
		fmt.Fprintf(out, "  hashrate (%s avg): %.2f H/s\n", window, s.Hashrate)
	}
	if s.Outcomes != nil {
		outcomes := make([]string, 0, len(s.Outcomes))
		for outcome := range s.Outcomes {
			outcomes = append(outcomes, outcome)
		}
		slices.Sort(outcomes)
		fmt.Fprint(out, "  submissions:")
		if len(outcomes) == 0 {
			fmt.Fprint(out, " none")
		}
		for _, outcome := range outcomes {
			fmt.Fprintf(out, " %s=%d", outcome, s.Outcomes[outcome])
		}
		fmt.Fprintln(out)
	}
	if s.LastAccepted != nil {
		fmt.Fprintf(out, "  last accepted: height %d %s at %s\n",
			s.LastAccepted.Height, s.LastAccepted.BlockHash, s.LastAccepted.Time.Format(time.RFC3339))
	}
	if len(s.Recent) > 0 {
		fmt.Fprintln(out, "  recent:")
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "    TIME\tHEIGHT\tWORKER\tOUTCOME\tLATENCY\tHASH")
		for _, sub := range s.Recent {
			fmt.Fprintf(tw, "    %s\t%d\t%d\t%s\t%s\t%s\n",
				sub.Time.Format(time.RFC3339), sub.Height, sub.Worker, outcomeLabel(sub.Outcome, sub.Reason),
				sub.Latency, sub.BlockHash)
		}
		_ = tw.Flush()
	}
}

func outcomeLabel(outcome, reason string) string {
	if reason == "" {
		return outcome
	}
	return outcome + " (" + reason + ")"
}
