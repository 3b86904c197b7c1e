package main

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bardlex/snapminer/internal/chain"
	"github.com/bardlex/snapminer/internal/config"
	"github.com/bardlex/snapminer/internal/pow"
	"github.com/bardlex/snapminer/pkg/errors"
)

var benchHashes int

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Measure the hash rate of the configured parameters",
	Long: `bench evaluates a fixed number of hashes over the placeholder block on
every worker and reports hashes per second. No node is contacted.`,
	Example: `  snapminer bench --hashes 200 --threads 8`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		_, err = runBench(cmd.Context(), cfg, benchHashes, cmd.OutOrStdout())
		return err
	},
}

func init() {
	benchCmd.Flags().IntVar(&benchHashes, "hashes", 100, "total number of hashes to evaluate")
}

// benchResult is what a bench run measured.
type benchResult struct {
	Hashes  int
	Workers int
	Elapsed time.Duration
}

// Rate returns hashes per second.
func (r benchResult) Rate() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Hashes) / r.Elapsed.Seconds()
}

// runBench spreads hashes across the configured workers and writes a
// summary to out.
func runBench(ctx context.Context, cfg *config.Config, hashes int, out io.Writer) (benchResult, error) {
	if hashes < 1 {
		return benchResult{}, errors.New(errors.ErrorTypeConfig, "bench", "--hashes must be positive").
			WithContext("hashes", hashes)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	workers := min(cfg.Workers(), hashes)
	evaluator, err := newEvaluator(cfg, workers)
	if err != nil {
		return benchResult{}, err
	}

	g, gctx := errgroup.WithContext(ctx)
	start := time.Now()
	for i := range workers {
		share := hashes / workers
		if i < hashes%workers {
			share++
		}
		g.Go(func() error {
			return benchWorker(gctx, evaluator, share)
		})
	}
	if err := g.Wait(); err != nil {
		return benchResult{}, err
	}

	res := benchResult{Hashes: hashes, Workers: workers, Elapsed: time.Since(start)}
	fmt.Fprintf(out, "%d hashes on %d workers in %s: %.2f H/s\n",
		res.Hashes, res.Workers, res.Elapsed.Round(time.Millisecond), res.Rate())
	return res, nil
}

func benchWorker(ctx context.Context, evaluator *pow.Evaluator, n int) error {
	block := chain.PlaceholderBlock()
	for range n {
		if err := ctx.Err(); err != nil {
			return err
		}
		block.Nonce = rand.Uint64()
		buf, err := block.HashingBuf()
		if err != nil {
			return err
		}
		if _, err := evaluator.Evaluate(buf); err != nil {
			return err
		}
	}
	return nil
}
