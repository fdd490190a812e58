package main

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/newthinker/breakout/internal/backtest"
	"github.com/newthinker/breakout/internal/batch"
	"github.com/newthinker/breakout/internal/config"
	"github.com/newthinker/breakout/internal/report"
	"github.com/newthinker/breakout/internal/storage/archive"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rankFromPostgres bool

var rankCmd = &cobra.Command{
	Use:   "rank [run-id]",
	Short: "Re-rank a stored run",
	Long: `Read the per-instrument summaries of a stored run (the latest one when no id
is given), rank them with the current top-tier thresholds and write top_tier.csv.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRank,
}

func init() {
	rankCmd.Flags().BoolVar(&rankFromPostgres, "postgres", false, "read summaries from output.postgres_dsn instead of the archive")
	rootCmd.AddCommand(rankCmd)
}

func runRank(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx := context.Background()
	store, err := archive.New(cfg.Archive())
	if err != nil {
		return fmt.Errorf("opening output storage: %w", err)
	}

	var runID string
	if len(args) == 1 {
		runID = args[0]
	}

	var summaries []backtest.Summary
	if rankFromPostgres {
		runID, summaries, err = rankedFromPostgres(ctx, cfg, runID)
	} else {
		runID, summaries, err = rankedFromArchive(ctx, store, runID)
	}
	if err != nil {
		return err
	}

	ranked := batch.Rank(withTrades(summaries))
	top := batch.TopTier(ranked, batch.TopTierOptions{
		MinProfitFactor: cfg.Batch.TopTier.MinProfitFactor,
		MaxDrawdown:     cfg.Batch.TopTier.MaxDrawdown,
		MinTrades:       cfg.Batch.TopTier.MinTrades,
	})

	var buf bytes.Buffer
	if err := report.WriteRankingCSV(&buf, top); err != nil {
		return err
	}
	if err := store.Write(ctx, archive.RunPath(runID, archive.TopTierCSV), buf.Bytes()); err != nil {
		return fmt.Errorf("writing top tier: %w", err)
	}
	log.Info("top tier written",
		zap.String("run_id", runID),
		zap.Int("ranked", len(ranked)),
		zap.Int("top_tier", len(top)),
	)

	fmt.Printf("=== Run %s ===\n", runID)
	report.RenderRanking(os.Stdout, ranked)
	fmt.Println()
	fmt.Printf("Top tier (%d):\n", len(top))
	return report.RenderRanking(os.Stdout, top)
}

func rankedFromArchive(ctx context.Context, store archive.Storage, runID string) (string, []backtest.Summary, error) {
	if runID == "" {
		var err error
		if runID, err = batch.LatestRun(ctx, store); err != nil {
			return "", nil, err
		}
	}
	summaries, err := batch.LoadSummaries(ctx, store, runID)
	return runID, summaries, err
}

func rankedFromPostgres(ctx context.Context, cfg *config.Config, runID string) (string, []backtest.Summary, error) {
	if cfg.Output.PostgresDSN == "" {
		return "", nil, fmt.Errorf("--postgres requires output.postgres_dsn")
	}
	store, closeStore, err := openSummaryStore(ctx, cfg)
	if err != nil {
		return "", nil, err
	}
	defer closeStore()

	var id uuid.UUID
	if runID == "" {
		id, err = store.LatestRun(ctx)
	} else {
		id, err = uuid.Parse(runID)
	}
	if err != nil {
		return "", nil, err
	}
	summaries, err := store.Ranked(ctx, id, 0)
	return id.String(), summaries, err
}

// withTrades drops no-trade summaries, which are stored but never ranked
func withTrades(summaries []backtest.Summary) []backtest.Summary {
	out := summaries[:0:0]
	for _, s := range summaries {
		if s.TradeCount > 0 {
			out = append(out, s)
		}
	}
	return out
}
