package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/webfabrica/leadgen-cli/internal/batch"
)

var analyzeLimit int

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Score discovered businesses and route them by tier",
	Long: `Claims discovered businesses, computes their opportunity score,
and moves each to qualified or low_priority. Records raced away by a
concurrent run are skipped; per-record failures are counted and do not
abort the batch.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		weights, err := loadWeights(cfg.Pipeline)
		if err != nil {
			return err
		}

		lc := newLifecycle(st)
		analyzer := batch.NewAnalyzer(st, lc, weights, cfg.Batch)
		sum, err := analyzer.Run(ctx, analyzeLimit)
		if err != nil {
			return err
		}

		// Scheduled maintenance rides along with the analysis pass.
		promoted, err := lc.PromoteDeployed(ctx, cfg.Batch.Size)
		if err != nil {
			return err
		}
		archived, err := lc.ArchiveStale(ctx)
		if err != nil {
			return err
		}

		zap.L().Info("analysis batch complete",
			zap.Int("promoted", promoted),
			zap.Int("archived", archived),
			zap.Int("processed", sum.Processed),
			zap.Int("qualified", sum.Qualified),
			zap.Int("low_priority", sum.LowPriority),
			zap.Int("skipped", sum.Skipped),
			zap.Int("failed", sum.Failed),
		)
		return json.NewEncoder(os.Stdout).Encode(sum)
	},
}

func init() {
	analyzeCmd.Flags().IntVar(&analyzeLimit, "limit", 0, "maximum businesses to score (default batch size from config)")
	rootCmd.AddCommand(analyzeCmd)
}
