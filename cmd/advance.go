package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var advanceLimit int

var advanceCmd = &cobra.Command{
	Use:   "advance",
	Short: "Run the scheduled lifecycle maintenance passes",
	Long: `Promotes deployed businesses to ready_for_outreach and archives
contacted businesses whose response window has lapsed with all
follow-ups spent. Intended to run on a schedule alongside analyze.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		lc := newLifecycle(st)

		promoted, err := lc.PromoteDeployed(ctx, advanceLimit)
		if err != nil {
			return err
		}
		archived, err := lc.ArchiveStale(ctx)
		if err != nil {
			return err
		}

		zap.L().Info("advance complete",
			zap.Int("promoted", promoted),
			zap.Int("archived", archived),
		)
		return nil
	},
}

func init() {
	advanceCmd.Flags().IntVar(&advanceLimit, "limit", 100, "maximum businesses to promote")
	rootCmd.AddCommand(advanceCmd)
}
