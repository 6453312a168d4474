package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/webfabrica/leadgen-cli/internal/export"
)

var (
	exportOut      string
	exportMinScore int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export scored leads to an XLSX workbook",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		minScore := exportMinScore
		if minScore == 0 {
			minScore = cfg.Pipeline.ReviewTierMin
		}

		businesses, err := st.ExportQualified(ctx, minScore)
		if err != nil {
			return err
		}
		if err := export.WriteXLSX(exportOut, businesses); err != nil {
			return err
		}

		zap.L().Info("export complete",
			zap.String("out", exportOut),
			zap.Int("leads", len(businesses)),
			zap.Int("min_score", minScore),
		)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "leads.xlsx", "output path")
	exportCmd.Flags().IntVar(&exportMinScore, "min-score", 0, "minimum score (default review tier minimum)")
	rootCmd.AddCommand(exportCmd)
}
