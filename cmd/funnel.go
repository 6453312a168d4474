package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/webfabrica/leadgen-cli/internal/model"
	"github.com/webfabrica/leadgen-cli/internal/selector"
)

var funnelCmd = &cobra.Command{
	Use:   "funnel",
	Short: "Print the pipeline funnel report",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		report, err := selector.New(st, cfg.Outreach).Funnel(ctx)
		if err != nil {
			return err
		}

		total := 0
		for _, status := range model.AllStatuses {
			fmt.Printf("%-20s %6d\n", status, report.Counts[status])
			total += report.Counts[status]
		}
		fmt.Printf("%-20s %6d\n", "total", total)
		fmt.Printf("%-20s %6d\n", "needs attention", report.NeedsAttention)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(funnelCmd)
}
