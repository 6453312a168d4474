package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/webfabrica/leadgen-cli/internal/selector"
)

var (
	eligibleQueue string
	eligibleLimit int
)

var eligibleCmd = &cobra.Command{
	Use:   "eligible",
	Short: "List businesses eligible for a pipeline stage",
	Long: `Prints the businesses eligible for the named queue as JSON.
Queues: qualification, generation, outreach, followup.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		sel := selector.New(st, cfg.Outreach)
		out, err := sel.Eligible(ctx, selector.Queue(eligibleQueue), eligibleLimit)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	eligibleCmd.Flags().StringVar(&eligibleQueue, "queue", "", "queue name (required)")
	eligibleCmd.Flags().IntVar(&eligibleLimit, "limit", 0, "maximum results (default 100)")
	_ = eligibleCmd.MarkFlagRequired("queue")
	rootCmd.AddCommand(eligibleCmd)
}
