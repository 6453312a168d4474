package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/webfabrica/leadgen-cli/internal/dedupe"
	"github.com/webfabrica/leadgen-cli/internal/ingest"
	"github.com/webfabrica/leadgen-cli/internal/model"
)

var (
	ingestFile   string
	ingestSource string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest scraped listings from a JSON file or stdin",
	Long: `Reads a JSON array of scraped business listings, validates and
normalizes each record, resolves duplicates against the existing pool,
and persists new or updated businesses. Every record is kept in the raw
audit log, including duplicate discards.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		var in io.Reader = os.Stdin
		if ingestFile != "" {
			f, err := os.Open(ingestFile)
			if err != nil {
				return eris.Wrap(err, "ingest: open input")
			}
			defer f.Close()
			in = f
		}

		var records []model.RawRecord
		if err := json.NewDecoder(in).Decode(&records); err != nil {
			return eris.Wrap(err, "ingest: decode input")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		resolver := dedupe.NewResolver(st, cfg.Dedupe.DiscardWindowDays)
		proc := ingest.NewProcessor(st, resolver, newLifecycle(st))

		sum, err := proc.Process(ctx, ingestSource, records)
		if err != nil {
			return err
		}

		zap.L().Info("ingest complete",
			zap.String("source", ingestSource),
			zap.Int("new", sum.New),
			zap.Int("updated", sum.Updated),
			zap.Int("duplicates", sum.Duplicates),
			zap.Int("rejected", sum.Rejected),
		)
		return json.NewEncoder(os.Stdout).Encode(sum)
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestFile, "file", "", "path to JSON input (default stdin)")
	ingestCmd.Flags().StringVar(&ingestSource, "source", "manual", "source label for the audit log")
	rootCmd.AddCommand(ingestCmd)
}
