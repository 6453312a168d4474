package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/webfabrica/leadgen-cli/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if cfg.Store.Driver == "sqlite" {
			// SQLite applies its schema on open.
			st, err := store.NewSQLite(cfg.Store.SQLitePath)
			if err != nil {
				return err
			}
			defer st.Close()
			zap.L().Info("sqlite schema up to date", zap.String("path", cfg.Store.SQLitePath))
			return nil
		}

		st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := store.Migrate(ctx, st.Pool()); err != nil {
			return eris.Wrap(err, "migrate")
		}
		zap.L().Info("migrations applied")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
