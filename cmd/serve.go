package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/webfabrica/leadgen-cli/internal/dedupe"
	"github.com/webfabrica/leadgen-cli/internal/ingest"
	"github.com/webfabrica/leadgen-cli/internal/selector"
)

var servePort int

// shutdownGrace bounds how long in-flight requests get to finish after a
// termination signal.
const shutdownGrace = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for collaborators",
	Long: `Exposes the pipeline over HTTP: listing ingestion for the
discovery scraper, stage reports for the generation, deployment and
outreach collaborators, and eligibility reads for all of them.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		lc := newLifecycle(st)
		deps := apiDeps{
			ingest:   ingest.NewProcessor(st, dedupe.NewResolver(st, cfg.Dedupe.DiscardWindowDays), lc),
			reporter: lc,
			selector: selector.New(st, cfg.Outreach),
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			return eris.Wrap(err, "server listen")
		}

		zap.L().Info("starting server", zap.Int("port", port))
		return serveUntilCancelled(ctx, &http.Server{Handler: newRouter(deps)}, ln)
	},
}

// serveUntilCancelled serves ln until ctx is cancelled, then drains
// in-flight requests within the shutdown grace period. The signal context
// is already cancelled by then, so the drain runs on its own deadline.
func serveUntilCancelled(ctx context.Context, srv *http.Server, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.L().Warn("server shutdown", zap.Error(err))
		}
	}()

	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "server serve")
	}
	return nil
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
