package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"pns/internal/app"
	"pns/internal/config"
	"pns/internal/notify"
	"pns/internal/server"
)

func newServeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the local HTTP API until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}

			metrics := server.NewMetrics()
			a, err := app.New(ctx, cfg,
				app.WithLogger(c.logger),
				app.WithNotifier(notify.LogSink{Logger: c.logger}),
				app.WithObserver(metrics),
				app.WithDryRun(c.dryRun),
			)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.Start(ctx); err != nil {
				c.logger.Warn("initial registry refresh failed", "error", err)
			}

			apiServer := server.NewServer(cfg, a, metrics, c.logger)
			errCh := make(chan error, 1)
			go func() {
				if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			c.logger.Info("shutting down API")
			return apiServer.Shutdown(shutdownCtx)
		},
	}
}
