package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/scriptgen/backend/internal/api"
	"github.com/scriptgen/backend/internal/health"
	"github.com/scriptgen/backend/internal/websocket"
)

const shutdownTimeout = 30 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	var withoutWorkers bool
	var withoutJanitor bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API together with the workers and the janitor",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.config
			log := ctx.logger()

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, err := openStores(cfg, log)
			if err != nil {
				return err
			}
			defer svc.Close()
			if err := svc.attachMedia(runCtx); err != nil {
				return err
			}

			if !withoutWorkers {
				workers := svc.workers()
				workers.Start()
				defer func() {
					stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
					defer cancel()
					if err := workers.Stop(stopCtx); err != nil {
						log.Error(stopCtx, "worker shutdown failed", err)
					}
				}()
			}
			if !withoutJanitor {
				go svc.janitor().Run(runCtx)
			}

			hub := websocket.NewHub()
			go hub.Run()
			defer hub.Stop()

			router := api.NewRouter(api.RouterConfig{
				Jobs:     svc.jobs(),
				Statuses: svc.reconciler,
				Links:    svc.signer,
				Health:   health.NewHandler(svc.healthChecker()),
				Metrics:  svc.metrics,
				Progress: websocket.NewHandler(hub, websocket.HandlerConfig{
					Statuses:       svc.reconciler,
					Publisher:      svc.cache,
					Metrics:        svc.metrics,
					AllowedOrigins: cfg.Server.AllowedOrigins,
					Logger:         log,
				}),
				AllowedOrigins: cfg.Server.AllowedOrigins,
				Logger:         log,
			})

			server := &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}

			serveErr := make(chan error, 1)
			go func() {
				log.Info(runCtx, "server listening", map[string]interface{}{
					"addr":    cfg.Server.Addr,
					"workers": !withoutWorkers,
				})
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
				close(serveErr)
			}()

			select {
			case err := <-serveErr:
				return err
			case <-runCtx.Done():
			}

			log.Info(context.Background(), "shutting down", nil)
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().BoolVar(&withoutWorkers, "no-workers", false, "Serve the API only; run workers in a separate process")
	cmd.Flags().BoolVar(&withoutJanitor, "no-janitor", false, "Disable the periodic cleanup of stale files")
	return cmd
}
