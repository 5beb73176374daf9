package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Process queued jobs without serving the API",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := ctx.logger()

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, err := openStores(ctx.config, log)
			if err != nil {
				return err
			}
			defer svc.Close()
			if err := svc.attachMedia(runCtx); err != nil {
				return err
			}

			workers := svc.workers()
			workers.Start()
			log.Info(runCtx, "workers running", map[string]interface{}{"count": ctx.config.Workers.Count})

			<-runCtx.Done()

			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return workers.Stop(stopCtx)
		},
	}
}
