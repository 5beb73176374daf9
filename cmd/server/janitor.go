package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/scriptgen/backend/internal/janitor"
)

func newJanitorCommand(ctx *commandContext) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "janitor",
		Short: "Remove stale work directories and expired archives",
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, err := openStores(ctx.config, ctx.logger())
			if err != nil {
				return err
			}
			defer svc.Close()
			if err := svc.attachStorage(runCtx); err != nil {
				return err
			}

			j := svc.janitor()
			if !once {
				j.Run(runCtx)
				return nil
			}

			report, err := j.RunOnce(runCtx)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), formatReport(report))
			return nil
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "Run a single sweep and exit")
	return cmd
}

func formatReport(r *janitor.Report) string {
	if r.Skipped {
		return "Another sweep is running; skipped\n"
	}
	return fmt.Sprintf("Removed %d work directories and %d archives, freed %s\n",
		r.WorkDirsRemoved, r.ArchivesRemoved, humanize.Bytes(uint64(r.BytesFreed)))
}
