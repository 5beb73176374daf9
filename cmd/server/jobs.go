package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/scriptgen/backend/internal/db"
	"github.com/scriptgen/backend/internal/transcript"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect transcription jobs",
	}
	jobsCmd.AddCommand(newJobsListCommand(ctx))
	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var skip int
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List transcription jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openStores(ctx.config, ctx.logger())
			if err != nil {
				return err
			}
			defer svc.Close()

			scripts, total, err := svc.scripts.List(cmd.Context(), skip, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(scripts) == 0 {
				fmt.Fprintln(out, "No jobs found")
				return nil
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Status", "Title", "Duration", "Created"},
				scriptRows(scripts, time.Now()),
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				stdoutIsTerminal(),
			))
			fmt.Fprintf(out, "Showing %d of %d\n", len(scripts), total)
			return nil
		},
	}

	cmd.Flags().IntVar(&skip, "skip", 0, "Number of jobs to skip")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of jobs to list")
	return cmd
}

func scriptRows(scripts []db.Script, now time.Time) [][]string {
	rows := make([][]string, 0, len(scripts))
	for i := range scripts {
		s := &scripts[i]
		duration := "-"
		if s.DurationSeconds != nil && *s.DurationSeconds > 0 {
			duration = transcript.FormatDuration(*s.DurationSeconds)
		}
		rows = append(rows, []string{
			s.ID,
			s.Status,
			truncate(s.TitleOr("Untitled"), 48),
			duration,
			humanize.RelTime(s.CreatedAt, now, "ago", "from now"),
		})
	}
	return rows
}

func truncate(value string, max int) string {
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}
	return string(runes[:max-1]) + "…"
}
