package main

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/scriptgen/backend/internal/status"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jobID string
	var batch bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status <task_id>",
		Short: "Show the reconciled status of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openStores(ctx.config, ctx.logger())
			if err != nil {
				return err
			}
			defer svc.Close()

			var st *status.NormalizedStatus
			if batch {
				st = svc.reconciler.GetBatchStatus(cmd.Context(), args[0], jobID)
			} else {
				st = svc.reconciler.GetStatus(cmd.Context(), args[0], jobID)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				data, err := json.MarshalIndent(st, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(data))
				return nil
			}
			fmt.Fprint(out, formatStatus(st))
			return nil
		},
	}

	cmd.Flags().StringVar(&jobID, "job", "", "Job ID used when the run is no longer cached")
	cmd.Flags().BoolVar(&batch, "batch", false, "Treat the run as a batch download")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the status as JSON")
	return cmd
}

func formatStatus(st *status.NormalizedStatus) string {
	s := fmt.Sprintf("Task:     %s\n", st.TaskID)
	if st.JobID != "" {
		s += fmt.Sprintf("Job:      %s\n", st.JobID)
	}
	s += fmt.Sprintf("Status:   %s (%d%%)\n", st.Status, st.Progress)
	if st.Message != "" {
		s += fmt.Sprintf("Message:  %s\n", st.Message)
	}
	if len(st.Extra) > 0 {
		keys := make([]string, 0, len(st.Extra))
		for k := range st.Extra {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			s += fmt.Sprintf("  %s: %v\n", k, st.Extra[k])
		}
	}
	return s
}
