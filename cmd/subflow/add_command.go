package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"subflow/internal/config"
	"subflow/internal/logging"
	"subflow/internal/notifications"
	"subflow/internal/queue"
	"subflow/internal/workflow"
)

func newAddCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "add <url-or-file> [more...]",
		Short: "Queue videos, audio files, or subtitle files for processing",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				submitter := workflow.NewSubmitter(store, notifications.NewService(cfg), logging.NewNop())
				out := cmd.OutOrStdout()

				for _, arg := range args {
					job, created, err := submitArgument(cmd, submitter, arg)
					if err != nil {
						return err
					}
					if created {
						fmt.Fprintf(out, "Queued job %d (%s)\n", job.ID, arg)
					} else {
						fmt.Fprintf(out, "Already queued as job %d (status %s)\n", job.ID, job.Status)
					}
				}
				return nil
			})
		},
	}
}

func submitArgument(cmd *cobra.Command, submitter *workflow.Submitter, arg string) (*queue.Job, bool, error) {
	trimmed := strings.TrimSpace(arg)
	if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
		return submitter.SubmitURL(cmd.Context(), trimmed)
	}

	expanded, err := config.ExpandPath(trimmed)
	if err != nil {
		return nil, false, err
	}
	if _, err := os.Stat(expanded); err != nil {
		return nil, false, fmt.Errorf("inspect %q: %w", trimmed, err)
	}
	return submitter.SubmitFile(cmd.Context(), expanded)
}
