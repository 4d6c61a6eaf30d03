package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"subflow/internal/config"
	"subflow/internal/queue"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var statusFilter string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show queued jobs and their progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				var filters []queue.Status
				if trimmed := strings.TrimSpace(statusFilter); trimmed != "" {
					parsed, ok := queue.ParseStatus(trimmed)
					if !ok {
						return fmt.Errorf("unknown status %q", trimmed)
					}
					filters = append(filters, parsed)
				}

				jobs, err := store.List(cmd.Context(), filters...)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(jobs) == 0 {
					fmt.Fprintln(out, "Queue is empty")
					return nil
				}

				now := time.Now()
				rows := make([][]string, 0, len(jobs))
				for _, job := range jobs {
					snap := job.Snapshot(now)
					rows = append(rows, []string{
						strconv.FormatInt(job.ID, 10),
						string(job.Status),
						truncateCell(job.Title, 40),
						progressCell(snap),
						elapsedCell(snap),
						truncateCell(job.ErrorMessage, 48),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "STATUS", "TITLE", "PROGRESS", "ELAPSED", "ERROR"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
				))

				summary, err := store.Health(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Total %d: %d queued, %d processing, %d completed, %d failed\n",
					summary.Total, summary.Queued, summary.Processing, summary.Completed, summary.Failed)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&statusFilter, "status", "s", "", "Only show jobs with this status")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show full details for one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				job, err := store.GetByID(cmd.Context(), id)
				if err != nil {
					return err
				}
				if job == nil {
					return fmt.Errorf("job %d not found", id)
				}
				printJobDetails(cmd, job)
				return nil
			})
		},
	}
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Request cancellation of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				job, err := store.GetByID(cmd.Context(), id)
				if err != nil {
					return err
				}
				if job == nil {
					return fmt.Errorf("job %d not found", id)
				}
				if job.IsTerminal() {
					return fmt.Errorf("job %d already %s", id, job.Status)
				}
				if err := store.RequestCancel(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for job %d\n", id)
				return nil
			})
		},
	}
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [id...]",
		Short: "Requeue failed jobs at the phase they failed in",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := parseJobID(arg)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				retried, err := store.RetryFailed(cmd.Context(), ids...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d job(s)\n", retried)
				return nil
			})
		},
	}
}

func newRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a job from the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				removed, err := store.Remove(cmd.Context(), id)
				if err != nil {
					return err
				}
				if !removed {
					return fmt.Errorf("job %d not found", id)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed job %d\n", id)
				return nil
			})
		},
	}
}

func printJobDetails(cmd *cobra.Command, job *queue.Job) {
	out := cmd.OutOrStdout()
	snap := job.Snapshot(time.Now())

	fmt.Fprintf(out, "Job %d\n", job.ID)
	fields := []struct {
		label string
		value string
	}{
		{"Status", string(job.Status)},
		{"Title", job.Title},
		{"Source", firstNonEmpty(job.SourceURL, job.SourceFile)},
		{"Platform", job.Platform},
		{"Language", job.SourceLanguage},
		{"Needs transcription", yesNo(job.NeedsTranscribe)},
		{"Progress", progressCell(snap)},
		{"Subtitle", job.SubtitlePath},
		{"Translated", job.TranslatedPath},
		{"Result", job.ResultPath},
		{"Article", job.ArticleID},
		{"Degraded", yesNo(job.Degraded)},
		{"Failed phase", job.FailedPhase},
		{"Last provider", job.LastProvider},
		{"Error", job.ErrorMessage},
		{"Created", job.CreatedAt.Local().Format(time.RFC3339)},
		{"Updated", job.UpdatedAt.Local().Format(time.RFC3339)},
	}
	for _, field := range fields {
		if strings.TrimSpace(field.value) == "" {
			continue
		}
		fmt.Fprintf(out, "  %-20s %s\n", field.label+":", field.value)
	}
}

func parseJobID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid job id %q", raw)
	}
	return id, nil
}

func progressCell(snap queue.Snapshot) string {
	if snap.ChunksTotal == 0 {
		if snap.Status == queue.StatusCompleted {
			return "100%"
		}
		return "-"
	}
	cell := fmt.Sprintf("%d/%d (%.0f%%)", snap.ChunksDone, snap.ChunksTotal, snap.Percent)
	if snap.Remaining > 0 {
		cell += " ~" + snap.Remaining.Round(time.Second).String()
	}
	return cell
}

func elapsedCell(snap queue.Snapshot) string {
	if snap.Elapsed <= 0 {
		return "-"
	}
	return snap.Elapsed.Round(time.Second).String()
}

func truncateCell(value string, limit int) string {
	value = strings.TrimSpace(value)
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit-1]) + "…"
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
