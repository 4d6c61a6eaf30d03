package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"subflow/internal/config"
	"subflow/internal/daemon"
	"subflow/internal/deps"
	"subflow/internal/logging"
	"subflow/internal/notifications"
	"subflow/internal/queue"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
)

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check stage dependencies and queue state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				d, err := daemon.New(cfg, store, logging.NewNop(), notifications.NewService(cfg))
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				colorize := isatty.IsTerminal(os.Stdout.Fd())
				allReady := true

				for _, status := range deps.CheckBinaries(deps.For(cfg)) {
					line := renderHealthLine(status.Name, status.Available, status.Detail, colorize)
					fmt.Fprintln(out, line)
					if !status.Available && !status.Optional {
						allReady = false
					}
				}

				for _, report := range d.HealthCheck(cmd.Context()) {
					line := renderHealthLine(report.Name, report.Ready, report.Detail, colorize)
					fmt.Fprintln(out, line)
					if !report.Ready {
						allReady = false
					}
				}

				summary, err := store.Health(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "  %-14s %d jobs (%d queued, %d processing, %d failed)\n",
					"queue:", summary.Total, summary.Queued, summary.Processing, summary.Failed)

				if !allReady {
					return fmt.Errorf("one or more stages are not ready")
				}
				return nil
			})
		},
	}
}

func renderHealthLine(name string, ready bool, detail string, colorize bool) string {
	state := "OK"
	color := ansiGreen
	if !ready {
		state = "ERROR"
		color = ansiRed
	}
	text := fmt.Sprintf("  %-14s [%s]", name+":", state)
	if detail != "" {
		text += " " + detail
	}
	if colorize {
		return color + text + ansiReset
	}
	return text
}
