package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"subflow/internal/daemon"
	"subflow/internal/logging"
	"subflow/internal/notifications"
	"subflow/internal/queue"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the subflow daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			logger, err := logging.NewFromConfig(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			store, err := queue.Open(cfg)
			if err != nil {
				return fmt.Errorf("open queue store: %w", err)
			}

			d, err := daemon.New(cfg, store, logger, notifications.NewService(cfg))
			if err != nil {
				_ = store.Close()
				return fmt.Errorf("create daemon: %w", err)
			}
			defer d.Close()

			for _, report := range d.HealthCheck(signalCtx) {
				if report.Ready {
					logger.Info("stage ready", logging.String("stage", report.Name))
				} else {
					logger.Warn("stage not ready",
						logging.String("stage", report.Name),
						logging.String("detail", report.Detail))
				}
			}

			if err := d.Start(signalCtx); err != nil {
				return err
			}

			<-signalCtx.Done()
			logger.Info("subflow daemon shutting down")
			return nil
		},
	}
}
