package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"nest-server/config"
	"nest-server/jobs"
)

var workerOnce bool

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the push worker and sweeps without the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.AppConfig
		db, err := connect(cfg)
		if err != nil {
			return err
		}
		a := newApp(cfg, db, nil)

		ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runWorker(ctx, cmd, a)
	},
}

// runWorker drains one batch with --once, otherwise runs the loops until ctx is done.
// Without push delivery only the sweeps run.
func runWorker(ctx context.Context, cmd *cobra.Command, a *app) error {
	if workerOnce {
		if a.worker == nil {
			return errors.New("push delivery is not configured (VAPID keys missing or push disabled)")
		}
		summary, err := a.worker.Run(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd, summary)
	}

	if a.worker == nil {
		logrus.Warn("⚠️  Push delivery is not configured, running sweeps only")
	}
	scheduler := jobs.NewScheduler(a.cfg, a.worker, a.triggers)
	scheduler.Start(ctx)
	logrus.Info("👷 Worker started")

	<-ctx.Done()
	scheduler.Stop()
	logrus.Info("Worker stopped")
	return nil
}

func init() {
	workerCmd.Flags().BoolVar(&workerOnce, "once", false, "process a single batch and exit")
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return err
}

// commandContext falls back to Background when cobra was executed without a context.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
