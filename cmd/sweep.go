package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"nest-server/config"
	"nest-server/services"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one notification sweep and print the result",
}

var sweepOverdueCmd = &cobra.Command{
	Use:   "overdue",
	Short: "Remind users about overdue gear, at most once per day",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSweep(cmd, func(t *services.Triggers, now time.Time) (services.SweepResult, error) {
			return t.OverdueSweep(commandContext(cmd), now)
		})
	},
}

var sweepRemindersCmd = &cobra.Command{
	Use:   "reminders",
	Short: "Remind users about approved car bookings in the reminder window",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSweep(cmd, func(t *services.Triggers, now time.Time) (services.SweepResult, error) {
			return t.ReminderSweep(commandContext(cmd), now)
		})
	},
}

func init() {
	sweepCmd.AddCommand(sweepOverdueCmd)
	sweepCmd.AddCommand(sweepRemindersCmd)
}

func runSweep(cmd *cobra.Command, sweep func(*services.Triggers, time.Time) (services.SweepResult, error)) error {
	cfg := config.AppConfig
	db, err := connect(cfg)
	if err != nil {
		return err
	}

	result, err := sweep(newApp(cfg, db, nil).triggers, time.Now().UTC())
	if err != nil {
		return err
	}
	return printJSON(cmd, result)
}
