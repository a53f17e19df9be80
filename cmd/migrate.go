package cmd

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"nest-server/config"
	"nest-server/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := connect(config.AppConfig)
		if err != nil {
			return err
		}
		if err := database.Migrate(db); err != nil {
			return err
		}
		logrus.Info("✅ Migrations applied")
		return nil
	},
}
