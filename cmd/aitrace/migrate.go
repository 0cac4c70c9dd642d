package main

import (
	"aitrace_platform/aitrace/database"
	"aitrace_platform/aitrace/logging"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()

		outputs, err := logging.Init(cfg.LogDir, cfg.LogLevel)
		if err != nil {
			return err
		}
		defer outputs.Close()

		db, err := database.Open(cfg.Database)
		if err != nil {
			return fmt.Errorf("error opening database: %w", err)
		}

		if err := database.Migrate(db); err != nil {
			return fmt.Errorf("error migrating database: %w", err)
		}

		slog.Info("migrations applied", "driver", cfg.Database.Driver)
		return nil
	},
}
