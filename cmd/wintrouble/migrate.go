package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wintrouble/backend/internal/storage/sqlite"
	"github.com/wintrouble/backend/pkg/logger"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply ledger schema migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		defer logger.Sync()

		if err := sqlite.Migrate(cfg.SQLite.Path, log); err != nil {
			return err
		}
		log.Info("Migrations applied", zap.String("path", cfg.SQLite.Path))
		return nil
	},
}
