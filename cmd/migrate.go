package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"campus-market/internal/db"
	"campus-market/internal/observability"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := observability.NewLogger(cfg.AppEnv)
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		database, err := db.Open(ctx, cfg.DBDSN, db.Options{MaxOpenConns: 1})
		if err != nil {
			return err
		}
		defer database.Close()

		if err := db.Migrate(ctx, database); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Info("migrations applied")
		return nil
	},
}
