package cli

import (
	"github.com/spf13/cobra"

	"go-dm/internal/db"
)

func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the documents table for the postgres backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := rootOpts.load()
			if err != nil {
				return err
			}
			if cfg.Store.Backend != "postgres" {
				logger.Info("Nothing to migrate", "store", cfg.Store.Backend)
				return nil
			}

			database, err := db.NewDatabase(cfg.Store.PostgresDSN)
			if err != nil {
				logger.Error("❌ Failed to connect to DB", "err", err)
				return err
			}
			defer database.Close()
			logger.Info("✅ Connected to PostgreSQL")

			if err := database.AutoMigrate(cmd.Context()); err != nil {
				logger.Error("❌ Migration failed", "err", err)
				return err
			}
			logger.Info("✅ Database Schema Initialized")
			return nil
		},
	}
}
