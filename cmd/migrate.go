package cmd

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	infralogger "github.com/jonesrussell/north-cloud/listings/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/listings/internal/database"
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDatabase(func(db *sqlx.DB, log infralogger.Logger) error {
				return database.MigrateDown(db.DB, steps, log)
			})
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDatabase(func(db *sqlx.DB, log infralogger.Logger) error {
					return database.RunMigrations(db.DB, log)
				})
			},
		},
		down,
		&cobra.Command{
			Use:   "version",
			Short: "Print the schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDatabase(func(db *sqlx.DB, _ infralogger.Logger) error {
					version, dirty, err := database.MigrationVersion(db.DB)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", version, dirty)
					return nil
				})
			},
		},
	)
	return cmd
}

// withDatabase opens only the database, so migrations run before Redis or platforms exist.
func withDatabase(fn func(db *sqlx.DB, log infralogger.Logger) error) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	db, err := database.NewPostgresConnection(cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("Failed to close database", infralogger.Error(closeErr))
		}
	}()

	return fn(db, log)
}
