package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	infralogger "github.com/jonesrussell/north-cloud/listings/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/listings/migrations"
)

func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("create postgres driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}
	return m, nil
}

// RunMigrations applies all pending migrations.
func RunMigrations(db *sql.DB, log infralogger.Logger) error {
	m, err := newMigrator(db)
	if err != nil {
		return err
	}

	if upErr := m.Up(); upErr != nil {
		if errors.Is(upErr, migrate.ErrNoChange) {
			log.Info("No pending migrations")
			return nil
		}
		return fmt.Errorf("run migrations: %w", upErr)
	}

	log.Info("Migrations applied successfully")
	return nil
}

// MigrateDown rolls back steps migrations (default: 1).
func MigrateDown(db *sql.DB, steps int, log infralogger.Logger) error {
	m, err := newMigrator(db)
	if err != nil {
		return err
	}

	if steps <= 0 {
		steps = 1
	}

	if downErr := m.Steps(-steps); downErr != nil {
		if errors.Is(downErr, migrate.ErrNoChange) {
			log.Info("No migrations to rollback")
			return nil
		}
		return fmt.Errorf("rollback migrations: %w", downErr)
	}

	log.Info("Migrations rolled back successfully", infralogger.Int("steps", steps))
	return nil
}

// MigrationVersion returns the current schema version and whether it is dirty.
func MigrationVersion(db *sql.DB) (uint, bool, error) {
	m, err := newMigrator(db)
	if err != nil {
		return 0, false, err
	}

	version, dirty, err := m.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("get migration version: %w", err)
	}
	return version, dirty, nil
}
