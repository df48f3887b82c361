package db

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	migrate "github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Migrate applies every pending up migration found in src. It opens its own
// database/sql handle through the pgx stdlib driver and closes it before
// returning.
func Migrate(dsn string, src fs.FS, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("platform/db: open migration db: %w", err)
	}
	defer func() {
		if cerr := sqlDB.Close(); cerr != nil {
			logger.Error("close migration db", slog.Any("error", cerr))
		}
	}()
	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("platform/db: ping migration db: %w", err)
	}

	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("platform/db: migration driver: %w", err)
	}
	source, err := iofs.New(src, ".")
	if err != nil {
		return fmt.Errorf("platform/db: migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("platform/db: migrate instance: %w", err)
	}

	upErr := m.Up()
	sourceErr, dbErr := m.Close()
	switch {
	case errors.Is(upErr, migrate.ErrNoChange):
		logger.Info("no new migrations to apply")
	case upErr != nil:
		return fmt.Errorf("platform/db: apply migrations: %w", upErr)
	default:
		logger.Info("database migrations applied")
	}
	if sourceErr != nil {
		return fmt.Errorf("platform/db: migration source close: %w", sourceErr)
	}
	if dbErr != nil {
		return fmt.Errorf("platform/db: migration db close: %w", dbErr)
	}
	return nil
}
