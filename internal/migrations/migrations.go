package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/sigic/georef/internal/logging"
)

//go:embed postgres/*.sql
var MigrationsFS embed.FS

// RunMigrations applies the catalog schema to the database at databaseURL.
func RunMigrations(databaseURL string, logger *zap.Logger) error {
	logger = logger.Named("migrations")
	logger.Info("Running catalog migrations from embedded files")

	sourceInstance, err := iofs.New(MigrationsFS, "postgres")
	if err != nil {
		return fmt.Errorf("failed to create iofs source driver: %w", err)
	}
	defer func() {
		if cerr := sourceInstance.Close(); cerr != nil {
			logger.Warn("Error closing migration source instance", zap.Error(cerr))
		}
	}()

	migrateDB, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database connection for migration: %w", err)
	}
	defer func() {
		if cerr := migrateDB.Close(); cerr != nil {
			logger.Warn("Error closing migration db connection", zap.Error(cerr))
		}
	}()

	if err = migrateDB.Ping(); err != nil {
		return fmt.Errorf("failed to ping database for migration: %w", err)
	}

	dbDriver, err := postgres.WithInstance(migrateDB, &postgres.Config{
		MigrationsTable: "georef_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("could not create postgres driver instance: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceInstance, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &logging.MigrateLogger{Logger: logger}

	err = m.Up()
	srcErr, dbErr := m.Close()
	if srcErr != nil {
		logger.Warn("Error closing migration source", zap.Error(srcErr))
	}
	if dbErr != nil {
		logger.Warn("Error closing migration database connection", zap.Error(dbErr))
	}

	switch {
	case errors.Is(err, migrate.ErrNoChange):
		logger.Info("No catalog schema changes to apply")
	case err != nil:
		return fmt.Errorf("migration failed: %w", err)
	default:
		logger.Info("Catalog migrations completed successfully")
	}
	return nil
}
