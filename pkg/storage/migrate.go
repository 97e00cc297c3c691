package storage

import (
	"context"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Single advisory lock key shared by all instances running migrations.
const migrateLockID = 1

// Migrate applies the embedded schema migrations, serialized across
// instances with a Postgres advisory lock. Already-applied migrations are
// a no-op.
func (s *Store) Migrate(ctx context.Context) error {
	var locked bool
	if err := s.db.QueryRowContext(ctx,
		"SELECT pg_try_advisory_lock($1)", migrateLockID).Scan(&locked); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("migration lock already held")
	}
	defer s.db.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", migrateLockID)

	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("open migration source: %w", err)
	}
	driver, err := postgres.WithInstance(s.db, &postgres.Config{
		MigrationsTable: "schema_migrations",
		DatabaseName:    s.cfg.DBName,
	})
	if err != nil {
		return fmt.Errorf("open migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, s.cfg.DBName, driver)
	if err != nil {
		return fmt.Errorf("build migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("read migration version: %w", err)
	}
	if dirty {
		return fmt.Errorf("schema dirty at version %d, manual intervention required", version)
	}

	log.WithField("version", version).Info("schema migrations applied")
	return nil
}
