package migrator

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

var ErrDirtySchema = errors.New("database schema is in a dirty state")

type Config struct {
	MigrationsPath string
}

type Migrator struct {
	db     *sql.DB
	config Config
	logger *slog.Logger
}

func NewMigrator(db *sql.DB, config Config, logger *slog.Logger) *Migrator {
	return &Migrator{
		db:     db,
		config: config,
		logger: logger.With(slog.String("migrations", config.MigrationsPath)),
	}
}

// MigrationDirection defines the direction of migrations
type MigrationDirection string

const (
	MigrationUp   MigrationDirection = "up"
	MigrationDown MigrationDirection = "down"
)

// createMigrator create a migration instance. The instance is not closed:
// closing it would close the shared *sql.DB as well.
func (m *Migrator) createMigrator() (*migrate.Migrate, error) {
	driver, err := sqlite.WithInstance(m.db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create migration driver: %w", err)
	}

	instance, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", m.config.MigrationsPath),
		"sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration instance: %w", err)
	}
	return instance, nil
}

// run executes step and reports the resulting version.
func (m *Migrator) run(op string, step func(*migrate.Migrate) error) (uint, error) {
	log := m.logger.With(slog.String("op", op))

	instance, err := m.createMigrator()
	if err != nil {
		return 0, err
	}

	if err := step(instance); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	version, dirty, err := instance.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, fmt.Errorf("failed to get migration version: %w", err)
	}

	if dirty {
		log.Warn("Database schema is in a dirty state", slog.Uint64("version", uint64(version)))
		return version, fmt.Errorf("%w at version %d", ErrDirtySchema, version)
	}

	return version, nil
}

// RunMigrations applies database migrations in the specified direction
func (m *Migrator) RunMigrations(direction MigrationDirection) error {
	const op = "migrator.RunMigrations"

	var step func(*migrate.Migrate) error
	switch direction {
	case MigrationUp:
		step = (*migrate.Migrate).Up
	case MigrationDown:
		step = (*migrate.Migrate).Down
	default:
		return fmt.Errorf("invalid migration direction: %s", direction)
	}

	m.logger.Info("Running database migrations", slog.String("direction", string(direction)))

	version, err := m.run(op, step)
	if err != nil {
		return err
	}

	m.logger.Info("Database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
		slog.String("direction", string(direction)),
	)
	return nil
}

// MigrateUp applying all up migrations
func (m *Migrator) MigrateUp() error {
	return m.RunMigrations(MigrationUp)
}

// MigrateDown rolls back all migrations
func (m *Migrator) MigrateDown() error {
	return m.RunMigrations(MigrationDown)
}

// MigrateDownN rolls back N migrations
func (m *Migrator) MigrateDownN(n int) error {
	const op = "migrator.MigrateDownN"

	if n <= 0 {
		return fmt.Errorf("%s: steps must be positive, got %d", op, n)
	}

	version, err := m.run(op, func(instance *migrate.Migrate) error {
		return instance.Steps(-n)
	})
	if err != nil {
		return err
	}

	m.logger.Info("Migration rollback completed successfully", slog.Uint64("version", uint64(version)), slog.Int("steps", n))
	return nil
}

// MigrateTo migrates to a specific version
func (m *Migrator) MigrateTo(target uint) error {
	const op = "migrator.MigrateTo"

	version, err := m.run(op, func(instance *migrate.Migrate) error {
		return instance.Migrate(target)
	})
	if err != nil {
		return err
	}

	m.logger.Info("Migration completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// GetMigrationVersion returns the current migration version; zero means
// nothing has been applied yet.
func (m *Migrator) GetMigrationVersion() (uint, bool, error) {
	instance, err := m.createMigrator()
	if err != nil {
		return 0, false, err
	}

	version, dirty, err := instance.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}

	return version, dirty, nil
}
