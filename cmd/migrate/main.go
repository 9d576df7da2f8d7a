package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"lanchat/internal/util/logger/sl"
	"lanchat/pkg/migrator"

	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
)

func main() {
	migrationDir := flag.String("path", "migrations", "Path to the migrations directory")
	dbPath := flag.String("db", filepath.Join("data", "peers.sqlite"), "Path to the peer book SQLite file")
	direction := flag.String("direction", "up", "Migration direction: up, down, version, rollback or to")
	version := flag.Int("version", 0, "Target version for migration")
	steps := flag.Int("steps", 1, "Number of steps to roll back")

	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if err := os.MkdirAll(filepath.Dir(*dbPath), 0755); err != nil {
		logger.Error("Failed to create database directory", sl.Err(err))
		os.Exit(1)
	}

	db, err := sql.Open("sqlite", *dbPath)
	if err != nil {
		logger.Error("Failed to open database", sl.Err(err))
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Error("Failed to connect to database", sl.Err(err))
		os.Exit(1)
	}

	m := migrator.NewMigrator(db, migrator.Config{MigrationsPath: *migrationDir}, logger)

	switch *direction {
	case "up":
		err = m.MigrateUp()
	case "down":
		err = m.MigrateDown()
	case "rollback":
		err = m.MigrateDownN(*steps)
	case "to":
		if *version <= 0 {
			logger.Error("Please specify a target version with -version flag")
			os.Exit(1)
		}
		err = m.MigrateTo(uint(*version))
	case "version":
		v, dirty, err := m.GetMigrationVersion()
		if err != nil {
			logger.Error("Failed to get migration version", sl.Err(err))
			os.Exit(1)
		}
		fmt.Printf("Current migration version: %d (dirty: %v)\n", v, dirty)
		return
	default:
		logger.Error("Unknown migration direction", slog.String("direction", *direction))
		os.Exit(1)
	}

	if err != nil {
		logger.Error("Migration failed", slog.String("direction", *direction), sl.Err(err))
		os.Exit(1)
	}
	logger.Info("Migration completed successfully")
}
