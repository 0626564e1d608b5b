package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/liamcoop/formrules/internal/config"
	"github.com/liamcoop/formrules/internal/logger"
)

func main() {
	var configPath string
	var databaseURL string
	var migrationsPath string
	var command string

	flag.StringVar(&configPath, "config", os.Getenv("FORMRULES_CONFIG"), "Path to YAML configuration file")
	flag.StringVar(&databaseURL, "database", "", "Database URL (defaults to database.url or DATABASE_URL)")
	flag.StringVar(&migrationsPath, "path", "", "Path to migrations directory (defaults to database.migrations_path)")
	flag.StringVar(&command, "command", "up", "Migration command: up, down, version, force")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", "error", err)
	}
	if databaseURL == "" {
		databaseURL = cfg.Database.URL
	}
	if migrationsPath == "" {
		migrationsPath = cfg.Database.MigrationsPath
	}

	if databaseURL == "" {
		logger.Fatal("database URL is required, use -database or DATABASE_URL")
	}

	logger.Info("connecting to database", "migrations_path", migrationsPath)

	m, err := migrate.New(fmt.Sprintf("file://%s", migrationsPath), databaseURL)
	if err != nil {
		logger.Fatal("failed to create migration instance", "error", err)
	}
	defer m.Close()

	switch command {
	case "up":
		logger.Info("running migrations up")
		err = m.Up()
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("no migrations to run, database is up to date")
		} else if err != nil {
			logger.Fatal("failed to run migrations", "error", err)
		} else {
			logger.Info("migrations completed")
		}

	case "down":
		logger.Info("rolling back migrations")
		err = m.Down()
		if err != nil && !errors.Is(err, migrate.ErrNoChange) {
			logger.Fatal("failed to roll back migrations", "error", err)
		}
		logger.Info("rollback completed")

	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			logger.Fatal("failed to get version", "error", err)
		}
		logger.Info("current version", "version", version, "dirty", dirty)

	case "force":
		if flag.NArg() < 1 {
			logger.Fatal("force requires a version number: -command force <version>")
		}
		version, err := strconv.Atoi(flag.Arg(0))
		if err != nil {
			logger.Fatal("invalid version number", "error", err)
		}
		if err := m.Force(version); err != nil {
			logger.Fatal("failed to force version", "error", err)
		}
		logger.Info("forced version", "version", version)

	default:
		logger.Fatal("unknown command, use up, down, version or force", "command", command)
	}
}
