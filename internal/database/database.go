package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"congressus-cache/internal/cache/db"
	"congressus-cache/internal/config"
	"congressus-cache/internal/database/migrations"
	"congressus-cache/internal/logger"
)

const (
	maxRetries = 5
	retryDelay = 2 * time.Second
)

// Open connects to the configured cache database and makes sure the schema
// exists. SQLite tables are created directly; PostgreSQL is migrated when
// AutoMigrate is set.
func Open(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*db.DB, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		return openSQLite(ctx, cfg, log)
	case config.DriverPostgres:
		return openPostgres(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func openSQLite(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*db.DB, error) {
	if dir := filepath.Dir(cfg.DSN); !strings.HasPrefix(cfg.DSN, "file:") && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	sqldb, err := sql.Open(sqliteshim.ShimName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %s: %w", cfg.DSN, err)
	}
	// A single connection keeps writes serialized in SQLite.
	sqldb.SetMaxOpenConns(1)

	cacheDB := &db.DB{Bun: bun.NewDB(sqldb, sqlitedialect.New())}
	if err := cacheDB.CreateTables(ctx); err != nil {
		cacheDB.Bun.Close()
		return nil, err
	}
	log.LogDatabase("OPEN", "sqlite", fmt.Sprintf("Cache database ready at %s", cfg.DSN))
	return cacheDB, nil
}

func openPostgres(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*db.DB, error) {
	var (
		sqldb *sql.DB
		err   error
	)
	for i := 0; i < maxRetries; i++ {
		log.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, maxRetries))
		sqldb, err = sql.Open("postgres", cfg.DSN)
		if err == nil {
			if err = sqldb.PingContext(ctx); err == nil {
				break
			}
			sqldb.Close()
		}
		log.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if i < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL after %d attempts: %w", maxRetries, err)
	}
	log.Info("DATABASE", "PostgreSQL connection successful")

	if cfg.AutoMigrate {
		runner := migrations.NewRunner(cfg.DSN, log)
		err := runner.RunMigrations()
		if closeErr := runner.Close(); closeErr != nil {
			log.Warn("DATABASE", closeErr.Error())
		}
		if err != nil {
			sqldb.Close()
			return nil, err
		}
	}

	return &db.DB{Bun: bun.NewDB(sqldb, pgdialect.New())}, nil
}
