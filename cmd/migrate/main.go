package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"congressus-cache/internal/config"
	"congressus-cache/internal/database/migrations"
	"congressus-cache/internal/logger"
)

func main() {
	var (
		down    = pflag.Bool("down", false, "roll back all migrations")
		to      = pflag.Uint("to", 0, "migrate up or down to this version")
		force   = pflag.Int("force", -1, "set the version without migrating, to clear a dirty state")
		version = pflag.Bool("version", false, "print the current schema version and exit")
	)
	pflag.Parse()

	log := logger.NewLogger("congressus-migrate")
	defer log.Close()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("CONFIG", err.Error())
	}
	if cfg.Database.Driver != config.DriverPostgres {
		log.Info("DATABASE", fmt.Sprintf("Driver %s creates its tables on startup, nothing to migrate", cfg.Database.Driver))
		return
	}

	runner := migrations.NewRunner(cfg.Database.DSN, log)
	defer runner.Close()

	switch {
	case *version:
		v, dirty, err := runner.Version()
		if err != nil {
			log.Fatal("DATABASE", err.Error())
		}
		fmt.Fprintf(os.Stdout, "version %d (dirty: %t)\n", v, dirty)
		return
	case *force >= 0:
		err = runner.Force(*force)
	case *down:
		err = runner.MigrateDown()
	case *to > 0:
		err = runner.MigrateTo(*to)
	default:
		err = runner.RunMigrations()
	}
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}
	log.Info("DATABASE", "Migrations complete")
}
