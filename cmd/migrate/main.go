package main

import (
	"flag"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/segyhp/installment-engine/internal/config"
	"github.com/segyhp/installment-engine/internal/repository"
	"github.com/segyhp/installment-engine/pkg/logger"
)

func main() {
	direction := flag.String("direction", string(repository.MigrateUp), "migration direction: up or down")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.New("info", "json").WithError(err).Fatal("Failed to load configuration")
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	dir := repository.MigrationDirection(*direction)
	if dir != repository.MigrateUp && dir != repository.MigrateDown {
		log.WithField("direction", *direction).Fatal("Unknown migration direction")
	}

	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	if err := repository.Migrate(db.DB, cfg.Database.Name, dir, log); err != nil {
		log.WithError(err).Fatal("Migration failed")
	}

	log.WithField("direction", dir).Info("Migrations applied")
}
