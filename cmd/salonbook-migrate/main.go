package main

import (
	"flag"
	"log/slog"
	"os"

	"salonbook/backend/internal/config"
	"salonbook/backend/internal/store/postgres"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})).With(
		slog.String("service", "salonbook-migrate"),
	)
	slog.SetDefault(log)

	action := flag.String("action", postgres.MigrateUp, "one of up, down, step-up, drop, version")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	log.Info("running migrations", slog.String("action", *action))
	if err := postgres.Migrate(cfg.DatabaseURL, *action, log); err != nil {
		log.Error("migration failed", slog.String("action", *action), slog.Any("err", err))
		os.Exit(1)
	}
	log.Info("migrations done", slog.String("action", *action))
}
