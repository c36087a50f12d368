package main

import (
	"context"
	"flag"
	"os"
	"time"

	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kpndevrootentri/ShipEntri/internal/app/migrate"
	"github.com/kpndevrootentri/ShipEntri/pkg/config"
	"github.com/kpndevrootentri/ShipEntri/pkg/logger"
)

func main() {
	action := flag.String("action", "up", "up, down or status")
	to := flag.Int64("to", 0, "target version for down; 0 rolls back one migration")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall deadline")
	flag.Parse()

	cfg := config.LoadAPIConfig()
	log := logger.New("migrate", slog.LevelInfo)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("database connection failed", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("migration runner setup failed", "error", err)
		os.Exit(1)
	}
	defer runner.Close()

	var runErr error
	switch *action {
	case "up":
		runErr = runner.Ensure(ctx)
	case "down":
		runErr = runner.Down(ctx, *to)
	case "status":
		runErr = runner.Status(ctx)
	default:
		log.Error("unknown action", "action", *action)
		os.Exit(1)
	}
	if runErr != nil {
		log.Error("migration action failed", "action", *action, "error", runErr)
		os.Exit(1)
	}
	log.Info("migration action completed", "action", *action)
}
