package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kpndevrootentri/ShipEntri/internal/docker"
	"github.com/kpndevrootentri/ShipEntri/internal/gitrepo"
	"github.com/kpndevrootentri/ShipEntri/internal/queue"
	"github.com/kpndevrootentri/ShipEntri/internal/repository/postgres"
	"github.com/kpndevrootentri/ShipEntri/internal/service/deploy"
	"github.com/kpndevrootentri/ShipEntri/internal/worker"
	"github.com/kpndevrootentri/ShipEntri/pkg/config"
	"github.com/kpndevrootentri/ShipEntri/pkg/logger"
)

func main() {
	cfg := config.LoadWorkerConfig()
	log := logger.New("worker", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := worker.WaitForDependency(ctx, "database", cfg.StartupWait, log, pool.Ping); err != nil {
		log.Error("database unavailable", "error", err)
		os.Exit(1)
	}

	engine, err := docker.New(cfg.DockerHost, docker.Options{
		Prefix:           cfg.ContainerPrefix,
		MemoryLimitBytes: cfg.MemoryLimitBytes,
		CPUShares:        cfg.CPUShares,
	})
	if err != nil {
		log.Error("failed to create docker client", "error", err)
		os.Exit(1)
	}
	defer engine.Close()
	if err := worker.WaitForDependency(ctx, "docker", cfg.StartupWait, log, engine.Ping); err != nil {
		log.Error("docker unavailable", "error", err)
		os.Exit(1)
	}

	var jobQueue *queue.Queue
	if err := worker.WaitForDependency(ctx, "queue", cfg.StartupWait, log, func(context.Context) error {
		q, err := queue.New(cfg.QueueRedisAddr, cfg.QueueRedisPassword, cfg.QueueRedisDB, log)
		if err != nil {
			return err
		}
		jobQueue = q
		return nil
	}); err != nil {
		log.Error("queue unavailable", "error", err)
		os.Exit(1)
	}
	defer jobQueue.Close()

	repos, err := gitrepo.New(cfg.ProjectsRoot, log)
	if err != nil {
		log.Error("projects root init failed", "error", err, "root", cfg.ProjectsRoot)
		os.Exit(1)
	}

	repo := postgres.New(pool)
	deploySvc := deploy.New(repo, repo, repos, engine, jobQueue, cfg.ContainerPrefix, deploy.Timeouts{
		Git:   cfg.GitTimeout,
		Build: cfg.BuildTimeout,
	}, log)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		checks := map[string]func(context.Context) error{
			"database": pool.Ping,
			"queue":    jobQueue.Ping,
			"docker":   engine.Ping,
		}
		status := http.StatusOK
		components := make(map[string]string, len(checks))
		for name, check := range checks {
			ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
			err := check(ctx)
			cancel()
			if err != nil {
				status = http.StatusServiceUnavailable
				components[name] = "down"
			} else {
				components[name] = "up"
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(components)
	})

	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("metrics server starting", "addr", cfg.MetricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server error", "error", err)
		}
	}()

	w := worker.New(deploySvc, jobQueue, worker.Options{
		Concurrency: cfg.Concurrency,
		StaleAfter:  cfg.SweepStaleAfter,
	}, log)

	log.Info("worker starting", "concurrency", cfg.Concurrency, "prefix", cfg.ContainerPrefix)
	w.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("metrics shutdown failed", "error", err)
	}
	log.Info("worker stopped")
}
