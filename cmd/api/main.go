package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kpndevrootentri/ShipEntri/internal/app/migrate"
	"github.com/kpndevrootentri/ShipEntri/internal/docker"
	"github.com/kpndevrootentri/ShipEntri/internal/gateway"
	"github.com/kpndevrootentri/ShipEntri/internal/gitrepo"
	httpx "github.com/kpndevrootentri/ShipEntri/internal/http"
	"github.com/kpndevrootentri/ShipEntri/internal/queue"
	"github.com/kpndevrootentri/ShipEntri/internal/repository/postgres"
	"github.com/kpndevrootentri/ShipEntri/internal/service/deploy"
	"github.com/kpndevrootentri/ShipEntri/internal/service/project"
	"github.com/kpndevrootentri/ShipEntri/pkg/config"
	"github.com/kpndevrootentri/ShipEntri/pkg/logger"
)

func main() {
	cfg := config.LoadAPIConfig()
	workerCfg := config.LoadWorkerConfig()
	log := logger.New("api", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)

	jobQueue, err := queue.New(cfg.QueueRedisAddr, cfg.QueueRedisPassword, cfg.QueueRedisDB, log)
	if err != nil {
		log.Error("failed to connect to queue", "error", err)
		os.Exit(1)
	}
	defer jobQueue.Close()

	engine, err := docker.New(cfg.DockerHost, docker.Options{
		Prefix:           cfg.ContainerPrefix,
		MemoryLimitBytes: workerCfg.MemoryLimitBytes,
		CPUShares:        workerCfg.CPUShares,
	})
	if err != nil {
		log.Error("failed to create docker client", "error", err)
		os.Exit(1)
	}
	defer engine.Close()
	if err := engine.Ping(ctx); err != nil {
		log.Error("docker ping failed", "error", err)
		os.Exit(1)
	}

	repos, err := gitrepo.New(workerCfg.ProjectsRoot, log)
	if err != nil {
		log.Error("projects root init failed", "error", err, "root", workerCfg.ProjectsRoot)
		os.Exit(1)
	}

	projectSvc := project.New(repo, repo, engine, repos, log)
	deploySvc := deploy.New(repo, repo, repos, engine, jobQueue, cfg.ContainerPrefix, deploy.Timeouts{
		Git:   workerCfg.GitTimeout,
		Build: workerCfg.BuildTimeout,
	}, log)
	gw := gateway.New(gateway.NewDockerEngine(engine), cfg.ContainerPrefix, cfg.ExecTimeout, log)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	queueHealth := func(ctx context.Context) error { return jobQueue.Ping(ctx) }
	router := httpx.NewRouter(log, projectSvc, deploySvc, gw, limiter, cfg.JWTSecret, cfg.ContainerPrefix, pool.Ping, queueHealth)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
