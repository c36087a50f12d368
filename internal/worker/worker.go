package worker

import (
	"context"
	"time"

	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sethvargo/go-retry"

	"github.com/kpndevrootentri/ShipEntri/internal/queue"
	"github.com/kpndevrootentri/ShipEntri/internal/service/deploy"
)

// Orchestrator is the pipeline surface the worker drives.
type Orchestrator interface {
	BuildAndDeploy(ctx context.Context, deploymentID string) (deploy.Disposition, error)
	SweepStuckBuilding(ctx context.Context, staleAfter time.Duration) (int, error)
}

// Consumer delivers queued jobs to a handler with bounded concurrency.
type Consumer interface {
	Consume(ctx context.Context, handler queue.Handler, concurrency int)
}

// Options tune the worker pool.
type Options struct {
	Concurrency int
	StaleAfter  time.Duration
}

// Worker pulls deployment jobs and runs the pipeline. All durable state
// lives in the entity store; the worker itself is stateless.
type Worker struct {
	orchestrator Orchestrator
	consumer     Consumer
	opts         Options
	logger       *slog.Logger
	outcomes     *prometheus.CounterVec
}

// New builds a worker pool around the orchestrator.
func New(orchestrator Orchestrator, consumer Consumer, opts Options, logger *slog.Logger) *Worker {
	if opts.Concurrency < 1 {
		opts.Concurrency = 5
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 30 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		orchestrator: orchestrator,
		consumer:     consumer,
		opts:         opts,
		logger:       logger,
		outcomes:     registerOutcomes(),
	}
}

func registerOutcomes() *prometheus.CounterVec {
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shipentri",
		Subsystem: "worker",
		Name:      "deploy_results_total",
		Help:      "Number of deployment pipeline outcomes",
	}, []string{"outcome"})
	if err := prometheus.Register(counter); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
	}
	return counter
}

// Run sweeps deployments orphaned by a previous crash, then consumes jobs
// until ctx ends.
func (w *Worker) Run(ctx context.Context) {
	swept, err := w.orchestrator.SweepStuckBuilding(ctx, w.opts.StaleAfter)
	if err != nil {
		w.logger.Error("stuck deployment sweep failed", "error", err)
	} else if swept > 0 {
		w.logger.Warn("failed deployments orphaned by previous run", "count", swept)
	}

	w.logger.Info("worker consuming", "concurrency", w.opts.Concurrency)
	w.consumer.Consume(ctx, w.handle, w.opts.Concurrency)
}

func (w *Worker) handle(ctx context.Context, job queue.Job) error {
	disposition, err := w.orchestrator.BuildAndDeploy(ctx, job.DeploymentID)
	if disposition != "" {
		w.outcomes.With(prometheus.Labels{"outcome": string(disposition)}).Inc()
	}
	return err
}

// WaitForDependency retries probe with exponential backoff until it succeeds
// or the budget runs out. Used at startup for the entity store, queue and
// container engine.
func WaitForDependency(ctx context.Context, name string, budget time.Duration, logger *slog.Logger, probe func(ctx context.Context) error) error {
	backoff := retry.WithMaxDuration(budget, retry.NewExponential(500*time.Millisecond))
	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := probe(ctx); err != nil {
			if logger != nil {
				logger.Warn("dependency not ready", "dependency", name, "attempt", attempt, "error", err)
			}
			return retry.RetryableError(err)
		}
		return nil
	})
}
