package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/kpndevrootentri/ShipEntri/internal/fault"
)

const (
	pendingKey   = "shipentri:deploy:pending"
	delayedKey   = "shipentri:deploy:delayed"
	completedKey = "shipentri:deploy:completed"

	// maxAttempts counts deliveries, not retries: a job is tried at most
	// three times before landing in the completed ring as failed.
	maxAttempts = 3

	// completedRingSize caps the completed ring; older outcomes fall off.
	completedRingSize = 100

	popTimeout    = 5 * time.Second
	moverInterval = time.Second
)

// Job is one deployment build request.
type Job struct {
	ID           string `json:"id"`
	DeploymentID string `json:"deploymentId"`
	ProjectID    string `json:"projectId"`
	Attempt      int    `json:"attempt"`
}

// Outcome is the terminal record of a job, kept in the completed ring.
type Outcome struct {
	Job        Job       `json:"job"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Handler processes a single job. A retryable error requeues the job with
// backoff until its attempts run out.
type Handler func(ctx context.Context, job Job) error

// Queue is a Redis backed job queue: a pending list for ready jobs, a
// delayed sorted set for backed-off retries, and a completed ring.
type Queue struct {
	client *redis.Client
	logger *slog.Logger
}

// New connects to Redis and verifies the connection.
func New(addr, password string, db int, logger *slog.Logger) (*Queue, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fault.Wrap(fault.KindQueueUnavailable, "connect to queue redis", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{client: client, logger: logger}, nil
}

// Ping verifies the Redis connection is alive.
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Close releases the Redis connection.
func (q *Queue) Close() {
	if q.client != nil {
		_ = q.client.Close()
	}
}

// Submit enqueues a job for immediate processing. Attempt is normalized to 1
// for fresh submissions.
func (q *Queue) Submit(ctx context.Context, job Job) error {
	if job.Attempt < 1 {
		job.Attempt = 1
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fault.Wrap(fault.KindInternal, "encode job", err)
	}
	if err := q.client.LPush(ctx, pendingKey, payload).Err(); err != nil {
		return fault.Wrap(fault.KindQueueUnavailable, "enqueue job", err)
	}
	return nil
}

// IsUnavailable reports whether err means the queue could not accept work.
func IsUnavailable(err error) bool {
	return fault.Is(err, fault.KindQueueUnavailable)
}

// Consume runs concurrency workers popping jobs plus a mover that promotes
// due delayed jobs back onto the pending list. It blocks until ctx ends.
func (q *Queue) Consume(ctx context.Context, handler Handler, concurrency int) {
	if concurrency < 1 {
		concurrency = 1
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		q.moveDelayed(ctx)
	}()

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			q.consumeLoop(ctx, handler, worker)
		}(i)
	}
	wg.Wait()
}

func (q *Queue) consumeLoop(ctx context.Context, handler Handler, worker int) {
	for {
		if ctx.Err() != nil {
			return
		}
		values, err := q.client.BRPop(ctx, popTimeout, pendingKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			q.logger.Error("queue pop failed", "worker", worker, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		// BRPop returns [key, value].
		if len(values) != 2 {
			continue
		}
		var job Job
		if err := json.Unmarshal([]byte(values[1]), &job); err != nil {
			q.logger.Error("queue payload is not a job", "worker", worker, "error", err)
			continue
		}
		q.process(ctx, handler, job, worker)
	}
}

func (q *Queue) process(ctx context.Context, handler Handler, job Job, worker int) {
	q.logger.Info("job started", "worker", worker, "job", job.ID, "deployment", job.DeploymentID, "attempt", job.Attempt)
	err := handler(ctx, job)
	if err == nil {
		q.logger.Info("job succeeded", "worker", worker, "job", job.ID, "deployment", job.DeploymentID)
		q.recordOutcome(ctx, Outcome{Job: job, Success: true, FinishedAt: time.Now().UTC()})
		return
	}

	delay, retry := retryDelay(job.Attempt, err)
	if !retry {
		q.logger.Error("job failed permanently", "worker", worker, "job", job.ID, "deployment", job.DeploymentID, "attempt", job.Attempt, "error", err)
		q.recordOutcome(ctx, Outcome{Job: job, Success: false, Error: err.Error(), FinishedAt: time.Now().UTC()})
		return
	}

	q.logger.Warn("job failed, scheduling retry", "worker", worker, "job", job.ID, "deployment", job.DeploymentID, "attempt", job.Attempt, "delay", delay, "error", err)
	job.Attempt++
	if err := q.schedule(ctx, job, time.Now().Add(delay)); err != nil {
		q.logger.Error("retry scheduling failed", "job", job.ID, "error", err)
		q.recordOutcome(ctx, Outcome{Job: job, Success: false, Error: err.Error(), FinishedAt: time.Now().UTC()})
	}
}

// retryDelay returns the backoff before the next attempt, or retry=false when
// the job is out of attempts or the failure is not retryable. The schedule is
// 2s after the first attempt, then 4s, then the job is done.
func retryDelay(attempt int, err error) (time.Duration, bool) {
	if attempt >= maxAttempts || !fault.Retryable(err) {
		return 0, false
	}
	return time.Duration(1<<attempt) * time.Second, true
}

func (q *Queue) schedule(ctx context.Context, job Job, due time.Time) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fault.Wrap(fault.KindInternal, "encode job", err)
	}
	member := redis.Z{Score: float64(due.UnixMilli()), Member: payload}
	if err := q.client.ZAdd(ctx, delayedKey, member).Err(); err != nil {
		return fault.Wrap(fault.KindQueueUnavailable, "schedule retry", err)
	}
	return nil
}

// moveDelayed polls the delayed set and promotes due jobs back onto the
// pending list.
func (q *Queue) moveDelayed(ctx context.Context) {
	ticker := time.NewTicker(moverInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		now := strconv.FormatInt(time.Now().UnixMilli(), 10)
		due, err := q.client.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
		if err != nil {
			if ctx.Err() == nil {
				q.logger.Error("delayed scan failed", "error", err)
			}
			continue
		}
		for _, payload := range due {
			// Remove-then-push: only one mover runs per worker process, and a
			// duplicate delivery is harmless because the pipeline checks the
			// deployment's current state.
			removed, err := q.client.ZRem(ctx, delayedKey, payload).Result()
			if err != nil || removed == 0 {
				continue
			}
			if err := q.client.LPush(ctx, pendingKey, payload).Err(); err != nil {
				q.logger.Error("promote delayed job failed", "error", err)
			}
		}
	}
}

func (q *Queue) recordOutcome(ctx context.Context, outcome Outcome) {
	payload, err := json.Marshal(outcome)
	if err != nil {
		q.logger.Error("encode outcome failed", "error", err)
		return
	}
	pipe := q.client.TxPipeline()
	pipe.LPush(ctx, completedKey, payload)
	pipe.LTrim(ctx, completedKey, 0, completedRingSize-1)
	if _, err := pipe.Exec(ctx); err != nil {
		q.logger.Error("record outcome failed", "error", err)
	}
}

// RecentOutcomes returns the newest-first contents of the completed ring.
func (q *Queue) RecentOutcomes(ctx context.Context, limit int) ([]Outcome, error) {
	if limit < 1 || limit > completedRingSize {
		limit = completedRingSize
	}
	raw, err := q.client.LRange(ctx, completedKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fault.Wrap(fault.KindQueueUnavailable, "read completed ring", err)
	}
	outcomes := make([]Outcome, 0, len(raw))
	for _, payload := range raw {
		var o Outcome
		if err := json.Unmarshal([]byte(payload), &o); err != nil {
			return nil, fault.Wrap(fault.KindInternal, fmt.Sprintf("decode outcome %q", payload), err)
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, nil
}
