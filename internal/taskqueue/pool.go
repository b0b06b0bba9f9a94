package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"gitlab.com/dubbox/api/wa-campaign-engine/internal/apperrors"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/config"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/observer"
)

// TaskSpec bounds one asynchronous unit of work. Timeout applies per
// attempt, not across the whole retry budget.
type TaskSpec struct {
	Name        string
	MaxAttempts int
	Backoff     time.Duration
	Timeout     time.Duration
}

// TaskFunc is the work itself. Implementations must respect ctx; the pool
// cancels it when the attempt times out.
type TaskFunc func(ctx context.Context) error

// Submitter accepts tasks for asynchronous execution.
type Submitter interface {
	Submit(ctx context.Context, spec TaskSpec, fn TaskFunc) error
}

// Pool runs tasks on a bounded ants worker pool with per-task retry and
// timeout handling. Ingestion, media downloads, transcription and campaign
// sends all flow through pools of this type, so one stuck external call
// occupies one worker and nothing else.
type Pool struct {
	name   string
	pool   *ants.Pool
	logger *zap.Logger
}

// Ensure Pool implements Submitter
var _ Submitter = (*Pool)(nil)

// NewPool creates a worker pool. name labels metrics and log lines.
func NewPool(name string, cfg config.WorkerPoolConfig, baseLogger *zap.Logger) (*Pool, error) {
	namedLogger := baseLogger.Named(name + "_pool")

	antsPool, err := ants.NewPool(cfg.PoolSize,
		ants.WithExpiryDuration(cfg.ExpiryTime),
		ants.WithNonblocking(false),
		ants.WithMaxBlockingTasks(cfg.QueueSize),
		ants.WithPanicHandler(func(r interface{}) {
			namedLogger.Error("Panic recovered in worker pool", zap.Any("panic_error", r), zap.Stack("stack"))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s worker pool: %w", name, err)
	}

	namedLogger.Info("Worker pool initialized",
		zap.Int("pool_size", cfg.PoolSize),
		zap.Int("queue_size", cfg.QueueSize),
		zap.Duration("expiry_time", cfg.ExpiryTime),
	)
	return &Pool{name: name, pool: antsPool, logger: namedLogger}, nil
}

// Submit queues the task. It blocks while the pool's queue is full and
// returns an error if the pool is overloaded or released. The task keeps
// running after the submitting request returns; ctx here only seeds the
// task's own attempt contexts.
func (p *Pool) Submit(ctx context.Context, spec TaskSpec, fn TaskFunc) error {
	if spec.MaxAttempts < 1 {
		spec.MaxAttempts = 1
	}

	observer.IncWorkerPoolTasksSubmitted(p.name)
	observer.SetWorkerPoolQueueLength(p.name, p.pool.Waiting())

	err := p.pool.Submit(func() {
		p.run(ctx, spec, fn)
	})
	if err != nil {
		observer.IncWorkerPoolTasksProcessed(p.name, "submit_error")
		if errors.Is(err, ants.ErrPoolOverload) {
			return fmt.Errorf("%s pool overload: %w", p.name, err)
		}
		return fmt.Errorf("failed to submit %s task: %w", p.name, err)
	}
	return nil
}

// run executes the attempts. Permanent errors stop the retry loop
// immediately; only transient (retryable) failures consume further attempts.
func (p *Pool) run(parentCtx context.Context, spec TaskSpec, fn TaskFunc) {
	taskLogger := p.logger.With(zap.String("task", spec.Name))

	var lastErr error
	for attempt := 1; attempt <= spec.MaxAttempts; attempt++ {
		attemptCtx := parentCtx
		var cancel context.CancelFunc
		if spec.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(parentCtx, spec.Timeout)
		}
		lastErr = fn(attemptCtx)
		if cancel != nil {
			cancel()
		}

		if lastErr == nil {
			observer.IncWorkerPoolTasksProcessed(p.name, "success")
			return
		}

		if !isRetryableTaskError(lastErr) {
			taskLogger.Warn("Task failed permanently",
				zap.Int("attempt", attempt),
				zap.Error(lastErr))
			observer.IncWorkerPoolTasksProcessed(p.name, "permanent_failure")
			return
		}

		if attempt < spec.MaxAttempts {
			taskLogger.Warn("Task attempt failed, will retry",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", spec.MaxAttempts),
				zap.Duration("backoff", spec.Backoff),
				zap.Error(lastErr))
			select {
			case <-parentCtx.Done():
				observer.IncWorkerPoolTasksProcessed(p.name, "canceled")
				return
			case <-time.After(spec.Backoff):
			}
		}
	}

	taskLogger.Error("Task exhausted retry attempts",
		zap.Int("max_attempts", spec.MaxAttempts),
		zap.Error(lastErr))
	observer.IncWorkerPoolTasksProcessed(p.name, "exhausted")
}

// Release shuts the pool down. Queued tasks that have not started are
// dropped.
func (p *Pool) Release() {
	p.pool.Release()
	p.logger.Info("Worker pool released")
}

// isRetryableTaskError treats explicit retryable wrappers and attempt
// timeouts as transient.
func isRetryableTaskError(err error) bool {
	if apperrors.IsRetryable(err) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
