package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/kiranshivaraju/findoc/internal/queue"
	"github.com/kiranshivaraju/findoc/internal/storage"
	"github.com/kiranshivaraju/findoc/internal/store"
	"github.com/kiranshivaraju/findoc/pkg/models"
	"go.uber.org/zap"
)

// Purger drops result records past their retention.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Worker consumes tasks and drives each job from pending to a terminal state.
type Worker struct {
	store       store.Store
	broker      queue.Broker
	runner      *Runner
	logger      *zap.Logger
	concurrency int
	name        string
	retryDelay  time.Duration

	sweeper       storage.Sweeper
	sweepAge      time.Duration
	purger        Purger
	maintainEvery time.Duration
}

type WorkerOption func(*Worker)

func WithConcurrency(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// WithName sets the consumer name prefix. It defaults to the hostname. A stable name lets a
// restarted worker pick up its own unsettled tasks at once instead of waiting for them to be reclaimed.
func WithName(name string) WorkerOption {
	return func(w *Worker) { w.name = name }
}

// WithRetryDelay sets how long a consumer waits before requeueing a task it could not record.
func WithRetryDelay(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d >= 0 {
			w.retryDelay = d
		}
	}
}

// WithSweeper removes uploads older than age every interval. A zero age disables sweeping.
func WithSweeper(s storage.Sweeper, age, interval time.Duration) WorkerOption {
	return func(w *Worker) {
		w.sweeper = s
		w.sweepAge = age
		w.maintainEvery = interval
	}
}

// WithPurger purges expired results on the maintenance interval.
func WithPurger(p Purger) WorkerOption {
	return func(w *Worker) { w.purger = p }
}

func NewWorker(st store.Store, br queue.Broker, runner *Runner, logger *zap.Logger, opts ...WorkerOption) *Worker {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	w := &Worker{
		store:         st,
		broker:        br,
		runner:        runner,
		logger:        logger,
		concurrency:   1,
		name:          host,
		retryDelay:    2 * time.Second,
		maintainEvery: time.Hour,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Name is the prefix of this worker's consumer names.
func (w *Worker) Name() string { return w.name }

// Run blocks until ctx is cancelled and every in-flight job has been settled.
func (w *Worker) Run(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	var wg sync.WaitGroup

	for i := 0; i < w.concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", w.name, i)
		// The consumer outlives ctx until its current job is settled, so brokers
		// that track live consumers keep it registered while the job finishes.
		consumeCtx, stopConsumer := context.WithCancel(context.WithoutCancel(ctx))
		deliveries, err := w.broker.Consume(consumeCtx, consumer)
		if err != nil {
			stopConsumer()
			stop()
			wg.Wait()
			return fmt.Errorf("start consumer %s: %w", consumer, err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.consume(ctx, deliveries, stopConsumer)
		}()
	}

	if (w.sweeper != nil && w.sweepAge > 0) || w.purger != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.maintain(ctx)
		}()
	}

	w.logger.Info("worker started", zap.Int("concurrency", w.concurrency), zap.String("name", w.name))
	wg.Wait()
	w.logger.Info("worker stopped")
	return nil
}

func (w *Worker) consume(ctx context.Context, deliveries <-chan queue.Delivery, stopConsumer context.CancelFunc) {
	defer func() {
		stopConsumer()
		// Anything handed over after the stop goes back to the queue.
		for d := range deliveries {
			w.nack(context.WithoutCancel(ctx), d)
		}
	}()
	for {
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			w.handle(ctx, d)
		}
	}
}

// handle settles exactly one delivery. Job work runs detached from ctx so shutdown never cuts an analysis short.
func (w *Worker) handle(ctx context.Context, d queue.Delivery) {
	jobCtx := context.WithoutCancel(ctx)

	task, err := queue.Decode(d.Body())
	if err != nil {
		w.logger.Error("dropping malformed task", zap.Error(err), zap.ByteString("body", d.Body()))
		w.ack(jobCtx, d)
		return
	}
	log := w.logger.With(zap.String("job_id", task.JobID.String()))

	job, err := w.store.GetJob(jobCtx, task.JobID)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn("dropping task for unknown job")
		w.ack(jobCtx, d)
		return
	}
	if err != nil {
		log.Error("failed to load job, requeueing", zap.Error(err))
		w.retry(ctx, jobCtx, d)
		return
	}
	if job.Terminal() {
		log.Info("job already finished, skipping redelivery", zap.String("status", job.Status))
		w.ack(jobCtx, d)
		return
	}

	if err := w.store.UpdateJobStatus(jobCtx, job.ID, models.JobStatusRunning); err != nil {
		w.settleAfterUpdateErr(ctx, d, log, err)
		return
	}

	start := time.Now()
	report, runErr := w.safeRun(jobCtx, task)

	if runErr != nil {
		log.Warn("analysis failed", zap.Error(runErr), zap.Duration("duration", time.Since(start)))
		err = w.store.UpdateJobStatus(jobCtx, job.ID, models.JobStatusFailed, store.WithErrorMessage(runErr.Error()))
	} else {
		log.Info("analysis completed", zap.Duration("duration", time.Since(start)), zap.Int("report_chars", len(report)))
		err = w.store.UpdateJobStatus(jobCtx, job.ID, models.JobStatusCompleted, store.WithResult(report))
	}
	if err != nil {
		w.settleAfterUpdateErr(ctx, d, log, err)
		return
	}
	w.ack(jobCtx, d)
}

// settleAfterUpdateErr acks when another delivery already finished the job and nacks otherwise.
func (w *Worker) settleAfterUpdateErr(ctx context.Context, d queue.Delivery, log *zap.Logger, err error) {
	jobCtx := context.WithoutCancel(ctx)
	if errors.Is(err, store.ErrInvalidTransition) || errors.Is(err, store.ErrNotFound) {
		log.Info("job state moved on elsewhere", zap.Error(err))
		w.ack(jobCtx, d)
		return
	}
	log.Error("failed to record job state, requeueing", zap.Error(err))
	w.retry(ctx, jobCtx, d)
}

// retry requeues d after the retry delay so an unavailable result backend is not polled in a tight loop.
// The wait ends early on shutdown.
func (w *Worker) retry(ctx, jobCtx context.Context, d queue.Delivery) {
	sleep(ctx, w.retryDelay)
	w.nack(jobCtx, d)
}

func (w *Worker) safeRun(ctx context.Context, task queue.Task) (report string, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("panic in analysis", zap.String("job_id", task.JobID.String()), zap.Any("panic", r), zap.Stack("stack"))
			report, err = "", fmt.Errorf("panic: %v", r)
		}
	}()
	return w.runner.Run(ctx, task.FileRef, task.Query)
}

func (w *Worker) ack(ctx context.Context, d queue.Delivery) {
	if err := d.Ack(ctx); err != nil {
		w.logger.Error("ack failed", zap.Error(err))
	}
}

func (w *Worker) nack(ctx context.Context, d queue.Delivery) {
	if err := d.Nack(ctx); err != nil {
		w.logger.Error("nack failed", zap.Error(err))
	}
}

func (w *Worker) maintain(ctx context.Context) {
	if w.maintainEvery <= 0 {
		return
	}
	ticker := time.NewTicker(w.maintainEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Maintain(ctx)
		}
	}
}

// Maintain runs one sweep of orphaned uploads and one purge of expired results.
func (w *Worker) Maintain(ctx context.Context) {
	if w.sweeper != nil && w.sweepAge > 0 {
		n, err := w.sweeper.Sweep(ctx, w.sweepAge)
		if err != nil {
			w.logger.Warn("upload sweep failed", zap.Error(err))
		} else if n > 0 {
			w.logger.Info("orphaned uploads removed", zap.Int("count", n))
		}
	}
	if w.purger != nil {
		n, err := w.purger.PurgeExpired(ctx)
		if err != nil {
			w.logger.Warn("result purge failed", zap.Error(err))
		} else if n > 0 {
			w.logger.Info("expired results purged", zap.Int64("count", n))
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
