package resync

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sigic/georef/internal/config"
	"github.com/sigic/georef/internal/queue"
)

type WorkerConfig struct {
	// Concurrency is the number of tasks handled at the same time.
	Concurrency int
	// RatePerSec caps how many tasks start per second, so a burst of joins
	// does not hammer GeoServer.
	RatePerSec int
	// BatchSize is how many tasks to dequeue at once.
	BatchSize int
	// PollInterval is how long to wait before polling an empty queue again.
	PollInterval time.Duration
	// MaxAttempts bounds how many times a failing task runs in total.
	MaxAttempts int
	// RetryBackoff is the base of the exponential delay between attempts.
	RetryBackoff time.Duration
	MaxBackoff   time.Duration
}

func WorkerConfigFrom(cfg config.WorkerConfig) WorkerConfig {
	return WorkerConfig{
		Concurrency:  cfg.Concurrency,
		RatePerSec:   cfg.RatePerSec,
		BatchSize:    cfg.BatchSize,
		PollInterval: time.Duration(cfg.PollIntervalMs) * time.Millisecond,
		MaxAttempts:  cfg.MaxAttempts,
		RetryBackoff: time.Duration(cfg.RetryBackoffSecs) * time.Second,
		MaxBackoff:   time.Duration(cfg.MaxBackoffSecs) * time.Second,
	}
}

func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Concurrency:  2,
		RatePerSec:   5,
		BatchSize:    10,
		PollInterval: 500 * time.Millisecond,
		MaxAttempts:  5,
		RetryBackoff: 10 * time.Second,
		MaxBackoff:   5 * time.Minute,
	}
}

// Worker drains the task queue into a Handler with bounded concurrency, a
// start rate limit and exponential retry.
type Worker struct {
	queue   queue.Queue
	handler Handler
	cfg     WorkerConfig
	logger  *zap.Logger
	now     func() time.Time
}

func NewWorker(q queue.Queue, handler Handler, cfg WorkerConfig, logger *zap.Logger) *Worker {
	def := DefaultWorkerConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = def.RatePerSec
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	if cfg.MaxBackoff < cfg.RetryBackoff {
		cfg.MaxBackoff = cfg.RetryBackoff
	}

	return &Worker{
		queue:   q,
		handler: handler,
		cfg:     cfg,
		logger:  logger.Named("worker"),
		now:     time.Now,
	}
}

// Run drains the queue until ctx is cancelled or the queue is closed, then
// waits for in-flight tasks. Tasks not yet started go back to the queue.
func (w *Worker) Run(ctx context.Context) {
	limiter := rate.NewLimiter(rate.Limit(w.cfg.RatePerSec), 1)
	slots := make(chan struct{}, w.cfg.Concurrency)

	w.logger.Info("Worker started",
		zap.Int("concurrency", w.cfg.Concurrency),
		zap.Int("rate_per_sec", w.cfg.RatePerSec),
		zap.Int("max_attempts", w.cfg.MaxAttempts))

	defer func() {
		// Taking every slot waits for the running handlers.
		for range w.cfg.Concurrency {
			slots <- struct{}{}
		}
		w.logger.Info("Worker stopped")
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		tasks, err := w.queue.Dequeue(ctx, w.cfg.BatchSize)
		if err != nil {
			if errors.Is(err, queue.ErrQueueClosed) {
				w.logger.Info("Queue closed, worker exiting")
				return
			}
			if ctx.Err() == nil {
				w.logger.Error("Dequeue failed", zap.Error(err))
			}
			w.requeue(tasks)
			w.sleep(ctx)
			continue
		}

		due := w.deferNotDue(tasks)
		if len(due) == 0 {
			w.sleep(ctx)
			continue
		}

		for i, task := range due {
			if err := limiter.Wait(ctx); err != nil {
				w.requeue(due[i:])
				return
			}
			select {
			case slots <- struct{}{}:
			case <-ctx.Done():
				w.requeue(due[i:])
				return
			}
			go func(task *queue.Task) {
				defer func() { <-slots }()
				w.process(ctx, task)
			}(task)
		}
	}
}

// deferNotDue puts tasks still inside their backoff window back on the queue
// and returns the rest.
func (w *Worker) deferNotDue(tasks []*queue.Task) []*queue.Task {
	now := w.now()
	due := tasks[:0]
	var later []*queue.Task
	for _, task := range tasks {
		if task == nil {
			continue
		}
		if task.NotBefore.After(now) {
			later = append(later, task)
			continue
		}
		due = append(due, task)
	}
	w.requeue(later)
	return due
}

func (w *Worker) process(ctx context.Context, task *queue.Task) {
	log := w.logger.With(
		zap.String("task_id", task.ID),
		zap.String("task", task.Name),
		zap.Int64("dataset_id", task.DatasetID),
		zap.Int("attempt", task.Attempts+1))

	start := w.now()
	err := w.handler.Handle(ctx, task)
	switch {
	case err == nil:
		log.Info("Task done", zap.Duration("duration", w.now().Sub(start)))
	case IsPermanent(err):
		log.Warn("Task failed permanently", zap.Error(err))
	case ctx.Err() != nil:
		log.Info("Task interrupted by shutdown, requeueing", zap.Error(err))
		w.requeue([]*queue.Task{task})
	default:
		task.Attempts++
		if task.Attempts >= w.cfg.MaxAttempts {
			log.Error("Task failed, giving up", zap.Int("max_attempts", w.cfg.MaxAttempts), zap.Error(err))
			return
		}
		delay := w.backoff(task.Attempts)
		task.NotBefore = w.now().Add(delay)
		log.Warn("Task failed, retrying", zap.Duration("retry_in", delay), zap.Error(err))
		w.requeue([]*queue.Task{task})
	}
}

// backoff returns RetryBackoff doubled for each failed attempt, capped at MaxBackoff.
func (w *Worker) backoff(attempts int) time.Duration {
	delay := w.cfg.RetryBackoff
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= w.cfg.MaxBackoff {
			return w.cfg.MaxBackoff
		}
	}
	return min(delay, w.cfg.MaxBackoff)
}

// requeue pushes tasks back with a fresh context, since the worker's own
// context is usually the reason they are being returned.
func (w *Worker) requeue(tasks []*queue.Task) {
	if len(tasks) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, task := range tasks {
		if task == nil {
			continue
		}
		if err := w.queue.Enqueue(ctx, task); err != nil {
			w.logger.Error("Failed to requeue task, it is lost",
				zap.String("task_id", task.ID), zap.Int64("dataset_id", task.DatasetID), zap.Error(err))
		}
	}
}

func (w *Worker) sleep(ctx context.Context) {
	timer := time.NewTimer(w.cfg.PollInterval)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
