package sweeper

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sigic/georef/internal/catalog"
	"github.com/sigic/georef/internal/queue"
)

const (
	leaseResource = "sweeper"
	batchLimit    = 100
)

type Store interface {
	ListStale(ctx context.Context, state catalog.State, olderThan time.Duration, limit int) ([]catalog.Dataset, error)
	Touch(ctx context.Context, id int64) error
}

type Locker interface {
	TryAcquire(ctx context.Context, resource string, ttl time.Duration) (bool, error)
}

// Sweeper re-enqueues resync tasks for datasets stuck in WAITING, which
// happens when a task was lost or exhausted its retries. INVALID datasets are
// left for an explicit reset.
type Sweeper struct {
	store      Store
	queue      queue.Queue
	locker     Locker
	interval   time.Duration
	staleAfter time.Duration
	logger     *zap.Logger
	stopCh     chan struct{}
	stopOnce   sync.Once
}

func New(store Store, q queue.Queue, locker Locker, interval, staleAfter time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		store:      store,
		queue:      q,
		locker:     locker,
		interval:   interval,
		staleAfter: staleAfter,
		logger:     logger.Named("sweeper"),
		stopCh:     make(chan struct{}),
	}
}

// Start runs the sweep loop in the background. A zero interval disables it.
func (s *Sweeper) Start(ctx context.Context, wg *sync.WaitGroup) {
	if s.interval <= 0 {
		s.logger.Info("Sweeper disabled")
		return
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.logger.Info("Sweep loop started",
			zap.Duration("interval", s.interval), zap.Duration("stale_after", s.staleAfter))
		for {
			timer := time.NewTimer(s.interval)
			select {
			case <-timer.C:
				if n, err := s.Sweep(ctx); err != nil {
					s.logger.Error("Sweep failed", zap.Error(err))
				} else if n > 0 {
					s.logger.Info("Requeued stale datasets", zap.Int("count", n))
				}
			case <-s.stopCh:
				timer.Stop()
				s.logger.Info("Received stop signal. Sweep loop exiting.")
				return
			case <-ctx.Done():
				timer.Stop()
				s.logger.Info("Context cancelled. Sweep loop exiting.")
				return
			}
		}
	}()
}

func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Sweep enqueues one resync task per stale WAITING dataset and returns how
// many were enqueued. Only the instance holding the sweeper lease sweeps.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	if s.locker != nil {
		ok, err := s.locker.TryAcquire(ctx, leaseResource, s.interval)
		if err != nil {
			return 0, err
		}
		if !ok {
			s.logger.Debug("Another instance holds the sweeper lease")
			return 0, nil
		}
	}

	stale, err := s.store.ListStale(ctx, catalog.StateWaiting, s.staleAfter, batchLimit)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, ds := range stale {
		if err := s.queue.Enqueue(ctx, queue.NewSyncTask(ds.ID)); err != nil {
			s.logger.Error("Failed to requeue stale dataset", zap.Int64("dataset_id", ds.ID), zap.Error(err))
			continue
		}
		// Touching pushes the dataset out of the stale window until the
		// new task had its chance.
		if err := s.store.Touch(ctx, ds.ID); err != nil {
			s.logger.Warn("Failed to touch dataset", zap.Int64("dataset_id", ds.ID), zap.Error(err))
		}
		enqueued++
	}
	return enqueued, nil
}
