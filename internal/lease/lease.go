package lease

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrNotAcquired = errors.New("lease is held elsewhere")
	ErrLeaseLost   = errors.New("lease lost while held")
)

type Lease struct {
	Resource  string    `gorm:"primaryKey;column:resource;size:255"`
	Holder    string    `gorm:"column:holder;size:255;not null"`
	ExpiresAt time.Time `gorm:"column:expires_at;not null"`
}

func (Lease) TableName() string { return "leases" }

// Locker grants time-bounded exclusive leases on named resources. A lease
// that is not released expires on its own, so a crashed holder cannot block
// a resource forever.
//
// The lease row identifies the process. Callers inside one process are
// serialized by With through the set of resources it currently runs.
type Locker struct {
	db         *gorm.DB
	instanceID string
	logger     *zap.Logger
	now        func() time.Time

	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocker(db *gorm.DB, instanceID string, logger *zap.Logger) *Locker {
	return &Locker{
		db:         db,
		instanceID: instanceID,
		logger:     logger.Named("lease"),
		now:        func() time.Time { return time.Now().UTC() },
		held:       make(map[string]struct{}),
	}
}

// InstanceID identifies this process as a lease holder.
func InstanceID() string {
	hostname, err := os.Hostname()
	if err != nil {
		zap.L().Warn("Failed to get hostname, using default instance ID", zap.Error(err))
		hostname = "unknown-instance"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

func (l *Locker) InstanceID() string {
	return l.instanceID
}

// TryAcquire takes or renews the lease on resource. It reports false when
// another instance's lease has not expired yet. It does not exclude callers
// of the same instance; use With for that.
func (l *Locker) TryAcquire(ctx context.Context, resource string, ttl time.Duration) (bool, error) {
	sql := `
		INSERT INTO leases (resource, holder, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT (resource) DO UPDATE SET
			holder = excluded.holder,
			expires_at = excluded.expires_at
		WHERE leases.expires_at < ? OR leases.holder = ?`

	acquireCtx, acquireCancel := context.WithTimeout(ctx, 5*time.Second)
	defer acquireCancel()

	now := l.now()
	res := l.db.WithContext(acquireCtx).Exec(sql, resource, l.instanceID, now.Add(ttl), now, l.instanceID)
	if res.Error != nil {
		return false, fmt.Errorf("[%s] failed to acquire lease: %w", resource, res.Error)
	}

	acquired := res.RowsAffected > 0
	if acquired {
		l.logger.Debug("Acquired lease", zap.String("resource", resource), zap.Duration("ttl", ttl))
	}
	return acquired, nil
}

// Acquire is TryAcquire returning ErrNotAcquired when the lease is taken.
func (l *Locker) Acquire(ctx context.Context, resource string, ttl time.Duration) error {
	ok, err := l.TryAcquire(ctx, resource, ttl)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotAcquired, resource)
	}
	return nil
}

// Release drops the lease if this instance still holds it. It runs on its
// own short deadline so it also works after the caller's context is done.
func (l *Locker) Release(resource string) error {
	releaseCtx, releaseCancel := context.WithTimeout(context.Background(), time.Second)
	defer releaseCancel()

	res := l.db.WithContext(releaseCtx).Exec(
		`DELETE FROM leases WHERE resource = ? AND holder = ?`, resource, l.instanceID)
	if res.Error != nil {
		l.logger.Warn("Error deleting lease", zap.String("resource", resource), zap.Error(res.Error))
		return fmt.Errorf("failed to delete lease record: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		l.logger.Debug("Lease already gone or held by another instance", zap.String("resource", resource))
	}
	return nil
}

// ReleaseAll drops every lease held by this instance.
func (l *Locker) ReleaseAll() {
	releaseCtx, releaseCancel := context.WithTimeout(context.Background(), time.Second)
	defer releaseCancel()

	res := l.db.WithContext(releaseCtx).Exec(`DELETE FROM leases WHERE holder = ?`, l.instanceID)
	if res.Error != nil {
		l.logger.Error("Error during ReleaseAll", zap.String("instance", l.instanceID), zap.Error(res.Error))
		return
	}
	l.logger.Info("Released leases", zap.String("instance", l.instanceID), zap.Int64("count", res.RowsAffected))
}

// With runs fn while holding the lease on resource. Only one With per
// resource runs at a time in this process, and none while another instance
// holds the lease. The lease is renewed every third of ttl while fn runs; if
// it is lost anyway, the context passed to fn is cancelled with ErrLeaseLost.
func (l *Locker) With(ctx context.Context, resource string, ttl time.Duration, fn func(ctx context.Context) error) error {
	if !l.claim(resource) {
		return fmt.Errorf("%w: %s is busy in this process", ErrNotAcquired, resource)
	}
	defer l.unclaim(resource)

	if err := l.Acquire(ctx, resource, ttl); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	stopRenewal := l.keepAlive(runCtx, cancel, resource, ttl)
	defer func() {
		stopRenewal()
		cancel(nil)
		if err := l.Release(resource); err != nil {
			l.logger.Warn("Failed to release lease", zap.String("resource", resource), zap.Error(err))
		}
	}()
	return fn(runCtx)
}

func (l *Locker) claim(resource string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[resource]; busy {
		return false
	}
	l.held[resource] = struct{}{}
	return true
}

func (l *Locker) unclaim(resource string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, resource)
}

// keepAlive renews the lease until the returned stop func is called. The
// stop func returns once no renewal is in flight, so a later Release cannot
// be undone by a late renewal.
func (l *Locker) keepAlive(ctx context.Context, cancel context.CancelCauseFunc, resource string, ttl time.Duration) func() {
	interval := ttl / 3
	if interval <= 0 {
		return func() {}
	}

	stop := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				ok, err := l.TryAcquire(ctx, resource, ttl)
				if err != nil {
					l.logger.Warn("Failed to renew lease", zap.String("resource", resource), zap.Error(err))
					continue
				}
				if !ok {
					l.logger.Error("Lease taken over by another instance", zap.String("resource", resource))
					cancel(fmt.Errorf("%w: %s", ErrLeaseLost, resource))
					return
				}
			}
		}
	}()

	return func() {
		close(stop)
		<-stopped
	}
}
