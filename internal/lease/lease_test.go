package lease

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "leases.db") + "?_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Lease{}))
	return db
}

func newLocker(db *gorm.DB, id string, clock *time.Time) *Locker {
	l := NewLocker(db, id, zap.NewNop())
	l.now = func() time.Time { return *clock }
	return l
}

func TestLocker_TryAcquire(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	clock := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	a := newLocker(db, "host-a-1", &clock)
	b := newLocker(db, "host-b-2", &clock)

	ok, err := a.TryAcquire(ctx, "join:7", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	t.Run("holder renews", func(t *testing.T) {
		ok, err := a.TryAcquire(ctx, "join:7", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("other instance is refused while valid", func(t *testing.T) {
		ok, err := b.TryAcquire(ctx, "join:7", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		err = b.Acquire(ctx, "join:7", time.Minute)
		assert.True(t, errors.Is(err, ErrNotAcquired))
	})

	t.Run("other resources are independent", func(t *testing.T) {
		ok, err := b.TryAcquire(ctx, "join:8", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("expired lease is taken over", func(t *testing.T) {
		clock = clock.Add(2 * time.Minute)
		ok, err := b.TryAcquire(ctx, "join:7", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		var l Lease
		require.NoError(t, db.First(&l, "resource = ?", "join:7").Error)
		assert.Equal(t, "host-b-2", l.Holder)
	})
}

func TestLocker_Release(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	clock := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	a := newLocker(db, "host-a-1", &clock)
	b := newLocker(db, "host-b-2", &clock)

	require.NoError(t, a.Acquire(ctx, "resync:3", time.Minute))

	// Releasing someone else's lease is a no-op.
	require.NoError(t, b.Release("resync:3"))
	ok, err := b.TryAcquire(ctx, "resync:3", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, a.Release("resync:3"))
	ok, err = b.TryAcquire(ctx, "resync:3", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocker_ReleaseAll(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	clock := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	a := newLocker(db, "host-a-1", &clock)
	b := newLocker(db, "host-b-2", &clock)
	require.NoError(t, a.Acquire(ctx, "join:1", time.Minute))
	require.NoError(t, a.Acquire(ctx, "join:2", time.Minute))
	require.NoError(t, b.Acquire(ctx, "join:3", time.Minute))

	a.ReleaseAll()

	var count int64
	require.NoError(t, db.Model(&Lease{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestLocker_With(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	clock := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	a := newLocker(db, "host-a-1", &clock)
	b := newLocker(db, "host-b-2", &clock)

	boom := errors.New("boom")
	err := a.With(ctx, "join:5", time.Minute, func(ctx context.Context) error {
		err := b.With(ctx, "join:5", time.Minute, func(context.Context) error {
			t.Fatal("nested holder must not run")
			return nil
		})
		assert.True(t, errors.Is(err, ErrNotAcquired))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	// Released after fn returned, even on error.
	ok, err := b.TryAcquire(ctx, "join:5", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocker_With_ExcludesSameProcess(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	clock := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	a := newLocker(db, "host-a-1", &clock)

	t.Run("nested", func(t *testing.T) {
		err := a.With(ctx, "resync:7", time.Minute, func(ctx context.Context) error {
			err := a.With(ctx, "resync:7", time.Minute, func(context.Context) error {
				t.Fatal("second holder must not run")
				return nil
			})
			assert.True(t, errors.Is(err, ErrNotAcquired))

			// The refused caller must not drop the lease of the running one.
			var l Lease
			require.NoError(t, db.First(&l, "resource = ?", "resync:7").Error)
			assert.Equal(t, "host-a-1", l.Holder)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("concurrent goroutines", func(t *testing.T) {
		entered := make(chan struct{})
		release := make(chan struct{})
		firstDone := make(chan error, 1)

		go func() {
			firstDone <- a.With(ctx, "resync:8", time.Minute, func(context.Context) error {
				close(entered)
				<-release
				return nil
			})
		}()
		<-entered

		secondDone := make(chan error, 1)
		go func() {
			secondDone <- a.With(ctx, "resync:8", time.Minute, func(context.Context) error {
				t.Error("second goroutine must not run while the first holds the lease")
				return nil
			})
		}()
		assert.True(t, errors.Is(<-secondDone, ErrNotAcquired))

		close(release)
		require.NoError(t, <-firstDone)

		ran := false
		require.NoError(t, a.With(ctx, "resync:8", time.Minute, func(context.Context) error {
			ran = true
			return nil
		}))
		assert.True(t, ran)
	})
}

func TestLocker_With_RenewsWhileRunning(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	a := NewLocker(db, "host-a-1", zap.NewNop())
	b := NewLocker(db, "host-b-2", zap.NewNop())

	ttl := 900 * time.Millisecond
	err := a.With(ctx, "join:9", ttl, func(ctx context.Context) error {
		time.Sleep(2 * ttl)
		ok, err := b.TryAcquire(ctx, "join:9", ttl)
		require.NoError(t, err)
		assert.False(t, ok, "lease must still be held after its first ttl")
		assert.NoError(t, ctx.Err())
		return nil
	})
	require.NoError(t, err)

	ok, err := b.TryAcquire(ctx, "join:9", ttl)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocker_With_CancelsWhenLeaseIsLost(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	a := NewLocker(db, "host-a-1", zap.NewNop())

	err := a.With(ctx, "resync:10", 300*time.Millisecond, func(ctx context.Context) error {
		require.NoError(t, db.Model(&Lease{}).Where("resource = ?", "resync:10").Updates(map[string]any{
			"holder":     "host-b-2",
			"expires_at": time.Now().UTC().Add(time.Hour),
		}).Error)

		select {
		case <-ctx.Done():
		case <-time.After(5 * time.Second):
			t.Fatal("context was not cancelled after the lease was lost")
		}
		assert.True(t, errors.Is(context.Cause(ctx), ErrLeaseLost))
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)

	// The new holder's lease survives the release.
	var l Lease
	require.NoError(t, db.First(&l, "resource = ?", "resync:10").Error)
	assert.Equal(t, "host-b-2", l.Holder)
}

func TestInstanceID(t *testing.T) {
	id := InstanceID()
	assert.NotEmpty(t, id)
	assert.Contains(t, id, "-")
}
