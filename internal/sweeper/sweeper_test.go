package sweeper

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sigic/georef/internal/catalog"
	"github.com/sigic/georef/internal/catalog/catalogtest"
	"github.com/sigic/georef/internal/lease"
	"github.com/sigic/georef/internal/queue"
)

func TestSweeper_Sweep(t *testing.T) {
	db := catalogtest.NewDB(t, &lease.Lease{})
	store := catalog.NewStore(db)
	q := queue.NewMemoryQueue(10)
	ctx := context.Background()
	old := db.NowFunc().Add(-time.Hour)

	stale := catalogtest.SeedDataset(t, db, &catalog.Dataset{Alternate: "geonode:stale", State: catalog.StateWaiting, UpdatedAt: old})
	catalogtest.SeedDataset(t, db, &catalog.Dataset{Alternate: "geonode:fresh", State: catalog.StateWaiting})
	catalogtest.SeedDataset(t, db, &catalog.Dataset{Alternate: "geonode:invalid", State: catalog.StateInvalid, UpdatedAt: old})
	catalogtest.SeedDataset(t, db, &catalog.Dataset{Alternate: "geonode:done", State: catalog.StateProcessed, UpdatedAt: old})

	s := New(store, q, lease.NewLocker(db, "sweeper-a", zap.NewNop()), time.Minute, 15*time.Minute, zap.NewNop())

	n, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	tasks, err := q.Dequeue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, stale.ID, tasks[0].DatasetID)
	assert.Equal(t, queue.TaskSyncGeoServer, tasks[0].Name)

	// The touched dataset is no longer stale.
	n, err = s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, q.Size())
}

func TestSweeper_OnlyLeaseHolderSweeps(t *testing.T) {
	db := catalogtest.NewDB(t, &lease.Lease{})
	store := catalog.NewStore(db)
	q := queue.NewMemoryQueue(10)
	ctx := context.Background()

	catalogtest.SeedDataset(t, db, &catalog.Dataset{
		Alternate: "geonode:stale",
		State:     catalog.StateWaiting,
		UpdatedAt: db.NowFunc().Add(-time.Hour),
	})

	a := New(store, q, lease.NewLocker(db, "sweeper-a", zap.NewNop()), time.Minute, 15*time.Minute, zap.NewNop())
	b := New(store, q, lease.NewLocker(db, "sweeper-b", zap.NewNop()), time.Minute, 15*time.Minute, zap.NewNop())

	n, err := a.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = b.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSweeper_StartAndStop(t *testing.T) {
	db := catalogtest.NewDB(t)
	store := catalog.NewStore(db)
	q := queue.NewMemoryQueue(10)

	catalogtest.SeedDataset(t, db, &catalog.Dataset{
		Alternate: "geonode:stale",
		State:     catalog.StateWaiting,
		UpdatedAt: db.NowFunc().Add(-time.Hour),
	})

	s := New(store, q, nil, 10*time.Millisecond, 15*time.Minute, zap.NewNop())

	var wg sync.WaitGroup
	s.Start(context.Background(), &wg)

	assert.Eventually(t, func() bool { return q.Size() == 1 }, 2*time.Second, 5*time.Millisecond)

	s.Stop()
	s.Stop()
	wg.Wait()
}

func TestSweeper_ZeroIntervalDisables(t *testing.T) {
	s := New(nil, queue.NewMemoryQueue(1), nil, 0, time.Minute, zap.NewNop())

	var wg sync.WaitGroup
	s.Start(context.Background(), &wg)
	wg.Wait()
}
