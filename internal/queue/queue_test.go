package queue

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sigic/georef/internal/config"
)

// exerciseQueue checks the behavior every backend shares.
func exerciseQueue(t *testing.T, q Queue) {
	ctx := context.Background()

	t.Run("empty dequeue", func(t *testing.T) {
		tasks, err := q.Dequeue(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, tasks)
		assert.Equal(t, 0, q.Size())
	})

	t.Run("fifo with batches", func(t *testing.T) {
		for id := int64(1); id <= 5; id++ {
			require.NoError(t, q.Enqueue(ctx, NewSyncTask(id)))
		}
		assert.Equal(t, 5, q.Size())

		first, err := q.Dequeue(ctx, 3)
		require.NoError(t, err)
		require.Len(t, first, 3)
		assert.Equal(t, []int64{1, 2, 3}, datasetIDs(first))

		rest, err := q.Dequeue(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, []int64{4, 5}, datasetIDs(rest))
		assert.Equal(t, 0, q.Size())
	})

	t.Run("task fields survive", func(t *testing.T) {
		task := NewSyncTask(42)
		task.Attempts = 3
		require.NoError(t, q.Enqueue(ctx, task))

		tasks, err := q.Dequeue(ctx, 1)
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		assert.Equal(t, task.ID, tasks[0].ID)
		assert.Equal(t, TaskSyncGeoServer, tasks[0].Name)
		assert.Equal(t, 3, tasks[0].Attempts)
		assert.False(t, tasks[0].EnqueuedAt.IsZero())
	})

	t.Run("invalid task", func(t *testing.T) {
		err := q.Enqueue(ctx, &Task{Name: TaskSyncGeoServer})
		assert.True(t, errors.Is(err, ErrInvalidTask))
		err = q.Enqueue(ctx, nil)
		assert.True(t, errors.Is(err, ErrInvalidTask))
	})

	t.Run("closed", func(t *testing.T) {
		require.NoError(t, q.Close())
		require.NoError(t, q.Close())
		err := q.Enqueue(ctx, NewSyncTask(1))
		assert.True(t, errors.Is(err, ErrQueueClosed))
	})
}

func datasetIDs(tasks []*Task) []int64 {
	ids := make([]int64, 0, len(tasks))
	for _, task := range tasks {
		ids = append(ids, task.DatasetID)
	}
	return ids
}

func TestMemoryQueue(t *testing.T) {
	exerciseQueue(t, NewMemoryQueue(16))
}

func TestMemoryQueue_Full(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, NewSyncTask(1)))
	err := q.Enqueue(ctx, NewSyncTask(2))
	assert.True(t, errors.Is(err, ErrQueueFull))
}

func TestRedisQueue(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := newRedisQueue(client, "test", zap.NewNop())

	exerciseQueue(t, q)
}

func TestRedisQueue_KeyAndPersistence(t *testing.T) {
	mr := miniredis.RunT(t)
	q, err := NewRedisQueue(RedisQueueConfig{Addr: mr.Addr(), Name: "resync"}, zap.NewNop())
	require.NoError(t, err)
	defer q.Close()

	require.NoError(t, q.Enqueue(context.Background(), NewSyncTask(9)))

	items, err := mr.List("georef:queue:resync")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Contains(t, items[0], `"dataset_id":9`)
}

func TestRedisQueue_SkipsUndecodable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := newRedisQueue(client, "test", zap.NewNop())
	defer q.Close()

	_, err := mr.RPush("georef:queue:test", "not json")
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(context.Background(), NewSyncTask(3)))

	tasks, err := q.Dequeue(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, datasetIDs(tasks))
}

func TestNewRedisQueue_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisQueue(RedisQueueConfig{Addr: addr}, zap.NewNop())
	assert.Error(t, err)
}

func TestSQLiteQueue(t *testing.T) {
	q, err := NewSQLiteQueue(filepath.Join(t.TempDir(), "queue.db"), "test", zap.NewNop())
	require.NoError(t, err)
	exerciseQueue(t, q)
}

func TestSQLiteQueue_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	ctx := context.Background()

	q, err := NewSQLiteQueue(path, "test", zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, NewSyncTask(11)))
	require.NoError(t, q.Close())

	reopened, err := NewSQLiteQueue(path, "test", zap.NewNop())
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, 1, reopened.Size())
	tasks, err := reopened.Dequeue(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, []int64{11}, datasetIDs(tasks))
}

func TestNewKafkaQueue_Validation(t *testing.T) {
	_, err := NewKafkaQueue(KafkaQueueConfig{Topic: "t"}, zap.NewNop())
	assert.Error(t, err)

	_, err = NewKafkaQueue(KafkaQueueConfig{Brokers: []string{"localhost:9092"}}, zap.NewNop())
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		q, err := New(config.QueueConfig{Backend: "memory", Name: "n", BufferSize: 4}, zap.NewNop())
		require.NoError(t, err)
		assert.IsType(t, &MemoryQueue{}, q)
	})

	t.Run("sqlite", func(t *testing.T) {
		q, err := New(config.QueueConfig{
			Backend: "sqlite",
			Name:    "n",
			SQLite:  config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "q.db")},
		}, zap.NewNop())
		require.NoError(t, err)
		defer q.Close()
		assert.IsType(t, &SQLiteQueue{}, q)
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		q, err := New(config.QueueConfig{
			Backend: "redis",
			Name:    "n",
			Redis:   config.RedisConfig{Addr: mr.Addr()},
		}, zap.NewNop())
		require.NoError(t, err)
		defer q.Close()
		assert.IsType(t, &RedisQueue{}, q)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := New(config.QueueConfig{Backend: "rabbitmq"}, zap.NewNop())
		assert.Error(t, err)
	})
}
