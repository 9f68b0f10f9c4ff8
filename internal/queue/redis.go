package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisQueue keeps tasks as JSON entries of a Redis list, pushed on the
// right and popped from the left.
type RedisQueue struct {
	client *redis.Client
	key    string
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
}

type RedisQueueConfig struct {
	Addr        string
	Password    string
	DB          int
	Name        string
	DialTimeout time.Duration
}

// NewRedisQueue connects to Redis and verifies the connection with a PING.
func NewRedisQueue(cfg RedisQueueConfig, logger *zap.Logger) (*RedisQueue, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newRedisQueue(client, cfg.Name, logger), nil
}

func newRedisQueue(client *redis.Client, name string, logger *zap.Logger) *RedisQueue {
	if name == "" {
		name = TaskSyncGeoServer
	}
	return &RedisQueue{
		client: client,
		key:    "georef:queue:" + name,
		logger: logger.Named("queue.redis"),
	}
}

func (q *RedisQueue) isClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

func (q *RedisQueue) Enqueue(ctx context.Context, task *Task) error {
	if q.isClosed() {
		return ErrQueueClosed
	}
	if err := validateTask(task); err != nil {
		return err
	}

	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	if err := q.client.RPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("failed to push task to %s: %w", q.key, err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, batchSize int) ([]*Task, error) {
	if q.isClosed() {
		return nil, ErrQueueClosed
	}
	if batchSize <= 0 {
		batchSize = 100
	}

	tasks := make([]*Task, 0, batchSize)
	for range batchSize {
		data, err := q.client.LPop(ctx, q.key).Bytes()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return tasks, fmt.Errorf("failed to pop task from %s: %w", q.key, err)
		}

		var task Task
		if err := json.Unmarshal(data, &task); err != nil {
			q.logger.Error("Dropping undecodable task", zap.ByteString("payload", data), zap.Error(err))
			continue
		}
		tasks = append(tasks, &task)
	}
	return tasks, nil
}

func (q *RedisQueue) Size() int {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		q.logger.Warn("Failed to read queue length", zap.Error(err))
		return 0
	}
	return int(n)
}

func (q *RedisQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	return q.client.Close()
}
