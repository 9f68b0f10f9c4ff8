package queue

import (
	"context"
	"sync"
)

// MemoryQueue is a channel-backed queue for single-process deployments and
// tests. Pending tasks are lost on restart.
type MemoryQueue struct {
	queue  chan *Task
	mu     sync.RWMutex
	closed bool
}

func NewMemoryQueue(bufferSize int) *MemoryQueue {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	return &MemoryQueue{queue: make(chan *Task, bufferSize)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, task *Task) error {
	if err := validateTask(task); err != nil {
		return err
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.queue <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context, batchSize int) ([]*Task, error) {
	if batchSize <= 0 {
		batchSize = 100
	}

	tasks := make([]*Task, 0, batchSize)
	for range batchSize {
		select {
		case task, ok := <-q.queue:
			if !ok {
				if len(tasks) == 0 {
					return nil, ErrQueueClosed
				}
				return tasks, nil
			}
			tasks = append(tasks, task)
		case <-ctx.Done():
			return tasks, ctx.Err()
		default:
			return tasks, nil
		}
	}
	return tasks, nil
}

func (q *MemoryQueue) Size() int {
	return len(q.queue)
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	close(q.queue)
	return nil
}
