package queue

import (
	"context"
)

//go:generate mockgen -source=interfaces.go -destination=mocks/mock_interfaces.go -package=mocks

// Queue is an at-least-once task queue shared by the HTTP handlers, which
// enqueue, and the resync workers, which dequeue.
type Queue interface {
	Enqueue(ctx context.Context, task *Task) error
	// Dequeue returns up to batchSize tasks without blocking for new ones.
	Dequeue(ctx context.Context, batchSize int) ([]*Task, error)
	// Size is the approximate number of pending tasks.
	Size() int
	Close() error
}
