package resync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sigic/georef/internal/config"
	"github.com/sigic/georef/internal/queue"
)

type handlerFunc func(ctx context.Context, task *queue.Task) error

// recordingHandler counts calls per dataset and remembers the attempt number
// each call saw.
type recordingHandler struct {
	mu       sync.Mutex
	calls    map[int64]int
	attempts map[int64][]int
	fn       handlerFunc
}

func newRecordingHandler(fn handlerFunc) *recordingHandler {
	return &recordingHandler{
		calls:    make(map[int64]int),
		attempts: make(map[int64][]int),
		fn:       fn,
	}
}

func (h *recordingHandler) Handle(ctx context.Context, task *queue.Task) error {
	h.mu.Lock()
	h.calls[task.DatasetID]++
	h.attempts[task.DatasetID] = append(h.attempts[task.DatasetID], task.Attempts)
	call := h.calls[task.DatasetID]
	h.mu.Unlock()

	if h.fn == nil {
		return nil
	}
	return h.fn(ctx, &queue.Task{DatasetID: task.DatasetID, Attempts: call})
}

func (h *recordingHandler) Calls(id int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[id]
}

func (h *recordingHandler) Attempts(id int64) []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]int(nil), h.attempts[id]...)
}

func testWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Concurrency:  2,
		RatePerSec:   1000,
		BatchSize:    5,
		PollInterval: 5 * time.Millisecond,
		MaxAttempts:  3,
		RetryBackoff: time.Millisecond,
		MaxBackoff:   4 * time.Millisecond,
	}
}

// startWorker runs w until the returned stop function is called.
func startWorker(t *testing.T, w *Worker) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	var once sync.Once
	stop = func() {
		once.Do(func() {
			cancel()
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				t.Fatal("worker did not stop")
			}
		})
	}
	t.Cleanup(stop)
	return stop
}

func enqueue(t *testing.T, q queue.Queue, ids ...int64) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, q.Enqueue(context.Background(), queue.NewSyncTask(id)))
	}
}

func TestWorker_ProcessesTasks(t *testing.T) {
	q := queue.NewMemoryQueue(100)
	h := newRecordingHandler(nil)
	w := NewWorker(q, h, testWorkerConfig(), zap.NewNop())

	enqueue(t, q, 1, 2, 3, 4, 5, 6, 7)
	startWorker(t, w)

	assert.Eventually(t, func() bool {
		for id := int64(1); id <= 7; id++ {
			if h.Calls(id) != 1 {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, q.Size())
}

func TestWorker_RetriesTransientFailures(t *testing.T) {
	q := queue.NewMemoryQueue(100)
	h := newRecordingHandler(func(_ context.Context, task *queue.Task) error {
		if task.Attempts < 3 {
			return errors.New("geoserver unavailable")
		}
		return nil
	})
	w := NewWorker(q, h, testWorkerConfig(), zap.NewNop())

	enqueue(t, q, 1)
	stop := startWorker(t, w)

	assert.Eventually(t, func() bool { return h.Calls(1) == 3 }, 2*time.Second, 5*time.Millisecond)
	stop()

	assert.Equal(t, []int{0, 1, 2}, h.Attempts(1))
	assert.Equal(t, 0, q.Size())
}

func TestWorker_GivesUpAfterMaxAttempts(t *testing.T) {
	q := queue.NewMemoryQueue(100)
	h := newRecordingHandler(func(context.Context, *queue.Task) error {
		return errors.New("geoserver unavailable")
	})
	w := NewWorker(q, h, testWorkerConfig(), zap.NewNop())

	enqueue(t, q, 1)
	stop := startWorker(t, w)

	assert.Eventually(t, func() bool { return h.Calls(1) == 3 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	stop()

	assert.Equal(t, 3, h.Calls(1))
	assert.Equal(t, 0, q.Size())
}

func TestWorker_DropsPermanentFailures(t *testing.T) {
	q := queue.NewMemoryQueue(100)
	h := newRecordingHandler(func(context.Context, *queue.Task) error {
		return Permanent(ErrRejected)
	})
	w := NewWorker(q, h, testWorkerConfig(), zap.NewNop())

	enqueue(t, q, 1)
	stop := startWorker(t, w)

	assert.Eventually(t, func() bool { return h.Calls(1) == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	stop()

	assert.Equal(t, 1, h.Calls(1))
	assert.Equal(t, 0, q.Size())
}

func TestWorker_DefersTasksNotYetDue(t *testing.T) {
	q := queue.NewMemoryQueue(100)
	h := newRecordingHandler(nil)
	w := NewWorker(q, h, testWorkerConfig(), zap.NewNop())

	task := queue.NewSyncTask(1)
	task.NotBefore = time.Now().Add(time.Hour)
	require.NoError(t, q.Enqueue(context.Background(), task))
	enqueue(t, q, 2)

	stop := startWorker(t, w)
	assert.Eventually(t, func() bool { return h.Calls(2) == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	stop()

	assert.Equal(t, 0, h.Calls(1))
	assert.Equal(t, 1, q.Size())
}

func TestWorker_StopsWhenQueueCloses(t *testing.T) {
	q := queue.NewMemoryQueue(10)
	w := NewWorker(q, newRecordingHandler(nil), testWorkerConfig(), zap.NewNop())

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(context.Background())
	}()

	require.NoError(t, q.Close())
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker kept running after the queue closed")
	}
}

func TestWorker_Backoff(t *testing.T) {
	w := NewWorker(queue.NewMemoryQueue(1), newRecordingHandler(nil), WorkerConfig{
		RetryBackoff: 10 * time.Second,
		MaxBackoff:   5 * time.Minute,
	}, zap.NewNop())

	assert.Equal(t, 10*time.Second, w.backoff(1))
	assert.Equal(t, 20*time.Second, w.backoff(2))
	assert.Equal(t, 40*time.Second, w.backoff(3))
	assert.Equal(t, 160*time.Second, w.backoff(5))
	assert.Equal(t, 5*time.Minute, w.backoff(6))
	assert.Equal(t, 5*time.Minute, w.backoff(40))
}

func TestWorkerConfigFrom(t *testing.T) {
	cfg := WorkerConfigFrom(config.WorkerConfig{
		Concurrency:      4,
		RatePerSec:       2,
		BatchSize:        20,
		PollIntervalMs:   250,
		MaxAttempts:      5,
		RetryBackoffSecs: 10,
		MaxBackoffSecs:   300,
	})

	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 10*time.Second, cfg.RetryBackoff)
	assert.Equal(t, 5*time.Minute, cfg.MaxBackoff)
}
