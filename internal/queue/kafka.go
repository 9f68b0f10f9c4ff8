package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaQueue produces tasks to a topic and consumes them through a consumer
// group. Size is an approximation local to this process.
type KafkaQueue struct {
	writer  *kafka.Writer
	reader  *kafka.Reader
	topic   string
	groupID string
	logger  *zap.Logger

	mu     sync.RWMutex
	closed bool
	size   int
}

type KafkaQueueConfig struct {
	Brokers     []string
	Topic       string
	GroupID     string
	ReadTimeout time.Duration
}

func NewKafkaQueue(cfg KafkaQueueConfig, logger *zap.Logger) (*KafkaQueue, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one Kafka broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "georef-resync"
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = time.Second
	}
	logger = logger.Named("queue.kafka")

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		StartOffset: kafka.FirstOffset,
		MaxWait:     cfg.ReadTimeout,
	})

	logger.Info("Kafka queue initialized",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic),
		zap.String("group", cfg.GroupID))

	return &KafkaQueue{
		writer:  writer,
		reader:  reader,
		topic:   cfg.Topic,
		groupID: cfg.GroupID,
		logger:  logger,
	}, nil
}

func (q *KafkaQueue) Enqueue(ctx context.Context, task *Task) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return ErrQueueClosed
	}
	q.mu.RUnlock()

	if err := validateTask(task); err != nil {
		return err
	}

	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	// Keying by dataset keeps one dataset's tasks on one partition.
	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(task.DatasetID, 10)),
		Value: data,
		Time:  task.EnqueuedAt,
		Headers: []kafka.Header{
			{Key: "task", Value: []byte(task.Name)},
		},
	}
	if err := q.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write task to Kafka topic %s: %w", q.topic, err)
	}

	q.mu.Lock()
	q.size++
	q.mu.Unlock()
	return nil
}

// Dequeue reads up to batchSize messages, stopping at the first read that
// times out. Offsets are committed once the task is decoded.
func (q *KafkaQueue) Dequeue(ctx context.Context, batchSize int) ([]*Task, error) {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return nil, ErrQueueClosed
	}
	q.mu.RUnlock()

	if batchSize <= 0 {
		batchSize = 100
	}

	tasks := make([]*Task, 0, batchSize)
	for range batchSize {
		msg, err := q.fetch(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				break
			}
			return tasks, fmt.Errorf("failed to read from Kafka topic %s: %w", q.topic, err)
		}

		var task Task
		if err := json.Unmarshal(msg.Value, &task); err != nil {
			q.logger.Error("Dropping undecodable task",
				zap.Int("partition", msg.Partition), zap.Int64("offset", msg.Offset), zap.Error(err))
		} else {
			tasks = append(tasks, &task)
		}

		if err := q.reader.CommitMessages(ctx, msg); err != nil {
			q.logger.Warn("Failed to commit offset",
				zap.Int("partition", msg.Partition), zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}

	if len(tasks) > 0 {
		q.mu.Lock()
		q.size = max(q.size-len(tasks), 0)
		q.mu.Unlock()
	}
	return tasks, nil
}

func (q *KafkaQueue) fetch(ctx context.Context) (kafka.Message, error) {
	readCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return q.reader.FetchMessage(readCtx)
}

func (q *KafkaQueue) Size() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.size
}

func (q *KafkaQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true

	if err := q.writer.Close(); err != nil {
		q.logger.Error("Failed to close writer", zap.Error(err))
	}
	return q.reader.Close()
}
