package queue

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/sigic/georef/internal/config"
)

// New builds the queue backend selected in configuration.
func New(cfg config.QueueConfig, logger *zap.Logger) (Queue, error) {
	logger.Info("Creating task queue", zap.String("backend", cfg.Backend), zap.String("name", cfg.Name))

	switch cfg.Backend {
	case "memory", "":
		return NewMemoryQueue(cfg.BufferSize), nil
	case "redis":
		return NewRedisQueue(RedisQueueConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Name:     cfg.Name,
		}, logger)
	case "kafka":
		topic := cfg.Kafka.Topic
		if topic == "" {
			topic = cfg.Name
		}
		return NewKafkaQueue(KafkaQueueConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   topic,
			GroupID: cfg.Kafka.GroupID,
		}, logger)
	case "sqlite":
		return NewSQLiteQueue(cfg.SQLite.Path, cfg.Name, logger)
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Backend)
	}
}
