package queue

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskSyncGeoServer resyncs a dataset's feature type with GeoServer.
const TaskSyncGeoServer = "georeference.sync_geoserver"

var (
	ErrQueueClosed = errors.New("task queue is closed")
	ErrQueueFull   = errors.New("task queue is full")
	ErrInvalidTask = errors.New("invalid task")
)

type Task struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	DatasetID  int64     `json:"dataset_id"`
	Attempts   int       `json:"attempts"`
	NotBefore  time.Time `json:"not_before,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

func NewSyncTask(datasetID int64) *Task {
	return &Task{
		ID:        uuid.NewString(),
		Name:      TaskSyncGeoServer,
		DatasetID: datasetID,
	}
}

func validateTask(task *Task) error {
	if task == nil {
		return fmt.Errorf("%w: nil task", ErrInvalidTask)
	}
	if task.Name == "" {
		return fmt.Errorf("%w: task name is required", ErrInvalidTask)
	}
	if task.DatasetID <= 0 {
		return fmt.Errorf("%w: dataset id must be positive", ErrInvalidTask)
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now().UTC()
	}
	return nil
}
