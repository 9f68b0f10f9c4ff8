package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS queue_tasks (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	queue TEXT NOT NULL,
	payload BLOB NOT NULL,
	enqueued_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_queue_tasks_queue_seq ON queue_tasks (queue, seq);
`

// SQLiteQueue persists tasks in a local SQLite file so a single node keeps
// its pending resyncs across restarts.
type SQLiteQueue struct {
	db     *sql.DB
	name   string
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
}

func NewSQLiteQueue(path, name string, logger *zap.Logger) (*SQLiteQueue, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite queue path is required")
	}
	if name == "" {
		name = TaskSyncGeoServer
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite queue %s: %w", path, err)
	}
	// One writer at a time keeps pop-and-delete free of SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize sqlite queue schema: %w", err)
	}

	return &SQLiteQueue{db: db, name: name, logger: logger.Named("queue.sqlite")}, nil
}

func (q *SQLiteQueue) isClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

func (q *SQLiteQueue) Enqueue(ctx context.Context, task *Task) error {
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
	_, err = q.db.ExecContext(ctx,
		`INSERT INTO queue_tasks (queue, payload, enqueued_at) VALUES (?, ?, ?)`,
		q.name, data, task.EnqueuedAt)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

func (q *SQLiteQueue) Dequeue(ctx context.Context, batchSize int) ([]*Task, error) {
	if q.isClosed() {
		return nil, ErrQueueClosed
	}
	if batchSize <= 0 {
		batchSize = 100
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin dequeue transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx,
		`SELECT seq, payload FROM queue_tasks WHERE queue = ? ORDER BY seq LIMIT ?`, q.name, batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to select tasks: %w", err)
	}

	var seqs []any
	tasks := make([]*Task, 0, batchSize)
	for rows.Next() {
		var seq int64
		var payload []byte
		if err := rows.Scan(&seq, &payload); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		seqs = append(seqs, seq)

		var task Task
		if err := json.Unmarshal(payload, &task); err != nil {
			q.logger.Error("Dropping undecodable task", zap.Int64("seq", seq), zap.Error(err))
			continue
		}
		tasks = append(tasks, &task)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating task rows: %w", err)
	}
	rows.Close()

	if len(seqs) == 0 {
		return tasks, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(seqs)), ",")
	if _, err := tx.ExecContext(ctx, `DELETE FROM queue_tasks WHERE seq IN (`+placeholders+`)`, seqs...); err != nil {
		return nil, fmt.Errorf("failed to delete dequeued tasks: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit dequeue: %w", err)
	}
	return tasks, nil
}

func (q *SQLiteQueue) Size() int {
	var n int
	err := q.db.QueryRow(`SELECT COUNT(*) FROM queue_tasks WHERE queue = ?`, q.name).Scan(&n)
	if err != nil {
		q.logger.Warn("Failed to count queued tasks", zap.Error(err))
		return 0
	}
	return n
}

func (q *SQLiteQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	return q.db.Close()
}
