package geodata

import (
	"context"
)

//go:generate mockgen -source=interfaces.go -destination=mocks/mock_interfaces.go -package=mocks

// Pool hands out transactions on the geodata store.
type Pool interface {
	Begin(ctx context.Context) (Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Tx is a single geodata transaction. Rollback after Commit is a no-op.
type Tx interface {
	Exec(ctx context.Context, sql string, args ...any) (CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) Row
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Row represents a single query result row interface
type Row interface {
	Scan(dest ...any) error
}

// CommandTag represents the result of an Exec operation
type CommandTag interface {
	RowsAffected() int64
}
