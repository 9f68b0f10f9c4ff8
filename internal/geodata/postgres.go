package geodata

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Connect opens a pgx pool on the geodata store. Every connection gets the
// given statement timeout so a stuck ALTER or UPDATE cannot hold a worker forever.
func Connect(ctx context.Context, databaseURL string, statementTimeout time.Duration, logger *zap.Logger) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse geodata config: %w", err)
	}
	if statementTimeout > 0 {
		config.ConnConfig.RuntimeParams["statement_timeout"] = strconv.FormatInt(statementTimeout.Milliseconds(), 10)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create geodata connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping geodata store: %w", err)
	}

	logger.Info("Database connection established",
		zap.String("db", "geodata"),
		zap.String("host", config.ConnConfig.Host),
		zap.String("database", config.ConnConfig.Database))
	return pool, nil
}

// pgxPoolWrapper wraps pgxpool.Pool to implement Pool
type pgxPoolWrapper struct {
	*pgxpool.Pool
}

// NewPool wraps a pgx pool so callers depend only on Pool.
func NewPool(pool *pgxpool.Pool) Pool {
	return &pgxPoolWrapper{Pool: pool}
}

func (p *pgxPoolWrapper) Begin(ctx context.Context) (Tx, error) {
	tx, err := p.Pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &pgxTxWrapper{tx: tx}, nil
}

type pgxTxWrapper struct {
	tx pgx.Tx
}

func (t *pgxTxWrapper) Exec(ctx context.Context, sql string, args ...any) (CommandTag, error) {
	cmdTag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return cmdTag, nil
}

func (t *pgxTxWrapper) QueryRow(ctx context.Context, sql string, args ...any) Row {
	return t.tx.QueryRow(ctx, sql, args...)
}

func (t *pgxTxWrapper) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *pgxTxWrapper) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}
