package join

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/sigic/georef/internal/geodata"
)

// Executor runs column joins against the geodata store.
type Executor struct {
	pool           geodata.Pool
	rowKey         string
	geometryColumn string
	logger         *zap.Logger
}

// NewExecutor returns an Executor correlating target rows by rowKey and
// copying geometry from the source's geometryColumn.
func NewExecutor(pool geodata.Pool, rowKey, geometryColumn string, logger *zap.Logger) *Executor {
	return &Executor{
		pool:           pool,
		rowKey:         rowKey,
		geometryColumn: geometryColumn,
		logger:         logger.Named("join"),
	}
}

// Applied is a join whose columns are added and populated inside a still
// open transaction. Callers must Commit or Rollback it.
type Applied struct {
	tx          geodata.Tx
	Plan        Plan
	SRID        int
	RowsUpdated int64
}

func (a *Applied) Commit(ctx context.Context) error {
	if err := a.tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit join on %s: %w", a.Plan.TargetTable, err)
	}
	return nil
}

func (a *Applied) Rollback(ctx context.Context) error {
	return a.tx.Rollback(ctx)
}

// Apply adds the plan's columns to the target table and fills them from the
// source table in a single transaction. On error nothing is left applied.
func (e *Executor) Apply(ctx context.Context, plan Plan) (*Applied, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin geodata transaction: %w", err)
	}

	applied, err := e.apply(ctx, tx, plan)
	if err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			e.logger.Error("Rollback after failed join failed",
				zap.String("table", plan.TargetTable), zap.Error(rbErr))
		}
		return nil, err
	}
	return applied, nil
}

func (e *Executor) apply(ctx context.Context, tx geodata.Tx, plan Plan) (*Applied, error) {
	srid := 0
	if plan.HasGeometry() {
		var err error
		srid, err = e.lookupSRID(ctx, tx, plan.Schema, plan.SourceTable)
		if err != nil {
			return nil, err
		}
	}

	alter := addColumnsSQL(plan.Schema, plan.TargetTable, plan.TypedColumns(), srid)
	if _, err := tx.Exec(ctx, alter); err != nil {
		return nil, e.sqlError(alter, err)
	}

	update := updateSQL(plan, e.rowKey, e.geometryColumn)
	tag, err := tx.Exec(ctx, update)
	if err != nil {
		return nil, e.sqlError(update, err)
	}

	e.logger.Info("Join applied",
		zap.String("target", plan.TargetTable),
		zap.String("source", plan.SourceTable),
		zap.Strings("columns", plan.Columns),
		zap.Int("srid", srid),
		zap.Int64("rows", tag.RowsAffected()))

	return &Applied{tx: tx, Plan: plan, SRID: srid, RowsUpdated: tag.RowsAffected()}, nil
}

func (e *Executor) lookupSRID(ctx context.Context, tx geodata.Tx, schema, table string) (int, error) {
	var srid int
	err := tx.QueryRow(ctx, sridQuery, schema, table, e.geometryColumn).Scan(&srid)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("source table %s.%s has no registered %q geometry column", schema, table, e.geometryColumn)
	}
	if err != nil {
		return 0, e.sqlError(sridQuery, err)
	}
	return srid, nil
}

// DropColumns removes columns added by an already committed join.
func (e *Executor) DropColumns(ctx context.Context, schema, table string, columns []string) error {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin geodata transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	drop := dropColumnsSQL(schema, table, columns)
	if _, err := tx.Exec(ctx, drop); err != nil {
		return e.sqlError(drop, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit column drop on %s: %w", table, err)
	}
	return nil
}

func (e *Executor) sqlError(query string, err error) error {
	sqlErr := &SQLError{Query: query, Err: err}
	e.logger.Warn("Join statement failed",
		zap.String("query", query),
		zap.String("sqlstate", sqlErr.SQLState()),
		zap.Error(err))
	return sqlErr
}
