package georeference

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/sigic/georef/internal/catalog"
	"github.com/sigic/georef/internal/config"
	"github.com/sigic/georef/internal/join"
	"github.com/sigic/georef/internal/lease"
	"github.com/sigic/georef/internal/queue"
)

const (
	cleanupTimeout = 10 * time.Second

	// Joined attributes are listed after the ones the dataset already has.
	defaultDisplayOrder = 100
)

// JoinRequest copies Columns from the source dataset into the target dataset,
// matching target rows on TargetPivot against source rows on SourcePivot.
type JoinRequest struct {
	TargetID    int64    `json:"layer" validate:"required,gt=0"`
	SourceID    int64    `json:"geo_layer" validate:"required,gt=0,nefield=TargetID"`
	TargetPivot string   `json:"layer_pivot" validate:"required"`
	SourcePivot string   `json:"geo_pivot" validate:"required"`
	Columns     []string `json:"columns" validate:"required,min=1,unique,dive,required"`
}

type JoinResult struct {
	DatasetID   int64
	Columns     []string
	SRID        int
	RowsUpdated int64
	TaskID      string
}

type Info struct {
	QueueBackend string `json:"queue_backend"`
	QueueSize    int    `json:"queue_size"`
}

type Options struct {
	Schema          string
	Namespace       string
	StringType      string
	DisplayOrder    int
	StartableStates []catalog.State
	LockTTL         time.Duration
	QueueBackend    string
}

func OptionsFrom(cfg *config.Config) (Options, error) {
	startable, err := catalog.ParseStates(cfg.JoinOptions.StartableStates)
	if err != nil {
		return Options{}, fmt.Errorf("join.startable_states: %w", err)
	}
	return Options{
		Schema:          cfg.GeodataOptions.Schema,
		Namespace:       cfg.GeodataOptions.Namespace,
		StringType:      cfg.GeodataOptions.StringType,
		DisplayOrder:    cfg.JoinOptions.DisplayOrder,
		StartableStates: startable,
		LockTTL:         time.Duration(cfg.JoinOptions.LockLeaseSecs) * time.Second,
		QueueBackend:    cfg.QueueOptions.Backend,
	}, nil
}

// Service sequences the column join, the catalog update and the scheduling
// of the GeoServer resync.
type Service struct {
	store        *catalog.Store
	joiner       Joiner
	queue        queue.Queue
	locker       Locker
	opts         Options
	stringType   string
	displayOrder int
	validate     *validator.Validate
	logger       *zap.Logger
}

func NewService(store *catalog.Store, joiner Joiner, q queue.Queue, locker Locker, opts Options, logger *zap.Logger) *Service {
	if opts.StringType == "" {
		opts.StringType = "xsd:string"
	}
	if len(opts.StartableStates) == 0 {
		opts.StartableStates = []catalog.State{catalog.StateProcessed, catalog.StateIncomplete}
	}
	if opts.DisplayOrder <= 0 {
		opts.DisplayOrder = defaultDisplayOrder
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 5 * time.Minute
	}
	return &Service{
		store:        store,
		joiner:       joiner,
		queue:        q,
		locker:       locker,
		opts:         opts,
		stringType:   opts.StringType,
		displayOrder: opts.DisplayOrder,
		validate:     validator.New(),
		logger:       logger.Named("georeference"),
	}
}

// Join runs a column join end to end. On success the target is WAITING and
// a resync task is queued. On any failure after the target went RUNNING the
// target ends INCOMPLETE with no joined columns or attributes left behind.
func (s *Service) Join(ctx context.Context, req JoinRequest) (*JoinResult, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, newError(KindValidation, "invalid join request", err)
	}

	target, err := s.loadDataset(ctx, req.TargetID)
	if err != nil {
		return nil, err
	}
	source, err := s.loadDataset(ctx, req.SourceID)
	if err != nil {
		return nil, err
	}

	targetTable, err := catalog.TableName(target.Alternate, s.opts.Namespace)
	if err != nil {
		return nil, newError(KindValidation, "invalid target dataset", err)
	}
	sourceTable, err := catalog.TableName(source.Alternate, s.opts.Namespace)
	if err != nil {
		return nil, newError(KindValidation, "invalid source dataset", err)
	}

	plan := join.Plan{
		Schema:      s.opts.Schema,
		TargetTable: targetTable,
		SourceTable: sourceTable,
		TargetPivot: req.TargetPivot,
		SourcePivot: req.SourcePivot,
		Columns:     req.Columns,
	}
	if err := plan.Validate(); err != nil {
		return nil, newError(KindValidation, "invalid join request", err)
	}

	var result *JoinResult
	resource := "join:" + strconv.FormatInt(target.ID, 10)
	err = s.locker.With(ctx, resource, s.opts.LockTTL, func(ctx context.Context) error {
		var runErr error
		result, runErr = s.run(ctx, target, source, plan)
		return runErr
	})
	if errors.Is(err, lease.ErrNotAcquired) {
		return nil, newError(KindStateConflict, "a join on this dataset is already running", err)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) run(ctx context.Context, target, source *catalog.Dataset, plan join.Plan) (*JoinResult, error) {
	log := s.logger.With(
		zap.Int64("target_id", target.ID),
		zap.Int64("source_id", source.ID),
		zap.String("target_table", plan.TargetTable))

	if err := s.store.TransitionState(ctx, target.ID, s.opts.StartableStates, catalog.StateRunning); err != nil {
		switch {
		case errors.Is(err, catalog.ErrStateConflict):
			return nil, newError(KindStateConflict, "data not in valid state", err)
		case errors.Is(err, catalog.ErrDatasetNotFound):
			return nil, newError(KindNotFound, "dataset not found", err)
		default:
			return nil, err
		}
	}

	applied, err := s.joiner.Apply(ctx, plan)
	if err != nil {
		cleanupCtx, cancel := cleanupContext(ctx)
		defer cancel()
		s.markIncomplete(cleanupCtx, target.ID)
		return nil, newError(KindExecution, "failed running database changes", err)
	}

	task := queue.NewSyncTask(target.ID)
	geodataCommitted := false
	err = s.store.Transaction(ctx, func(tx *catalog.Store) error {
		if err := s.propagate(ctx, tx, target, source, plan.Columns); err != nil {
			return newError(KindMetadata, "failed updating attributes", err)
		}
		if err := tx.SetState(ctx, target.ID, catalog.StateWaiting); err != nil {
			return newError(KindMetadata, "failed updating attributes", err)
		}
		if err := s.queue.Enqueue(ctx, task); err != nil {
			return newError(KindScheduling, "failed syncing geoserver", err)
		}
		if err := applied.Commit(ctx); err != nil {
			return newError(KindExecution, "failed running database changes", err)
		}
		geodataCommitted = true
		return nil
	})
	if err != nil {
		cleanupCtx, cancel := cleanupContext(ctx)
		defer cancel()

		if geodataCommitted {
			log.Error("Catalog commit failed after the columns were committed, dropping them", zap.Error(err))
			if dropErr := s.joiner.DropColumns(cleanupCtx, plan.Schema, plan.TargetTable, plan.Columns); dropErr != nil {
				log.Error("Failed to drop joined columns, manual cleanup needed",
					zap.Strings("columns", plan.Columns), zap.Error(dropErr))
			}
		} else if rbErr := applied.Rollback(cleanupCtx); rbErr != nil {
			log.Error("Failed to roll back geodata transaction", zap.Error(rbErr))
		}
		s.markIncomplete(cleanupCtx, target.ID)

		if KindOf(err) == KindInternal {
			err = newError(KindMetadata, "failed updating attributes", err)
		}
		log.Warn("Join failed", zap.Stringer("kind", KindOf(err)), zap.Error(err))
		return nil, err
	}

	log.Info("Join completed, resync scheduled",
		zap.Strings("columns", plan.Columns),
		zap.Int64("rows", applied.RowsUpdated),
		zap.String("task_id", task.ID))

	return &JoinResult{
		DatasetID:   target.ID,
		Columns:     plan.Columns,
		SRID:        applied.SRID,
		RowsUpdated: applied.RowsUpdated,
		TaskID:      task.ID,
	}, nil
}

// Status returns the persisted state of a dataset.
func (s *Service) Status(ctx context.Context, datasetID int64) (catalog.State, error) {
	state, err := s.store.GetState(ctx, datasetID)
	if errors.Is(err, catalog.ErrDatasetNotFound) {
		return "", newError(KindNotFound, "dataset not found", err)
	}
	return state, err
}

// Reset schedules a GeoServer resync for a dataset without joining anything.
// The dataset state is left to the resync outcome.
func (s *Service) Reset(ctx context.Context, datasetID int64) (*queue.Task, error) {
	ds, err := s.loadDataset(ctx, datasetID)
	if err != nil {
		return nil, err
	}

	task := queue.NewSyncTask(ds.ID)
	if err := s.queue.Enqueue(ctx, task); err != nil {
		return nil, newError(KindScheduling, "failed syncing geoserver", err)
	}
	s.logger.Info("Resync scheduled",
		zap.Int64("dataset_id", ds.ID), zap.String("state", string(ds.State)), zap.String("task_id", task.ID))
	return task, nil
}

func (s *Service) Info(ctx context.Context) Info {
	return Info{QueueBackend: s.opts.QueueBackend, QueueSize: s.queue.Size()}
}

func (s *Service) loadDataset(ctx context.Context, id int64) (*catalog.Dataset, error) {
	ds, err := s.store.GetDataset(ctx, id)
	if errors.Is(err, catalog.ErrDatasetNotFound) {
		return nil, newError(KindNotFound, "dataset not found", err)
	}
	return ds, err
}

// cleanupContext outlives a cancelled request so a failed join is always
// marked INCOMPLETE.
func cleanupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
}

func (s *Service) markIncomplete(ctx context.Context, id int64) {
	if err := s.store.SetState(ctx, id, catalog.StateIncomplete); err != nil {
		s.logger.Error("Failed to mark dataset incomplete", zap.Int64("dataset_id", id), zap.Error(err))
	}
}

func (s *Service) validateRequest(req JoinRequest) error {
	err := s.validate.Struct(req)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := lo.Map(verrs, func(fe validator.FieldError, _ int) string {
			return fe.Field() + " failed " + fe.Tag()
		})
		return errors.New(strings.Join(fields, ", "))
	}
	return err
}
