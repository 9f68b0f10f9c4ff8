package resync

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/sigic/georef/internal/catalog"
	"github.com/sigic/georef/internal/lease"
	"github.com/sigic/georef/internal/queue"
)

// Syncer brings GeoServer's cached feature type of a dataset back in line
// with the table after a join: it forces the dataset SRS and asks GeoServer
// to recompute both bounding boxes.
type Syncer struct {
	store     DatasetStore
	client    FeatureTypeClient
	locker    Locker
	namespace string
	leaseTTL  time.Duration
	logger    *zap.Logger
}

func NewSyncer(store DatasetStore, client FeatureTypeClient, locker Locker, namespace string, leaseTTL time.Duration, logger *zap.Logger) *Syncer {
	return &Syncer{
		store:     store,
		client:    client,
		locker:    locker,
		namespace: namespace,
		leaseTTL:  leaseTTL,
		logger:    logger.Named("resync"),
	}
}

// Handle runs a queued task.
func (s *Syncer) Handle(ctx context.Context, task *queue.Task) error {
	if task.Name != queue.TaskSyncGeoServer {
		return Permanent(fmt.Errorf("%w: %s", ErrUnknownTask, task.Name))
	}
	return s.Sync(ctx, task.DatasetID)
}

// Sync resyncs one dataset. Errors wrapped with Permanent must not be retried.
func (s *Syncer) Sync(ctx context.Context, datasetID int64) error {
	ds, err := s.store.GetDataset(ctx, datasetID)
	if err != nil {
		if errors.Is(err, catalog.ErrDatasetNotFound) {
			return Permanent(err)
		}
		return err
	}

	switch ds.State {
	case catalog.StateWaiting, catalog.StateInvalid:
	case catalog.StateRunning:
		return fmt.Errorf("%w: dataset %d is %s", ErrNotReady, ds.ID, ds.State)
	default:
		s.logger.Info("Skipping resync", zap.Int64("dataset_id", ds.ID), zap.String("state", string(ds.State)))
		return Permanent(fmt.Errorf("%w: dataset %d is %s", ErrRejected, ds.ID, ds.State))
	}

	layer, err := catalog.TableName(ds.Alternate, s.namespace)
	if err != nil {
		return Permanent(err)
	}

	err = s.locker.With(ctx, "resync:"+strconv.FormatInt(ds.ID, 10), s.leaseTTL, func(ctx context.Context) error {
		return s.push(ctx, layer, ds.SRID)
	})
	if errors.Is(err, lease.ErrNotAcquired) {
		return err
	}
	if err != nil {
		s.logger.Warn("GeoServer resync failed, dataset marked invalid",
			zap.Int64("dataset_id", ds.ID), zap.String("layer", layer), zap.Error(err))
		if stateErr := s.store.SetState(ctx, ds.ID, catalog.StateInvalid); stateErr != nil {
			s.logger.Error("Failed to mark dataset invalid", zap.Int64("dataset_id", ds.ID), zap.Error(stateErr))
		}
		return err
	}

	if err := s.store.SetState(ctx, ds.ID, catalog.StateProcessed); err != nil {
		return fmt.Errorf("failed to mark dataset %d processed: %w", ds.ID, err)
	}
	s.logger.Info("GeoServer resync done", zap.Int64("dataset_id", ds.ID), zap.String("layer", layer), zap.String("srs", ds.SRID))
	return nil
}

func (s *Syncer) push(ctx context.Context, layer, srs string) error {
	ft, err := s.client.GetFeatureType(ctx, layer)
	if err != nil {
		return err
	}
	if err := ft.SetSRS(srs); err != nil {
		return err
	}
	return s.client.PutFeatureType(ctx, layer, ft, "nativebbox", "latlonbbox")
}
