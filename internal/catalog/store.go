package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrDatasetNotFound = errors.New("dataset not found")
	ErrStateConflict   = errors.New("dataset state conflict")
)

// Store persists datasets, attributes and style links through gorm. A Store
// returned by Transaction is bound to that transaction.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

// Transaction runs fn with a Store bound to a single catalog transaction. The
// transaction commits when fn returns nil.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

func (s *Store) GetDataset(ctx context.Context, id int64) (*Dataset, error) {
	var ds Dataset
	err := s.db.WithContext(ctx).First(&ds, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: id %d", ErrDatasetNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load dataset %d: %w", id, err)
	}
	return &ds, nil
}

func (s *Store) GetState(ctx context.Context, id int64) (State, error) {
	var ds Dataset
	err := s.db.WithContext(ctx).Select("id", "state").First(&ds, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("%w: id %d", ErrDatasetNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("failed to load state of dataset %d: %w", id, err)
	}
	return ds.State, nil
}

// TransitionState moves a dataset to `to` only if its current state is one of
// `from`. A dataset in any other state yields ErrStateConflict.
func (s *Store) TransitionState(ctx context.Context, id int64, from []State, to State) error {
	res := s.db.WithContext(ctx).Model(&Dataset{}).
		Where("id = ? AND state IN ?", id, from).
		Update("state", to)
	if res.Error != nil {
		return fmt.Errorf("failed to move dataset %d to %s: %w", id, to, res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	current, err := s.GetState(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: dataset %d is %s, expected one of %v", ErrStateConflict, id, current, from)
}

func (s *Store) SetState(ctx context.Context, id int64, to State) error {
	res := s.db.WithContext(ctx).Model(&Dataset{}).Where("id = ?", id).Update("state", to)
	if res.Error != nil {
		return fmt.Errorf("failed to set dataset %d to %s: %w", id, to, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: id %d", ErrDatasetNotFound, id)
	}
	return nil
}

// Touch bumps updated_at without changing anything else.
func (s *Store) Touch(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Model(&Dataset{}).Where("id = ?", id).
		Update("updated_at", s.db.NowFunc()).Error
}

func (s *Store) FindAttribute(ctx context.Context, datasetID int64, name string) (*Attribute, error) {
	var attr Attribute
	err := s.db.WithContext(ctx).
		Where("dataset_id = ? AND attribute = ?", datasetID, name).
		First(&attr).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("dataset %d has no attribute %q", datasetID, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load attribute %q of dataset %d: %w", name, datasetID, err)
	}
	return &attr, nil
}

func (s *Store) ListAttributes(ctx context.Context, datasetID int64) ([]Attribute, error) {
	var attrs []Attribute
	err := s.db.WithContext(ctx).
		Where("dataset_id = ?", datasetID).
		Order("display_order, id").
		Find(&attrs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list attributes of dataset %d: %w", datasetID, err)
	}
	return attrs, nil
}

func (s *Store) CreateAttributes(ctx context.Context, attrs []Attribute) error {
	if len(attrs) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(&attrs).Error; err != nil {
		return fmt.Errorf("failed to create %d attributes: %w", len(attrs), err)
	}
	return nil
}

// LinkStyle adds the dataset to the style's dataset set. Existing links are kept.
func (s *Store) LinkStyle(ctx context.Context, styleID, datasetID int64) error {
	link := DatasetStyle{StyleID: styleID, DatasetID: datasetID}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&link).Error
	if err != nil {
		return fmt.Errorf("failed to link style %d to dataset %d: %w", styleID, datasetID, err)
	}
	return nil
}

func (s *Store) UpdateSpatialMetadata(ctx context.Context, id int64, md SpatialMetadata) error {
	res := s.db.WithContext(ctx).Model(&Dataset{}).Where("id = ?", id).Updates(map[string]any{
		"srid":             md.SRID,
		"bbox_polygon":     md.BBoxPolygon,
		"ll_bbox_polygon":  md.LLBBoxPolygon,
		"default_style_id": md.DefaultStyleID,
	})
	if res.Error != nil {
		return fmt.Errorf("failed to update spatial metadata of dataset %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: id %d", ErrDatasetNotFound, id)
	}
	return nil
}

// ListStale returns datasets in the given state that have not been updated
// since before the cutoff, oldest first.
func (s *Store) ListStale(ctx context.Context, state State, olderThan time.Duration, limit int) ([]Dataset, error) {
	cutoff := s.db.NowFunc().Add(-olderThan)
	var datasets []Dataset
	err := s.db.WithContext(ctx).
		Where("state = ? AND updated_at < ?", state, cutoff).
		Order("updated_at").
		Limit(limit).
		Find(&datasets).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list stale %s datasets: %w", state, err)
	}
	return datasets, nil
}
