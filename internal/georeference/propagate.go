package georeference

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sigic/georef/internal/catalog"
	"github.com/sigic/georef/internal/join"
)

// propagate registers the joined columns as attributes of target and copies
// the spatial metadata and default style of source onto it. It runs inside
// the catalog transaction of the join.
func (s *Service) propagate(ctx context.Context, tx *catalog.Store, target, source *catalog.Dataset, columns []string) error {
	geometryType := ""
	attrs := make([]catalog.Attribute, 0, len(columns))
	for _, col := range columns {
		attrType := s.stringType
		if col == join.GeometryColumn {
			if geometryType == "" {
				attr, err := tx.FindAttribute(ctx, source.ID, join.GeometryColumn)
				if err != nil {
					return err
				}
				geometryType = attr.AttributeType
			}
			attrType = geometryType
		}
		attrs = append(attrs, catalog.Attribute{
			DatasetID:     target.ID,
			Attribute:     col,
			AttributeType: attrType,
			DisplayOrder:  s.displayOrder,
		})
	}
	if err := tx.CreateAttributes(ctx, attrs); err != nil {
		return err
	}

	if source.DefaultStyleID != nil {
		if err := tx.LinkStyle(ctx, *source.DefaultStyleID, target.ID); err != nil {
			return err
		}
	} else {
		s.logger.Warn("Source dataset has no default style, target keeps none",
			zap.Int64("source_id", source.ID), zap.Int64("target_id", target.ID))
	}

	if err := tx.UpdateSpatialMetadata(ctx, target.ID, source.SpatialMetadata()); err != nil {
		return fmt.Errorf("copy spatial metadata: %w", err)
	}
	return nil
}
