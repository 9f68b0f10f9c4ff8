package httpapi

import (
	"context"

	"github.com/sigic/georef/internal/catalog"
	"github.com/sigic/georef/internal/georeference"
	"github.com/sigic/georef/internal/queue"
)

//go:generate mockgen -source=interfaces.go -destination=mocks/mock_interfaces.go -package=mocks

// GeoreferenceService is the operation set served over HTTP.
type GeoreferenceService interface {
	Join(ctx context.Context, req georeference.JoinRequest) (*georeference.JoinResult, error)
	Status(ctx context.Context, datasetID int64) (catalog.State, error)
	Reset(ctx context.Context, datasetID int64) (*queue.Task, error)
	Info(ctx context.Context) georeference.Info
}
