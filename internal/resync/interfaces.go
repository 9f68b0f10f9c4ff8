package resync

import (
	"context"
	"time"

	"github.com/sigic/georef/internal/catalog"
	"github.com/sigic/georef/internal/geoserver"
	"github.com/sigic/georef/internal/queue"
)

type DatasetStore interface {
	GetDataset(ctx context.Context, id int64) (*catalog.Dataset, error)
	SetState(ctx context.Context, id int64, to catalog.State) error
}

type FeatureTypeClient interface {
	GetFeatureType(ctx context.Context, layer string) (geoserver.FeatureType, error)
	PutFeatureType(ctx context.Context, layer string, ft geoserver.FeatureType, recalculate ...string) error
}

type Locker interface {
	With(ctx context.Context, resource string, ttl time.Duration, fn func(ctx context.Context) error) error
}

// Handler executes one dequeued task.
type Handler interface {
	Handle(ctx context.Context, task *queue.Task) error
}
