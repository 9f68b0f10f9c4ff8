package georeference

import (
	"context"
	"time"

	"github.com/sigic/georef/internal/join"
)

// Joiner applies column joins to the geodata store.
type Joiner interface {
	Apply(ctx context.Context, plan join.Plan) (*join.Applied, error)
	DropColumns(ctx context.Context, schema, table string, columns []string) error
}

type Locker interface {
	With(ctx context.Context, resource string, ttl time.Duration, fn func(ctx context.Context) error) error
}
