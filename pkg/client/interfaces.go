package client

import (
	"context"
	"time"
)

//go:generate mockgen -source=interfaces.go -destination=mocks/mock_interfaces.go -package=mocks

// ClientInterface defines the georef API operations available to other services.
type ClientInterface interface {
	Join(ctx context.Context, req JoinRequest) error
	Status(ctx context.Context, layer int64) (string, error)
	Reset(ctx context.Context, layer int64) error
	Ping(ctx context.Context) error
	WaitForState(ctx context.Context, layer int64, interval time.Duration, states ...string) (string, error)
}
