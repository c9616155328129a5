package cache

import (
	"context"
	"time"

	"tillpoint/backend/internal/domain"
)

// SnapshotCache fronts stock snapshot reads. Writers invalidate after every
// ledger movement so readers never see a snapshot older than one TTL.
type SnapshotCache interface {
	Get(ctx context.Context, productID string) (*domain.StockSnapshot, bool, error)
	Set(ctx context.Context, productID string, snapshot *domain.StockSnapshot, ttl time.Duration) error
	Delete(ctx context.Context, productID string) error
}

type NoopSnapshotCache struct{}

func (NoopSnapshotCache) Get(_ context.Context, _ string) (*domain.StockSnapshot, bool, error) {
	return nil, false, nil
}

func (NoopSnapshotCache) Set(_ context.Context, _ string, _ *domain.StockSnapshot, _ time.Duration) error {
	return nil
}

func (NoopSnapshotCache) Delete(_ context.Context, _ string) error {
	return nil
}
