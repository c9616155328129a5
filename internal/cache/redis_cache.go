package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"tillpoint/backend/internal/domain"
)

type RedisSnapshotCache struct {
	client *redis.Client
}

func NewRedisSnapshotCache(addr string, password string, db int) *RedisSnapshotCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisSnapshotCache{client: client}
}

func (c *RedisSnapshotCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisSnapshotCache) Close() error {
	return c.client.Close()
}

func key(productID string) string {
	return "stock-snapshot:" + productID
}

func (c *RedisSnapshotCache) Get(ctx context.Context, productID string) (*domain.StockSnapshot, bool, error) {
	val, err := c.client.Get(ctx, key(productID)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var snap domain.StockSnapshot
	if err := json.Unmarshal([]byte(val), &snap); err != nil {
		return nil, false, err
	}
	return &snap, true, nil
}

func (c *RedisSnapshotCache) Set(ctx context.Context, productID string, snapshot *domain.StockSnapshot, ttl time.Duration) error {
	if snapshot == nil {
		return nil
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key(productID), payload, ttl).Err()
}

func (c *RedisSnapshotCache) Delete(ctx context.Context, productID string) error {
	return c.client.Del(ctx, key(productID)).Err()
}
