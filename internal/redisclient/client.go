package redisclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"inventory-service/internal/models"

	"github.com/go-redis/redis/v8"
)

// Client caches availability snapshots for the reporter's read path. The
// ledger in the database stays the only write-path authority; entries here
// are dropped on every successful mutation and carry a short TTL besides.
type Client struct {
	rdb *redis.Client
}

// NewClient connects to Redis
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func availabilityKey(skuID string) string {
	return fmt.Sprintf("availability:%s", skuID)
}

// GetAvailability returns the cached snapshot for a SKU, or nil on a miss
func (c *Client) GetAvailability(ctx context.Context, skuID string) (*models.Availability, error) {
	raw, err := c.rdb.Get(ctx, availabilityKey(skuID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var av models.Availability
	if err := json.Unmarshal(raw, &av); err != nil {
		return nil, fmt.Errorf("failed to decode cached availability: %w", err)
	}
	return &av, nil
}

// SetAvailability caches a snapshot with the given TTL
func (c *Client) SetAvailability(ctx context.Context, av *models.Availability, ttl time.Duration) error {
	raw, err := json.Marshal(av)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, availabilityKey(av.SKUID), raw, ttl).Err()
}

// Invalidate drops cached snapshots for the given SKUs
func (c *Client) Invalidate(ctx context.Context, skuIDs []string) error {
	if len(skuIDs) == 0 {
		return nil
	}
	keys := make([]string, len(skuIDs))
	for i, id := range skuIDs {
		keys[i] = availabilityKey(id)
	}
	return c.rdb.Del(ctx, keys...).Err()
}
