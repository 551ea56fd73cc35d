package redis

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
)

const DefaultKey = "heartbeat:connections"

// Registry keeps connection ids in a sorted set scored by connect time.
type Registry struct {
	rdb   *goredis.Client
	clock clockwork.Clock
	key   string
}

// NewClient creates a go-redis client from a URL such as
// "redis://localhost:6379/0" and verifies it can reach the server.
func NewClient(ctx context.Context, redisURL string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	rdb := goredis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return rdb, nil
}

func NewRegistry(rdb *goredis.Client, clock clockwork.Clock, key string) *Registry {
	if key == "" {
		key = DefaultKey
	}

	return &Registry{
		rdb:   rdb,
		clock: clock,
		key:   key,
	}
}

func (r *Registry) Add(ctx context.Context, connectionId string) error {
	// NX keeps the first connect time when a gateway replays $connect.
	return r.rdb.ZAddNX(ctx, r.key, goredis.Z{
		Score:  float64(r.clock.Now().UnixMilli()),
		Member: connectionId,
	}).Err()
}

func (r *Registry) List(ctx context.Context) ([]string, error) {
	return r.rdb.ZRange(ctx, r.key, 0, -1).Result()
}

func (r *Registry) Remove(ctx context.Context, connectionId string) error {
	return r.rdb.ZRem(ctx, r.key, connectionId).Err()
}
