package geocache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/airport-bench/internal/types"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "airportbench:geo:"

// Cached locations go stale as providers move egress IPs around.
const redisTTL = 7 * 24 * time.Hour

// RedisStore keeps cache entries in Redis with a TTL.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func (r *RedisStore) Get(ctx context.Context, key string) (*types.GeoInfo, bool) {
	data, err := r.client.Get(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		return nil, false
	}

	var info types.GeoInfo
	if err := json.Unmarshal([]byte(data), &info); err != nil {
		return nil, false
	}
	return &info, true
}

func (r *RedisStore) Put(ctx context.Context, key string, info *types.GeoInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	if err := r.client.Set(ctx, redisKeyPrefix+key, data, redisTTL).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
