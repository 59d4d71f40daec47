package feed

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"tremor/internal/constants"
	"tremor/pkg/models"
)

// RedisRepository keeps dedup state in Redis so revisions survive a restart.
// Expiry is delegated to key TTLs.
type RedisRepository struct {
	client *redis.Client
}

func NewRedisRepository(client *redis.Client) *RedisRepository {
	return &RedisRepository{client: client}
}

func redisKey(id models.Identity) string {
	return constants.DedupKeyPrefix + id.Source + ":" + id.ExternalID
}

func (r *RedisRepository) Get(ctx context.Context, id models.Identity) (int64, bool, error) {
	val, err := r.client.Get(ctx, redisKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("redis get: %w", err)
	}

	revision, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt dedup entry %q: %w", val, err)
	}
	return revision, true, nil
}

func (r *RedisRepository) Put(ctx context.Context, id models.Identity, revision int64, ttl time.Duration) error {
	if err := r.client.Set(ctx, redisKey(id), revision, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *RedisRepository) Size(ctx context.Context) (int64, error) {
	var cursor uint64
	var total int64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, constants.DedupKeyPrefix+"*", 1000).Result()
		if err != nil {
			return 0, fmt.Errorf("redis scan: %w", err)
		}
		total += int64(len(keys))
		if next == 0 {
			return total, nil
		}
		cursor = next
	}
}
