package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Redis-backed implementation of Store.
// Suitable for distributed deployments where multiple stateless handler
// instances share counters and records.
type Redis struct {
	client *redis.Client
	prefix string
}

// RedisConfig holds configuration for the Redis connection.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewRedis creates a Redis store with the given configuration.
func NewRedis(config RedisConfig) (*Redis, error) {
	if config.Prefix == "" {
		config.Prefix = "infergate:"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Redis{
		client: client,
		prefix: config.Prefix,
	}, nil
}

// Increment atomically increments the counter and refreshes its absolute
// expiry, returning the post-increment count. INCR and EXPIREAT run in one
// pipeline round trip; INCR itself is the atomic read-modify-write.
func (r *Redis) Increment(ctx context.Context, key string, expiresAt time.Time) (int64, error) {
	fullKey := r.prefix + key

	pipe := r.client.Pipeline()
	incr := pipe.Incr(ctx, fullKey)
	pipe.ExpireAt(ctx, fullKey, expiresAt)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis increment failed: %w", err)
	}

	return incr.Val(), nil
}

// Set writes a record under the given key. A zero ttl means no expiry.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Get reads the record under the given key.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}
	return val, true, nil
}

// Delete removes the record under the given key.
func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

// IndexAdd adds a member to a sorted set with the given score.
func (r *Redis) IndexAdd(ctx context.Context, index, member string, score float64) error {
	err := r.client.ZAdd(ctx, r.prefix+index, redis.Z{Score: score, Member: member}).Err()
	if err != nil {
		return fmt.Errorf("redis index add failed: %w", err)
	}
	return nil
}

// IndexRemove removes a member from a sorted set.
func (r *Redis) IndexRemove(ctx context.Context, index, member string) error {
	if err := r.client.ZRem(ctx, r.prefix+index, member).Err(); err != nil {
		return fmt.Errorf("redis index remove failed: %w", err)
	}
	return nil
}

// IndexScan returns up to limit members in descending score order.
func (r *Redis) IndexScan(ctx context.Context, index string, limit int64) ([]string, error) {
	members, err := r.client.ZRevRange(ctx, r.prefix+index, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis index scan failed: %w", err)
	}
	return members, nil
}

// Close releases resources held by the Redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}
