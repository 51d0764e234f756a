package redis

import (
	"context"
	"errors"
	"time"

	"github.com/magicyang-1/chatshare-sub001/pkg/cache"

	"github.com/redis/go-redis/v9"
)

// Options configures the Redis connection
type Options struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key written by this client
	Prefix string
}

// RedisClient is a cache.Store backed by Redis
type RedisClient struct {
	client *redis.Client
	prefix string
}

func NewRedisClient(opts Options) *RedisClient {
	if opts.Addr == "" {
		opts.Addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return &RedisClient{client: client, prefix: opts.Prefix}
}

func (r *RedisClient) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	return r.client.Set(ctx, r.prefix+key, value, expiration).Err()
}

func (r *RedisClient) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, cache.ErrMiss
	}
	return data, err
}

func (r *RedisClient) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+key).Err()
}

// Ping is used by the health checker
func (r *RedisClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisClient) Close() error {
	return r.client.Close()
}

var _ cache.Store = (*RedisClient)(nil)
