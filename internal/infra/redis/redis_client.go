package redis

import (
	"context"
	"time"

	"app-build-queue/internal/config"

	"github.com/go-redis/redis/v8"
)

// RedisClient is the slice of Redis this core needs: plain keys and
// counters, one sorted set (the queue), membership sets (semaphores, the
// job index), per-job hashes, and pub/sub publish.
type RedisClient interface {
	Ping(ctx context.Context) error
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	Incr(ctx context.Context, key string) (int64, error)
	ExpireAt(ctx context.Context, key string, at time.Time) error

	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRem(ctx context.Context, key string, member string) error
	ZCard(ctx context.Context, key string) (int64, error)
	ZRank(ctx context.Context, key, member string) (int64, bool, error)
	ZPopMin(ctx context.Context, key string) (string, bool, error)

	SAdd(ctx context.Context, key string, member string) error
	SRem(ctx context.Context, key string, member string) error
	SCard(ctx context.Context, key string) (int64, error)
	SMembers(ctx context.Context, key string) ([]string, error)

	HSet(ctx context.Context, key string, values map[string]interface{}) error
	HGet(ctx context.Context, key, field string) (string, bool, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	Publish(ctx context.Context, channel string, payload []byte) error

	Close() error
}

var _ RedisClient = (*redClient)(nil)

type redClient struct {
	cli *redis.Client
}

func NewClient(ctx context.Context, cfg *config.RedisConfig) (*redClient, error) {
	opts := &redis.Options{
		Addr:     cfg.URL,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	c := redis.NewClient(opts)
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &redClient{cli: c}, nil
}

func (c *redClient) Ping(ctx context.Context) error { return c.cli.Ping(ctx).Err() }

func (c *redClient) Get(ctx context.Context, key string) (string, error) {
	v, err := c.cli.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	return v, err
}

func (c *redClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.cli.Set(ctx, key, value, expiration).Err()
}

func (c *redClient) Del(ctx context.Context, keys ...string) error {
	return c.cli.Del(ctx, keys...).Err()
}

func (c *redClient) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.cli.Exists(ctx, key).Result()
	return n > 0, err
}

func (c *redClient) Incr(ctx context.Context, key string) (int64, error) {
	return c.cli.Incr(ctx, key).Result()
}

func (c *redClient) ExpireAt(ctx context.Context, key string, at time.Time) error {
	return c.cli.ExpireAt(ctx, key, at).Err()
}

func (c *redClient) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return c.cli.ZAdd(ctx, key, &redis.Z{Score: score, Member: member}).Err()
}

func (c *redClient) ZRem(ctx context.Context, key string, member string) error {
	return c.cli.ZRem(ctx, key, member).Err()
}

func (c *redClient) ZCard(ctx context.Context, key string) (int64, error) {
	return c.cli.ZCard(ctx, key).Result()
}

func (c *redClient) ZRank(ctx context.Context, key, member string) (int64, bool, error) {
	rank, err := c.cli.ZRank(ctx, key, member).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return rank, true, nil
}

func (c *redClient) ZPopMin(ctx context.Context, key string) (string, bool, error) {
	zs, err := c.cli.ZPopMin(ctx, key, 1).Result()
	if err != nil {
		return "", false, err
	}
	if len(zs) == 0 {
		return "", false, nil
	}
	member, _ := zs[0].Member.(string)
	return member, true, nil
}

func (c *redClient) SAdd(ctx context.Context, key string, member string) error {
	return c.cli.SAdd(ctx, key, member).Err()
}

func (c *redClient) SRem(ctx context.Context, key string, member string) error {
	return c.cli.SRem(ctx, key, member).Err()
}

func (c *redClient) SCard(ctx context.Context, key string) (int64, error) {
	return c.cli.SCard(ctx, key).Result()
}

func (c *redClient) SMembers(ctx context.Context, key string) ([]string, error) {
	return c.cli.SMembers(ctx, key).Result()
}

func (c *redClient) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	return c.cli.HSet(ctx, key, values).Err()
}

func (c *redClient) HGet(ctx context.Context, key, field string) (string, bool, error) {
	v, err := c.cli.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (c *redClient) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return c.cli.HGetAll(ctx, key).Result()
}

func (c *redClient) Publish(ctx context.Context, channel string, payload []byte) error {
	return c.cli.Publish(ctx, channel, payload).Err()
}

func (c *redClient) Close() error { return c.cli.Close() }
