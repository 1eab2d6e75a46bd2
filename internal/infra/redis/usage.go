package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"app-build-queue/internal/domain/model"
	"app-build-queue/internal/domain/ports/repository"
)

var _ repository.UsageRepository = (*usageRepo)(nil)

// usageRepo keeps one counter per (user, UTC day). INCR returning 1 means
// this is the day's first build, and only then is the expiry stamped, so
// later increments never push the reset time back.
type usageRepo struct {
	cli RedisClient
}

func NewUsageRepo(cli RedisClient) *usageRepo {
	return &usageRepo{cli: cli}
}

func dailyKey(userID string, now time.Time) string {
	return fmt.Sprintf("build:usage:%s:%s", userID, now.UTC().Format("2006-01-02"))
}

func (r *usageRepo) IncrementDaily(ctx context.Context, userID string, now time.Time) (int, error) {
	key := dailyKey(userID, now)
	count, err := r.cli.Incr(ctx, key)
	if err != nil {
		return 0, err
	}
	if count == 1 {
		if err := r.cli.ExpireAt(ctx, key, model.NextUTCMidnight(now)); err != nil {
			return 0, err
		}
	}
	return int(count), nil
}

func (r *usageRepo) GetDaily(ctx context.Context, userID string, now time.Time) (int, error) {
	v, err := r.cli.Get(ctx, dailyKey(userID, now))
	if err != nil {
		return 0, err
	}
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
