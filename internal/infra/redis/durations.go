package redis

import (
	"context"
	"strconv"

	"app-build-queue/internal/domain/model"
	"app-build-queue/internal/domain/ports/repository"
)

const durationsKey = "build:durations"

var _ repository.DurationStore = (*durationStore)(nil)

// durationStore shares the per-tier duration averages across worker
// processes through a single hash.
type durationStore struct {
	cli RedisClient
}

func NewDurationStore(cli RedisClient) *durationStore {
	return &durationStore{cli: cli}
}

func (s *durationStore) Average(ctx context.Context, tier model.Tier) (float64, bool, error) {
	v, ok, err := s.cli.HGet(ctx, durationsKey, string(tier))
	if err != nil || !ok {
		return 0, false, err
	}
	avg, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false, err
	}
	return avg, true, nil
}

func (s *durationStore) SetAverage(ctx context.Context, tier model.Tier, avg float64) error {
	return s.cli.HSet(ctx, durationsKey, map[string]interface{}{
		string(tier): strconv.FormatFloat(avg, 'f', -1, 64),
	})
}
