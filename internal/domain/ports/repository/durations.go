package repository

import (
	"context"

	"app-build-queue/internal/domain/model"
)

// DurationStore persists the per-tier moving average of build durations in
// shared storage, so every worker process estimates from the same numbers.
type DurationStore interface {
	// Average returns (0, false, nil) when no completion has been
	// recorded for the tier yet.
	Average(ctx context.Context, tier model.Tier) (float64, bool, error)
	SetAverage(ctx context.Context, tier model.Tier, avg float64) error
}
