package repository

import (
	"context"
	"time"
)

// UsageRepository tracks per-user daily build counters keyed by UTC date,
// auto-expiring at the following midnight.
type UsageRepository interface {
	// IncrementDaily bumps the counter for the user's current UTC day and
	// returns the new count. The key's expiry is set only on the first
	// increment of the day.
	IncrementDaily(ctx context.Context, userID string, now time.Time) (int, error)
	// GetDaily returns 0 when no counter exists for the day.
	GetDaily(ctx context.Context, userID string, now time.Time) (int, error)
}
