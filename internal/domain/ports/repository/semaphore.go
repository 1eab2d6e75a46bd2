package repository

import (
	"context"

	"app-build-queue/internal/domain/model"
)

// Semaphore is a distributed concurrency gate over one scope (a user or a
// project). Membership is paired with a per-owner lease; a slot whose lease
// has expired is stale and reclaimable by anyone.
type Semaphore interface {
	// Acquire returns false without blocking when the scope is full.
	Acquire(ctx context.Context, ownerID string) (bool, error)
	// Release is idempotent.
	Release(ctx context.Context, ownerID string) error
	// Heartbeat extends the owner's lease during long-running work.
	Heartbeat(ctx context.Context, ownerID string) error
	Count(ctx context.Context) (int, error)
	// CleanupStale reclaims slots whose lease expired (crashed workers)
	// and returns how many were removed.
	CleanupStale(ctx context.Context) (int, error)
}

// SemaphoreProvider hands out the two scope-bound semaphores a job needs,
// with capacities derived from the tier profile.
type SemaphoreProvider interface {
	UserSlots(userID string, tier model.Tier) Semaphore
	ProjectSlots(projectID string, tier model.Tier) Semaphore
}
