package repository

import (
	"context"

	"app-build-queue/internal/domain/model"
)

// EnqueueResult reports the outcome of an admission attempt. A rejection is
// not an error: it carries retry guidance for the caller instead.
type EnqueueResult struct {
	Rejected          bool
	RetryAfterSeconds int
	Position          int
	Score             float64
}

// BuildQueue is the shared priority queue of pending job ids, ordered by the
// composite score from model.QueueScore.
type BuildQueue interface {
	// Enqueue inserts the job unless the global cap is reached. The
	// cap check and the insert are separate store operations; under
	// racing enqueues the cap is advisory, not a hard limit.
	Enqueue(ctx context.Context, jobID string, tier model.Tier) (EnqueueResult, error)
	// Dequeue atomically removes and returns the lowest-score entry.
	// Returns "" when the queue is empty.
	Dequeue(ctx context.Context) (string, error)
	// Position returns the 1-indexed rank of the job, 0 if absent.
	Position(ctx context.Context, jobID string) (int, error)
	Len(ctx context.Context) (int, error)
	// Remove is idempotent; removing an absent job is a no-op.
	Remove(ctx context.Context, jobID string) error
}
