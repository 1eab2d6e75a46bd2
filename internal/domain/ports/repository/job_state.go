package repository

import (
	"context"
	"time"

	"app-build-queue/internal/domain/model"
)

// JobStateRepository stores the live job records in fast shared storage.
// Terminal records move to the durable archive; the live record is deleted
// by the reaper once orphaned.
type JobStateRepository interface {
	Create(ctx context.Context, job *model.BuildJob) error
	Find(ctx context.Context, id string) (*model.BuildJob, error)
	Update(ctx context.Context, job *model.BuildJob) error
	ListByStatus(ctx context.Context, status model.JobStatus) ([]*model.BuildJob, error)
	// ListNonTerminalBefore returns non-terminal jobs enqueued before the
	// cutoff, candidates for the orphan reaper.
	ListNonTerminalBefore(ctx context.Context, cutoff time.Time) ([]*model.BuildJob, error)
	Delete(ctx context.Context, id string) error
}

// EventPublisher broadcasts typed events on a per-job channel. Delivery is
// best-effort and at-most-once; it is never a correctness dependency for
// state storage.
type EventPublisher interface {
	Publish(ctx context.Context, jobID string, ev model.BuildEvent) error
}
