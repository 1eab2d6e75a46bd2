package usecase

import (
	"context"
	"time"

	"app-build-queue/internal/domain/model"
	"app-build-queue/internal/domain/ports/repository"

	"github.com/rs/zerolog"
)

// JobLifecycle is the canonical write path for job status: it validates the
// edge against the transition table, persists the change, and broadcasts a
// transition event on the job's channel.
type JobLifecycle struct {
	jobs   repository.JobStateRepository
	events repository.EventPublisher
	log    *zerolog.Logger
	now    func() time.Time
}

func NewJobLifecycle(jobs repository.JobStateRepository, events repository.EventPublisher, log *zerolog.Logger) *JobLifecycle {
	return &JobLifecycle{jobs: jobs, events: events, log: log, now: time.Now}
}

// Create writes the initial record; jobs always enter in `queued`.
func (uc *JobLifecycle) Create(ctx context.Context, job *model.BuildJob) error {
	if err := uc.jobs.Create(ctx, job); err != nil {
		return err
	}
	uc.PublishEvent(ctx, job.ID, model.NewStatusEvent(job.ID, job.Status, job.Message, uc.now()))
	return nil
}

// Transition moves the job to next if the edge is legal. An illegal edge is
// reported as false and logged, never as an error: a bad transition request
// must not abort the worker loop. Store failures do return an error.
func (uc *JobLifecycle) Transition(ctx context.Context, jobID string, next model.JobStatus, message string) (bool, error) {
	job, err := uc.jobs.Find(ctx, jobID)
	if err != nil {
		return false, err
	}
	if !job.Status.CanTransitionTo(next) {
		uc.log.Warn().
			Str("job_id", jobID).
			Str("from", string(job.Status)).
			Str("to", string(next)).
			Msg("illegal status transition rejected")
		return false, nil
	}

	now := uc.now()
	job.Status = next
	job.Message = message
	switch {
	case next == model.JobStatusStarting:
		job.StartedAt = &now
	case next.IsTerminal():
		job.CompletedAt = &now
		if job.StartedAt != nil {
			job.DurationSecs = now.Sub(*job.StartedAt).Seconds()
		}
	}
	if err := uc.jobs.Update(ctx, job); err != nil {
		return false, err
	}

	uc.PublishEvent(ctx, jobID, model.NewStatusEvent(jobID, next, message, now))
	return true, nil
}

// PublishEvent broadcasts an arbitrary typed event without a status change.
// Delivery is best-effort: a pub/sub failure is logged and swallowed.
func (uc *JobLifecycle) PublishEvent(ctx context.Context, jobID string, ev model.BuildEvent) {
	if err := uc.events.Publish(ctx, jobID, ev); err != nil {
		uc.log.Warn().Err(err).Str("job_id", jobID).Str("event_type", ev.Type).Msg("event broadcast failed")
	}
}

// Find returns the live job record.
func (uc *JobLifecycle) Find(ctx context.Context, jobID string) (*model.BuildJob, error) {
	return uc.jobs.Find(ctx, jobID)
}

// Status returns just the current status.
func (uc *JobLifecycle) Status(ctx context.Context, jobID string) (model.JobStatus, error) {
	job, err := uc.jobs.Find(ctx, jobID)
	if err != nil {
		return "", err
	}
	return job.Status, nil
}
