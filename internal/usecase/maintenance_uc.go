package usecase

import (
	"context"
	"time"

	"app-build-queue/internal/domain/model"
	"app-build-queue/internal/domain/ports/repository"

	"github.com/rs/zerolog"
)

// MaintenanceUseCase holds the two out-of-band sweeps: promoting deferred
// jobs back into the queue and reaping records orphaned by crashes. Both are
// designed to be invoked periodically by an external driver; a failed pass
// is simply retried on the next tick.
type MaintenanceUseCase struct {
	queue     repository.BuildQueue
	jobs      repository.JobStateRepository
	sems      repository.SemaphoreProvider
	lifecycle *JobLifecycle
	log       *zerolog.Logger
}

func NewMaintenanceUseCase(
	queue repository.BuildQueue,
	jobs repository.JobStateRepository,
	sems repository.SemaphoreProvider,
	lifecycle *JobLifecycle,
	log *zerolog.Logger,
) *MaintenanceUseCase {
	return &MaintenanceUseCase{
		queue:     queue,
		jobs:      jobs,
		sems:      sems,
		lifecycle: lifecycle,
		log:       log,
	}
}

// ProcessScheduledJobs moves every `scheduled` job back to `queued` and
// re-enqueues it. Meant to run shortly after UTC midnight so daily-cap
// deferrals resume. All eligible jobs are processed in one pass with no
// artificial delay between them; there is no randomized jitter.
func (uc *MaintenanceUseCase) ProcessScheduledJobs(ctx context.Context, now time.Time) (int, error) {
	scheduled, err := uc.jobs.ListByStatus(ctx, model.JobStatusScheduled)
	if err != nil {
		return 0, err
	}
	moved := 0
	for _, job := range scheduled {
		ok, err := uc.lifecycle.Transition(ctx, job.ID, model.JobStatusQueued, "Daily limit reset; back in queue")
		if err != nil || !ok {
			uc.log.Warn().Err(err).Str("job_id", job.ID).Msg("could not promote scheduled job")
			continue
		}
		res, err := uc.queue.Enqueue(ctx, job.ID, job.Tier)
		if err != nil {
			uc.log.Error().Err(err).Str("job_id", job.ID).Msg("enqueue failed during promotion")
			continue
		}
		if res.Rejected {
			// Queue is at capacity: park the job again rather than
			// losing it; a later pass retries.
			if _, terr := uc.lifecycle.Transition(ctx, job.ID, model.JobStatusScheduled, "Queue full; deferred again"); terr != nil {
				uc.log.Error().Err(terr).Str("job_id", job.ID).Msg("could not defer job after queue rejection")
			}
			continue
		}
		moved++
	}
	if moved > 0 {
		uc.log.Info().Int("moved", moved).Msg("scheduled jobs promoted")
	}
	return moved, nil
}

// CleanupStaleJobs deletes non-terminal job records older than maxAge,
// treating them as orphaned by a crash. Terminal jobs are skipped: the
// durable archive owns those. Returns the number reaped.
func (uc *MaintenanceUseCase) CleanupStaleJobs(ctx context.Context, now time.Time, maxAge time.Duration) (int, error) {
	stale, err := uc.jobs.ListNonTerminalBefore(ctx, now.Add(-maxAge))
	if err != nil {
		return 0, err
	}
	reaped := 0
	for _, job := range stale {
		if err := uc.queue.Remove(ctx, job.ID); err != nil {
			uc.log.Error().Err(err).Str("job_id", job.ID).Msg("could not remove stale job from queue")
			continue
		}
		if err := uc.jobs.Delete(ctx, job.ID); err != nil {
			uc.log.Error().Err(err).Str("job_id", job.ID).Msg("could not delete stale job record")
			continue
		}
		// Crashed workers leave semaphore slots behind too; their
		// leases have long expired at this age.
		uc.reclaimSlots(ctx, job)
		reaped++
	}
	if reaped > 0 {
		uc.log.Info().Int("reaped", reaped).Msg("stale jobs cleaned up")
	}
	return reaped, nil
}

func (uc *MaintenanceUseCase) reclaimSlots(ctx context.Context, job *model.BuildJob) {
	for _, sem := range []repository.Semaphore{
		uc.sems.UserSlots(job.UserID, job.Tier),
		uc.sems.ProjectSlots(job.ProjectID, job.Tier),
	} {
		if _, err := sem.CleanupStale(ctx); err != nil {
			uc.log.Warn().Err(err).Str("job_id", job.ID).Msg("stale slot cleanup failed")
		}
	}
}
