package usecase

import (
	"context"
	"errors"
	"time"

	"app-build-queue/internal/domain"
	"app-build-queue/internal/domain/model"
	"app-build-queue/internal/domain/ports/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EnqueueParams is the caller-facing admission request.
type EnqueueParams struct {
	JobID         string // optional; generated when empty
	UserID        string
	ProjectID     string
	Tier          model.Tier
	Goal          string
	WorkspacePath string
	SessionID     string
}

// EnqueueOutcome reports how admission went: accepted with a position and a
// wait forecast, rejected with retry guidance, or deferred to tomorrow by
// the daily cap.
type EnqueueOutcome struct {
	JobID             string
	Rejected          bool
	RetryAfterSeconds int
	Deferred          bool
	ResetsAt          time.Time
	Position          int
	Estimate          WaitEstimate
}

// UsageReport is the per-user quota view.
type UsageReport struct {
	JobsUsed            int
	JobsRemaining       int
	IterationsUsed      int
	IterationsRemaining int
	DailyLimitResetsAt  time.Time
}

// AdmissionUseCase is the public enqueue entry point: daily-cap deferral,
// global-cap rejection, record creation, counter increment and wait
// estimate, in that order.
type AdmissionUseCase struct {
	queue     repository.BuildQueue
	jobs      repository.JobStateRepository
	usage     repository.UsageRepository
	lifecycle *JobLifecycle
	estimator *WaitEstimator
	workers   int
	log       *zerolog.Logger
	now       func() time.Time
}

func NewAdmissionUseCase(
	queue repository.BuildQueue,
	jobs repository.JobStateRepository,
	usage repository.UsageRepository,
	lifecycle *JobLifecycle,
	estimator *WaitEstimator,
	workers int,
	log *zerolog.Logger,
) *AdmissionUseCase {
	if workers < 1 {
		workers = 1
	}
	return &AdmissionUseCase{
		queue:     queue,
		jobs:      jobs,
		usage:     usage,
		lifecycle: lifecycle,
		estimator: estimator,
		workers:   workers,
		log:       log,
		now:       time.Now,
	}
}

func (uc *AdmissionUseCase) Enqueue(ctx context.Context, p EnqueueParams) (*EnqueueOutcome, error) {
	now := uc.now()
	if p.JobID == "" {
		p.JobID = uuid.NewString()
	}

	job, err := model.NewBuildJob(p.JobID, p.UserID, p.ProjectID, p.Tier, p.Goal, now)
	if err != nil {
		return nil, err
	}
	job.WorkspacePath = p.WorkspacePath
	job.SessionID = p.SessionID

	exceeded, _, _, err := uc.CheckDailyLimit(ctx, p.UserID, p.Tier)
	if err != nil {
		return nil, err
	}
	if exceeded {
		// Over the daily cap: park the job as scheduled; the promoter
		// re-enqueues it after the midnight reset.
		if err := uc.lifecycle.Create(ctx, job); err != nil {
			return nil, err
		}
		resetsAt := model.NextUTCMidnight(now)
		if _, err := uc.lifecycle.Transition(ctx, job.ID, model.JobStatusScheduled,
			"Daily build limit reached; scheduled for after the reset"); err != nil {
			return nil, err
		}
		uc.log.Info().Str("job_id", job.ID).Str("user_id", p.UserID).
			Time("resets_at", resetsAt).Msg("job deferred by daily cap")
		return &EnqueueOutcome{JobID: job.ID, Deferred: true, ResetsAt: resetsAt}, nil
	}

	if err := uc.lifecycle.Create(ctx, job); err != nil {
		return nil, err
	}
	res, err := uc.queue.Enqueue(ctx, job.ID, p.Tier)
	if err != nil {
		return nil, err
	}
	if res.Rejected {
		// Admission failed; drop the record we just wrote so the
		// reaper has nothing to clean up.
		if derr := uc.jobs.Delete(ctx, job.ID); derr != nil {
			uc.log.Error().Err(derr).Str("job_id", job.ID).Msg("failed to delete rejected job record")
		}
		return &EnqueueOutcome{
			JobID:             job.ID,
			Rejected:          true,
			RetryAfterSeconds: res.RetryAfterSeconds,
		}, nil
	}

	if _, err := uc.usage.IncrementDaily(ctx, p.UserID, now); err != nil {
		return nil, err
	}

	estimate, err := uc.estimator.EstimateWithConfidence(ctx, p.Tier, res.Position, uc.workers)
	if err != nil {
		return nil, err
	}
	return &EnqueueOutcome{
		JobID:    job.ID,
		Position: res.Position,
		Estimate: estimate,
	}, nil
}

// CheckDailyLimit reports whether the user has spent today's job quota for
// the tier.
func (uc *AdmissionUseCase) CheckDailyLimit(ctx context.Context, userID string, tier model.Tier) (exceeded bool, used, limit int, err error) {
	used, err = uc.usage.GetDaily(ctx, userID, uc.now())
	if err != nil {
		return false, 0, 0, err
	}
	limit = tier.Profile().DailyJobs
	return used >= limit, used, limit, nil
}

// Cancel removes a not-yet-dequeued job. A job already picked up by a worker
// keeps running; only its queue entry is gone.
func (uc *AdmissionUseCase) Cancel(ctx context.Context, jobID string) error {
	if err := uc.queue.Remove(ctx, jobID); err != nil {
		return err
	}
	job, err := uc.jobs.Find(ctx, jobID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if job.Status == model.JobStatusQueued || job.Status == model.JobStatusScheduled {
		return uc.jobs.Delete(ctx, jobID)
	}
	return nil
}

// Usage reports jobs and iterations used against the tier's caps. The
// iteration hard cap is three times the configured depth.
func (uc *AdmissionUseCase) Usage(ctx context.Context, userID string, tier model.Tier, jobID string) (*UsageReport, error) {
	now := uc.now()
	used, err := uc.usage.GetDaily(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	profile := tier.Profile()

	iterations := 0
	if jobID != "" {
		job, err := uc.jobs.Find(ctx, jobID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		if job != nil {
			iterations = job.Iterations
		}
	}

	return &UsageReport{
		JobsUsed:            used,
		JobsRemaining:       max(profile.DailyJobs-used, 0),
		IterationsUsed:      iterations,
		IterationsRemaining: max(tier.IterationHardCap()-iterations, 0),
		DailyLimitResetsAt:  model.NextUTCMidnight(now),
	}, nil
}
