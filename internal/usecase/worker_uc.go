package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"app-build-queue/internal/domain"
	"app-build-queue/internal/domain/model"
	"app-build-queue/internal/domain/ports/adapter"
	"app-build-queue/internal/domain/ports/repository"
	"app-build-queue/internal/infra/logging"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// RunOutcome tells the driver what a worker cycle did.
type RunOutcome string

const (
	// OutcomeIdle: nothing dequeued, or the job could not start (missing
	// record, concurrency unavailable). The queue state is unchanged or
	// the job was returned to it.
	OutcomeIdle  RunOutcome = "idle"
	OutcomeReady RunOutcome = "ready"
	// OutcomeFailed still means a full cycle ran: the job reached its
	// terminal state and was archived.
	OutcomeFailed RunOutcome = "failed"
)

// Worker executes one job per RunOnce call: dequeue, acquire both semaphore
// scopes, drive the pipeline stages, invoke the executor, persist the
// terminal record, release. It holds no state of its own; an external driver
// may run many of these concurrently across processes.
type Worker struct {
	queue     repository.BuildQueue
	jobs      repository.JobStateRepository
	sems      repository.SemaphoreProvider
	archive   repository.ArchiveRepository
	lifecycle *JobLifecycle
	estimator *WaitEstimator
	executor  adapter.BuildExecutor
	log       *zerolog.Logger
	now       func() time.Time
}

func NewWorker(
	queue repository.BuildQueue,
	jobs repository.JobStateRepository,
	sems repository.SemaphoreProvider,
	archive repository.ArchiveRepository,
	lifecycle *JobLifecycle,
	estimator *WaitEstimator,
	executor adapter.BuildExecutor,
	log *zerolog.Logger,
) *Worker {
	return &Worker{
		queue:     queue,
		jobs:      jobs,
		sems:      sems,
		archive:   archive,
		lifecycle: lifecycle,
		estimator: estimator,
		executor:  executor,
		log:       log,
		now:       time.Now,
	}
}

func (w *Worker) RunOnce(ctx context.Context) (RunOutcome, error) {
	jobID, err := w.queue.Dequeue(ctx)
	if err != nil {
		return OutcomeIdle, err
	}
	if jobID == "" {
		return OutcomeIdle, nil
	}

	job, err := w.jobs.Find(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Dequeued an id with no record; likely cancelled between
			// enqueue and pickup.
			w.log.Warn().Str("job_id", jobID).Msg("dequeued job has no record, dropping")
			return OutcomeIdle, nil
		}
		return OutcomeIdle, err
	}

	// Fixed acquisition order, user before project, so two workers
	// grabbing the same pair of scopes cannot deadlock each other.
	userSem := w.sems.UserSlots(job.UserID, job.Tier)
	projSem := w.sems.ProjectSlots(job.ProjectID, job.Tier)

	ok, err := userSem.Acquire(ctx, job.ID)
	if err != nil {
		return OutcomeIdle, err
	}
	if !ok {
		w.requeue(ctx, job)
		return OutcomeIdle, nil
	}
	ok, err = projSem.Acquire(ctx, job.ID)
	if err != nil {
		w.release(ctx, userSem, job.ID)
		return OutcomeIdle, err
	}
	if !ok {
		w.release(ctx, userSem, job.ID)
		w.requeue(ctx, job)
		return OutcomeIdle, nil
	}
	defer w.release(ctx, userSem, job.ID)
	defer w.release(ctx, projSem, job.ID)

	// Correlation ids ride the context so every log line below, and any
	// emitted further down the call chain, carries them.
	ctx = logging.WithJobID(ctx, job.ID)
	ctx = logging.WithUserID(ctx, job.UserID)
	ctx = logging.WithProjectID(ctx, job.ProjectID)
	log := logging.With(ctx, w.log).With().Str("tier", string(job.Tier)).Logger()
	log.Info().Msg("starting build")

	if err := w.run(ctx, job, userSem, projSem); err != nil {
		msg := model.TruncateError(err.Error())
		if _, terr := w.lifecycle.Transition(ctx, job.ID, model.JobStatusFailed, msg); terr != nil {
			log.Error().Err(terr).Msg("failed to record terminal failure")
		}
		rec := w.archiveTerminal(ctx, job.ID)
		log.Error().Err(err).Str("debug_id", rec).Msg("build failed")
		return OutcomeFailed, nil
	}

	if _, err := w.lifecycle.Transition(ctx, job.ID, model.JobStatusReady, model.StageLabels[model.JobStatusReady]); err != nil {
		return OutcomeFailed, err
	}
	if final, err := w.jobs.Find(ctx, job.ID); err == nil {
		if rerr := w.estimator.RecordCompletion(ctx, job.Tier, final.DurationSecs); rerr != nil {
			log.Warn().Err(rerr).Msg("failed to record build duration")
		}
		log.Info().Float64("duration_secs", final.DurationSecs).Msg("build ready")
	}
	w.archiveTerminal(ctx, job.ID)
	return OutcomeReady, nil
}

// run drives the status pipeline around the executor invocation. Each stage
// transition is followed by a heartbeat on both scopes so the leases outlive
// a long build.
func (w *Worker) run(ctx context.Context, job *model.BuildJob, userSem, projSem repository.Semaphore) error {
	ok, err := w.lifecycle.Transition(ctx, job.ID, model.JobStatusStarting, model.StageLabels[model.JobStatusStarting])
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("job %s is not in a runnable state", job.ID)
	}

	for _, stage := range model.PipelineStages {
		if _, err := w.lifecycle.Transition(ctx, job.ID, stage, model.StageLabels[stage]); err != nil {
			return err
		}
		if err := userSem.Heartbeat(ctx, job.ID); err != nil {
			return err
		}
		if err := projSem.Heartbeat(ctx, job.ID); err != nil {
			return err
		}
	}

	// Re-read before bumping the counter; the stage transitions above have
	// rewritten the record since our copy was loaded.
	cur, err := w.jobs.Find(ctx, job.ID)
	if err != nil {
		return err
	}
	cur.Iterations++
	if err := w.jobs.Update(ctx, cur); err != nil {
		return err
	}

	return w.executor.Execute(ctx, adapter.ExecuteParams{
		UserID:        job.UserID,
		ProjectID:     job.ProjectID,
		WorkspacePath: job.WorkspacePath,
		Goal:          job.Goal,
		SessionID:     job.SessionID,
	})
}

// requeue returns a job whose semaphores were unavailable. The score is
// recomputed fresh, which reorders it behind same-tier arrivals made in the
// meantime; a simplicity tradeoff over true position preservation.
func (w *Worker) requeue(ctx context.Context, job *model.BuildJob) {
	res, err := w.queue.Enqueue(ctx, job.ID, job.Tier)
	if err != nil {
		w.log.Error().Err(err).Str("job_id", job.ID).Msg("failed to requeue job")
		return
	}
	if res.Rejected {
		// Queue full: park the job as scheduled so the promoter retries
		// it. Left queued it would sit in no queue at all, invisible to
		// every recovery pass until the reaper deleted it.
		if _, terr := w.lifecycle.Transition(ctx, job.ID, model.JobStatusScheduled, "Queue full; scheduled for retry"); terr != nil {
			w.log.Error().Err(terr).Str("job_id", job.ID).Msg("could not defer job after queue rejection")
			return
		}
		w.log.Warn().Str("job_id", job.ID).Msg("queue full while requeueing, job deferred")
	}
}

func (w *Worker) release(ctx context.Context, sem repository.Semaphore, ownerID string) {
	if err := sem.Release(ctx, ownerID); err != nil {
		w.log.Error().Err(err).Str("job_id", ownerID).Msg("semaphore release failed")
	}
}

// archiveTerminal persists the durable terminal row and returns the debug
// correlation id stamped on it.
func (w *Worker) archiveTerminal(ctx context.Context, jobID string) string {
	job, err := w.jobs.Find(ctx, jobID)
	if err != nil {
		w.log.Error().Err(err).Str("job_id", jobID).Msg("cannot load job for archival")
		return ""
	}
	debugID := ""
	if job.Status == model.JobStatusFailed {
		debugID = ulid.Make().String()
		job.Error = job.Message
		if err := w.jobs.Update(ctx, job); err != nil {
			w.log.Error().Err(err).Str("job_id", jobID).Msg("failed to stamp error on job record")
		}
	}
	completedAt := w.now()
	if job.CompletedAt != nil {
		completedAt = *job.CompletedAt
	}
	rec := &model.BuildRecord{
		ID:           job.ID,
		ProjectID:    job.ProjectID,
		UserID:       job.UserID,
		Tier:         job.Tier,
		Status:       job.Status,
		Goal:         job.Goal,
		DurationSecs: job.DurationSecs,
		ErrorMessage: job.Error,
		DebugID:      debugID,
		CompletedAt:  completedAt,
	}
	if err := w.archive.SaveTerminal(ctx, rec); err != nil {
		w.log.Error().Err(err).Str("job_id", jobID).Msg("terminal record persist failed")
	}
	return debugID
}
