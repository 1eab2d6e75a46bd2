package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"app-build-queue/internal/domain"
	"app-build-queue/internal/domain/model"
	"app-build-queue/internal/usecase"
)

type admissionDeps struct {
	queue     *memQueue
	jobs      *memJobRepo
	usage     *memUsageRepo
	publisher *memPublisher
	durations *memDurationStore
}

func newAdmission(t *testing.T, queueCap, workers int) (*usecase.AdmissionUseCase, *admissionDeps) {
	t.Helper()
	deps := &admissionDeps{
		queue:     newMemQueue(queueCap),
		jobs:      newMemJobRepo(),
		usage:     newMemUsageRepo(),
		publisher: newMemPublisher(),
		durations: newMemDurationStore(),
	}
	logger := newTestLogger()
	lifecycle := usecase.NewJobLifecycle(deps.jobs, deps.publisher, logger)
	estimator := usecase.NewWaitEstimator(deps.durations)
	uc := usecase.NewAdmissionUseCase(deps.queue, deps.jobs, deps.usage, lifecycle, estimator, workers, logger)
	return uc, deps
}

func TestAdmission_Enqueue(t *testing.T) {
	ctx := context.Background()

	t.Run("accepts a job with position and estimate", func(t *testing.T) {
		uc, deps := newAdmission(t, 100, 1)

		out, err := uc.Enqueue(ctx, usecase.EnqueueParams{
			UserID:    "user-1",
			ProjectID: "proj-1",
			Tier:      model.TierBootstrapper,
			Goal:      "landing page",
		})
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if out.Rejected || out.Deferred {
			t.Fatalf("expected plain acceptance, got %+v", out)
		}
		if out.Position != 1 {
			t.Errorf("expected position 1, got %d", out.Position)
		}
		if out.Estimate.EstimateSeconds != 480 {
			t.Errorf("expected estimate 480, got %d", out.Estimate.EstimateSeconds)
		}

		job, err := deps.jobs.Find(ctx, out.JobID)
		if err != nil {
			t.Fatalf("expected job record, got: %v", err)
		}
		if job.Status != model.JobStatusQueued {
			t.Errorf("expected queued, got %q", job.Status)
		}
		if used, _ := deps.usage.GetDaily(ctx, "user-1", time.Now()); used != 1 {
			t.Errorf("expected daily count 1, got %d", used)
		}
	})

	t.Run("counts each accepted job and stamps expiry once", func(t *testing.T) {
		uc, deps := newAdmission(t, 100, 1)

		for i := 0; i < 2; i++ {
			if _, err := uc.Enqueue(ctx, usecase.EnqueueParams{
				UserID: "user-1", ProjectID: "proj-1", Tier: model.TierBootstrapper,
			}); err != nil {
				t.Fatalf("enqueue %d: %v", i, err)
			}
		}
		now := time.Now()
		if used, _ := deps.usage.GetDaily(ctx, "user-1", now); used != 2 {
			t.Errorf("expected daily count 2, got %d", used)
		}
		if sets := deps.usage.expirySets[usageKey("user-1", now)]; sets != 1 {
			t.Errorf("expected expiry stamped exactly once, got %d", sets)
		}
	})

	t.Run("rejects beyond the global cap with retry guidance", func(t *testing.T) {
		uc, deps := newAdmission(t, 2, 1)

		for i := 0; i < 2; i++ {
			if _, err := uc.Enqueue(ctx, usecase.EnqueueParams{
				UserID: "user-1", ProjectID: "proj-1", Tier: model.TierCTO,
			}); err != nil {
				t.Fatalf("enqueue %d: %v", i, err)
			}
		}

		out, err := uc.Enqueue(ctx, usecase.EnqueueParams{
			UserID: "user-2", ProjectID: "proj-2", Tier: model.TierCTO,
		})
		if err != nil {
			t.Fatalf("expected structured rejection, got error: %v", err)
		}
		if !out.Rejected {
			t.Fatal("expected rejection at cap")
		}
		if out.RetryAfterSeconds <= 0 {
			t.Errorf("expected a positive retry estimate, got %d", out.RetryAfterSeconds)
		}
		// The rejected job's record must not linger.
		if _, err := deps.jobs.Find(ctx, out.JobID); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected rejected record deleted, got err=%v", err)
		}
		if used, _ := deps.usage.GetDaily(ctx, "user-2", time.Now()); used != 0 {
			t.Errorf("rejected job must not consume quota, got %d", used)
		}
	})

	t.Run("defers to scheduled when the daily cap is spent", func(t *testing.T) {
		uc, deps := newAdmission(t, 100, 1)
		now := time.Now()
		for i := 0; i < model.TierBootstrapper.Profile().DailyJobs; i++ {
			if _, err := deps.usage.IncrementDaily(ctx, "user-1", now); err != nil {
				t.Fatal(err)
			}
		}

		out, err := uc.Enqueue(ctx, usecase.EnqueueParams{
			UserID: "user-1", ProjectID: "proj-1", Tier: model.TierBootstrapper,
		})
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if !out.Deferred {
			t.Fatal("expected deferral")
		}
		if !out.ResetsAt.After(now) {
			t.Errorf("expected a future reset time, got %v", out.ResetsAt)
		}
		if h, m, s := out.ResetsAt.UTC().Clock(); h != 0 || m != 0 || s != 0 {
			t.Errorf("expected reset at UTC midnight, got %v", out.ResetsAt)
		}

		job, err := deps.jobs.Find(ctx, out.JobID)
		if err != nil {
			t.Fatalf("expected job record, got: %v", err)
		}
		if job.Status != model.JobStatusScheduled {
			t.Errorf("expected scheduled, got %q", job.Status)
		}
		if n, _ := deps.queue.Len(ctx); n != 0 {
			t.Errorf("deferred job must not enter the queue, depth %d", n)
		}
	})

	t.Run("rejects an unknown tier", func(t *testing.T) {
		uc, _ := newAdmission(t, 100, 1)
		_, err := uc.Enqueue(ctx, usecase.EnqueueParams{
			UserID: "user-1", ProjectID: "proj-1", Tier: model.Tier("free"),
		})
		if !errors.Is(err, domain.ErrUnknownTier) {
			t.Errorf("expected ErrUnknownTier, got %v", err)
		}
	})
}

func TestAdmission_TierOrdering(t *testing.T) {
	ctx := context.Background()
	uc, deps := newAdmission(t, 100, 1)

	// Enqueue in worst-to-best order; dequeue must follow tier priority.
	ids := map[model.Tier]string{}
	for _, tier := range []model.Tier{model.TierCTO, model.TierPartner, model.TierBootstrapper} {
		out, err := uc.Enqueue(ctx, usecase.EnqueueParams{
			UserID: "u-" + string(tier), ProjectID: "p-" + string(tier), Tier: tier,
		})
		if err != nil {
			t.Fatal(err)
		}
		ids[tier] = out.JobID
	}

	for _, want := range []model.Tier{model.TierCTO, model.TierPartner, model.TierBootstrapper} {
		got, err := deps.queue.Dequeue(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if got != ids[want] {
			t.Errorf("expected %s job %q next, got %q", want, ids[want], got)
		}
	}
}

func TestAdmission_FIFOWithinTier(t *testing.T) {
	ctx := context.Background()
	uc, deps := newAdmission(t, 100, 1)

	var order []string
	for i := 0; i < 3; i++ {
		out, err := uc.Enqueue(ctx, usecase.EnqueueParams{
			UserID: "user-1", ProjectID: "proj-1", Tier: model.TierPartner,
		})
		if err != nil {
			t.Fatal(err)
		}
		order = append(order, out.JobID)
	}
	// Interleave a higher tier; it jumps ahead but must not disturb
	// partner arrival order.
	if _, err := uc.Enqueue(ctx, usecase.EnqueueParams{
		UserID: "user-2", ProjectID: "proj-2", Tier: model.TierCTO,
	}); err != nil {
		t.Fatal(err)
	}

	first, _ := deps.queue.Dequeue(ctx) // the cto job
	if first == order[0] {
		t.Fatal("expected the cto job to dequeue first")
	}
	for i, want := range order {
		got, _ := deps.queue.Dequeue(ctx)
		if got != want {
			t.Errorf("partner dequeue %d: expected %q, got %q", i, want, got)
		}
	}
}

func TestAdmission_Cancel(t *testing.T) {
	ctx := context.Background()
	uc, deps := newAdmission(t, 100, 1)

	out, err := uc.Enqueue(ctx, usecase.EnqueueParams{
		UserID: "user-1", ProjectID: "proj-1", Tier: model.TierPartner,
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := uc.Cancel(ctx, out.JobID); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if n, _ := deps.queue.Len(ctx); n != 0 {
		t.Errorf("expected empty queue, depth %d", n)
	}
	if _, err := deps.jobs.Find(ctx, out.JobID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected record deleted, got err=%v", err)
	}

	// Cancelling again, or cancelling an unknown id, is a no-op.
	if err := uc.Cancel(ctx, out.JobID); err != nil {
		t.Errorf("expected idempotent cancel, got: %v", err)
	}
}

func TestAdmission_CheckDailyLimit(t *testing.T) {
	ctx := context.Background()
	uc, deps := newAdmission(t, 100, 1)

	exceeded, used, limit, err := uc.CheckDailyLimit(ctx, "user-1", model.TierBootstrapper)
	if err != nil {
		t.Fatal(err)
	}
	if exceeded || used != 0 || limit != 5 {
		t.Errorf("expected 0/5 not exceeded, got exceeded=%v used=%d limit=%d", exceeded, used, limit)
	}

	for i := 0; i < 5; i++ {
		if _, err := deps.usage.IncrementDaily(ctx, "user-1", time.Now()); err != nil {
			t.Fatal(err)
		}
	}
	exceeded, used, _, err = uc.CheckDailyLimit(ctx, "user-1", model.TierBootstrapper)
	if err != nil {
		t.Fatal(err)
	}
	if !exceeded || used != 5 {
		t.Errorf("expected exceeded at 5 used, got exceeded=%v used=%d", exceeded, used)
	}
}

func TestAdmission_Usage(t *testing.T) {
	ctx := context.Background()
	uc, deps := newAdmission(t, 100, 1)

	out, err := uc.Enqueue(ctx, usecase.EnqueueParams{
		UserID: "user-1", ProjectID: "proj-1", Tier: model.TierBootstrapper,
	})
	if err != nil {
		t.Fatal(err)
	}
	job, _ := deps.jobs.Find(ctx, out.JobID)
	job.Iterations = 4
	_ = deps.jobs.Update(ctx, job)

	report, err := uc.Usage(ctx, "user-1", model.TierBootstrapper, out.JobID)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if report.JobsUsed != 1 || report.JobsRemaining != 4 {
		t.Errorf("expected 1 used / 4 remaining, got %d/%d", report.JobsUsed, report.JobsRemaining)
	}
	if report.IterationsUsed != 4 {
		t.Errorf("expected 4 iterations used, got %d", report.IterationsUsed)
	}
	// Hard cap is 3x the configured depth (10 for bootstrapper).
	if report.IterationsRemaining != 26 {
		t.Errorf("expected 26 iterations remaining, got %d", report.IterationsRemaining)
	}
	if report.DailyLimitResetsAt.IsZero() {
		t.Error("expected a reset timestamp")
	}
}
