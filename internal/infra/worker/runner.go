package worker

import (
	"context"
	"time"

	"app-build-queue/internal/infra/logging"
	"app-build-queue/internal/infra/metrics"
	"app-build-queue/internal/usecase"

	"github.com/rs/zerolog"
)

// Runner is the external driver the worker loop assumes: it polls on a
// ticker and submits one RunOnce cycle per tick to the pool. Many runner
// processes may poll the same queue; all coordination happens in the store.
type Runner struct {
	worker   *usecase.Worker
	interval time.Duration
	log      *zerolog.Logger
}

func NewRunner(worker *usecase.Worker, interval time.Duration, log *zerolog.Logger) *Runner {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Runner{worker: worker, interval: interval, log: log}
}

// Start blocks until ctx is cancelled. Run it in a goroutine.
func (r *Runner) Start(ctx context.Context, pool *Pool) {
	r.log.Info().Dur("interval", r.interval).Msg("build runner started")
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("build runner stopping")
			return
		case <-ticker.C:
			_ = pool.Submit(func(ctx context.Context) error {
				defer logging.TraceDuration(r.log, "Worker.RunOnce")()
				outcome, err := r.worker.RunOnce(ctx)
				if err != nil {
					// Store hiccups are logged and retried on the
					// next tick, never propagated.
					r.log.Error().Err(err).Msg("worker cycle failed")
					return nil
				}
				switch outcome {
				case usecase.OutcomeReady:
					metrics.IncBuild("ready")
				case usecase.OutcomeFailed:
					metrics.IncBuild("failed")
				}
				return nil
			})
		}
	}
}
