package scheduler

import (
	"context"
	"errors"
	"time"

	"app-build-queue/internal/domain"
	"app-build-queue/internal/infra/metrics"
	red "app-build-queue/internal/infra/redis"
	"app-build-queue/internal/usecase"

	"github.com/rs/zerolog"
)

// maintenanceLockKey serializes sweeps across processes; whichever worker
// wins the lock runs the pass, the rest skip their tick.
const maintenanceLockKey = "build:maintenance:lock"

// Scheduler drives the two maintenance sweeps on independent tickers:
// scheduled-job promotion (frequent, so daily-cap deferrals resume shortly
// after the UTC midnight reset) and the orphan reaper (infrequent).
type Scheduler struct {
	maintenance     *usecase.MaintenanceUseCase
	locker          red.Locker
	promoteInterval time.Duration
	reapInterval    time.Duration
	reapAge         time.Duration
	log             *zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(maintenance *usecase.MaintenanceUseCase, locker red.Locker, promoteInterval, reapInterval, reapAge time.Duration, log *zerolog.Logger) *Scheduler {
	if promoteInterval <= 0 {
		promoteInterval = time.Minute
	}
	if reapInterval <= 0 {
		reapInterval = time.Hour
	}
	if reapAge <= 0 {
		reapAge = 48 * time.Hour
	}
	return &Scheduler{
		maintenance:     maintenance,
		locker:          locker,
		promoteInterval: promoteInterval,
		reapInterval:    reapInterval,
		reapAge:         reapAge,
		log:             log,
		done:            make(chan struct{}),
	}
}

// Start begins the maintenance loop in a background goroutine. Calling
// Start on a running scheduler has no effect.
func (s *Scheduler) Start(parentCtx context.Context) {
	if s.ctx != nil {
		return
	}
	ctx, cancel := context.WithCancel(parentCtx)
	s.ctx = ctx
	s.cancel = cancel

	go s.loop()
}

func (s *Scheduler) loop() {
	promote := time.NewTicker(s.promoteInterval)
	reap := time.NewTicker(s.reapInterval)
	defer func() {
		promote.Stop()
		reap.Stop()
		close(s.done)
	}()

	s.log.Info().Dur("promote_interval", s.promoteInterval).Dur("reap_interval", s.reapInterval).Msg("maintenance scheduler started")
	for {
		select {
		case <-s.ctx.Done():
			s.log.Info().Msg("maintenance scheduler stopping")
			return
		case <-promote.C:
			s.runBounded(30*time.Second, func(ctx context.Context) {
				moved, err := s.maintenance.ProcessScheduledJobs(ctx, time.Now())
				if err != nil {
					s.log.Error().Err(err).Msg("scheduled-job promotion failed")
					return
				}
				if moved > 0 {
					metrics.AddScheduledPromoted(moved)
				}
			})
		case <-reap.C:
			s.runBounded(2*time.Minute, func(ctx context.Context) {
				reaped, err := s.maintenance.CleanupStaleJobs(ctx, time.Now(), s.reapAge)
				if err != nil {
					s.log.Error().Err(err).Msg("stale-job cleanup failed")
					return
				}
				if reaped > 0 {
					metrics.AddStaleJobsReaped(reaped)
				}
			})
		}
	}
}

// runBounded runs one sweep under the maintenance lock with a deadline. A
// lock held by another process just skips this tick.
func (s *Scheduler) runBounded(timeout time.Duration, fn func(ctx context.Context)) {
	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()

	if s.locker != nil {
		token, err := s.locker.TryLock(ctx, maintenanceLockKey, timeout)
		if err != nil {
			if !errors.Is(err, domain.ErrLockUnavailable) {
				s.log.Warn().Err(err).Msg("maintenance lock attempt failed")
			}
			return
		}
		defer func() {
			if err := s.locker.Unlock(ctx, maintenanceLockKey, token); err != nil {
				s.log.Warn().Err(err).Msg("maintenance lock release failed")
			}
		}()
	}
	fn(ctx)
}

// Stop cancels the scheduler and waits for the loop to finish. Idempotent.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.ctx = nil
	s.cancel = nil
	s.done = make(chan struct{})
	s.log.Info().Msg("maintenance scheduler stopped")
}
