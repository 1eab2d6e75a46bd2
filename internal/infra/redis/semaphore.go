package redis

import (
	"context"
	"fmt"
	"time"

	"app-build-queue/internal/domain/model"
	"app-build-queue/internal/domain/ports/repository"
	"app-build-queue/internal/infra/metrics"
)

var _ repository.SemaphoreProvider = (*SemaphoreProvider)(nil)

// SemaphoreProvider builds scope-bound semaphores over a membership set and
// per-owner lease keys. The lease TTL is the only crash-recovery timeout in
// the system: a worker that dies mid-build leaves a slot whose lease expires
// naturally and is then reclaimable by CleanupStale.
type SemaphoreProvider struct {
	cli   RedisClient
	lease time.Duration
}

func NewSemaphoreProvider(cli RedisClient, lease time.Duration) *SemaphoreProvider {
	if lease <= 0 {
		lease = time.Hour
	}
	return &SemaphoreProvider{cli: cli, lease: lease}
}

func (p *SemaphoreProvider) UserSlots(userID string, tier model.Tier) repository.Semaphore {
	return &scopeSemaphore{
		cli:      p.cli,
		key:      fmt.Sprintf("build:sem:user:%s", userID),
		capacity: tier.Profile().UserConcurrency,
		lease:    p.lease,
	}
}

func (p *SemaphoreProvider) ProjectSlots(projectID string, tier model.Tier) repository.Semaphore {
	return &scopeSemaphore{
		cli:      p.cli,
		key:      fmt.Sprintf("build:sem:project:%s", projectID),
		capacity: tier.Profile().ProjectConcurrency,
		lease:    p.lease,
	}
}

var _ repository.Semaphore = (*scopeSemaphore)(nil)

type scopeSemaphore struct {
	cli      RedisClient
	key      string
	capacity int
	lease    time.Duration
}

func (s *scopeSemaphore) leaseKey(ownerID string) string {
	return s.key + ":lease:" + ownerID
}

// Acquire checks the membership count, then adds the owner and its lease.
// Check-then-add is two store operations; combined with CleanupStale racing
// in another process the cap can be briefly overshot. Accepted under normal
// load.
func (s *scopeSemaphore) Acquire(ctx context.Context, ownerID string) (bool, error) {
	n, err := s.cli.SCard(ctx, s.key)
	if err != nil {
		return false, err
	}
	if int(n) >= s.capacity {
		return false, nil
	}
	if err := s.cli.SAdd(ctx, s.key, ownerID); err != nil {
		return false, err
	}
	if err := s.cli.Set(ctx, s.leaseKey(ownerID), "1", s.lease); err != nil {
		return false, err
	}
	return true, nil
}

func (s *scopeSemaphore) Release(ctx context.Context, ownerID string) error {
	if err := s.cli.SRem(ctx, s.key, ownerID); err != nil {
		return err
	}
	return s.cli.Del(ctx, s.leaseKey(ownerID))
}

// Heartbeat rewrites the lease with a full TTL. Set rather than Expire so a
// lease that already lapsed mid-build is recreated instead of silently left
// missing.
func (s *scopeSemaphore) Heartbeat(ctx context.Context, ownerID string) error {
	return s.cli.Set(ctx, s.leaseKey(ownerID), "1", s.lease)
}

func (s *scopeSemaphore) Count(ctx context.Context) (int, error) {
	n, err := s.cli.SCard(ctx, s.key)
	return int(n), err
}

func (s *scopeSemaphore) CleanupStale(ctx context.Context) (int, error) {
	members, err := s.cli.SMembers(ctx, s.key)
	if err != nil {
		return 0, err
	}
	reclaimed := 0
	for _, owner := range members {
		alive, err := s.cli.Exists(ctx, s.leaseKey(owner))
		if err != nil {
			return reclaimed, err
		}
		if alive {
			continue
		}
		if err := s.cli.SRem(ctx, s.key, owner); err != nil {
			return reclaimed, err
		}
		reclaimed++
	}
	if reclaimed > 0 {
		metrics.AddSlotsReclaimed(reclaimed)
	}
	return reclaimed, nil
}
