package redis

import (
	"context"

	"app-build-queue/internal/domain/model"
	"app-build-queue/internal/domain/ports/repository"
	"app-build-queue/internal/infra/metrics"
)

const (
	queueKey = "build:queue"
	// queueSeqKey is a shared atomic counter: the FIFO tiebreak within a
	// tier must hold across worker processes and restarts.
	queueSeqKey = "build:queue:seq"
)

// Assumptions behind the retry hint handed back on admission rejection.
const (
	assumedAvgBuildSecs  = 480
	assumedActiveWorkers = 4
)

var _ repository.BuildQueue = (*buildQueue)(nil)

type buildQueue struct {
	cli RedisClient
	cap int
}

func NewBuildQueue(cli RedisClient, capacity int) *buildQueue {
	if capacity <= 0 {
		capacity = 100
	}
	return &buildQueue{cli: cli, cap: capacity}
}

func (q *buildQueue) Enqueue(ctx context.Context, jobID string, tier model.Tier) (repository.EnqueueResult, error) {
	depth, err := q.cli.ZCard(ctx, queueKey)
	if err != nil {
		return repository.EnqueueResult{}, err
	}
	if int(depth) >= q.cap {
		overflow := int(depth) - q.cap + 1
		metrics.IncQueueRejection()
		return repository.EnqueueResult{
			Rejected:          true,
			RetryAfterSeconds: overflow * assumedAvgBuildSecs / assumedActiveWorkers,
		}, nil
	}

	seq, err := q.cli.Incr(ctx, queueSeqKey)
	if err != nil {
		return repository.EnqueueResult{}, err
	}
	score := model.QueueScore(tier.Profile().PriorityBoost, seq)
	if err := q.cli.ZAdd(ctx, queueKey, score, jobID); err != nil {
		return repository.EnqueueResult{}, err
	}
	metrics.SetQueueDepth(int(depth) + 1)

	pos, err := q.Position(ctx, jobID)
	if err != nil {
		return repository.EnqueueResult{}, err
	}
	return repository.EnqueueResult{Position: pos, Score: score}, nil
}

func (q *buildQueue) Dequeue(ctx context.Context) (string, error) {
	member, ok, err := q.cli.ZPopMin(ctx, queueKey)
	if err != nil || !ok {
		return "", err
	}
	q.refreshDepthGauge(ctx)
	return member, nil
}

func (q *buildQueue) Position(ctx context.Context, jobID string) (int, error) {
	rank, ok, err := q.cli.ZRank(ctx, queueKey, jobID)
	if err != nil || !ok {
		return 0, err
	}
	return int(rank) + 1, nil
}

func (q *buildQueue) Len(ctx context.Context) (int, error) {
	n, err := q.cli.ZCard(ctx, queueKey)
	return int(n), err
}

func (q *buildQueue) Remove(ctx context.Context, jobID string) error {
	if err := q.cli.ZRem(ctx, queueKey, jobID); err != nil {
		return err
	}
	q.refreshDepthGauge(ctx)
	return nil
}

// refreshDepthGauge re-samples the sorted set so the gauge tracks removals as
// well as admissions. Best effort; a miss self-corrects on the next mutation.
func (q *buildQueue) refreshDepthGauge(ctx context.Context) {
	if depth, err := q.cli.ZCard(ctx, queueKey); err == nil {
		metrics.SetQueueDepth(int(depth))
	}
}
