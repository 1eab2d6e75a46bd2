package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"app-build-queue/internal/domain"
	"app-build-queue/internal/domain/model"
	"app-build-queue/internal/domain/ports/repository"
)

const jobIndexKey = "build:jobs"

func jobKey(id string) string { return "build:job:" + id }

func eventChannel(jobID string) string { return "build:events:" + jobID }

var _ repository.JobStateRepository = (*jobStateRepo)(nil)

// jobStateRepo stores each live job as a hash plus a membership entry in an
// index set, so maintenance scans walk the index instead of SCANning the
// keyspace.
type jobStateRepo struct {
	cli RedisClient
}

func NewJobStateRepo(cli RedisClient) *jobStateRepo {
	return &jobStateRepo{cli: cli}
}

func (r *jobStateRepo) Create(ctx context.Context, job *model.BuildJob) error {
	if err := r.cli.HSet(ctx, jobKey(job.ID), jobFields(job)); err != nil {
		return err
	}
	return r.cli.SAdd(ctx, jobIndexKey, job.ID)
}

func (r *jobStateRepo) Find(ctx context.Context, id string) (*model.BuildJob, error) {
	fields, err := r.cli.HGetAll(ctx, jobKey(id))
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, domain.ErrNotFound
	}
	return jobFromFields(id, fields)
}

func (r *jobStateRepo) Update(ctx context.Context, job *model.BuildJob) error {
	return r.cli.HSet(ctx, jobKey(job.ID), jobFields(job))
}

func (r *jobStateRepo) ListByStatus(ctx context.Context, status model.JobStatus) ([]*model.BuildJob, error) {
	return r.scan(ctx, func(j *model.BuildJob) bool { return j.Status == status })
}

func (r *jobStateRepo) ListNonTerminalBefore(ctx context.Context, cutoff time.Time) ([]*model.BuildJob, error) {
	return r.scan(ctx, func(j *model.BuildJob) bool {
		return !j.Status.IsTerminal() && j.EnqueuedAt.Before(cutoff)
	})
}

func (r *jobStateRepo) Delete(ctx context.Context, id string) error {
	if err := r.cli.Del(ctx, jobKey(id)); err != nil {
		return err
	}
	return r.cli.SRem(ctx, jobIndexKey, id)
}

func (r *jobStateRepo) scan(ctx context.Context, keep func(*model.BuildJob) bool) ([]*model.BuildJob, error) {
	ids, err := r.cli.SMembers(ctx, jobIndexKey)
	if err != nil {
		return nil, err
	}
	var out []*model.BuildJob
	for _, id := range ids {
		job, err := r.Find(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			// index entry outlived the hash; drop it
			_ = r.cli.SRem(ctx, jobIndexKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if keep(job) {
			out = append(out, job)
		}
	}
	return out, nil
}

func jobFields(job *model.BuildJob) map[string]interface{} {
	f := map[string]interface{}{
		"user_id":        job.UserID,
		"project_id":     job.ProjectID,
		"tier":           string(job.Tier),
		"status":         string(job.Status),
		"message":        job.Message,
		"goal":           job.Goal,
		"workspace_path": job.WorkspacePath,
		"session_id":     job.SessionID,
		"sandbox_id":     job.SandboxID,
		"preview_url":    job.PreviewURL,
		"error":          job.Error,
		"iterations":     strconv.Itoa(job.Iterations),
		"duration_secs":  strconv.FormatFloat(job.DurationSecs, 'f', -1, 64),
		"enqueued_at":    job.EnqueuedAt.UTC().Format(time.RFC3339Nano),
	}
	f["started_at"] = formatOptTime(job.StartedAt)
	f["completed_at"] = formatOptTime(job.CompletedAt)
	return f
}

func jobFromFields(id string, fields map[string]string) (*model.BuildJob, error) {
	job := &model.BuildJob{
		ID:            id,
		UserID:        fields["user_id"],
		ProjectID:     fields["project_id"],
		Tier:          model.Tier(fields["tier"]),
		Status:        model.JobStatus(fields["status"]),
		Message:       fields["message"],
		Goal:          fields["goal"],
		WorkspacePath: fields["workspace_path"],
		SessionID:     fields["session_id"],
		SandboxID:     fields["sandbox_id"],
		PreviewURL:    fields["preview_url"],
		Error:         fields["error"],
	}
	job.Iterations, _ = strconv.Atoi(fields["iterations"])
	job.DurationSecs, _ = strconv.ParseFloat(fields["duration_secs"], 64)

	enq, err := time.Parse(time.RFC3339Nano, fields["enqueued_at"])
	if err != nil {
		return nil, fmt.Errorf("job %s: bad enqueued_at %q: %w", id, fields["enqueued_at"], err)
	}
	job.EnqueuedAt = enq
	job.StartedAt = parseOptTime(fields["started_at"])
	job.CompletedAt = parseOptTime(fields["completed_at"])
	return job, nil
}

func formatOptTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseOptTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	return &t
}

var _ repository.EventPublisher = (*eventPublisher)(nil)

type eventPublisher struct {
	cli RedisClient
}

func NewEventPublisher(cli RedisClient) *eventPublisher {
	return &eventPublisher{cli: cli}
}

func (p *eventPublisher) Publish(ctx context.Context, jobID string, ev model.BuildEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.cli.Publish(ctx, eventChannel(jobID), payload)
}
