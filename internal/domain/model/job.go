package model

import (
	"time"

	"app-build-queue/internal/domain"
)

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusStarting  JobStatus = "starting"
	JobStatusScaffold  JobStatus = "scaffold"
	JobStatusCode      JobStatus = "code"
	JobStatusDeps      JobStatus = "deps"
	JobStatusChecks    JobStatus = "checks"
	JobStatusReady     JobStatus = "ready"
	JobStatusFailed    JobStatus = "failed"
	JobStatusScheduled JobStatus = "scheduled"
)

// PipelineStages is the fixed happy-path sequence the worker drives between
// `starting` and `ready`.
var PipelineStages = []JobStatus{JobStatusScaffold, JobStatusCode, JobStatusDeps, JobStatusChecks}

// transitions is the adjacency table of legal status edges. `failed` is
// reachable from every non-terminal status; `scheduled` only from `queued`.
var transitions = map[JobStatus][]JobStatus{
	JobStatusQueued:    {JobStatusStarting, JobStatusScheduled, JobStatusFailed},
	JobStatusScheduled: {JobStatusQueued, JobStatusFailed},
	JobStatusStarting:  {JobStatusScaffold, JobStatusFailed},
	JobStatusScaffold:  {JobStatusCode, JobStatusFailed},
	JobStatusCode:      {JobStatusDeps, JobStatusFailed},
	JobStatusDeps:      {JobStatusChecks, JobStatusFailed},
	JobStatusChecks:    {JobStatusReady, JobStatusFailed},
	JobStatusReady:     nil,
	JobStatusFailed:    nil,
}

func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s JobStatus) IsTerminal() bool {
	return s == JobStatusReady || s == JobStatusFailed
}

// StageLabels maps each status to the human label carried on transition
// events.
var StageLabels = map[JobStatus]string{
	JobStatusQueued:    "Waiting in queue",
	JobStatusScheduled: "Scheduled for later",
	JobStatusStarting:  "Preparing build",
	JobStatusScaffold:  "Scaffolding project",
	JobStatusCode:      "Generating code",
	JobStatusDeps:      "Installing dependencies",
	JobStatusChecks:    "Running checks",
	JobStatusReady:     "App ready",
	JobStatusFailed:    "Build failed",
}

// BuildJob is the unit of work. The status field is the only part mutated
// after creation, and only by the worker that holds the job's semaphore
// slots.
type BuildJob struct {
	ID            string
	UserID        string
	ProjectID     string
	Tier          Tier
	Status        JobStatus
	Message       string
	Goal          string
	WorkspacePath string
	SessionID     string
	SandboxID     string
	PreviewURL    string
	Error         string
	Iterations    int
	DurationSecs  float64
	EnqueuedAt    time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
}

// NewBuildJob validates and constructs a job in the `queued` status.
func NewBuildJob(id, userID, projectID string, tier Tier, goal string, now time.Time) (*BuildJob, error) {
	if id == "" || userID == "" || projectID == "" {
		return nil, domain.ErrInvalidArgument
	}
	if !tier.Valid() {
		return nil, domain.ErrUnknownTier
	}
	return &BuildJob{
		ID:         id,
		UserID:     userID,
		ProjectID:  projectID,
		Tier:       tier,
		Status:     JobStatusQueued,
		Message:    StageLabels[JobStatusQueued],
		Goal:       goal,
		EnqueuedAt: now,
	}, nil
}

// maxErrorLen bounds the error message stored on a failed job; anything
// longer (driver dumps, pipeline tracebacks) belongs in the logs.
const maxErrorLen = 500

func TruncateError(msg string) string {
	if len(msg) <= maxErrorLen {
		return msg
	}
	return msg[:maxErrorLen] + "..."
}

// NextUTCMidnight returns the instant the daily counters reset.
func NextUTCMidnight(now time.Time) time.Time {
	u := now.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}
