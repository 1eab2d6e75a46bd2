package model

import (
	"encoding/json"
	"time"
)

// Event type discriminators.
const (
	EventStatusChanged = "build.status.changed"
	EventStageStarted  = "build.stage.started"
)

// BuildEvent is the typed envelope broadcast on a job's channel. Status
// transition events additionally carry the flat status/stage/message fields
// older consumers read, serialized alongside the envelope by MarshalJSON.
type BuildEvent struct {
	Type      string
	JobID     string
	Timestamp time.Time
	Status    JobStatus
	Stage     string
	Message   string
	// Fields holds event-specific payload, flattened into the top-level
	// JSON object. Envelope keys win on collision.
	Fields map[string]any
}

// NewStatusEvent builds the transition event for a status change.
func NewStatusEvent(jobID string, status JobStatus, message string, now time.Time) BuildEvent {
	return BuildEvent{
		Type:      EventStatusChanged,
		JobID:     jobID,
		Timestamp: now,
		Status:    status,
		Stage:     StageLabels[status],
		Message:   message,
	}
}

func (e BuildEvent) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Fields)+6)
	for k, v := range e.Fields {
		out[k] = v
	}
	out["type"] = e.Type
	out["jobId"] = e.JobID
	out["timestamp"] = e.Timestamp.UTC().Format(time.RFC3339)
	if e.Status != "" {
		out["status"] = string(e.Status)
		out["stage"] = e.Stage
		out["message"] = e.Message
	}
	return json.Marshal(out)
}
