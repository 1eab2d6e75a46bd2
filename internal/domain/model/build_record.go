package model

import "time"

// BuildRecord is the durable row written exactly once per job when it
// reaches a terminal status. Fast storage keeps the live record; this is
// what survives for billing and support triage.
type BuildRecord struct {
	ID           string
	ProjectID    string
	UserID       string
	Tier         Tier
	Status       JobStatus
	Goal         string
	DurationSecs float64
	ErrorMessage string
	// DebugID is the correlation id handed to support; never a stack trace.
	DebugID     string
	CompletedAt time.Time
}
