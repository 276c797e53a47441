// Package stream provides the event bus for compilation lifecycle
// notifications. It bridges the ext.Extension hook system to external
// observers via topic-based pub/sub with fire-and-forget delivery: a
// slow or blocked subscriber drops events and never affects compilation
// progress.
package stream

import (
	"encoding/json"
	"time"

	"github.com/Lakakaku/alpha-sub015/id"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	// Job events.
	EventJobQueued    EventType = "job.queued"
	EventJobStarted   EventType = "job.started"
	EventJobCompleted EventType = "job.completed"
	EventJobFailed    EventType = "job.failed"
	EventJobRetrying  EventType = "job.retrying"
	EventJobTimedOut  EventType = "job.timed_out"

	// Artifact events.
	EventArtifactCompiled EventType = "artifact.compiled"
)

// Event is the envelope sent to subscribers on a topic channel.
type Event struct {
	// ID uniquely identifies this event instance.
	ID id.EventID `json:"id"`

	// Type identifies the lifecycle event.
	Type EventType `json:"type"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"ts"`

	// Topic is the tenant-specific channel this event was published on.
	Topic string `json:"topic"`

	// Data is the event-specific payload.
	Data json.RawMessage `json:"data"`
}

// JobEventData is the payload for job lifecycle events.
type JobEventData struct {
	JobID     string `json:"job_id"`
	JobType   string `json:"job_type"`
	TenantID  string `json:"tenant_id"`
	EntityID  string `json:"entity_id,omitempty"`
	Priority  string `json:"priority,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms,omitempty"`
	Error     string `json:"error,omitempty"`
	Attempt   int    `json:"attempt,omitempty"`
	NextRunAt string `json:"next_run_at,omitempty"`
}

// ArtifactEventData is the payload for artifact events.
type ArtifactEventData struct {
	TenantID string `json:"tenant_id"`
	RuleID   string `json:"rule_id"`
	Version  int    `json:"version"`
	Groups   int    `json:"groups"`
}
