// Package job defines the compilation job model: what gets queued,
// its priority and retry bookkeeping, and the dedup identity that
// guarantees at most one queued job per (tenant, type, entity).
package job

import (
	"time"

	"github.com/Lakakaku/alpha-sub015/id"
)

// Type identifies what a compilation job produces.
type Type string

const (
	// TypeRule compiles a single question-combination rule.
	TypeRule Type = "rule"
	// TypeTrigger compiles a single dynamic trigger into the external
	// trigger cache.
	TypeTrigger Type = "trigger"
	// TypeFullRefresh recompiles all of a tenant's rules and triggers
	// and rebuilds the tenant-wide master artifact.
	TypeFullRefresh Type = "full_refresh"
)

// Priority orders queued jobs. Higher-priority jobs are dequeued first;
// arrival order is preserved among equal priorities.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Rank returns the numeric rank used for queue ordering (high > normal > low).
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	default:
		return 0
	}
}

// State represents the lifecycle state of a compilation job.
type State string

const (
	// StatePending means the job is waiting in the queue.
	StatePending State = "pending"
	// StateRunning means the job is executing.
	StateRunning State = "running"
	// StateRetrying means the job failed and is scheduled for
	// re-insertion at the queue head after a backoff delay.
	StateRetrying State = "retrying"
	// StateCompleted means the job finished successfully.
	StateCompleted State = "completed"
	// StateDiscarded means the job exhausted its attempts and was
	// permanently dropped.
	StateDiscarded State = "discarded"
)

// Job is one unit of compilation work.
type Job struct {
	ID       id.JobID `json:"id"`
	TenantID string   `json:"tenant_id"`
	Type     Type     `json:"type"`

	// EntityID is the target rule or trigger ID. Empty for full_refresh.
	EntityID string `json:"entity_id,omitempty"`

	Priority Priority `json:"priority"`
	State    State    `json:"state"`

	// Attempts counts executions; it increments each time the job
	// starts running.
	Attempts    int    `json:"attempts"`
	MaxAttempts int    `json:"max_attempts"`
	LastError   string `json:"last_error,omitempty"`

	// Timeout is the advisory per-execution deadline.
	Timeout time.Duration `json:"timeout,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Key returns the dedup identity: at most one queued job exists per
// (tenant, type, entity); a later identical request supersedes the
// earlier queued one.
func (j *Job) Key() string {
	return j.TenantID + "|" + string(j.Type) + "|" + j.EntityID
}
