// Package rule defines the raw per-tenant inputs to compilation —
// question-combination rules, question groups, priority weights, and
// dynamic triggers — along with the collaborator interfaces that supply
// and consume them. These types are read-only inputs; the compiler
// never mutates them.
package rule

import "time"

// Severity levels used as keys in per-severity time thresholds.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// Rule is a declarative question-combination rule authored for a tenant.
// It describes which question groups apply and under what priority and
// time constraints.
type Rule struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`
	Active   bool   `json:"active"`

	// MaxDurationSeconds caps the total question time the compiled
	// artifact may schedule.
	MaxDurationSeconds int `json:"max_duration_seconds"`

	// SeverityThresholds maps a severity level to the per-question time
	// budget (seconds) allowed at that level.
	SeverityThresholds map[string]int `json:"severity_thresholds"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// QuestionGroup is a set of related questions attached to a rule.
type QuestionGroup struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`

	// Topic is the topic category the group belongs to.
	Topic string `json:"topic"`
	Name  string `json:"name"`

	// Active groups are included in compiled artifacts; inactive groups
	// are filtered out during optimization.
	Active bool `json:"active"`

	// DisplayOrder is the authored presentation order (ascending).
	DisplayOrder int `json:"display_order"`

	// EstimatedLength is the estimated size of the group, used to break
	// display-order ties (shorter first).
	EstimatedLength int `json:"estimated_length"`
}

// PriorityWeight assigns an effective priority to a single question.
// Entries with non-positive priority are dropped during compilation.
type PriorityWeight struct {
	QuestionID        string `json:"question_id"`
	EffectivePriority int    `json:"effective_priority"`
}

// TimeConstraints is the time budget attached to a compiled artifact:
// the overall duration cap plus per-severity thresholds.
type TimeConstraints struct {
	MaxDurationSeconds int            `json:"max_duration_seconds"`
	SeverityThresholds map[string]int `json:"severity_thresholds"`
}

// Trigger is a declarative condition (time, amount, or purchase based)
// that activates specific question behavior for a tenant. Triggers are
// compiled separately from rules and handed to an external sink.
type Trigger struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`

	// Kind is the trigger category: "time", "amount", or "purchase".
	Kind   string `json:"kind"`
	Active bool   `json:"active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TriggerCondition is one predicate of a trigger.
type TriggerCondition struct {
	ID        string `json:"id"`
	TriggerID string `json:"trigger_id"`
	Field     string `json:"field"`
	Operator  string `json:"operator"`
	Value     string `json:"value"`
}

// CompiledTrigger is the cache-ready form of a trigger and its
// conditions, written to the external trigger-cache sink.
type CompiledTrigger struct {
	TriggerID  string             `json:"trigger_id"`
	TenantID   string             `json:"tenant_id"`
	Name       string             `json:"name"`
	Kind       string             `json:"kind"`
	Conditions []TriggerCondition `json:"conditions"`
	CompiledAt time.Time          `json:"compiled_at"`
}
