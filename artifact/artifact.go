// Package artifact defines the compiled artifact produced from raw rule
// data and the versioned in-memory cache that owns all artifacts.
package artifact

import (
	"time"

	"github.com/Lakakaku/alpha-sub015/rule"
)

// MasterRuleID is the sentinel rule ID under which the tenant-wide
// merge of all compiled rules is cached.
const MasterRuleID = "master"

// Artifact is the optimized, cache-ready result of compiling one rule
// (or the tenant-wide master merge). Artifacts are immutable once
// produced: a new compile always creates a new Artifact, never mutates
// an existing one in place.
type Artifact struct {
	TenantID string `json:"tenant_id"`

	// RuleID is the source rule, or MasterRuleID for the tenant-wide
	// merge.
	RuleID string `json:"rule_id"`

	// QuestionGroups are the active groups, ordered by display order
	// with ties broken by estimated length (shorter first).
	QuestionGroups []rule.QuestionGroup `json:"question_groups"`

	// PriorityMatrix holds the strictly-positive priority weights,
	// sorted descending by effective priority.
	PriorityMatrix []rule.PriorityWeight `json:"priority_matrix"`

	Constraints rule.TimeConstraints `json:"constraints"`

	CompiledAt time.Time `json:"compiled_at"`

	// Version increases strictly across successful compiles of the
	// same (tenant, rule-or-master) key.
	Version int `json:"version"`
}

// IsMaster reports whether this artifact is a tenant-wide master merge.
func (a *Artifact) IsMaster() bool { return a.RuleID == MasterRuleID }

// Key returns the cache key for a (tenant, rule-or-master) pair.
// An empty ruleID resolves to the master key.
func Key(tenantID, ruleID string) string {
	if ruleID == "" {
		ruleID = MasterRuleID
	}
	return tenantID + ":" + ruleID
}
