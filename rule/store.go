package rule

import "context"

// Source supplies raw rule, question-group, priority-weight, and
// trigger rows for compilation. Absence is signalled with the sentinel
// errors from the root package (ErrRuleNotFound, ErrTriggerNotFound,
// ErrTenantNotFound), never by panicking: callers treat not-found as a
// first-class, retriable outcome.
type Source interface {
	// GetRule returns one rule for a tenant.
	GetRule(ctx context.Context, tenantID, ruleID string) (*Rule, error)

	// ListQuestionGroups returns the question groups attached to a rule,
	// in authored order.
	ListQuestionGroups(ctx context.Context, tenantID, ruleID string) ([]QuestionGroup, error)

	// ListPriorityWeights returns the per-question priority weights
	// attached to a rule.
	ListPriorityWeights(ctx context.Context, tenantID, ruleID string) ([]PriorityWeight, error)

	// GetTrigger returns one dynamic trigger for a tenant.
	GetTrigger(ctx context.Context, tenantID, triggerID string) (*Trigger, error)

	// ListTriggerConditions returns the conditions of a trigger.
	ListTriggerConditions(ctx context.Context, tenantID, triggerID string) ([]TriggerCondition, error)

	// ListRules returns all of a tenant's rules.
	ListRules(ctx context.Context, tenantID string) ([]*Rule, error)

	// ListTriggers returns all of a tenant's triggers.
	ListTriggers(ctx context.Context, tenantID string) ([]*Trigger, error)
}

// TriggerCache is the write-only sink that receives compiled triggers.
// It is owned by an external system; this library only writes to it.
type TriggerCache interface {
	PutTrigger(ctx context.Context, compiled *CompiledTrigger) error
}
