// Package memory provides in-memory implementations of the rule source
// and the trigger-cache sink. Used in tests and for single-process
// deployments that load rule data at startup.
package memory

import (
	"context"
	"sort"
	"sync"

	rulecache "github.com/Lakakaku/alpha-sub015"
	"github.com/Lakakaku/alpha-sub015/rule"
)

// Compile-time interface checks.
var (
	_ rule.Source       = (*Store)(nil)
	_ rule.TriggerCache = (*Store)(nil)
)

// Store holds rule and trigger data in memory. It implements both
// rule.Source (read side) and rule.TriggerCache (compiled-trigger sink),
// so a single instance can back a whole engine in tests. Safe for
// concurrent use.
type Store struct {
	mu sync.RWMutex

	rules      map[string]map[string]*rule.Rule           // tenant → rule ID → rule
	groups     map[string]map[string][]rule.QuestionGroup // tenant → rule ID → groups
	weights    map[string]map[string][]rule.PriorityWeight
	triggers   map[string]map[string]*rule.Trigger // tenant → trigger ID → trigger
	conditions map[string]map[string][]rule.TriggerCondition

	compiled map[string]map[string]*rule.CompiledTrigger // tenant → trigger ID → compiled
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		rules:      make(map[string]map[string]*rule.Rule),
		groups:     make(map[string]map[string][]rule.QuestionGroup),
		weights:    make(map[string]map[string][]rule.PriorityWeight),
		triggers:   make(map[string]map[string]*rule.Trigger),
		conditions: make(map[string]map[string][]rule.TriggerCondition),
		compiled:   make(map[string]map[string]*rule.CompiledTrigger),
	}
}

// ── Seeding ─────────────────────────────────────────

// PutRule stores a rule together with its question groups and priority
// weights, replacing any previous data for the same rule ID.
func (s *Store) PutRule(r *rule.Rule, groups []rule.QuestionGroup, weights []rule.PriorityWeight) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rules[r.TenantID] == nil {
		s.rules[r.TenantID] = make(map[string]*rule.Rule)
		s.groups[r.TenantID] = make(map[string][]rule.QuestionGroup)
		s.weights[r.TenantID] = make(map[string][]rule.PriorityWeight)
	}
	s.rules[r.TenantID][r.ID] = r
	s.groups[r.TenantID][r.ID] = groups
	s.weights[r.TenantID][r.ID] = weights
}

// PutTriggerDef stores a trigger definition and its conditions,
// replacing any previous data for the same trigger ID.
func (s *Store) PutTriggerDef(t *rule.Trigger, conds []rule.TriggerCondition) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.triggers[t.TenantID] == nil {
		s.triggers[t.TenantID] = make(map[string]*rule.Trigger)
		s.conditions[t.TenantID] = make(map[string][]rule.TriggerCondition)
	}
	s.triggers[t.TenantID][t.ID] = t
	s.conditions[t.TenantID][t.ID] = conds
}

// DeleteRule removes a rule and its attached data.
func (s *Store) DeleteRule(tenantID, ruleID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.rules[tenantID], ruleID)
	delete(s.groups[tenantID], ruleID)
	delete(s.weights[tenantID], ruleID)
}

// ── rule.Source ─────────────────────────────────────

func (s *Store) GetRule(_ context.Context, tenantID, ruleID string) (*rule.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rules[tenantID][ruleID]
	if !ok {
		return nil, rulecache.ErrRuleNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *Store) ListQuestionGroups(_ context.Context, tenantID, ruleID string) ([]rule.QuestionGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	groups := s.groups[tenantID][ruleID]
	out := make([]rule.QuestionGroup, len(groups))
	copy(out, groups)
	return out, nil
}

func (s *Store) ListPriorityWeights(_ context.Context, tenantID, ruleID string) ([]rule.PriorityWeight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	weights := s.weights[tenantID][ruleID]
	out := make([]rule.PriorityWeight, len(weights))
	copy(out, weights)
	return out, nil
}

func (s *Store) GetTrigger(_ context.Context, tenantID, triggerID string) (*rule.Trigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.triggers[tenantID][triggerID]
	if !ok {
		return nil, rulecache.ErrTriggerNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *Store) ListTriggerConditions(_ context.Context, tenantID, triggerID string) ([]rule.TriggerCondition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conds := s.conditions[tenantID][triggerID]
	out := make([]rule.TriggerCondition, len(conds))
	copy(out, conds)
	return out, nil
}

func (s *Store) ListRules(_ context.Context, tenantID string) ([]*rule.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rules := make([]*rule.Rule, 0, len(s.rules[tenantID]))
	for _, r := range s.rules[tenantID] {
		cp := *r
		rules = append(rules, &cp)
	}
	// Deterministic listing order; map iteration is not.
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules, nil
}

func (s *Store) ListTriggers(_ context.Context, tenantID string) ([]*rule.Trigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	triggers := make([]*rule.Trigger, 0, len(s.triggers[tenantID]))
	for _, t := range s.triggers[tenantID] {
		cp := *t
		triggers = append(triggers, &cp)
	}
	sort.Slice(triggers, func(i, j int) bool { return triggers[i].ID < triggers[j].ID })
	return triggers, nil
}

// ── rule.TriggerCache ───────────────────────────────

func (s *Store) PutTrigger(_ context.Context, compiled *rule.CompiledTrigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.compiled[compiled.TenantID] == nil {
		s.compiled[compiled.TenantID] = make(map[string]*rule.CompiledTrigger)
	}
	s.compiled[compiled.TenantID][compiled.TriggerID] = compiled
	return nil
}

// CompiledTrigger returns the last compiled form written for a trigger,
// or false if none has been written.
func (s *Store) CompiledTrigger(tenantID, triggerID string) (*rule.CompiledTrigger, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.compiled[tenantID][triggerID]
	return c, ok
}
