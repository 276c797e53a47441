// Package postgres implements the rule source against a PostgreSQL
// database using pgx connection pooling. It reads the authored rule and
// trigger tables; compilation never writes back.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	rulecache "github.com/Lakakaku/alpha-sub015"
	"github.com/Lakakaku/alpha-sub015/rule"
)

// Compile-time interface check.
var _ rule.Source = (*Store)(nil)

// Store reads rules and triggers from PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the database and verifies the connection.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewFromPool wraps an existing pool. The caller retains ownership.
func NewFromPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// GetRule returns one rule for a tenant.
func (s *Store) GetRule(ctx context.Context, tenantID, ruleID string) (*rule.Rule, error) {
	const q = `
		SELECT id, tenant_id, name, active, max_duration_seconds,
		       severity_thresholds, created_at, updated_at
		FROM question_combination_rules
		WHERE tenant_id = $1 AND id = $2`

	row := s.pool.QueryRow(ctx, q, tenantID, ruleID)

	var (
		r          rule.Rule
		thresholds []byte
	)
	err := row.Scan(&r.ID, &r.TenantID, &r.Name, &r.Active,
		&r.MaxDurationSeconds, &thresholds, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, rulecache.ErrRuleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get rule %s/%s: %w", tenantID, ruleID, err)
	}

	if len(thresholds) > 0 {
		if err := json.Unmarshal(thresholds, &r.SeverityThresholds); err != nil {
			return nil, fmt.Errorf("postgres: get rule %s/%s: decode severity thresholds: %w", tenantID, ruleID, err)
		}
	}
	return &r, nil
}

// ListQuestionGroups returns a rule's question groups in authored order.
func (s *Store) ListQuestionGroups(ctx context.Context, tenantID, ruleID string) ([]rule.QuestionGroup, error) {
	const q = `
		SELECT id, tenant_id, topic, name, active, display_order, estimated_length
		FROM rule_question_groups
		WHERE tenant_id = $1 AND rule_id = $2
		ORDER BY display_order, id`

	rows, err := s.pool.Query(ctx, q, tenantID, ruleID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list question groups %s/%s: %w", tenantID, ruleID, err)
	}
	defer rows.Close()

	var groups []rule.QuestionGroup
	for rows.Next() {
		var g rule.QuestionGroup
		if err := rows.Scan(&g.ID, &g.TenantID, &g.Topic, &g.Name,
			&g.Active, &g.DisplayOrder, &g.EstimatedLength); err != nil {
			return nil, fmt.Errorf("postgres: list question groups %s/%s: scan: %w", tenantID, ruleID, err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list question groups %s/%s: %w", tenantID, ruleID, err)
	}
	return groups, nil
}

// ListPriorityWeights returns a rule's per-question priority weights.
func (s *Store) ListPriorityWeights(ctx context.Context, tenantID, ruleID string) ([]rule.PriorityWeight, error) {
	const q = `
		SELECT question_id, effective_priority
		FROM rule_priority_weights
		WHERE tenant_id = $1 AND rule_id = $2
		ORDER BY question_id`

	rows, err := s.pool.Query(ctx, q, tenantID, ruleID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list priority weights %s/%s: %w", tenantID, ruleID, err)
	}
	defer rows.Close()

	var weights []rule.PriorityWeight
	for rows.Next() {
		var w rule.PriorityWeight
		if err := rows.Scan(&w.QuestionID, &w.EffectivePriority); err != nil {
			return nil, fmt.Errorf("postgres: list priority weights %s/%s: scan: %w", tenantID, ruleID, err)
		}
		weights = append(weights, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list priority weights %s/%s: %w", tenantID, ruleID, err)
	}
	return weights, nil
}

// GetTrigger returns one dynamic trigger for a tenant.
func (s *Store) GetTrigger(ctx context.Context, tenantID, triggerID string) (*rule.Trigger, error) {
	const q = `
		SELECT id, tenant_id, name, kind, active, created_at, updated_at
		FROM dynamic_triggers
		WHERE tenant_id = $1 AND id = $2`

	row := s.pool.QueryRow(ctx, q, tenantID, triggerID)

	var t rule.Trigger
	err := row.Scan(&t.ID, &t.TenantID, &t.Name, &t.Kind, &t.Active,
		&t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, rulecache.ErrTriggerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get trigger %s/%s: %w", tenantID, triggerID, err)
	}
	return &t, nil
}

// ListTriggerConditions returns the conditions of a trigger.
func (s *Store) ListTriggerConditions(ctx context.Context, tenantID, triggerID string) ([]rule.TriggerCondition, error) {
	const q = `
		SELECT c.id, c.trigger_id, c.field, c.operator, c.value
		FROM trigger_conditions c
		JOIN dynamic_triggers t ON t.id = c.trigger_id
		WHERE t.tenant_id = $1 AND c.trigger_id = $2
		ORDER BY c.id`

	rows, err := s.pool.Query(ctx, q, tenantID, triggerID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trigger conditions %s/%s: %w", tenantID, triggerID, err)
	}
	defer rows.Close()

	var conds []rule.TriggerCondition
	for rows.Next() {
		var c rule.TriggerCondition
		if err := rows.Scan(&c.ID, &c.TriggerID, &c.Field, &c.Operator, &c.Value); err != nil {
			return nil, fmt.Errorf("postgres: list trigger conditions %s/%s: scan: %w", tenantID, triggerID, err)
		}
		conds = append(conds, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list trigger conditions %s/%s: %w", tenantID, triggerID, err)
	}
	return conds, nil
}

// ListRules returns all of a tenant's rules.
func (s *Store) ListRules(ctx context.Context, tenantID string) ([]*rule.Rule, error) {
	const q = `
		SELECT id, tenant_id, name, active, max_duration_seconds,
		       severity_thresholds, created_at, updated_at
		FROM question_combination_rules
		WHERE tenant_id = $1
		ORDER BY id`

	rows, err := s.pool.Query(ctx, q, tenantID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list rules %s: %w", tenantID, err)
	}
	defer rows.Close()

	var rules []*rule.Rule
	for rows.Next() {
		var (
			r          rule.Rule
			thresholds []byte
		)
		if err := rows.Scan(&r.ID, &r.TenantID, &r.Name, &r.Active,
			&r.MaxDurationSeconds, &thresholds, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: list rules %s: scan: %w", tenantID, err)
		}
		if len(thresholds) > 0 {
			if err := json.Unmarshal(thresholds, &r.SeverityThresholds); err != nil {
				return nil, fmt.Errorf("postgres: list rules %s: decode severity thresholds: %w", tenantID, err)
			}
		}
		rules = append(rules, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list rules %s: %w", tenantID, err)
	}
	return rules, nil
}

// ListTriggers returns all of a tenant's triggers.
func (s *Store) ListTriggers(ctx context.Context, tenantID string) ([]*rule.Trigger, error) {
	const q = `
		SELECT id, tenant_id, name, kind, active, created_at, updated_at
		FROM dynamic_triggers
		WHERE tenant_id = $1
		ORDER BY id`

	rows, err := s.pool.Query(ctx, q, tenantID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list triggers %s: %w", tenantID, err)
	}
	defer rows.Close()

	var triggers []*rule.Trigger
	for rows.Next() {
		var t rule.Trigger
		if err := rows.Scan(&t.ID, &t.TenantID, &t.Name, &t.Kind, &t.Active,
			&t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: list triggers %s: scan: %w", tenantID, err)
		}
		triggers = append(triggers, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list triggers %s: %w", tenantID, err)
	}
	return triggers, nil
}
