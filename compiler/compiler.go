// Package compiler holds the pure transformation logic: compiling a
// single rule into a versioned artifact, compiling a trigger into the
// external trigger cache, and merging all of a tenant's compiled rules
// into one master artifact.
package compiler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	rulecache "github.com/Lakakaku/alpha-sub015"
	"github.com/Lakakaku/alpha-sub015/artifact"
	"github.com/Lakakaku/alpha-sub015/rule"
)

// Compiler transforms raw rule and trigger rows into compiled
// artifacts. Rule artifacts are written to the versioned cache; compiled
// triggers go to the external trigger-cache sink and produce no
// artifact of their own.
type Compiler struct {
	source   rule.Source
	triggers rule.TriggerCache
	cache    *artifact.Cache
	clock    rulecache.Clock
	logger   *slog.Logger

	// parallelism bounds the concurrent per-rule/per-trigger compiles
	// inside CompileFullContext.
	parallelism int
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithClock sets the clock used for compile timestamps.
func WithClock(c rulecache.Clock) Option {
	return func(cp *Compiler) { cp.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(cp *Compiler) { cp.logger = l }
}

// WithParallelism bounds concurrent compiles within a full-context
// refresh. Values below 1 are ignored.
func WithParallelism(n int) Option {
	return func(cp *Compiler) {
		if n >= 1 {
			cp.parallelism = n
		}
	}
}

// New creates a Compiler reading from source, writing compiled triggers
// to sink and rule artifacts to cache.
func New(source rule.Source, sink rule.TriggerCache, cache *artifact.Cache, opts ...Option) *Compiler {
	c := &Compiler{
		source:      source,
		triggers:    sink,
		cache:       cache,
		clock:       rulecache.SystemClock(),
		logger:      slog.Default(),
		parallelism: 4,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Cache returns the versioned artifact cache the compiler writes to.
func (c *Compiler) Cache() *artifact.Cache { return c.cache }

// CompileRule loads one rule with its question groups and priority
// weights, optimizes them, and writes the resulting artifact to the
// cache at the next version for its key.
func (c *Compiler) CompileRule(ctx context.Context, tenantID, ruleID string) (*artifact.Artifact, error) {
	r, err := c.source.GetRule(ctx, tenantID, ruleID)
	if err != nil {
		return nil, fmt.Errorf("compile rule %s/%s: %w", tenantID, ruleID, err)
	}

	groups, err := c.source.ListQuestionGroups(ctx, tenantID, ruleID)
	if err != nil {
		return nil, fmt.Errorf("compile rule %s/%s: load question groups: %w", tenantID, ruleID, err)
	}

	weights, err := c.source.ListPriorityWeights(ctx, tenantID, ruleID)
	if err != nil {
		return nil, fmt.Errorf("compile rule %s/%s: load priority weights: %w", tenantID, ruleID, err)
	}

	a := &artifact.Artifact{
		TenantID:       tenantID,
		RuleID:         ruleID,
		QuestionGroups: OptimizeQuestionGroups(groups),
		PriorityMatrix: BuildPriorityMatrix(weights),
		Constraints: rule.TimeConstraints{
			MaxDurationSeconds: r.MaxDurationSeconds,
			SeverityThresholds: cloneThresholds(r.SeverityThresholds),
		},
		CompiledAt: c.clock.Now(),
		Version:    c.cache.NextVersion(tenantID, ruleID),
	}
	c.cache.Set(a)

	c.logger.Debug("rule compiled",
		slog.String("tenant_id", tenantID),
		slog.String("rule_id", ruleID),
		slog.Int("version", a.Version),
		slog.Int("question_groups", len(a.QuestionGroups)),
	)

	return a, nil
}

// CompileTrigger loads one trigger and its conditions and hands the
// compiled form to the external trigger-cache sink. No versioned
// artifact is produced.
func (c *Compiler) CompileTrigger(ctx context.Context, tenantID, triggerID string) error {
	t, err := c.source.GetTrigger(ctx, tenantID, triggerID)
	if err != nil {
		return fmt.Errorf("compile trigger %s/%s: %w", tenantID, triggerID, err)
	}

	conds, err := c.source.ListTriggerConditions(ctx, tenantID, triggerID)
	if err != nil {
		return fmt.Errorf("compile trigger %s/%s: load conditions: %w", tenantID, triggerID, err)
	}

	compiled := &rule.CompiledTrigger{
		TriggerID:  t.ID,
		TenantID:   tenantID,
		Name:       t.Name,
		Kind:       t.Kind,
		Conditions: conds,
		CompiledAt: c.clock.Now(),
	}

	if err := c.triggers.PutTrigger(ctx, compiled); err != nil {
		return fmt.Errorf("compile trigger %s/%s: write to trigger cache: %w", tenantID, triggerID, err)
	}

	c.logger.Debug("trigger compiled",
		slog.String("tenant_id", tenantID),
		slog.String("trigger_id", triggerID),
		slog.Int("conditions", len(conds)),
	)

	return nil
}

// CompileFullContext recompiles all of a tenant's rules and triggers in
// parallel. A failure in any single rule or trigger does not abort the
// others. From the successfully compiled rules it builds one master
// artifact and caches it under the tenant's master key. If zero rules
// compile successfully while the tenant has rules, the whole refresh
// fails (retriable); a tenant with no rules yields no master artifact
// and no error.
func (c *Compiler) CompileFullContext(ctx context.Context, tenantID string) (*artifact.Artifact, error) {
	rules, err := c.source.ListRules(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("full refresh %s: list rules: %w", tenantID, err)
	}

	triggers, err := c.source.ListTriggers(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("full refresh %s: list triggers: %w", tenantID, err)
	}

	// Indexed result slice preserves the listing order for the master
	// merge regardless of goroutine completion order.
	compiled := make([]*artifact.Artifact, len(rules))

	var (
		mu       sync.Mutex
		failures int
	)

	g := &errgroup.Group{}
	g.SetLimit(c.parallelism)

	for i, r := range rules {
		g.Go(func() error {
			a, compileErr := c.CompileRule(ctx, tenantID, r.ID)
			if compileErr != nil {
				mu.Lock()
				failures++
				mu.Unlock()
				c.logger.Error("rule compile failed during full refresh",
					slog.String("tenant_id", tenantID),
					slog.String("rule_id", r.ID),
					slog.String("error", compileErr.Error()),
				)
				return nil
			}
			compiled[i] = a
			return nil
		})
	}

	for _, t := range triggers {
		g.Go(func() error {
			if triggerErr := c.CompileTrigger(ctx, tenantID, t.ID); triggerErr != nil {
				c.logger.Error("trigger compile failed during full refresh",
					slog.String("tenant_id", tenantID),
					slog.String("trigger_id", t.ID),
					slog.String("error", triggerErr.Error()),
				)
			}
			return nil
		})
	}

	_ = g.Wait() // per-item errors are handled above, never returned

	succeeded := make([]*artifact.Artifact, 0, len(compiled))
	for _, a := range compiled {
		if a != nil {
			succeeded = append(succeeded, a)
		}
	}

	if len(succeeded) == 0 {
		if len(rules) == 0 {
			// Nothing to merge; do not cache a degenerate empty master.
			return nil, nil
		}
		return nil, fmt.Errorf("full refresh %s: all %d rule compiles failed", tenantID, failures)
	}

	master := c.mergeMaster(tenantID, succeeded)
	c.cache.Set(master)

	c.logger.Info("full context compiled",
		slog.String("tenant_id", tenantID),
		slog.Int("rules", len(succeeded)),
		slog.Int("rule_failures", failures),
		slog.Int("triggers", len(triggers)),
		slog.Int("master_version", master.Version),
	)

	return master, nil
}

// mergeMaster builds the tenant-wide master artifact from successfully
// compiled rules: question groups deduplicated by (topic, name) keeping
// the first occurrence, priority weights deduplicated by question ID
// keeping the first occurrence, and time constraints reduced to the
// element-wise minimum (most restrictive).
func (c *Compiler) mergeMaster(tenantID string, compiled []*artifact.Artifact) *artifact.Artifact {
	var (
		groups     []rule.QuestionGroup
		seenGroups = make(map[string]struct{})
	)
	for _, a := range compiled {
		for _, g := range a.QuestionGroups {
			key := g.Topic + "|" + g.Name
			if _, dup := seenGroups[key]; dup {
				continue
			}
			seenGroups[key] = struct{}{}
			groups = append(groups, g)
		}
	}

	var (
		weights       []rule.PriorityWeight
		seenQuestions = make(map[string]struct{})
	)
	for _, a := range compiled {
		for _, w := range a.PriorityMatrix {
			if _, dup := seenQuestions[w.QuestionID]; dup {
				continue
			}
			seenQuestions[w.QuestionID] = struct{}{}
			weights = append(weights, w)
		}
	}

	constraints := compiled[0].Constraints
	constraints.SeverityThresholds = cloneThresholds(constraints.SeverityThresholds)
	for _, a := range compiled[1:] {
		if a.Constraints.MaxDurationSeconds < constraints.MaxDurationSeconds {
			constraints.MaxDurationSeconds = a.Constraints.MaxDurationSeconds
		}
		for severity, threshold := range a.Constraints.SeverityThresholds {
			if constraints.SeverityThresholds == nil {
				constraints.SeverityThresholds = make(map[string]int)
			}
			current, ok := constraints.SeverityThresholds[severity]
			if !ok || threshold < current {
				constraints.SeverityThresholds[severity] = threshold
			}
		}
	}

	return &artifact.Artifact{
		TenantID:       tenantID,
		RuleID:         artifact.MasterRuleID,
		QuestionGroups: groups,
		PriorityMatrix: weights,
		Constraints:    constraints,
		CompiledAt:     c.clock.Now(),
		Version:        c.cache.NextVersion(tenantID, artifact.MasterRuleID),
	}
}

func cloneThresholds(src map[string]int) map[string]int {
	if src == nil {
		return nil
	}
	dst := make(map[string]int, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
