// Package rulecache provides an in-process asynchronous compilation
// scheduler and versioned artifact cache for per-tenant business rules.
//
// Tenants author declarative question-combination rules and dynamic
// triggers. This library compiles them into optimized artifacts consumed
// by a downstream rule-selection engine: a priority job queue with
// deduplication, bounded-concurrency execution with advisory timeouts,
// exponential-backoff retries, a monotonically versioned artifact cache,
// and tenant-wide master artifact merging.
//
// rulecache is designed as a library, not a service. Construct an
// engine.Engine with a rule.Source (where raw rule rows come from), a
// rule.TriggerCache (where compiled triggers go), and a logger:
//
//	eng := engine.New(src, sink,
//	    engine.WithConfig(cfg),
//	    engine.WithLogger(logger),
//	)
//	eng.Start()
//	jobID, _ := eng.Queue(ctx, tenantID, job.TypeRule, ruleID, job.WithPriority(job.PriorityHigh))
//
// # Architecture
//
// Each subsystem lives in its own package: job (the compilation job
// model), queue (priority dedup queue and concurrency gate), backoff
// (retry policy), compiler (pure rule/trigger transformation), artifact
// (versioned cache), worker (single-job execution), ext (lifecycle
// hooks), stream (event broker for external observers), and engine
// (the drain loop and public surface).
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package rulecache
