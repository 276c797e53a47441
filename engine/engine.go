// Package engine wires the queue, compiler, executor, and extension
// registry into the compilation engine: the single public entry point
// for queueing compilation jobs and reading compiled artifacts.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	rulecache "github.com/Lakakaku/alpha-sub015"
	"github.com/Lakakaku/alpha-sub015/artifact"
	"github.com/Lakakaku/alpha-sub015/backoff"
	"github.com/Lakakaku/alpha-sub015/compiler"
	"github.com/Lakakaku/alpha-sub015/ext"
	"github.com/Lakakaku/alpha-sub015/id"
	"github.com/Lakakaku/alpha-sub015/job"
	"github.com/Lakakaku/alpha-sub015/middleware"
	"github.com/Lakakaku/alpha-sub015/queue"
	"github.com/Lakakaku/alpha-sub015/rule"
	"github.com/Lakakaku/alpha-sub015/worker"
)

// Engine is the asynchronous compilation scheduler. Callers queue
// compilation requests and return immediately; a bounded pool of
// drain-driven goroutines executes them and publishes results to the
// versioned artifact cache and the external trigger cache.
type Engine struct {
	cfg      rulecache.Config
	queue    *queue.Manager
	cache    *artifact.Cache
	compiler *compiler.Compiler
	executor *worker.Executor
	exts     *ext.Registry
	clock    rulecache.Clock
	logger   *slog.Logger
	workerID id.WorkerID

	// draining serializes drain passes: only one goroutine walks the
	// queue at a time.
	draining atomic.Bool

	// stopped rejects new work after Shutdown begins.
	stopped atomic.Bool

	stopCh chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// Option configures an Engine.
type Option func(*options)

type options struct {
	cfg         rulecache.Config
	logger      *slog.Logger
	clock       rulecache.Clock
	extensions  []ext.Extension
	middlewares []middleware.Middleware
	strategy    backoff.Strategy
	rateLimit   float64
	rateBurst   int
	parallelism int
}

// WithConfig replaces the default engine configuration.
func WithConfig(cfg rulecache.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock sets the clock used for timestamps, timeouts, and retry
// scheduling. Tests substitute a fake.
func WithClock(c rulecache.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithExtension registers a lifecycle extension.
func WithExtension(e ext.Extension) Option {
	return func(o *options) { o.extensions = append(o.extensions, e) }
}

// WithMiddleware appends execution middleware. Middlewares run in the
// order given, outermost first.
func WithMiddleware(mw ...middleware.Middleware) Option {
	return func(o *options) { o.middlewares = append(o.middlewares, mw...) }
}

// WithBackoff replaces the default exponential retry strategy.
func WithBackoff(s backoff.Strategy) Option {
	return func(o *options) { o.strategy = s }
}

// WithTenantRateLimit bounds sustained per-tenant dequeues per second.
func WithTenantRateLimit(perSecond float64, burst int) Option {
	return func(o *options) {
		o.rateLimit = perSecond
		o.rateBurst = burst
	}
}

// WithCompileParallelism bounds concurrent compiles within a
// full-context refresh.
func WithCompileParallelism(n int) Option {
	return func(o *options) { o.parallelism = n }
}

// New creates an Engine reading rules and triggers from source and
// writing compiled triggers to sink. Call Start to enable the
// background drain tick, and Shutdown to stop.
func New(source rule.Source, sink rule.TriggerCache, opts ...Option) *Engine {
	o := &options{
		cfg:    rulecache.DefaultConfig(),
		logger: slog.Default(),
		clock:  rulecache.SystemClock(),
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.strategy == nil {
		o.strategy = &backoff.Exponential{
			Initial: o.cfg.BackoffInitial,
			Base:    o.cfg.BackoffBase,
		}
	}

	cache := artifact.NewCache()

	compilerOpts := []compiler.Option{
		compiler.WithClock(o.clock),
		compiler.WithLogger(o.logger),
	}
	if o.parallelism > 0 {
		compilerOpts = append(compilerOpts, compiler.WithParallelism(o.parallelism))
	}
	comp := compiler.New(source, sink, cache, compilerOpts...)

	q := queue.NewManager(queue.Config{
		Concurrency:     o.cfg.Concurrency,
		TenantRateLimit: o.rateLimit,
		TenantRateBurst: o.rateBurst,
	})

	exts := ext.NewRegistry(o.logger)
	for _, e := range o.extensions {
		exts.Register(e)
	}

	retry := backoff.NewController(o.cfg.MaxAttempts, o.strategy)

	mws := append([]middleware.Middleware{middleware.Recover(o.logger)}, o.middlewares...)
	executor := worker.NewExecutor(comp, retry, q, exts, o.clock, o.logger, mws...)

	e := &Engine{
		cfg:      o.cfg,
		queue:    q,
		cache:    cache,
		compiler: comp,
		executor: executor,
		exts:     exts,
		clock:    o.clock,
		logger:   o.logger,
		workerID: id.NewWorkerID(),
		stopCh:   make(chan struct{}),
	}
	executor.SetWake(func() { go e.drain() })

	return e
}

// Cache exposes the versioned artifact cache for read access.
func (e *Engine) Cache() *artifact.Cache { return e.cache }

// Extensions exposes the extension registry.
func (e *Engine) Extensions() *ext.Registry { return e.exts }

// WorkerID returns this engine instance's identifier.
func (e *Engine) WorkerID() id.WorkerID { return e.workerID }

// Queue enqueues a compilation job and returns immediately with its ID.
// A queued job with the same (tenant, type, entity) identity is
// superseded; the new request takes its place in priority order.
// Returns ErrEngineStopped once Shutdown has begun.
func (e *Engine) Queue(ctx context.Context, tenantID string, typ job.Type, entityID string, opts ...job.Option) (id.JobID, error) {
	if e.stopped.Load() {
		return id.Nil, rulecache.ErrEngineStopped
	}

	o := job.DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = e.cfg.MaxAttempts
	}
	if o.Timeout <= 0 {
		o.Timeout = e.cfg.JobTimeout
	}

	j := &job.Job{
		ID:          id.NewJobID(),
		TenantID:    tenantID,
		Type:        typ,
		EntityID:    entityID,
		Priority:    o.Priority,
		State:       job.StatePending,
		MaxAttempts: o.MaxAttempts,
		Timeout:     o.Timeout,
		CreatedAt:   e.clock.Now(),
	}

	superseded := e.queue.Push(j)
	e.exts.EmitJobQueued(ctx, j)

	e.logger.Debug("job queued",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", string(typ)),
		slog.String("tenant_id", tenantID),
		slog.String("entity_id", entityID),
		slog.String("priority", string(o.Priority)),
		slog.Bool("superseded", superseded),
	)

	go e.drain()
	return j.ID, nil
}

// QueueRule enqueues compilation of a single rule.
func (e *Engine) QueueRule(ctx context.Context, tenantID, ruleID string, opts ...job.Option) (id.JobID, error) {
	return e.Queue(ctx, tenantID, job.TypeRule, ruleID, opts...)
}

// QueueTrigger enqueues compilation of a single trigger.
func (e *Engine) QueueTrigger(ctx context.Context, tenantID, triggerID string, opts ...job.Option) (id.JobID, error) {
	return e.Queue(ctx, tenantID, job.TypeTrigger, triggerID, opts...)
}

// QueueFullRefresh enqueues a full recompilation of everything a tenant
// owns, including the master artifact.
func (e *Engine) QueueFullRefresh(ctx context.Context, tenantID string, opts ...job.Option) (id.JobID, error) {
	return e.Queue(ctx, tenantID, job.TypeFullRefresh, "", opts...)
}

// CompileImmediate compiles synchronously on the caller's goroutine,
// bypassing the queue, the concurrency limit, and the retry policy. It
// dispatches to the same compilation routines the queued path uses:
// rule and full_refresh jobs return the resulting artifact (the master
// for a refresh, nil when the tenant has no rules); trigger jobs write
// to the sink and return a nil artifact. The compile error, if any, is
// returned directly to the caller. An immediate compile racing a
// queued one for the same key is last-write-wins on the cached version.
func (e *Engine) CompileImmediate(ctx context.Context, tenantID string, typ job.Type, entityID string) (*artifact.Artifact, error) {
	if e.stopped.Load() {
		return nil, rulecache.ErrEngineStopped
	}

	switch typ {
	case job.TypeRule:
		a, err := e.compiler.CompileRule(ctx, tenantID, entityID)
		if err != nil {
			return nil, err
		}
		e.exts.EmitArtifactCompiled(ctx, a)
		return a, nil
	case job.TypeTrigger:
		if err := e.compiler.CompileTrigger(ctx, tenantID, entityID); err != nil {
			return nil, err
		}
		return nil, nil
	case job.TypeFullRefresh:
		master, err := e.compiler.CompileFullContext(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		if master != nil {
			e.exts.EmitArtifactCompiled(ctx, master)
		}
		return master, nil
	default:
		return nil, rulecache.ErrRuleNotFound
	}
}

// GetCompiledRule returns the cached artifact for a rule, or the
// tenant's master artifact when ruleID is empty. Returns
// ErrArtifactNotFound when nothing has been compiled for the key.
func (e *Engine) GetCompiledRule(tenantID, ruleID string) (*artifact.Artifact, error) {
	a, ok := e.cache.Get(tenantID, ruleID)
	if !ok {
		return nil, rulecache.ErrArtifactNotFound
	}
	return a, nil
}

// TenantStatus summarizes a tenant's compilation state.
type TenantStatus struct {
	Queued         int       `json:"queued"`
	Active         int       `json:"active"`
	LastCompiledAt time.Time `json:"last_compiled_at,omitzero"`
	LastVersion    int       `json:"last_version"`
}

// CompilationStatus reports queue depth, in-flight work, and the most
// recent compile for one tenant.
func (e *Engine) CompilationStatus(tenantID string) TenantStatus {
	status := TenantStatus{
		Queued: e.queue.PendingForTenant(tenantID),
		Active: e.queue.ActiveForTenant(tenantID),
	}
	if last, version, ok := e.cache.TenantSummary(tenantID); ok {
		status.LastCompiledAt = last
		status.LastVersion = version
	}
	return status
}

// Stats summarizes engine-wide state.
type Stats struct {
	Queued int `json:"queued"`
	Active int `json:"active"`
	Cached int `json:"cached"`
}

// QueueStats reports global queue depth, in-flight work, and cache size.
func (e *Engine) QueueStats() Stats {
	return Stats{
		Queued: e.queue.Len(),
		Active: e.queue.ActiveCount(),
		Cached: e.cache.Len(),
	}
}

// ClearCache invalidates cached artifacts. An empty tenantID clears all
// tenants; version numbering restarts at 1 for subsequent compiles.
func (e *Engine) ClearCache(tenantID string) {
	if tenantID == "" {
		e.cache.Clear()
		return
	}
	e.cache.Invalidate(tenantID)
}

// Start launches the background drain tick. Queueing alone already
// triggers drains; the tick additionally catches jobs re-inserted by
// the retry scheduler and work held back by the concurrency limit.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running || e.stopped.Load() {
		return
	}
	e.running = true

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		ticker := time.NewTicker(e.cfg.DrainInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				e.drain()
			case <-e.stopCh:
				return
			}
		}
	}()

	e.logger.Info("compilation engine started",
		slog.String("worker_id", e.workerID.String()),
		slog.Int("concurrency", e.cfg.Concurrency),
		slog.Duration("drain_interval", e.cfg.DrainInterval),
	)
}

// Shutdown stops the engine: new work is rejected immediately, then
// in-flight jobs get the configured grace period to settle. After the
// grace period any stragglers are abandoned (their goroutines may still
// finish, but their results are discarded along with the cache). The
// queue and the artifact cache are always cleared; lifecycle extensions
// are notified last.
func (e *Engine) Shutdown(ctx context.Context) error {
	if !e.stopped.CompareAndSwap(false, true) {
		return nil
	}

	// Closing the queue makes pending retry timers no-ops: a PushFront
	// firing after this point is rejected instead of repopulating the
	// cleared queue.
	e.queue.Close()

	e.mu.Lock()
	if e.running {
		close(e.stopCh)
		e.running = false
	}
	e.mu.Unlock()
	e.wg.Wait()

	deadline := e.clock.Now().Add(e.cfg.ShutdownGracePeriod)
	for e.queue.ActiveCount() > 0 {
		if e.clock.Now().After(deadline) {
			e.logger.Warn("shutdown grace period elapsed with jobs still active",
				slog.Int("abandoned", e.queue.ActiveCount()),
			)
			e.queue.ForceClearActive()
			break
		}
		tick := make(chan struct{})
		e.clock.AfterFunc(e.cfg.ShutdownPollInterval, func() { close(tick) })
		select {
		case <-ctx.Done():
			e.queue.ForceClearActive()
			e.queue.Clear()
			e.cache.Clear()
			e.exts.EmitShutdown(context.Background())
			return ctx.Err()
		case <-tick:
		}
	}

	e.queue.Clear()
	e.cache.Clear()
	e.exts.EmitShutdown(ctx)

	e.logger.Info("compilation engine stopped",
		slog.String("worker_id", e.workerID.String()),
	)
	return nil
}

// drain pops and executes queued jobs until the queue is empty or the
// concurrency limit is hit. The busy flag guarantees a single drainer;
// concurrent triggers collapse into one pass, and each job completion
// re-triggers a pass to pick up work that was held back.
func (e *Engine) drain() {
	if e.stopped.Load() {
		return
	}
	if !e.draining.CompareAndSwap(false, true) {
		return
	}
	defer e.draining.Store(false)

	for {
		j := e.queue.Pop()
		if j == nil {
			return
		}

		ctx := context.Background()
		e.exts.EmitJobStarted(ctx, j)

		go func(j *job.Job) {
			_ = e.executor.Execute(ctx, j)
			go e.drain()
		}(j)
	}
}
