package worker_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	rulecache "github.com/Lakakaku/alpha-sub015"
	"github.com/Lakakaku/alpha-sub015/artifact"
	"github.com/Lakakaku/alpha-sub015/backoff"
	"github.com/Lakakaku/alpha-sub015/compiler"
	"github.com/Lakakaku/alpha-sub015/ext"
	"github.com/Lakakaku/alpha-sub015/id"
	"github.com/Lakakaku/alpha-sub015/job"
	"github.com/Lakakaku/alpha-sub015/queue"
	"github.com/Lakakaku/alpha-sub015/rule"
	"github.com/Lakakaku/alpha-sub015/store/memory"
	"github.com/Lakakaku/alpha-sub015/worker"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// events records lifecycle notifications with atomic counters so the
// retry scheduler's goroutines can fire concurrently with assertions.
type events struct {
	completed atomic.Int32
	failed    atomic.Int32
	retrying  atomic.Int32
	timedOut  atomic.Int32
	artifacts atomic.Int32
}

func (e *events) Name() string { return "events" }

func (e *events) OnJobCompleted(context.Context, *job.Job, time.Duration) error {
	e.completed.Add(1)
	return nil
}

func (e *events) OnJobFailed(context.Context, *job.Job, error, int) error {
	e.failed.Add(1)
	return nil
}

func (e *events) OnJobRetrying(context.Context, *job.Job, int, time.Time) error {
	e.retrying.Add(1)
	return nil
}

func (e *events) OnJobTimedOut(context.Context, *job.Job, time.Duration) error {
	e.timedOut.Add(1)
	return nil
}

func (e *events) OnArtifactCompiled(context.Context, *artifact.Artifact) error {
	e.artifacts.Add(1)
	return nil
}

// slowSource delays rule loads to exercise the advisory timeout.
type slowSource struct {
	rule.Source
	delay time.Duration
}

func (s *slowSource) GetRule(ctx context.Context, tenantID, ruleID string) (*rule.Rule, error) {
	time.Sleep(s.delay)
	return s.Source.GetRule(ctx, tenantID, ruleID)
}

type fixture struct {
	store    *memory.Store
	queue    *queue.Manager
	events   *events
	executor *worker.Executor
}

func newFixture(t *testing.T, source rule.Source, store *memory.Store, strategy backoff.Strategy) *fixture {
	t.Helper()

	logger := discardLogger()
	comp := compiler.New(source, store, artifact.NewCache(), compiler.WithLogger(logger))
	q := queue.NewManager(queue.Config{Concurrency: 5})
	reg := ext.NewRegistry(logger)
	evts := &events{}
	reg.Register(evts)

	retry := backoff.NewController(3, strategy)
	exec := worker.NewExecutor(comp, retry, q, reg, rulecache.SystemClock(), logger)

	return &fixture{store: store, queue: q, events: evts, executor: exec}
}

func newRuleJob(entityID string, maxAttempts int) *job.Job {
	return &job.Job{
		ID:          id.NewJobID(),
		TenantID:    "t1",
		Type:        job.TypeRule,
		EntityID:    entityID,
		Priority:    job.PriorityNormal,
		State:       job.StatePending,
		MaxAttempts: maxAttempts,
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("timed out waiting: " + msg)
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

// ──────────────────────────────────────────────────
// Success path
// ──────────────────────────────────────────────────

func TestExecute_SuccessCompletesJob(t *testing.T) {
	store := memory.NewStore()
	store.PutRule(&rule.Rule{ID: "r1", TenantID: "t1", Active: true}, nil, nil)
	f := newFixture(t, store, store, backoff.NewConstant(time.Millisecond))

	j := newRuleJob("r1", 3)
	if err := f.executor.Execute(context.Background(), j); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if j.State != job.StateCompleted {
		t.Errorf("State = %q, want %q", j.State, job.StateCompleted)
	}
	if j.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", j.Attempts)
	}
	if j.StartedAt == nil || j.CompletedAt == nil {
		t.Error("StartedAt/CompletedAt not set")
	}
	if got := f.events.completed.Load(); got != 1 {
		t.Errorf("completed events = %d, want 1", got)
	}
	if got := f.events.artifacts.Load(); got != 1 {
		t.Errorf("artifact events = %d, want 1", got)
	}
}

// ──────────────────────────────────────────────────
// Retry path
// ──────────────────────────────────────────────────

func TestExecute_FailureSchedulesRetryAtHead(t *testing.T) {
	store := memory.NewStore()
	f := newFixture(t, store, store, backoff.NewConstant(5*time.Millisecond))

	// A competing queued job to verify the retried one jumps the line.
	store.PutRule(&rule.Rule{ID: "other", TenantID: "t1", Active: true}, nil, nil)
	f.queue.Push(newRuleJob("other", 3))

	woken := make(chan struct{}, 1)
	f.executor.SetWake(func() {
		select {
		case woken <- struct{}{}:
		default:
		}
	})

	j := newRuleJob("missing", 3)
	if err := f.executor.Execute(context.Background(), j); err == nil {
		t.Fatal("Execute succeeded for a missing rule, want error")
	}

	if j.State != job.StateRetrying {
		t.Errorf("State = %q, want %q", j.State, job.StateRetrying)
	}
	if got := f.events.retrying.Load(); got != 1 {
		t.Errorf("retrying events = %d, want 1", got)
	}

	select {
	case <-woken:
	case <-time.After(2 * time.Second):
		t.Fatal("wake callback never fired after the backoff delay")
	}

	head := f.queue.Pop()
	if head == nil {
		t.Fatal("queue empty after retry re-insertion")
	}
	if head.ID.String() != j.ID.String() {
		t.Errorf("head = %s, want the retried job %s (PushFront)", head.ID, j.ID)
	}
	if head.State != job.StatePending {
		t.Errorf("re-inserted job State = %q, want %q", head.State, job.StatePending)
	}
}

func TestExecute_UnregistersActiveBeforeRetry(t *testing.T) {
	store := memory.NewStore()
	// A zero backoff re-inserts the job as soon as the retry is armed,
	// racing Execute's own return.
	f := newFixture(t, store, store, backoff.NewConstant(0))

	j := newRuleJob("missing", 3)
	f.queue.Push(j)
	popped := f.queue.Pop()
	if popped == nil {
		t.Fatal("Pop() = nil")
	}

	_ = f.executor.Execute(context.Background(), popped)

	// The failed run is already unregistered when Execute returns.
	if got := f.queue.ActiveCount(); got != 0 {
		t.Fatalf("ActiveCount() after failed Execute = %d, want 0", got)
	}

	// Popping the re-inserted job registers it active; no stale
	// unregister from the previous run may delete it.
	waitFor(t, func() bool { return f.queue.Len() == 1 }, "retry re-insertion")
	if f.queue.Pop() == nil {
		t.Fatal("Pop() of the re-inserted job = nil")
	}
	time.Sleep(20 * time.Millisecond)
	if got := f.queue.ActiveCount(); got != 1 {
		t.Errorf("ActiveCount() for the re-popped job = %d, want 1", got)
	}
}

func TestExecute_ExactlyMaxAttemptsThenDiscard(t *testing.T) {
	store := memory.NewStore()
	f := newFixture(t, store, store, backoff.NewConstant(time.Millisecond))

	j := newRuleJob("missing", 3)
	f.queue.Push(j)

	// Drive the queue by hand the way the engine's drain loop would.
	executions := 0
	var lastErr error
	for executions < 5 { // hard stop well above the ceiling
		waitFor(t, func() bool { return f.queue.Len() > 0 || executions >= 3 }, "job to be re-queued")
		popped := f.queue.Pop()
		if popped == nil {
			break
		}
		executions++
		lastErr = f.executor.Execute(context.Background(), popped)
	}

	if executions != 3 {
		t.Errorf("executions = %d, want exactly MaxAttempts = 3", executions)
	}
	if !errors.Is(lastErr, rulecache.ErrMaxAttemptsExceeded) {
		t.Errorf("final error = %v, want ErrMaxAttemptsExceeded", lastErr)
	}
	if !errors.Is(lastErr, rulecache.ErrRuleNotFound) {
		t.Errorf("final error = %v, want the compile error preserved", lastErr)
	}
	if j.State != job.StateDiscarded {
		t.Errorf("State = %q, want %q", j.State, job.StateDiscarded)
	}
	if got := f.events.retrying.Load(); got != 2 {
		t.Errorf("retrying events = %d, want 2", got)
	}
	if got := f.events.failed.Load(); got != 1 {
		t.Errorf("failed events = %d, want 1", got)
	}
}

func TestExecute_PerJobMaxAttemptsOverride(t *testing.T) {
	store := memory.NewStore()
	f := newFixture(t, store, store, backoff.NewConstant(time.Millisecond))

	// One attempt only: first failure discards immediately.
	j := newRuleJob("missing", 1)
	_ = f.executor.Execute(context.Background(), j)

	if j.State != job.StateDiscarded {
		t.Errorf("State = %q, want %q", j.State, job.StateDiscarded)
	}
	if got := f.events.retrying.Load(); got != 0 {
		t.Errorf("retrying events = %d, want 0", got)
	}
	if got := f.events.failed.Load(); got != 1 {
		t.Errorf("failed events = %d, want 1", got)
	}
}

// ──────────────────────────────────────────────────
// Advisory timeout
// ──────────────────────────────────────────────────

func TestExecute_AdvisoryTimeoutDoesNotCancel(t *testing.T) {
	store := memory.NewStore()
	store.PutRule(&rule.Rule{ID: "r1", TenantID: "t1", Active: true}, nil, nil)
	slow := &slowSource{Source: store, delay: 60 * time.Millisecond}
	f := newFixture(t, slow, store, backoff.NewConstant(time.Millisecond))

	j := newRuleJob("r1", 3)
	j.Timeout = 10 * time.Millisecond

	if err := f.executor.Execute(context.Background(), j); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	// The timeout fired, but the compilation still completed and its
	// result applied.
	if got := f.events.timedOut.Load(); got != 1 {
		t.Errorf("timed-out events = %d, want 1", got)
	}
	if j.State != job.StateCompleted {
		t.Errorf("State = %q, want %q (timeout is advisory)", j.State, job.StateCompleted)
	}
	if got := f.events.completed.Load(); got != 1 {
		t.Errorf("completed events = %d, want 1", got)
	}
}

func TestExecute_FastJobDoesNotTimeOut(t *testing.T) {
	store := memory.NewStore()
	store.PutRule(&rule.Rule{ID: "r1", TenantID: "t1", Active: true}, nil, nil)
	f := newFixture(t, store, store, backoff.NewConstant(time.Millisecond))

	j := newRuleJob("r1", 3)
	j.Timeout = time.Second

	if err := f.executor.Execute(context.Background(), j); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	// Give a stray timer a moment to (incorrectly) fire.
	time.Sleep(20 * time.Millisecond)
	if got := f.events.timedOut.Load(); got != 0 {
		t.Errorf("timed-out events = %d, want 0", got)
	}
}

// ──────────────────────────────────────────────────
// Full refresh and trigger job types
// ──────────────────────────────────────────────────

func TestExecute_FullRefreshEmitsMasterArtifact(t *testing.T) {
	store := memory.NewStore()
	store.PutRule(&rule.Rule{ID: "r1", TenantID: "t1", Active: true}, nil, nil)
	f := newFixture(t, store, store, backoff.NewConstant(time.Millisecond))

	j := &job.Job{
		ID:          id.NewJobID(),
		TenantID:    "t1",
		Type:        job.TypeFullRefresh,
		Priority:    job.PriorityNormal,
		State:       job.StatePending,
		MaxAttempts: 3,
	}
	if err := f.executor.Execute(context.Background(), j); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	// One artifact event for the master (per-rule compiles inside the
	// refresh do not emit through the executor).
	if got := f.events.artifacts.Load(); got != 1 {
		t.Errorf("artifact events = %d, want 1", got)
	}
}

func TestExecute_TriggerJobWritesSink(t *testing.T) {
	store := memory.NewStore()
	store.PutTriggerDef(&rule.Trigger{ID: "tr1", TenantID: "t1", Kind: "time", Active: true}, nil)
	f := newFixture(t, store, store, backoff.NewConstant(time.Millisecond))

	j := &job.Job{
		ID:          id.NewJobID(),
		TenantID:    "t1",
		Type:        job.TypeTrigger,
		EntityID:    "tr1",
		Priority:    job.PriorityNormal,
		State:       job.StatePending,
		MaxAttempts: 3,
	}
	if err := f.executor.Execute(context.Background(), j); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if _, ok := store.CompiledTrigger("t1", "tr1"); !ok {
		t.Error("compiled trigger missing from sink")
	}
	if got := f.events.artifacts.Load(); got != 0 {
		t.Errorf("artifact events = %d, want 0 (triggers produce no artifact)", got)
	}
}
