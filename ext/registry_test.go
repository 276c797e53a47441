package ext_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Lakakaku/alpha-sub015/artifact"
	"github.com/Lakakaku/alpha-sub015/ext"
	"github.com/Lakakaku/alpha-sub015/id"
	"github.com/Lakakaku/alpha-sub015/job"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recorder implements every hook and records what fired.
type recorder struct {
	queued    int
	started   int
	completed int
	failed    int
	retrying  int
	timedOut  int
	artifacts int
	shutdowns int

	err error
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) OnJobQueued(context.Context, *job.Job) error {
	r.queued++
	return r.err
}

func (r *recorder) OnJobStarted(context.Context, *job.Job) error {
	r.started++
	return r.err
}

func (r *recorder) OnJobCompleted(context.Context, *job.Job, time.Duration) error {
	r.completed++
	return r.err
}

func (r *recorder) OnJobFailed(context.Context, *job.Job, error, int) error {
	r.failed++
	return r.err
}

func (r *recorder) OnJobRetrying(context.Context, *job.Job, int, time.Time) error {
	r.retrying++
	return r.err
}

func (r *recorder) OnJobTimedOut(context.Context, *job.Job, time.Duration) error {
	r.timedOut++
	return r.err
}

func (r *recorder) OnArtifactCompiled(context.Context, *artifact.Artifact) error {
	r.artifacts++
	return r.err
}

func (r *recorder) OnShutdown(context.Context) error {
	r.shutdowns++
	return r.err
}

// queuedOnly implements just the base interface plus one hook.
type queuedOnly struct {
	queued int
}

func (q *queuedOnly) Name() string { return "queued-only" }

func (q *queuedOnly) OnJobQueued(context.Context, *job.Job) error {
	q.queued++
	return nil
}

func testJob() *job.Job {
	return &job.Job{
		ID:       id.NewJobID(),
		TenantID: "t1",
		Type:     job.TypeRule,
		EntityID: "r1",
	}
}

func TestRegistry_EmitsToAllHooks(t *testing.T) {
	reg := ext.NewRegistry(discardLogger())
	rec := &recorder{}
	reg.Register(rec)

	ctx := context.Background()
	j := testJob()

	reg.EmitJobQueued(ctx, j)
	reg.EmitJobStarted(ctx, j)
	reg.EmitJobCompleted(ctx, j, time.Millisecond)
	reg.EmitJobFailed(ctx, j, errors.New("boom"), 3)
	reg.EmitJobRetrying(ctx, j, 1, time.Now())
	reg.EmitJobTimedOut(ctx, j, time.Second)
	reg.EmitArtifactCompiled(ctx, &artifact.Artifact{TenantID: "t1", RuleID: "r1"})
	reg.EmitShutdown(ctx)

	checks := []struct {
		name string
		got  int
	}{
		{"queued", rec.queued},
		{"started", rec.started},
		{"completed", rec.completed},
		{"failed", rec.failed},
		{"retrying", rec.retrying},
		{"timedOut", rec.timedOut},
		{"artifacts", rec.artifacts},
		{"shutdowns", rec.shutdowns},
	}
	for _, c := range checks {
		if c.got != 1 {
			t.Errorf("%s fired %d times, want 1", c.name, c.got)
		}
	}
}

func TestRegistry_PartialExtensionOnlyGetsItsHooks(t *testing.T) {
	reg := ext.NewRegistry(discardLogger())
	q := &queuedOnly{}
	reg.Register(q)

	ctx := context.Background()
	j := testJob()

	reg.EmitJobQueued(ctx, j)
	reg.EmitJobStarted(ctx, j) // no JobStarted hook on queuedOnly; must not panic
	reg.EmitShutdown(ctx)

	if q.queued != 1 {
		t.Errorf("queued fired %d times, want 1", q.queued)
	}
}

func TestRegistry_HookErrorsAreSwallowed(t *testing.T) {
	reg := ext.NewRegistry(discardLogger())
	failing := &recorder{err: errors.New("hook exploded")}
	healthy := &recorder{}
	reg.Register(failing)
	reg.Register(healthy)

	// Emitting must not panic, and the healthy extension still fires.
	reg.EmitJobQueued(context.Background(), testJob())

	if failing.queued != 1 {
		t.Errorf("failing extension fired %d times, want 1", failing.queued)
	}
	if healthy.queued != 1 {
		t.Errorf("healthy extension fired %d times, want 1", healthy.queued)
	}
}

func TestRegistry_NotificationOrder(t *testing.T) {
	reg := ext.NewRegistry(discardLogger())

	var order []string
	first := hookFunc{name: "first", fn: func() { order = append(order, "first") }}
	second := hookFunc{name: "second", fn: func() { order = append(order, "second") }}
	reg.Register(first)
	reg.Register(second)

	reg.EmitJobQueued(context.Background(), testJob())

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("notification order = %v, want [first second]", order)
	}
}

type hookFunc struct {
	name string
	fn   func()
}

func (h hookFunc) Name() string { return h.name }

func (h hookFunc) OnJobQueued(context.Context, *job.Job) error {
	h.fn()
	return nil
}
