// Package worker executes a single compilation job: it runs the
// matching compiler routine through the middleware chain, arms the
// advisory timeout timer, and applies the retry policy on failure.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	rulecache "github.com/Lakakaku/alpha-sub015"
	"github.com/Lakakaku/alpha-sub015/backoff"
	"github.com/Lakakaku/alpha-sub015/compiler"
	"github.com/Lakakaku/alpha-sub015/ext"
	"github.com/Lakakaku/alpha-sub015/job"
	"github.com/Lakakaku/alpha-sub015/middleware"
	"github.com/Lakakaku/alpha-sub015/queue"
)

// Executor runs one job through middleware and the compiler, then
// handles retry scheduling, discard, and lifecycle events.
type Executor struct {
	compiler *compiler.Compiler
	retry    *backoff.Controller
	queue    *queue.Manager
	exts     *ext.Registry
	clock    rulecache.Clock
	mw       middleware.Middleware
	logger   *slog.Logger

	// wake signals the drain loop after a retry re-inserts a job at
	// the queue head. May be nil.
	wake func()
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	comp *compiler.Compiler,
	retry *backoff.Controller,
	q *queue.Manager,
	exts *ext.Registry,
	clock rulecache.Clock,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		compiler: comp,
		retry:    retry,
		queue:    q,
		exts:     exts,
		clock:    clock,
		mw:       middleware.Chain(mws...),
		logger:   logger,
	}
}

// SetWake sets the drain-loop wake callback invoked when a retried job
// re-enters the queue.
func (e *Executor) SetWake(fn func()) { e.wake = fn }

// Execute runs a job through the middleware chain and the compiler
// routine matching its type.
//
// The job's attempt counter increments at execution start. If the
// advisory timeout fires before settlement, a timeout event is emitted
// but the compilation keeps running and its eventual result still
// applies. On success: mark completed, emit JobCompleted. On failure
// with attempts remaining: schedule re-insertion at the queue head
// after the backoff delay, emit JobRetrying. On failure with attempts
// exhausted: discard permanently, emit JobFailed, and return an error
// wrapping ErrMaxAttemptsExceeded.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	j.Attempts++
	j.State = job.StateRunning
	started := e.clock.Now()
	j.StartedAt = &started

	var timer rulecache.Timer
	if j.Timeout > 0 {
		timer = e.clock.AfterFunc(j.Timeout, func() {
			// Advisory only: the in-flight compilation is not cancelled.
			e.exts.EmitJobTimedOut(context.Background(), j, j.Timeout)
			e.logger.Warn("compilation exceeded advisory timeout",
				slog.String("job_id", j.ID.String()),
				slog.String("job_type", string(j.Type)),
				slog.String("tenant_id", j.TenantID),
				slog.Duration("timeout", j.Timeout),
			)
		})
	}

	terminal := func(ctx context.Context) error {
		return e.compile(ctx, j)
	}

	err := e.mw(ctx, j, terminal)

	if timer != nil {
		timer.Stop()
	}

	// Unregister before settling: a retry with a near-zero backoff may
	// re-enter the queue and be popped again before Execute returns, and
	// a late unregister would delete the new active entry.
	e.queue.Done(j.ID.String())

	elapsed := e.clock.Now().Sub(started)

	if err != nil {
		return e.handleFailure(ctx, j, err)
	}

	e.handleSuccess(ctx, j, elapsed)
	return nil
}

// compile invokes the compiler routine matching the job type.
func (e *Executor) compile(ctx context.Context, j *job.Job) error {
	switch j.Type {
	case job.TypeRule:
		a, err := e.compiler.CompileRule(ctx, j.TenantID, j.EntityID)
		if err != nil {
			return err
		}
		e.exts.EmitArtifactCompiled(ctx, a)
		return nil
	case job.TypeTrigger:
		return e.compiler.CompileTrigger(ctx, j.TenantID, j.EntityID)
	case job.TypeFullRefresh:
		master, err := e.compiler.CompileFullContext(ctx, j.TenantID)
		if err != nil {
			return err
		}
		if master != nil {
			e.exts.EmitArtifactCompiled(ctx, master)
		}
		return nil
	default:
		// Unknown types fall through the retry policy like any other
		// failure; they will be discarded once attempts run out.
		return rulecache.ErrRuleNotFound
	}
}

// handleSuccess marks the job completed and emits the lifecycle event.
func (e *Executor) handleSuccess(ctx context.Context, j *job.Job, elapsed time.Duration) {
	j.State = job.StateCompleted
	done := e.clock.Now()
	j.CompletedAt = &done

	e.exts.EmitJobCompleted(ctx, j, elapsed)
}

// handleFailure applies the retry policy: re-queue at the head after a
// backoff delay, or discard permanently once attempts are exhausted.
func (e *Executor) handleFailure(ctx context.Context, j *job.Job, compileErr error) error {
	j.LastError = compileErr.Error()

	delay, retry := e.retry.Next(j.Attempts, j.MaxAttempts)
	if !retry {
		j.State = job.StateDiscarded
		e.exts.EmitJobFailed(ctx, j, compileErr, j.Attempts)

		e.logger.Warn("job discarded after exhausting attempts",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", string(j.Type)),
			slog.String("tenant_id", j.TenantID),
			slog.Int("attempts", j.Attempts),
			slog.String("error", compileErr.Error()),
		)

		return fmt.Errorf("%w: %w", rulecache.ErrMaxAttemptsExceeded, compileErr)
	}

	j.State = job.StateRetrying
	nextRunAt := e.clock.Now().Add(delay)
	e.exts.EmitJobRetrying(ctx, j, j.Attempts, nextRunAt)

	e.logger.Info("job scheduled for retry",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", string(j.Type)),
		slog.String("tenant_id", j.TenantID),
		slog.Int("attempt", j.Attempts),
		slog.Int("max_attempts", j.MaxAttempts),
		slog.Duration("delay", delay),
	)

	// Future-dated re-submission: the job re-enters the queue head
	// after the delay and is picked up by the next drain pass. The
	// original caller never blocks on this.
	e.clock.AfterFunc(delay, func() {
		j.State = job.StatePending
		if !e.queue.PushFront(j) {
			// The queue closed while the timer was pending; the job is
			// abandoned along with the rest of the shutdown state.
			return
		}
		if e.wake != nil {
			e.wake()
		}
	})

	return compileErr
}
