// Package ext defines the extension system for compilation lifecycle
// events. Extensions are notified when jobs are queued, started,
// completed, failed, retried, or timed out, and can react to them —
// logging, metrics, streaming to observers, etc.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about. Hook errors are logged and never
// propagated: a misbehaving extension must not affect compilation
// correctness or progress.
package ext

import (
	"context"
	"time"

	"github.com/Lakakaku/alpha-sub015/artifact"
	"github.com/Lakakaku/alpha-sub015/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// JobQueued is called after a job is accepted into the queue.
type JobQueued interface {
	OnJobQueued(ctx context.Context, j *job.Job) error
}

// JobStarted is called when a job begins executing.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobCompleted is called after a job finishes successfully.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called when a job fails terminally: its attempts are
// exhausted and it is permanently discarded.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error, attempts int) error
}

// JobRetrying is called when a job fails but is scheduled for
// re-insertion at the queue head after a backoff delay.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error
}

// JobTimedOut is called when a job's advisory timeout fires. The
// compilation keeps running; this is an observability signal only.
type JobTimedOut interface {
	OnJobTimedOut(ctx context.Context, j *job.Job, after time.Duration) error
}

// ArtifactCompiled is called after a compiled artifact is written to
// the versioned cache.
type ArtifactCompiled interface {
	OnArtifactCompiled(ctx context.Context, a *artifact.Artifact) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
