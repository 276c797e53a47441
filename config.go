package rulecache

import "time"

// Config holds configuration for the compilation engine.
type Config struct {
	// Concurrency is the maximum number of compilation jobs executing
	// simultaneously.
	Concurrency int

	// JobTimeout is the advisory per-job execution deadline. When it
	// fires a timeout event is emitted, but the in-flight compilation
	// is not cancelled; its eventual result still applies.
	JobTimeout time.Duration

	// MaxAttempts is the total number of executions a job gets before
	// it is permanently discarded.
	MaxAttempts int

	// BackoffInitial is the base delay unit for retry scheduling.
	BackoffInitial time.Duration

	// BackoffBase is the exponent base for retry delays:
	// delay = BackoffInitial * BackoffBase^attempts.
	BackoffBase float64

	// DrainInterval is how often the background tick triggers a drain
	// pass even when no new work has been queued.
	DrainInterval time.Duration

	// ShutdownGracePeriod is the maximum time Shutdown waits for
	// in-flight jobs to settle.
	ShutdownGracePeriod time.Duration

	// ShutdownPollInterval is how often Shutdown re-checks the active
	// set while waiting.
	ShutdownPollInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:          5,
		JobTimeout:           30 * time.Second,
		MaxAttempts:          3,
		BackoffInitial:       1 * time.Second,
		BackoffBase:          2,
		DrainInterval:        5 * time.Second,
		ShutdownGracePeriod:  30 * time.Second,
		ShutdownPollInterval: 100 * time.Millisecond,
	}
}
