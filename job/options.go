package job

import "time"

// Options configures job creation.
type Options struct {
	Priority    Priority
	MaxAttempts int
	Timeout     time.Duration
}

// Option mutates Options.
type Option func(*Options)

// DefaultOptions returns the baseline job options. Zero MaxAttempts and
// Timeout mean "use the engine's configured defaults".
func DefaultOptions() Options {
	return Options{
		Priority: PriorityNormal,
	}
}

// WithPriority sets the queue priority.
func WithPriority(p Priority) Option {
	return func(o *Options) { o.Priority = p }
}

// WithMaxAttempts overrides the engine's configured attempt ceiling.
func WithMaxAttempts(n int) Option {
	return func(o *Options) { o.MaxAttempts = n }
}

// WithTimeout overrides the engine's configured advisory timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}
