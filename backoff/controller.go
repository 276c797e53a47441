package backoff

import "time"

// Controller decides the fate of a failed job: re-queue after a delay,
// or discard permanently once the attempt ceiling is reached.
type Controller struct {
	maxAttempts int
	strategy    Strategy
}

// NewController creates a Controller. maxAttempts bounds the total
// number of executions a job gets; strategy computes the delay between
// them. A nil strategy falls back to DefaultStrategy.
func NewController(maxAttempts int, strategy Strategy) *Controller {
	if strategy == nil {
		strategy = DefaultStrategy()
	}
	return &Controller{maxAttempts: maxAttempts, strategy: strategy}
}

// MaxAttempts returns the configured attempt ceiling.
func (c *Controller) MaxAttempts() int { return c.maxAttempts }

// Next reports whether a job that has executed attempts times should be
// retried, and after what delay. ceiling overrides the controller's
// default attempt ceiling when positive (per-job override). retry is
// false once attempts have reached the ceiling; the job is then
// discarded permanently.
func (c *Controller) Next(attempts, ceiling int) (delay time.Duration, retry bool) {
	if ceiling <= 0 {
		ceiling = c.maxAttempts
	}
	if attempts >= ceiling {
		return 0, false
	}
	return c.strategy.Delay(attempts), true
}
