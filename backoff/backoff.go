// Package backoff provides retry delay strategies and the retry
// controller that decides whether a failed compilation job is re-queued
// or permanently discarded. Strategies are stateless and safe for
// concurrent use.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry.
type Strategy interface {
	// Delay returns how long to wait before re-queueing a job that has
	// executed attempts times (attempts >= 1).
	Delay(attempts int) time.Duration
}

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant always returns the same delay regardless of attempt count.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential grows the delay geometrically with the attempt count.
// Delay = min(Initial * Base^attempts, Max).
type Exponential struct {
	Initial time.Duration
	Base    float64
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy. A base of 2
// doubles the delay with every failed attempt.
func NewExponential(initial time.Duration, base float64, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Base: base, Max: maxDelay}
}

// Delay returns Initial * Base^attempts, capped at Max.
func (e *Exponential) Delay(attempts int) time.Duration {
	d := time.Duration(float64(e.Initial) * math.Pow(e.Base, float64(attempts)))
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// ──────────────────────────────────────────────────
// ExponentialWithJitter (full jitter)
// ──────────────────────────────────────────────────

// ExponentialWithJitter applies full jitter to an exponential base.
// Delay = random value in [0, min(Initial * Base^attempts, Max)].
// This prevents thundering herd when many retries happen simultaneously.
type ExponentialWithJitter struct {
	Initial time.Duration
	Base    float64
	Max     time.Duration
}

// NewExponentialWithJitter creates an exponential backoff with full jitter.
func NewExponentialWithJitter(initial time.Duration, base float64, maxDelay time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Initial: initial, Base: base, Max: maxDelay}
}

// Delay returns a random duration in [0, min(Initial * Base^attempts, Max)].
func (e *ExponentialWithJitter) Delay(attempts int) time.Duration {
	base := float64(e.Initial) * math.Pow(e.Base, float64(attempts))
	if e.Max > 0 && base > float64(e.Max) {
		base = float64(e.Max)
	}
	return time.Duration(rand.Float64() * base) //nolint:gosec // jitter intentionally uses non-crypto rand
}

// DefaultStrategy returns the default backoff used by the engine:
// Exponential with 1s initial, base 2, and 1m max.
func DefaultStrategy() Strategy {
	return NewExponential(1*time.Second, 2, 1*time.Minute)
}
