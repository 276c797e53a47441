package rulecache

import "time"

// Clock abstracts time for the engine so retry scheduling and advisory
// timeouts are testable deterministically.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// AfterFunc waits for the duration and then calls f in its own
	// goroutine. The returned Timer's Stop cancels the call.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is the stoppable handle returned by Clock.AfterFunc.
type Timer interface {
	// Stop prevents the Timer from firing. It reports whether the call
	// stopped the timer before it fired.
	Stop() bool
}

// SystemClock returns a Clock backed by the time package.
func SystemClock() Clock { return systemClock{} }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
