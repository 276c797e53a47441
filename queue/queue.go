// Package queue provides the compilation job queue: a priority-ordered,
// deduplicating pending list plus the active-job registry that enforces
// the engine's concurrency limit. It is safe for concurrent use.
package queue

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/Lakakaku/alpha-sub015/job"
)

// Config defines queue behaviour.
type Config struct {
	// Concurrency limits how many jobs may be active simultaneously.
	// Pop returns nil while the active set is at this limit.
	Concurrency int

	// TenantRateLimit is the maximum sustained compilations per second
	// that may be dequeued per tenant. Zero disables rate limiting.
	TenantRateLimit float64

	// TenantRateBurst is the burst size for the per-tenant token
	// bucket. Defaults to 1 if TenantRateLimit is set but burst is zero.
	TenantRateBurst int
}

// Manager owns the pending list and the active-job registry.
type Manager struct {
	mu      sync.Mutex
	pending []*job.Job
	active  map[string]*job.Job // job ID → job
	closed  bool

	concurrency int
	rateLimit   float64
	rateBurst   int
	limiters    map[string]*rate.Limiter // tenant ID → limiter
}

// NewManager creates a Manager with the given configuration.
func NewManager(cfg Config) *Manager {
	burst := cfg.TenantRateBurst
	if cfg.TenantRateLimit > 0 && burst <= 0 {
		burst = 1
	}
	return &Manager{
		active:      make(map[string]*job.Job),
		concurrency: cfg.Concurrency,
		rateLimit:   cfg.TenantRateLimit,
		rateBurst:   burst,
		limiters:    make(map[string]*rate.Limiter),
	}
}

// Push inserts a job into the pending list. Any queued job with the
// same dedup Key is removed first (last request wins). The job is
// inserted before the first entry whose priority rank is strictly
// lower, so ordering is stable among equal priorities. Reports whether
// an existing queued job was superseded. Pushing into a closed queue
// is a no-op.
func (m *Manager) Push(j *job.Job) (superseded bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}

	superseded = m.removeKeyLocked(j.Key())

	rank := j.Priority.Rank()
	pos := len(m.pending)
	for i, queued := range m.pending {
		if queued.Priority.Rank() < rank {
			pos = i
			break
		}
	}

	m.pending = append(m.pending, nil)
	copy(m.pending[pos+1:], m.pending[pos:])
	m.pending[pos] = j
	return superseded
}

// PushFront inserts a job at the head of the pending list, ahead of all
// priorities. Used for retry re-insertion. Dedup still applies: an
// identical queued job is removed first. Reports whether the job was
// accepted; a closed queue rejects it, so a retry timer firing after
// shutdown cannot repopulate the cleared queue.
func (m *Manager) PushFront(j *job.Job) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}

	m.removeKeyLocked(j.Key())
	m.pending = append([]*job.Job{j}, m.pending...)
	return true
}

// Close marks the queue closed. Subsequent Push and PushFront calls
// are discarded; Pop and the counters keep working so shutdown can
// observe the remaining state.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

// removeKeyLocked removes the queued job with the given dedup key, if
// any. Caller must hold mu.
func (m *Manager) removeKeyLocked(key string) bool {
	for i, queued := range m.pending {
		if queued.Key() == key {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return true
		}
	}
	return false
}

// Pop removes and returns the head job, registering it as active.
// Returns nil when the queue is empty or the active set is at the
// concurrency limit. A head job whose tenant is over its rate limit is
// rotated to the tail and nil is returned; the next drain pass retries.
func (m *Manager) Pop() *job.Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.pending) == 0 {
		return nil
	}
	if m.concurrency > 0 && len(m.active) >= m.concurrency {
		return nil
	}

	j := m.pending[0]

	if m.rateLimit > 0 && !m.limiterLocked(j.TenantID).Allow() {
		// Over the tenant's budget; let other tenants' work through.
		m.pending = append(m.pending[1:], j)
		return nil
	}

	m.pending = m.pending[1:]
	m.active[j.ID.String()] = j
	return j
}

func (m *Manager) limiterLocked(tenantID string) *rate.Limiter {
	lim, ok := m.limiters[tenantID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(m.rateLimit), m.rateBurst)
		m.limiters[tenantID] = lim
	}
	return lim
}

// Done unregisters a job from the active set after it settles.
func (m *Manager) Done(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, jobID)
}

// Len returns the number of queued jobs.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// ActiveCount returns the number of jobs currently executing.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// PendingForTenant returns how many queued jobs belong to a tenant.
func (m *Manager) PendingForTenant(tenantID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, j := range m.pending {
		if j.TenantID == tenantID {
			n++
		}
	}
	return n
}

// ActiveForTenant returns how many active jobs belong to a tenant.
func (m *Manager) ActiveForTenant(tenantID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, j := range m.active {
		if j.TenantID == tenantID {
			n++
		}
	}
	return n
}

// Clear drops all queued jobs.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = nil
}

// ForceClearActive drops the active-job bookkeeping regardless of true
// completion state. Used by shutdown once the grace period elapses.
func (m *Manager) ForceClearActive() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = make(map[string]*job.Job)
}
