package queue_test

import (
	"testing"

	"github.com/Lakakaku/alpha-sub015/id"
	"github.com/Lakakaku/alpha-sub015/job"
	"github.com/Lakakaku/alpha-sub015/queue"
)

func newJob(tenantID string, typ job.Type, entityID string, p job.Priority) *job.Job {
	return &job.Job{
		ID:       id.NewJobID(),
		TenantID: tenantID,
		Type:     typ,
		EntityID: entityID,
		Priority: p,
		State:    job.StatePending,
	}
}

func newManager(concurrency int) *queue.Manager {
	return queue.NewManager(queue.Config{Concurrency: concurrency})
}

// ──────────────────────────────────────────────────
// Dedup
// ──────────────────────────────────────────────────

func TestPush_DedupSupersedesQueuedJob(t *testing.T) {
	m := newManager(5)

	first := newJob("t1", job.TypeRule, "r1", job.PriorityNormal)
	second := newJob("t1", job.TypeRule, "r1", job.PriorityHigh)

	if superseded := m.Push(first); superseded {
		t.Error("first Push reported superseded = true, want false")
	}
	if superseded := m.Push(second); !superseded {
		t.Error("second Push reported superseded = false, want true")
	}

	if got := m.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1", got)
	}

	popped := m.Pop()
	if popped == nil {
		t.Fatal("Pop() = nil, want the superseding job")
	}
	if popped.ID.String() != second.ID.String() {
		t.Errorf("Pop() returned %s, want the later job %s", popped.ID, second.ID)
	}
}

func TestPush_DifferentEntitiesDoNotDedup(t *testing.T) {
	m := newManager(5)

	m.Push(newJob("t1", job.TypeRule, "r1", job.PriorityNormal))
	m.Push(newJob("t1", job.TypeRule, "r2", job.PriorityNormal))
	m.Push(newJob("t1", job.TypeTrigger, "r1", job.PriorityNormal))
	m.Push(newJob("t2", job.TypeRule, "r1", job.PriorityNormal))

	if got := m.Len(); got != 4 {
		t.Errorf("Len() = %d, want 4 (distinct dedup keys)", got)
	}
}

// ──────────────────────────────────────────────────
// Priority ordering
// ──────────────────────────────────────────────────

func TestPop_HighPriorityFirst(t *testing.T) {
	m := newManager(5)

	low := newJob("t1", job.TypeRule, "r-low", job.PriorityLow)
	normal := newJob("t1", job.TypeRule, "r-normal", job.PriorityNormal)
	high := newJob("t1", job.TypeRule, "r-high", job.PriorityHigh)

	m.Push(low)
	m.Push(normal)
	m.Push(high)

	want := []string{high.ID.String(), normal.ID.String(), low.ID.String()}
	for i, id := range want {
		j := m.Pop()
		if j == nil {
			t.Fatalf("Pop() #%d = nil", i)
		}
		if j.ID.String() != id {
			t.Errorf("Pop() #%d = %s, want %s", i, j.ID, id)
		}
	}
}

func TestPop_StableWithinPriority(t *testing.T) {
	m := newManager(10)

	var order []string
	for _, entity := range []string{"r1", "r2", "r3", "r4"} {
		j := newJob("t1", job.TypeRule, entity, job.PriorityNormal)
		m.Push(j)
		order = append(order, j.ID.String())
	}

	for i, want := range order {
		j := m.Pop()
		if j == nil || j.ID.String() != want {
			t.Fatalf("Pop() #%d broke arrival order", i)
		}
	}
}

func TestPush_HighInsertsBeforeNormalButAfterEarlierHigh(t *testing.T) {
	m := newManager(10)

	firstHigh := newJob("t1", job.TypeRule, "h1", job.PriorityHigh)
	normal := newJob("t1", job.TypeRule, "n1", job.PriorityNormal)
	secondHigh := newJob("t1", job.TypeRule, "h2", job.PriorityHigh)

	m.Push(normal)
	m.Push(firstHigh)
	m.Push(secondHigh)

	want := []string{firstHigh.ID.String(), secondHigh.ID.String(), normal.ID.String()}
	for i, id := range want {
		j := m.Pop()
		if j == nil || j.ID.String() != id {
			t.Fatalf("Pop() #%d = %v, want %s", i, j, id)
		}
	}
}

// ──────────────────────────────────────────────────
// PushFront
// ──────────────────────────────────────────────────

func TestPushFront_JumpsAllPriorities(t *testing.T) {
	m := newManager(10)

	high := newJob("t1", job.TypeRule, "h1", job.PriorityHigh)
	retried := newJob("t1", job.TypeRule, "low-retry", job.PriorityLow)

	m.Push(high)
	m.PushFront(retried)

	j := m.Pop()
	if j == nil || j.ID.String() != retried.ID.String() {
		t.Errorf("Pop() after PushFront = %v, want the retried job", j)
	}
}

// ──────────────────────────────────────────────────
// Concurrency gate
// ──────────────────────────────────────────────────

func TestPop_RespectsConcurrencyLimit(t *testing.T) {
	m := newManager(2)

	for _, entity := range []string{"r1", "r2", "r3"} {
		m.Push(newJob("t1", job.TypeRule, entity, job.PriorityNormal))
	}

	first := m.Pop()
	second := m.Pop()
	if first == nil || second == nil {
		t.Fatal("expected two Pops to succeed under limit 2")
	}

	if third := m.Pop(); third != nil {
		t.Errorf("Pop() at concurrency limit = %v, want nil", third)
	}
	if got := m.ActiveCount(); got != 2 {
		t.Errorf("ActiveCount() = %d, want 2", got)
	}

	// Completing one job frees a slot.
	m.Done(first.ID.String())
	if third := m.Pop(); third == nil {
		t.Error("Pop() after Done = nil, want the third job")
	}
}

// ──────────────────────────────────────────────────
// Per-tenant rate limiting
// ──────────────────────────────────────────────────

func TestPop_TenantRateLimitRotatesHead(t *testing.T) {
	m := queue.NewManager(queue.Config{
		Concurrency:     10,
		TenantRateLimit: 1, // one dequeue per second, burst 1
		TenantRateBurst: 1,
	})

	m.Push(newJob("busy", job.TypeRule, "r1", job.PriorityNormal))
	m.Push(newJob("busy", job.TypeRule, "r2", job.PriorityNormal))
	m.Push(newJob("quiet", job.TypeRule, "r1", job.PriorityNormal))

	// First dequeue for "busy" consumes its token.
	first := m.Pop()
	if first == nil || first.TenantID != "busy" {
		t.Fatalf("first Pop() = %v, want busy tenant's job", first)
	}

	// Second "busy" job is over budget: rotated to the tail, nil returned.
	if j := m.Pop(); j != nil {
		t.Fatalf("Pop() for rate-limited head = %v, want nil", j)
	}

	// The quiet tenant's job moved to the head and dequeues normally.
	next := m.Pop()
	if next == nil || next.TenantID != "quiet" {
		t.Errorf("Pop() after rotation = %v, want quiet tenant's job", next)
	}
}

// ──────────────────────────────────────────────────
// Tenant counters and clearing
// ──────────────────────────────────────────────────

func TestTenantCounters(t *testing.T) {
	m := newManager(5)

	m.Push(newJob("t1", job.TypeRule, "r1", job.PriorityNormal))
	m.Push(newJob("t1", job.TypeRule, "r2", job.PriorityNormal))
	m.Push(newJob("t2", job.TypeRule, "r1", job.PriorityNormal))

	if got := m.PendingForTenant("t1"); got != 2 {
		t.Errorf("PendingForTenant(t1) = %d, want 2", got)
	}

	j := m.Pop()
	if j == nil {
		t.Fatal("Pop() = nil")
	}
	if got := m.ActiveForTenant(j.TenantID); got != 1 {
		t.Errorf("ActiveForTenant(%s) = %d, want 1", j.TenantID, got)
	}
}

func TestClearAndForceClearActive(t *testing.T) {
	m := newManager(5)

	m.Push(newJob("t1", job.TypeRule, "r1", job.PriorityNormal))
	m.Push(newJob("t1", job.TypeRule, "r2", job.PriorityNormal))

	if m.Pop() == nil {
		t.Fatal("Pop() = nil")
	}

	m.Clear()
	if got := m.Len(); got != 0 {
		t.Errorf("Len() after Clear = %d, want 0", got)
	}
	if got := m.ActiveCount(); got != 1 {
		t.Errorf("ActiveCount() after Clear = %d, want 1 (Clear leaves active)", got)
	}

	m.ForceClearActive()
	if got := m.ActiveCount(); got != 0 {
		t.Errorf("ActiveCount() after ForceClearActive = %d, want 0", got)
	}
}

func TestPop_EmptyQueueReturnsNil(t *testing.T) {
	m := newManager(5)
	if j := m.Pop(); j != nil {
		t.Errorf("Pop() on empty queue = %v, want nil", j)
	}
}

// ──────────────────────────────────────────────────
// Close
// ──────────────────────────────────────────────────

func TestClose_RejectsLateInserts(t *testing.T) {
	m := newManager(5)
	m.Close()

	if accepted := m.PushFront(newJob("t1", job.TypeRule, "r1", job.PriorityNormal)); accepted {
		t.Error("PushFront after Close = true, want false")
	}
	if superseded := m.Push(newJob("t1", job.TypeRule, "r2", job.PriorityNormal)); superseded {
		t.Error("Push after Close reported superseded = true, want false")
	}
	if got := m.Len(); got != 0 {
		t.Errorf("Len() after inserts into closed queue = %d, want 0", got)
	}
}

func TestClose_ClearedQueueStaysEmpty(t *testing.T) {
	m := newManager(5)

	retried := newJob("t1", job.TypeRule, "r1", job.PriorityNormal)
	m.Push(retried)

	m.Close()
	m.Clear()

	// A retry re-insertion racing shutdown must not repopulate the queue.
	if accepted := m.PushFront(retried); accepted {
		t.Error("PushFront after Close+Clear = true, want false")
	}
	if got := m.Len(); got != 0 {
		t.Errorf("Len() = %d, want 0", got)
	}
}
