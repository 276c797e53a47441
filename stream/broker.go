package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Lakakaku/alpha-sub015/artifact"
	"github.com/Lakakaku/alpha-sub015/ext"
	"github.com/Lakakaku/alpha-sub015/id"
	"github.com/Lakakaku/alpha-sub015/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension        = (*Broker)(nil)
	_ ext.JobQueued        = (*Broker)(nil)
	_ ext.JobStarted       = (*Broker)(nil)
	_ ext.JobCompleted     = (*Broker)(nil)
	_ ext.JobFailed        = (*Broker)(nil)
	_ ext.JobRetrying      = (*Broker)(nil)
	_ ext.JobTimedOut      = (*Broker)(nil)
	_ ext.ArtifactCompiled = (*Broker)(nil)
	_ ext.Shutdown         = (*Broker)(nil)
)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 256

// Broker is the compilation event bus. It implements the ext.Extension
// hook interfaces to receive lifecycle events and fans them out to
// subscribers via topic-based pub/sub.
type Broker struct {
	topics *TopicRegistry
	logger *slog.Logger

	// Subscriber management.
	mu          sync.Mutex
	subscribers map[string]*Subscriber

	// Metrics.
	totalPublished atomic.Int64

	// Config.
	bufferSize int
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) { b.bufferSize = size }
}

// NewBroker creates a new event broker.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	b := &Broker{
		topics:      NewTopicRegistry(),
		logger:      logger,
		subscribers: make(map[string]*Subscriber),
		bufferSize:  DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements ext.Extension.
func (b *Broker) Name() string { return "stream-broker" }

// Topics returns the topic registry for external use.
func (b *Broker) Topics() *TopicRegistry { return b.topics }

// Subscribe creates a new subscriber on the given topics.
func (b *Broker) Subscribe(subscriberID string, topics ...string) *Subscriber {
	sub := NewSubscriber(subscriberID, b.bufferSize)

	b.mu.Lock()
	b.subscribers[subscriberID] = sub
	b.mu.Unlock()

	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
	return sub
}

// Unsubscribe removes a subscriber from specific topics.
func (b *Broker) Unsubscribe(subscriberID string, topics ...string) {
	for _, topic := range topics {
		b.topics.Unsubscribe(topic, subscriberID)
	}
}

// RemoveSubscriber removes a subscriber from all topics and closes it.
func (b *Broker) RemoveSubscriber(subscriberID string) {
	b.topics.UnsubscribeAll(subscriberID)

	b.mu.Lock()
	sub, ok := b.subscribers[subscriberID]
	delete(b.subscribers, subscriberID)
	b.mu.Unlock()

	if ok {
		sub.Close()
	}
}

// Stats returns broker statistics.
func (b *Broker) Stats() BrokerStats {
	b.mu.Lock()
	count := len(b.subscribers)
	b.mu.Unlock()

	return BrokerStats{
		TopicCount:      b.topics.TopicCount(),
		SubscriberCount: count,
		TotalPublished:  b.totalPublished.Load(),
	}
}

// BrokerStats contains broker metrics.
type BrokerStats struct {
	TopicCount      int   `json:"topic_count"`
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
}

// publish stamps the event with an identifier and broadcasts it to all
// matching topics.
func (b *Broker) publish(evt *Event) {
	evt.ID = id.NewEventID()
	topics := resolveTopics(evt)
	delivered := b.topics.Broadcast(topics, evt)
	b.totalPublished.Add(int64(delivered))
}

// mustMarshal marshals data to JSON, panicking on error (programming error).
func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic("stream: marshal event data: " + err.Error())
	}
	return data
}

func jobData(j *job.Job) JobEventData {
	return JobEventData{
		JobID:    j.ID.String(),
		JobType:  string(j.Type),
		TenantID: j.TenantID,
		EntityID: j.EntityID,
		Priority: string(j.Priority),
	}
}

// ── Job lifecycle hooks ─────────────────────────────

func (b *Broker) OnJobQueued(_ context.Context, j *job.Job) error {
	b.publish(&Event{
		Type:      EventJobQueued,
		Timestamp: time.Now().UTC(),
		Topic:     TenantTopic(j.TenantID),
		Data:      mustMarshal(jobData(j)),
	})
	return nil
}

func (b *Broker) OnJobStarted(_ context.Context, j *job.Job) error {
	b.publish(&Event{
		Type:      EventJobStarted,
		Timestamp: time.Now().UTC(),
		Topic:     TenantTopic(j.TenantID),
		Data:      mustMarshal(jobData(j)),
	})
	return nil
}

func (b *Broker) OnJobCompleted(_ context.Context, j *job.Job, elapsed time.Duration) error {
	data := jobData(j)
	data.ElapsedMs = elapsed.Milliseconds()
	b.publish(&Event{
		Type:      EventJobCompleted,
		Timestamp: time.Now().UTC(),
		Topic:     TenantTopic(j.TenantID),
		Data:      mustMarshal(data),
	})
	return nil
}

func (b *Broker) OnJobFailed(_ context.Context, j *job.Job, jobErr error, attempts int) error {
	data := jobData(j)
	data.Error = jobErr.Error()
	data.Attempt = attempts
	b.publish(&Event{
		Type:      EventJobFailed,
		Timestamp: time.Now().UTC(),
		Topic:     TenantTopic(j.TenantID),
		Data:      mustMarshal(data),
	})
	return nil
}

func (b *Broker) OnJobRetrying(_ context.Context, j *job.Job, attempt int, nextRunAt time.Time) error {
	data := jobData(j)
	data.Attempt = attempt
	data.NextRunAt = nextRunAt.Format(time.RFC3339)
	b.publish(&Event{
		Type:      EventJobRetrying,
		Timestamp: time.Now().UTC(),
		Topic:     TenantTopic(j.TenantID),
		Data:      mustMarshal(data),
	})
	return nil
}

func (b *Broker) OnJobTimedOut(_ context.Context, j *job.Job, after time.Duration) error {
	data := jobData(j)
	data.ElapsedMs = after.Milliseconds()
	b.publish(&Event{
		Type:      EventJobTimedOut,
		Timestamp: time.Now().UTC(),
		Topic:     TenantTopic(j.TenantID),
		Data:      mustMarshal(data),
	})
	return nil
}

// ── Artifact hooks ──────────────────────────────────

func (b *Broker) OnArtifactCompiled(_ context.Context, a *artifact.Artifact) error {
	b.publish(&Event{
		Type:      EventArtifactCompiled,
		Timestamp: time.Now().UTC(),
		Topic:     TenantTopic(a.TenantID),
		Data: mustMarshal(ArtifactEventData{
			TenantID: a.TenantID,
			RuleID:   a.RuleID,
			Version:  a.Version,
			Groups:   len(a.QuestionGroups),
		}),
	})
	return nil
}

// ── Shutdown ────────────────────────────────────────

func (b *Broker) OnShutdown(_ context.Context) error {
	b.mu.Lock()
	subs := b.subscribers
	b.subscribers = make(map[string]*Subscriber)
	b.mu.Unlock()

	for id, sub := range subs {
		b.topics.UnsubscribeAll(id)
		sub.Close()
	}
	b.logger.Info("stream broker shut down")
	return nil
}
