package stream

import "sync/atomic"

// Subscriber receives events from topics it is subscribed to over a
// buffered channel. Delivery is fire-and-forget: when the buffer is
// full the event is dropped for this subscriber rather than blocking
// the publisher.
type Subscriber struct {
	// id uniquely identifies this subscriber.
	id string

	// ch is the buffered channel events are sent on.
	ch chan *Event

	// filter is an optional predicate. If set, only events matching
	// the filter are delivered.
	filter func(*Event) bool

	// dropped counts events lost to a full buffer.
	dropped atomic.Int64

	// closed prevents double-close of the channel.
	closed atomic.Bool
}

// NewSubscriber creates a subscriber with the given buffer size.
func NewSubscriber(id string, bufferSize int) *Subscriber {
	return &Subscriber{
		id: id,
		ch: make(chan *Event, bufferSize),
	}
}

// ID returns the subscriber identifier.
func (s *Subscriber) ID() string { return s.id }

// C returns the read-only event channel.
func (s *Subscriber) C() <-chan *Event { return s.ch }

// Dropped returns how many events were dropped due to a full buffer.
func (s *Subscriber) Dropped() int64 { return s.dropped.Load() }

// SetFilter sets an optional event filter predicate. Must be called
// before the subscriber starts receiving events.
func (s *Subscriber) SetFilter(fn func(*Event) bool) {
	s.filter = fn
}

// send attempts to deliver an event to the subscriber. Returns false
// if the event was dropped (closed, filter mismatch, or full buffer).
func (s *Subscriber) send(evt *Event) bool {
	if s.closed.Load() {
		return false
	}

	if s.filter != nil && !s.filter(evt) {
		return false
	}

	// Non-blocking send.
	select {
	case s.ch <- evt:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Close closes the subscriber channel. Safe to call multiple times.
func (s *Subscriber) Close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}
