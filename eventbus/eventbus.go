// Package eventbus implements the per-task publish/subscribe fabric
// described in spec.md §4.4: typed Events fan out to every subscriber in
// publish order, a full subscriber queue drops its oldest entry rather
// than blocking the publisher, and Close delivers an end-of-stream signal
// to every subscriber before their channel closes.
//
// The design is grounded on the teacher's runtime/agent/hooks.Bus (a
// mutex-protected subscriber registry with a snapshot-then-fan-out
// Publish), generalized from synchronous in-goroutine delivery to
// per-subscriber bounded channels so one slow subscriber cannot stall
// another or the publisher (spec.md §4.4's "the publisher never blocks on
// slow consumers").
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Kind identifies the category of an Event (spec.md §4.4's "Event kinds").
type Kind string

const (
	KindMessage         Kind = "message"
	KindStreamChunk     Kind = "stream_chunk"
	KindToolCallStart   Kind = "tool_call_start"
	KindToolCallResult  Kind = "tool_call_result"
	KindAgentStatus     Kind = "agent_status"
	KindTaskUpdate      Kind = "task_update"
	KindArtifactCreated Kind = "artifact_created"
	KindArtifactUpdated Kind = "artifact_updated"
	KindLogEntry        Kind = "log_entry"
)

// Event is a single typed occurrence published on a Bus. Seq is assigned
// by the Bus at publish time and is strictly increasing within a bus
// instance, giving subscribers a total order even when Payload carries no
// ordering information of its own.
type Event struct {
	Kind      Kind
	Seq       uint64
	Timestamp time.Time
	Payload   any
}

// DefaultQueueSize is the number of buffered events each subscriber holds
// before the drop-oldest policy engages.
const DefaultQueueSize = 256

// Bus is a per-task, in-memory event bus. The zero value is not usable;
// construct with New.
type Bus struct {
	mu        sync.Mutex
	subs      map[*Subscription]struct{}
	closed    bool
	nextSeq   uint64
	queueSize int
}

// Option configures a Bus.
type Option func(*Bus)

// WithQueueSize overrides DefaultQueueSize for every subscriber the bus
// creates.
func WithQueueSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// New constructs a ready-to-use Bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs:      make(map[*Subscription]struct{}),
		queueSize: DefaultQueueSize,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Publish delivers event to every currently registered subscriber. It
// never blocks: a subscriber whose queue is full has its oldest queued
// event discarded (and its Dropped counter incremented) to make room.
// Publish is a no-op after Close.
//
// Publish is the bus's single serialization point: concurrent callers
// serialize on the bus mutex, so the sequence each subscriber observes is
// consistent with every other subscriber's (spec.md §4.4's ordering
// guarantee).
func (b *Bus) Publish(kind Kind, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.nextSeq++
	event := Event{Kind: kind, Seq: b.nextSeq, Timestamp: time.Now(), Payload: payload}
	for sub := range b.subs {
		sub.deliver(event)
	}
}

// Subscribe registers a new subscriber and returns its handle. Events
// published before Subscribe returns are not replayed (spec.md §4.4:
// "does NOT replay history").
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		bus:    b,
		events: make(chan Event, b.queueSize),
	}
	if b.closed {
		close(sub.events)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Close terminates the bus. Every subscriber's channel is closed,
// signaling end-of-stream; no further Publish calls have any effect.
// Close is idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.events)
	}
	b.subs = make(map[*Subscription]struct{})
}

// Subscription is an ordered stream of events observed from the point of
// Subscribe onward. Receive from Events until the channel closes to
// observe end-of-stream; call Close to unsubscribe early.
type Subscription struct {
	bus     *Bus
	events  chan Event
	dropped atomic.Int64
	once    sync.Once
}

// Events returns the channel of delivered events. The channel closes when
// the bus closes or the subscription is closed.
func (s *Subscription) Events() <-chan Event { return s.events }

// Dropped reports how many events were discarded for this subscriber
// under the drop-oldest policy because its queue was full.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Close unregisters the subscription. Safe to call multiple times.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		if _, ok := s.bus.subs[s]; ok {
			delete(s.bus.subs, s)
			close(s.events)
		}
		s.bus.mu.Unlock()
	})
}

// deliver enqueues event, dropping the oldest queued event first if the
// channel is full. Callers hold the bus mutex, and s.events is only ever
// sent to or closed while holding that same mutex, so this is safe
// without additional per-subscriber locking.
func (s *Subscription) deliver(event Event) {
	for {
		select {
		case s.events <- event:
			return
		default:
		}
		select {
		case <-s.events:
			s.dropped.Add(1)
		default:
			// Raced with a consumer draining the channel; retry the send.
		}
	}
}
