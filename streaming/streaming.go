// Package streaming implements the Streaming Manager (component F): a
// per-execution ring buffer with subscriber fan-out, transport-agnostic
// core grounded in itsneelabh-gomind/ui/transports/sse/sse.go's
// channel-based event delivery shape. The HTTP-facing SSE handler lives in
// cmd/workflowd and adapts this package's Subscribe/Broadcast surface onto
// the wire format from spec.md §6.
package streaming

import (
	"sync"
	"time"
)

// EventType enumerates spec.md §3's StreamEvent.eventType values.
type EventType string

const (
	EventExecutionStarted  EventType = "execution_started"
	EventStepStarted       EventType = "step_started"
	EventStepCompleted     EventType = "step_completed"
	EventStepFailed        EventType = "step_failed"
	EventStepSkipped       EventType = "step_skipped"
	EventProgressUpdate    EventType = "progress_update"
	EventLog               EventType = "log"
	EventError             EventType = "error"
	EventExecutionCompleted EventType = "execution_completed"
	EventExecutionFailed   EventType = "execution_failed"
)

var terminalEvents = map[EventType]bool{
	EventExecutionCompleted: true,
	EventExecutionFailed:    true,
}

// StreamEvent is one ordered event on an execution's stream (spec.md §3).
type StreamEvent struct {
	EventType   EventType      `json:"event"`
	ExecutionID string         `json:"execution_id"`
	Timestamp   time.Time      `json:"timestamp"`
	Data        map[string]any `json:"data,omitempty"`
}

const defaultRingCapacity = 1000

// ring is a fixed-capacity, oldest-discarded event buffer.
type ring struct {
	buf   []StreamEvent
	cap   int
	start int
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = defaultRingCapacity
	}
	return &ring{cap: capacity}
}

func (r *ring) push(e StreamEvent) {
	if len(r.buf) < r.cap {
		r.buf = append(r.buf, e)
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % r.cap
}

// snapshot returns the buffered events in issue order.
func (r *ring) snapshot() []StreamEvent {
	out := make([]StreamEvent, 0, len(r.buf))
	if len(r.buf) < r.cap {
		out = append(out, r.buf...)
		return out
	}
	out = append(out, r.buf[r.start:]...)
	out = append(out, r.buf[:r.start]...)
	return out
}

// subscriber is one consumer of an execution's stream. Ch is buffered so a
// slow reader never blocks the broadcaster; a full channel drops the event
// for that subscriber only (spec.md §4.6 "tolerates callback errors without
// affecting other subscribers").
type subscriber struct {
	ch     chan StreamEvent
	closed bool
}

const subscriberBufferSize = 256

// execStream is the per-execution state: the ring buffer, its subscribers,
// and terminal bookkeeping for TTL cleanup.
type execStream struct {
	mu          sync.Mutex
	buf         *ring
	subscribers map[int]*subscriber
	nextSubID   int
	terminal    bool
	terminalAt  time.Time
}

// Manager is the Streaming Manager. The zero value is not usable; use
// NewManager. Safe for concurrent use; Broadcast is the single writer per
// execution (spec.md §4.6 "the broadcaster is the single writer").
type Manager struct {
	mu         sync.Mutex
	streams    map[string]*execStream
	ringCap    int
	ttl        time.Duration
}

// ManagerOption configures NewManager.
type ManagerOption func(*Manager)

// WithRingCapacity overrides the default 1000-event ring buffer size.
func WithRingCapacity(n int) ManagerOption {
	return func(m *Manager) { m.ringCap = n }
}

// WithTTL overrides the default 1-hour terminal-stream cleanup window.
func WithTTL(d time.Duration) ManagerOption {
	return func(m *Manager) { m.ttl = d }
}

// NewManager constructs a Streaming Manager with default ring capacity
// (1000) and TTL (1h), as specified in spec.md §4.6.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		streams: make(map[string]*execStream),
		ringCap: defaultRingCapacity,
		ttl:     time.Hour,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) streamFor(executionID string) *execStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.streams[executionID]
	if !ok {
		s = &execStream{buf: newRing(m.ringCap), subscribers: make(map[int]*subscriber)}
		m.streams[executionID] = s
	}
	return s
}

// Broadcast appends event to executionID's ring buffer and delivers it to
// every current subscriber. It never blocks: a subscriber whose channel is
// full simply misses this event (it can still replay from the ring on a
// fresh Subscribe, as long as the event hasn't since been evicted).
func (m *Manager) Broadcast(executionID string, event StreamEvent) {
	event.ExecutionID = executionID
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	s := m.streamFor(executionID)

	s.mu.Lock()
	s.buf.push(event)
	if terminalEvents[event.EventType] {
		s.terminal = true
		s.terminalAt = event.Timestamp
	}
	subs := make([]*subscriber, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- event:
		default:
		}
	}
}

// Subscription is a live handle on an execution's stream.
type Subscription struct {
	Events <-chan StreamEvent
	cancel func()
}

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() { s.cancel() }

// Subscribe attaches to executionID's stream. The returned channel first
// replays every event currently in the ring buffer (in issue order), then
// delivers live events as Broadcast is called. If the stream is already
// terminal, the replay is every event still in the ring buffer and the channel is closed
// immediately after (spec.md §4.6 "late subscribers still receive the full
// ring buffer then close").
func (m *Manager) Subscribe(executionID string) *Subscription {
	s := m.streamFor(executionID)

	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	sub := &subscriber{ch: make(chan StreamEvent, subscriberBufferSize)}
	replay := s.buf.snapshot()
	alreadyTerminal := s.terminal
	if !alreadyTerminal {
		s.subscribers[id] = sub
	}
	s.mu.Unlock()

	out := make(chan StreamEvent, subscriberBufferSize)
	go func() {
		defer close(out)
		for _, e := range replay {
			out <- e
		}
		if alreadyTerminal {
			return
		}
		for e := range sub.ch {
			out <- e
		}
	}()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if existing, ok := s.subscribers[id]; ok && !existing.closed {
			existing.closed = true
			delete(s.subscribers, id)
			close(existing.ch)
		}
	}

	return &Subscription{Events: out, cancel: cancel}
}

// Cleanup removes every stream whose terminal event is older than the
// manager's TTL, closing any subscribers still attached to it. Intended to
// be called periodically (spec.md §4.6 "an in-memory registry cleans up
// closed streams whose terminal event is older than a configurable TTL").
func (m *Manager) Cleanup(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, s := range m.streams {
		s.mu.Lock()
		expired := s.terminal && now.Sub(s.terminalAt) > m.ttl
		if expired {
			for subID, sub := range s.subscribers {
				if !sub.closed {
					sub.closed = true
					close(sub.ch)
				}
				delete(s.subscribers, subID)
			}
		}
		s.mu.Unlock()
		if expired {
			delete(m.streams, id)
			removed++
		}
	}
	return removed
}

// ActiveStreams reports how many executions currently have stream state.
// Exposed for metrics/testing.
func (m *Manager) ActiveStreams() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}
