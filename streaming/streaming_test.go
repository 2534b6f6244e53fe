package streaming

import (
	"testing"
	"time"
)

func drain(t *testing.T, sub *Subscription, n int, timeout time.Duration) []StreamEvent {
	t.Helper()
	var got []StreamEvent
	deadline := time.After(timeout)
	for len(got) < n {
		select {
		case e, ok := <-sub.Events:
			if !ok {
				return got
			}
			got = append(got, e)
		case <-deadline:
			t.Fatalf("timed out after %d/%d events: %+v", len(got), n, got)
		}
	}
	return got
}

func TestBroadcastOrderingSingleSubscriber(t *testing.T) {
	m := NewManager()
	sub := m.Subscribe("exec-1")

	m.Broadcast("exec-1", StreamEvent{EventType: EventExecutionStarted})
	m.Broadcast("exec-1", StreamEvent{EventType: EventStepStarted, Data: map[string]any{"stepNumber": 1}})
	m.Broadcast("exec-1", StreamEvent{EventType: EventStepCompleted, Data: map[string]any{"stepNumber": 1}})

	got := drain(t, sub, 3, time.Second)
	want := []EventType{EventExecutionStarted, EventStepStarted, EventStepCompleted}
	for i, e := range got {
		if e.EventType != want[i] {
			t.Errorf("event %d: got %s, want %s", i, e.EventType, want[i])
		}
		if e.ExecutionID != "exec-1" {
			t.Errorf("event %d: executionId not stamped: %+v", i, e)
		}
	}
}

func TestLateSubscriberReplaysRingThenCloses(t *testing.T) {
	m := NewManager()
	m.Broadcast("exec-2", StreamEvent{EventType: EventExecutionStarted})
	m.Broadcast("exec-2", StreamEvent{EventType: EventStepStarted})
	m.Broadcast("exec-2", StreamEvent{EventType: EventExecutionCompleted})

	sub := m.Subscribe("exec-2")
	got := drain(t, sub, 3, time.Second)
	if got[2].EventType != EventExecutionCompleted {
		t.Fatalf("expected terminal event replayed last, got %+v", got)
	}

	select {
	case _, ok := <-sub.Events:
		if ok {
			t.Fatal("expected channel closed after terminal replay")
		}
	case <-time.After(time.Second):
		t.Fatal("expected channel to close promptly")
	}
}

func TestRingBufferDropsOldest(t *testing.T) {
	m := NewManager(WithRingCapacity(2))
	m.Broadcast("exec-3", StreamEvent{EventType: EventLog, Data: map[string]any{"n": 1}})
	m.Broadcast("exec-3", StreamEvent{EventType: EventLog, Data: map[string]any{"n": 2}})
	m.Broadcast("exec-3", StreamEvent{EventType: EventLog, Data: map[string]any{"n": 3}})

	sub := m.Subscribe("exec-3")
	got := drain(t, sub, 2, time.Second)
	if got[0].Data["n"] != 2 || got[1].Data["n"] != 3 {
		t.Fatalf("expected oldest event evicted, got %+v", got)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	m := NewManager()
	sub := m.Subscribe("exec-4")
	sub.Close()

	m.Broadcast("exec-4", StreamEvent{EventType: EventLog})

	select {
	case _, ok := <-sub.Events:
		if ok {
			t.Fatal("expected no further events after unsubscribe")
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCleanupRemovesExpiredTerminalStreams(t *testing.T) {
	m := NewManager(WithTTL(time.Minute))
	m.Broadcast("exec-5", StreamEvent{EventType: EventExecutionCompleted})
	if m.ActiveStreams() != 1 {
		t.Fatalf("expected 1 active stream, got %d", m.ActiveStreams())
	}

	removed := m.Cleanup(time.Now().Add(2 * time.Minute))
	if removed != 1 {
		t.Fatalf("expected 1 stream removed, got %d", removed)
	}
	if m.ActiveStreams() != 0 {
		t.Fatalf("expected 0 active streams after cleanup, got %d", m.ActiveStreams())
	}
}

func TestCleanupLeavesNonTerminalStreams(t *testing.T) {
	m := NewManager(WithTTL(time.Minute))
	m.Broadcast("exec-6", StreamEvent{EventType: EventStepStarted})

	removed := m.Cleanup(time.Now().Add(2 * time.Hour))
	if removed != 0 {
		t.Fatalf("expected non-terminal stream to survive cleanup, removed=%d", removed)
	}
}
