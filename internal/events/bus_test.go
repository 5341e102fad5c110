package events

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/EscasanN/mcphost/internal/mcp"
)

func waitFor(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
		return nil
	}
}

func TestBusPublishSubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	received := make(chan Event, 1)
	bus.Subscribe(func(e Event) {
		received <- e
	})

	bus.Publish(NewSessionStatusChangedEvent("fs", mcp.StateConnecting, mcp.StateReady, nil))

	got := waitFor(t, received)
	evt, ok := got.(SessionStatusChangedEvent)
	if !ok {
		t.Fatalf("expected SessionStatusChangedEvent, got %T", got)
	}
	if evt.SessionID() != "fs" {
		t.Errorf("expected session fs, got %q", evt.SessionID())
	}
	if evt.NewState != mcp.StateReady {
		t.Errorf("expected new state ready, got %v", evt.NewState)
	}
}

func TestBusMultipleSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var count atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		bus.Subscribe(func(e Event) {
			count.Add(1)
			wg.Done()
		})
	}

	bus.Publish(NewLogReceivedEvent("fs", "hello"))
	wg.Wait()

	if got := count.Load(); got != 3 {
		t.Errorf("expected 3 deliveries, got %d", got)
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var calls atomic.Int32
	unsub := bus.Subscribe(func(e Event) {
		calls.Add(1)
	})
	unsub()

	bus.Publish(NewToolCallStartedEvent("fs", "c1", "read_file"))
	time.Sleep(50 * time.Millisecond)

	if got := calls.Load(); got != 0 {
		t.Errorf("expected no deliveries after unsubscribe, got %d", got)
	}
}

func TestBusToolCallLifecycle(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	received := make(chan Event, 2)
	bus.Subscribe(func(e Event) {
		received <- e
	})

	bus.Publish(NewToolCallStartedEvent("fs", "c1", "read_file"))
	bus.Publish(NewToolCallFinishedEvent("fs", "c1", "read_file", false, 42*time.Millisecond))

	started := waitFor(t, received)
	if started.Type() != EventToolCallStarted {
		t.Fatalf("expected started event, got %v", started.Type())
	}
	finished := waitFor(t, received)
	fin, ok := finished.(ToolCallFinishedEvent)
	if !ok {
		t.Fatalf("expected ToolCallFinishedEvent, got %T", finished)
	}
	if fin.CallID != "c1" || fin.IsError {
		t.Errorf("unexpected finished event: %+v", fin)
	}
}
