package bus

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestEventFanout(t *testing.T) {
	eb := NewEventBus()
	t.Cleanup(eb.Close)

	ctx := context.Background()
	eventsA, unsubA := eb.SubscribeEvents(ctx, 1)
	defer unsubA()
	eventsB, unsubB := eb.SubscribeEvents(ctx, 1)
	defer unsubB()

	event := Event{Type: EventReceived, RequestID: "1"}
	if ok := eb.PublishEvent(ctx, event); !ok {
		t.Fatal("expected event publish to succeed")
	}

	for name, events := range map[string]<-chan Event{"A": eventsA, "B": eventsB} {
		select {
		case got := <-events:
			if got.Type != EventReceived {
				t.Fatalf("subscriber %s event type = %q, want %q", name, got.Type, EventReceived)
			}
			if got.At.IsZero() {
				t.Fatalf("subscriber %s expected event timestamp", name)
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("subscriber %s did not receive event", name)
		}
	}
}

func TestSlowSubscriberDoesNotBlockPublishEvent(t *testing.T) {
	eb := NewEventBus()
	t.Cleanup(eb.Close)

	ctx := context.Background()
	events, unsubscribe := eb.SubscribeEvents(ctx, 1)
	defer unsubscribe()

	if ok := eb.PublishEvent(ctx, Event{Type: EventReceived}); !ok {
		t.Fatal("expected first event publish to succeed")
	}

	start := time.Now()
	if ok := eb.PublishEvent(ctx, Event{Type: EventValidated}); !ok {
		t.Fatal("expected second event publish to succeed")
	}

	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("publish event blocked on slow subscriber")
	}

	select {
	case <-events:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected at least one event")
	}
}

func TestUnsubscribeStopsEvents(t *testing.T) {
	eb := NewEventBus()
	t.Cleanup(eb.Close)

	ctx := context.Background()
	events, unsubscribe := eb.SubscribeEvents(ctx, 1)
	unsubscribe()

	if ok := eb.PublishEvent(ctx, Event{Type: EventReceived}); !ok {
		t.Fatal("expected event publish to succeed")
	}

	select {
	case _, ok := <-events:
		if ok {
			t.Fatal("expected closed event channel")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected event channel close after unsubscribe")
	}
}

func TestSubscribeEventsUnblocksOnClose(t *testing.T) {
	eb := NewEventBus()

	events, _ := eb.SubscribeEvents(context.Background(), 1)
	eb.Close()

	select {
	case _, ok := <-events:
		if ok {
			t.Fatal("expected event channel to be closed")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("event subscription did not unblock after close")
	}

	if ok := eb.PublishEvent(context.Background(), Event{Type: EventReceived}); ok {
		t.Fatal("expected publish to fail after close")
	}
}

func TestPublishEventCanceledContext(t *testing.T) {
	eb := NewEventBus()
	t.Cleanup(eb.Close)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if ok := eb.PublishEvent(ctx, Event{Type: EventReceived}); ok {
		t.Fatal("expected publish to fail on canceled context")
	}
}

func TestLifecycleHappyPath(t *testing.T) {
	eb := NewEventBus()
	t.Cleanup(eb.Close)

	ctx := context.Background()
	events, unsubscribe := eb.SubscribeEvents(ctx, 10)
	defer unsubscribe()

	lc := eb.Track("whatsapp", "req-1")
	lc.SetChat("15551234")
	for _, stage := range []EventType{EventReceived, EventValidated, EventClassified, EventDispatched, EventSent} {
		if err := lc.Advance(ctx, stage, nil); err != nil {
			t.Fatalf("Advance(%s) error: %v", stage, err)
		}
	}

	if lc.State() != EventSent {
		t.Fatalf("state = %q, want %q", lc.State(), EventSent)
	}

	for _, want := range []EventType{EventReceived, EventValidated, EventClassified, EventDispatched, EventSent} {
		select {
		case got := <-events:
			if got.Type != want {
				t.Fatalf("event = %q, want %q", got.Type, want)
			}
			if got.RequestID != "req-1" || got.Channel != "whatsapp" || got.ChatID != "15551234" {
				t.Fatalf("event metadata = %+v", got)
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("missing %s event", want)
		}
	}
}

func TestLifecycleRejectsSkippedStage(t *testing.T) {
	lc := (*EventBus)(nil).Track("whatsapp", "req-2")
	ctx := context.Background()

	if err := lc.Advance(ctx, EventReceived, nil); err != nil {
		t.Fatalf("Advance(received) error: %v", err)
	}
	if err := lc.Advance(ctx, EventDispatched, nil); err == nil {
		t.Fatal("expected error when skipping stages")
	}
	if lc.State() != EventReceived {
		t.Fatalf("state = %q, want %q", lc.State(), EventReceived)
	}
}

func TestLifecycleNoTransitionFromTerminal(t *testing.T) {
	lc := (*EventBus)(nil).Track("whatsapp", "req-3")
	ctx := context.Background()

	_ = lc.Advance(ctx, EventReceived, nil)
	if err := lc.Fail(ctx, errors.New("media_fetch: 404"), nil); err != nil {
		t.Fatalf("Fail error: %v", err)
	}

	if err := lc.Advance(ctx, EventValidated, nil); err == nil {
		t.Fatal("expected error after failed")
	}
	if err := lc.Advance(ctx, EventSent, nil); err == nil {
		t.Fatal("expected error for sent after failed")
	}
	if err := lc.Fail(ctx, errors.New("again"), nil); err == nil {
		t.Fatal("expected error for failed after failed")
	}
	if lc.State() != EventFailed {
		t.Fatalf("state = %q, want %q", lc.State(), EventFailed)
	}
}

func TestLifecycleFailCarriesError(t *testing.T) {
	eb := NewEventBus()
	t.Cleanup(eb.Close)

	ctx := context.Background()
	events, unsubscribe := eb.SubscribeEvents(ctx, 4)
	defer unsubscribe()

	lc := eb.Track("telegram", "req-4")
	_ = lc.Advance(ctx, EventReceived, nil)
	_ = lc.Fail(ctx, errors.New("send_timeout"), map[string]string{"stage": "send"})

	<-events
	select {
	case got := <-events:
		if got.Type != EventFailed || got.Error != "send_timeout" || got.Payload["stage"] != "send" {
			t.Fatalf("failed event = %+v", got)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("missing failed event")
	}
}

func TestFullSubscriberCountsMissedDeliveries(t *testing.T) {
	eb := NewEventBus()
	t.Cleanup(eb.Close)

	ctx := context.Background()
	_, unsubscribe := eb.SubscribeEvents(ctx, 1)
	defer unsubscribe()

	eb.PublishEvent(ctx, Event{Type: EventReceived})
	eb.PublishEvent(ctx, Event{Type: EventValidated})
	eb.PublishEvent(ctx, Event{Type: EventClassified})

	if got := eb.Missed(); got != 2 {
		t.Fatalf("Missed() = %d, want 2", got)
	}
}
