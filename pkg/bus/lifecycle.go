package bus

import (
	"context"
	"fmt"
	"sync"
)

var stageRank = map[EventType]int{
	EventReceived:   0,
	EventValidated:  1,
	EventClassified: 2,
	EventDispatched: 3,
	EventSent:       4,
}

// Lifecycle tracks one message through
// received → validated → classified → dispatched → sent | failed
// and publishes every accepted transition.
type Lifecycle struct {
	bus       *EventBus
	channel   string
	requestID string

	mu      sync.Mutex
	chatID  string
	current EventType
}

// Track starts a lifecycle for one request. A nil bus tracks without publishing.
func (eb *EventBus) Track(channel string, requestID string) *Lifecycle {
	return &Lifecycle{bus: eb, channel: channel, requestID: requestID}
}

// RequestID returns the id every event of this lifecycle carries.
func (l *Lifecycle) RequestID() string {
	return l.requestID
}

// SetChat records the conversation id once the sender is known.
func (l *Lifecycle) SetChat(chatID string) {
	l.mu.Lock()
	l.chatID = chatID
	l.mu.Unlock()
}

// State returns the last accepted stage, or "" before the first one.
func (l *Lifecycle) State() EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Advance moves to the next stage. Stages advance one step at a time;
// failed and dropped are reachable from any non-terminal stage.
func (l *Lifecycle) Advance(ctx context.Context, to EventType, payload map[string]string) error {
	return l.transition(ctx, to, payload, "")
}

// Fail moves the lifecycle to failed with the error text attached.
func (l *Lifecycle) Fail(ctx context.Context, cause error, payload map[string]string) error {
	detail := ""
	if cause != nil {
		detail = cause.Error()
	}
	return l.transition(ctx, EventFailed, payload, detail)
}

func (l *Lifecycle) transition(ctx context.Context, to EventType, payload map[string]string, detail string) error {
	l.mu.Lock()
	if l.current.Terminal() {
		from := l.current
		l.mu.Unlock()
		return fmt.Errorf("lifecycle %s: transition %s after terminal %s", l.requestID, to, from)
	}

	if !to.Terminal() || to == EventSent {
		want := 0
		if l.current != "" {
			want = stageRank[l.current] + 1
		}
		rank, known := stageRank[to]
		if !known || rank != want {
			from := l.current
			l.mu.Unlock()
			return fmt.Errorf("lifecycle %s: invalid transition %q -> %s", l.requestID, from, to)
		}
	}

	l.current = to
	event := Event{
		Type:      to,
		Channel:   l.channel,
		ChatID:    l.chatID,
		RequestID: l.requestID,
		Payload:   payload,
		Error:     detail,
	}
	l.mu.Unlock()

	if l.bus != nil {
		// Terminal events must survive the job's own deadline.
		l.bus.PublishEvent(context.WithoutCancel(ctx), event)
	}

	return nil
}
