package bus

import "time"

// EventType names one stage of a message lifecycle.
type EventType string

const (
	EventReceived   EventType = "received"
	EventValidated  EventType = "validated"
	EventClassified EventType = "classified"
	EventDispatched EventType = "dispatched"
	EventSent       EventType = "sent"
	EventFailed     EventType = "failed"
	EventDropped    EventType = "dropped"
)

// Terminal reports whether no further transition may follow t.
func (t EventType) Terminal() bool {
	return t == EventSent || t == EventFailed || t == EventDropped
}

// Event is one lifecycle transition of one inbound message.
type Event struct {
	Type      EventType         `json:"type"`
	At        time.Time         `json:"at"`
	Channel   string            `json:"channel,omitempty"`
	ChatID    string            `json:"chat_id,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	Payload   map[string]string `json:"payload,omitempty"`
	Error     string            `json:"error,omitempty"`
}
