package runtime

import (
	"context"
	"log/slog"

	"freightdesk/pkg/bus"
)

const observerBuffer = 32

// ObserveEvents logs lifecycle events until ctx ends or the bus closes.
func ObserveEvents(ctx context.Context, events *bus.EventBus, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "lifecycle")

	stream, unsubscribe := events.SubscribeEvents(ctx, observerBuffer)
	defer unsubscribe()

	for event := range stream {
		logEvent(log, event)
	}
}

// eventLevel keeps the intermediate stages at debug so a healthy message
// logs only its arrival and its reply.
func eventLevel(t bus.EventType) slog.Level {
	switch t {
	case bus.EventFailed:
		return slog.LevelError
	case bus.EventDropped:
		return slog.LevelWarn
	case bus.EventReceived, bus.EventSent:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

func logEvent(log *slog.Logger, event bus.Event) {
	attrs := make([]slog.Attr, 0, 7)
	attrs = append(attrs,
		slog.String("stage", string(event.Type)),
		slog.String("request_id", event.RequestID),
		slog.String("channel", event.Channel),
		slog.String("chat_id", event.ChatID),
		slog.Time("at", event.At.UTC()),
	)
	if len(event.Payload) > 0 {
		attrs = append(attrs, slog.Any("payload", event.Payload))
	}
	if event.Error != "" {
		attrs = append(attrs, slog.String("error", event.Error))
	}

	log.LogAttrs(context.Background(), eventLevel(event.Type), "Message "+string(event.Type), attrs...)
}
