package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"freightdesk/pkg/channel"
)

const defaultIdleTTL = 30 * time.Minute

// runtimeManager tracks in-flight responder calls per chat. It never blocks a
// caller: ordering within a chat belongs to the channel, which must not park
// a pool worker waiting on another message.
type runtimeManager struct {
	handler channel.Handler
	log     *slog.Logger
	idleTTL time.Duration

	mu    sync.Mutex
	chats map[string]*chatRuntime
}

// chatRuntime is the state tracked for one conversation key.
type chatRuntime struct {
	active   int
	lastUsed time.Time
}

func newRuntimeManager(handler channel.Handler, log *slog.Logger) (*runtimeManager, error) {
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	if log == nil {
		log = slog.Default()
	}

	return &runtimeManager{
		handler: handler,
		log:     log.With("component", "gateway.runtime_manager"),
		idleTTL: defaultIdleTTL,
		chats:   make(map[string]*chatRuntime),
	}, nil
}

// Respond runs the handler for inbound and records it against its chat.
func (m *runtimeManager) Respond(ctx context.Context, inbound channel.Inbound) (string, error) {
	key := chatKey(inbound)
	runtime := m.acquire(key)
	defer m.release(key, runtime)

	if err := ctx.Err(); err != nil {
		return "", err
	}

	return m.handler(ctx, inbound)
}

func (m *runtimeManager) acquire(key string) *chatRuntime {
	m.mu.Lock()
	defer m.mu.Unlock()

	runtime, ok := m.chats[key]
	if !ok {
		runtime = &chatRuntime{}
		m.chats[key] = runtime
	}
	runtime.active++
	runtime.lastUsed = time.Now()
	return runtime
}

func (m *runtimeManager) release(key string, runtime *chatRuntime) {
	m.mu.Lock()
	defer m.mu.Unlock()

	runtime.active--
	runtime.lastUsed = time.Now()
	m.evictIdleLocked(runtime.lastUsed)
}

// evictIdleLocked drops chats with no pending call that have been idle past
// the TTL.
func (m *runtimeManager) evictIdleLocked(now time.Time) {
	for key, runtime := range m.chats {
		if runtime.active == 0 && now.Sub(runtime.lastUsed) >= m.idleTTL {
			delete(m.chats, key)
		}
	}
}

// Active reports how many responder calls are running across all chats.
func (m *runtimeManager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := 0
	for _, runtime := range m.chats {
		total += runtime.active
	}
	return total
}

// Len reports how many chats are tracked.
func (m *runtimeManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.chats)
}

// Close drops every tracked chat.
func (m *runtimeManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key := range m.chats {
		delete(m.chats, key)
	}
}

func chatKey(inbound channel.Inbound) string {
	id := inbound.ChatID
	if id == "" {
		id = inbound.SenderID
	}
	return inbound.Channel + ":" + id
}
