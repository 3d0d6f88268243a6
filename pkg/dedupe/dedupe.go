package dedupe

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "freightdesk:seen:"

// Store remembers platform message ids so redelivered webhooks are not
// processed twice.
type Store interface {
	// Seen marks id and reports whether it had already been marked.
	Seen(ctx context.Context, id string) (bool, error)
	// Forget unmarks id so a later redelivery is processed.
	Forget(ctx context.Context, id string) error
	Close() error
}

// New returns a Redis-backed store when redisURL is set and an in-memory
// store otherwise.
func New(ctx context.Context, redisURL string, ttl time.Duration, log *slog.Logger) (Store, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "dedupe")

	if strings.TrimSpace(redisURL) == "" {
		log.Info("Using in-memory message dedupe", "ttl", ttl)
		return NewMemory(ttl), nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.DialTimeout = 5 * time.Second

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	log.Info("Using redis message dedupe", "addr", opts.Addr, "ttl", ttl)
	return &Redis{rdb: client, ttl: ttl, closer: client.Close}, nil
}

// Redis marks ids with SET NX so concurrent gateway replicas agree.
type Redis struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	closer func() error
}

// NewRedis wraps an existing client.
func NewRedis(rdb redis.Cmdable, ttl time.Duration) *Redis {
	return &Redis{rdb: rdb, ttl: ttl}
}

func (r *Redis) Seen(ctx context.Context, id string) (bool, error) {
	created, err := r.rdb.SetNX(ctx, keyPrefix+id, time.Now().UTC().Unix(), r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("mark message %s: %w", id, err)
	}

	return !created, nil
}

func (r *Redis) Forget(ctx context.Context, id string) error {
	if err := r.rdb.Del(ctx, keyPrefix+id).Err(); err != nil {
		return fmt.Errorf("forget message %s: %w", id, err)
	}

	return nil
}

func (r *Redis) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}

// Memory is a process-local store with lazy expiry.
type Memory struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]time.Time
	sweepAt time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]time.Time),
	}
}

func (m *Memory) Seen(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.sweep(now)

	if expires, ok := m.entries[id]; ok && (m.ttl <= 0 || now.Before(expires)) {
		return true, nil
	}

	m.entries[id] = now.Add(m.ttl)
	return false, nil
}

func (m *Memory) Forget(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.entries, id)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error {
	return nil
}

func (m *Memory) sweep(now time.Time) {
	if m.ttl <= 0 || now.Before(m.sweepAt) {
		return
	}

	for id, expires := range m.entries {
		if !now.Before(expires) {
			delete(m.entries, id)
		}
	}
	m.sweepAt = now.Add(m.ttl)
}
