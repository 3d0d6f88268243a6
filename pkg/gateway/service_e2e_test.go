package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"freightdesk/pkg/bus"
	"freightdesk/pkg/channel"
	"freightdesk/pkg/config"

	"github.com/stretchr/testify/require"
)

type scriptedAdapter struct {
	name    string
	inbound []channel.Inbound
	events  *bus.EventBus

	continueOnHandlerError bool

	mu      sync.Mutex
	replies []string
	done    chan struct{}
}

func (a *scriptedAdapter) Name() string {
	return a.name
}

func (a *scriptedAdapter) Run(ctx context.Context, handler channel.Handler) error {
	for _, inbound := range a.inbound {
		lifecycle := a.events.Track(a.name, inbound.RequestID)
		_ = lifecycle.Advance(ctx, bus.EventReceived, nil)

		reply, err := handler(ctx, inbound)
		if err != nil {
			_ = lifecycle.Fail(ctx, err, nil)
			if !a.continueOnHandlerError {
				return err
			}
		}

		a.mu.Lock()
		a.replies = append(a.replies, reply)
		a.mu.Unlock()
	}

	close(a.done)

	<-ctx.Done()
	return nil
}

func (a *scriptedAdapter) snapshot() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	replies := make([]string, len(a.replies))
	copy(replies, a.replies)
	return replies
}

type toggledHealth struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (h *toggledHealth) check(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	return h.err
}

func testGatewayConfig(t *testing.T) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Gateway.Host = "127.0.0.1"
	cfg.Gateway.Port = freeTCPPort(t)
	return cfg
}

func text(chatID string, body string) channel.Inbound {
	return channel.Inbound{
		Channel:   "telegram",
		RequestID: chatID + ":" + body,
		ChatID:    chatID,
		Message:   channel.Text{Body: body},
	}
}

func TestGatewayServiceRunE2EScriptedAdapter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := bus.NewEventBus()
	health := &toggledHealth{}
	adapter := &scriptedAdapter{
		name:    "telegram",
		events:  events,
		inbound: []channel.Inbound{text("100", "one"), text("100", "two"), text("200", "three")},
		done:    make(chan struct{}),
	}

	cfg := testGatewayConfig(t)
	svc, err := NewService(cfg, Options{
		Handler:  echoHandler,
		Adapters: []channel.Adapter{adapter},
		Events:   events,
		Health:   health.check,
	}, nil)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.Run(ctx)
	}()

	select {
	case <-adapter.done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for adapter scripted messages")
	}

	status := waitForStatus(t, cfg, "/readyz", http.StatusOK)
	require.Equal(t, "ready", status.Status)
	require.True(t, status.Channels["telegram"].Running)

	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for service run to exit")
	}

	require.Equal(t, []string{"ok:one", "ok:two", "ok:three"}, adapter.snapshot())
	health.mu.Lock()
	require.GreaterOrEqual(t, health.calls, 1)
	health.mu.Unlock()
}

func TestGatewayServiceRunFailsOnUnhealthyProvider(t *testing.T) {
	health := &toggledHealth{err: errors.New("invalid api key")}
	svc, err := NewService(testGatewayConfig(t), Options{
		Handler:  echoHandler,
		Adapters: []channel.Adapter{idleAdapter{name: "whatsapp"}},
		Health:   health.check,
	}, nil)
	require.NoError(t, err)

	err = svc.Run(context.Background())
	require.ErrorContains(t, err, "provider health check failed")
}

func TestGatewayServiceRunReturnsAdapterError(t *testing.T) {
	events := bus.NewEventBus()
	adapter := &scriptedAdapter{
		name:    "telegram",
		events:  events,
		inbound: []channel.Inbound{text("100", "boom")},
		done:    make(chan struct{}),
	}
	failing := func(context.Context, channel.Inbound) (string, error) {
		return "", errors.New("estimator down")
	}

	svc, err := NewService(testGatewayConfig(t), Options{
		Handler:  failing,
		Adapters: []channel.Adapter{adapter, idleAdapter{name: "whatsapp"}},
		Events:   events,
	}, nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- svc.Run(context.Background()) }()

	select {
	case err := <-done:
		require.ErrorContains(t, err, "run telegram channel: estimator down")
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for adapter error")
	}
}

func waitForStatus(t *testing.T, cfg *config.Config, path string, want int) statusResponse {
	t.Helper()

	url := fmt.Sprintf("http://%s:%d%s", cfg.Gateway.Host, cfg.Gateway.Port, path)
	deadline := time.Now().Add(3 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			var status statusResponse
			decodeErr := json.NewDecoder(resp.Body).Decode(&status)
			_ = resp.Body.Close()
			if resp.StatusCode == want && decodeErr == nil {
				return status
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s to return %d", path, want)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func freeTCPPort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	addr, ok := listener.Addr().(*net.TCPAddr)
	require.True(t, ok)
	return addr.Port
}
