package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"freightdesk/pkg/bus"
	"freightdesk/pkg/channel"
	"freightdesk/pkg/config"
)

type idleAdapter struct{ name string }

func (a idleAdapter) Name() string { return a.name }

func (a idleAdapter) Run(ctx context.Context, _ channel.Handler) error {
	<-ctx.Done()
	return nil
}

type routeMounter struct{ path string }

func (m routeMounter) Mount(mux *http.ServeMux) {
	mux.HandleFunc("GET "+m.path, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
}

func echoHandler(_ context.Context, in channel.Inbound) (string, error) {
	return "ok:" + in.Message.(channel.Text).Body, nil
}

func newTestService(t *testing.T, opts Options) *Service {
	t.Helper()

	if opts.Handler == nil {
		opts.Handler = echoHandler
	}
	if len(opts.Adapters) == 0 {
		opts.Adapters = []channel.Adapter{idleAdapter{name: "whatsapp"}}
	}

	svc, err := NewService(config.DefaultConfig(), opts, nil)
	if err != nil {
		t.Fatalf("NewService error: %v", err)
	}
	return svc
}

func TestNewServiceValidates(t *testing.T) {
	t.Parallel()

	if _, err := NewService(nil, Options{}, nil); err == nil {
		t.Fatal("expected error for nil config")
	}
	if _, err := NewService(config.DefaultConfig(), Options{Handler: echoHandler}, nil); err == nil {
		t.Fatal("expected error without adapters")
	}
	if _, err := NewService(config.DefaultConfig(), Options{Adapters: []channel.Adapter{idleAdapter{name: "x"}}}, nil); err == nil {
		t.Fatal("expected error without handler")
	}
}

func TestIsReady(t *testing.T) {
	t.Parallel()

	svc := &Service{channelStates: map[string]channelState{"whatsapp": {Running: true}}}
	if svc.isReady() {
		t.Fatal("expected not ready without provider health")
	}

	svc.providerLastOKAt = time.Now().UTC()
	if !svc.isReady() {
		t.Fatal("expected ready with running channel and healthy provider")
	}

	svc.providerLastErr = "boom"
	if svc.isReady() {
		t.Fatal("expected not ready when provider has error")
	}
}

func TestHandlerRoutes(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, Options{Mounts: []channel.Mounter{routeMounter{path: "/csv"}}})
	handler := svc.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET / status = %d", rec.Code)
	}
	if rec.Body.String() != "{\"message\":\"Welcome to the portal!\"}\n" {
		t.Fatalf("GET / body = %q", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/unknown", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("GET /unknown status = %d, want 404", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/csv", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("mounted route status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz before run = %d, want 503", rec.Code)
	}

	var status statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Status != "not_ready" {
		t.Fatalf("status = %q", status.Status)
	}
	if _, ok := status.Channels["whatsapp"]; !ok {
		t.Fatalf("channels = %+v", status.Channels)
	}
}

func TestAddr(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, Options{})
	if got := svc.Addr(); got != "0.0.0.0:8000" {
		t.Fatalf("Addr = %q", got)
	}

	svc.cfg = &config.Config{}
	if got := svc.Addr(); got != "0.0.0.0:8000" {
		t.Fatalf("Addr fallback = %q", got)
	}
}

func TestCurrentStatusCopiesEventCounts(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, Options{})
	svc.eventCounts[bus.EventSent] = 3

	status := svc.currentStatus("ok")
	status.Events[bus.EventSent] = 99

	if svc.eventCounts[bus.EventSent] != 3 {
		t.Fatal("status must not alias internal counters")
	}
}
