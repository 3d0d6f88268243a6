// Package gateway hosts the single HTTP server and runs every enabled
// channel adapter against the responder.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	agentruntime "freightdesk/pkg/agent/runtime"
	"freightdesk/pkg/bus"
	"freightdesk/pkg/channel"
	"freightdesk/pkg/config"
	"freightdesk/pkg/worker"
)

const (
	defaultHost         = "0.0.0.0"
	defaultPort         = 8000
	healthCheckInterval = 30 * time.Second
	welcomeMessage      = "Welcome to the portal!"
)

// HealthFunc probes a backing dependency such as an agent's provider.
type HealthFunc func(ctx context.Context) error

// statsReporter is implemented by adapters that run a worker pool.
type statsReporter interface {
	Stats() worker.Stats
}

// Options wires the service's collaborators.
type Options struct {
	Handler  channel.Handler
	Adapters []channel.Adapter
	// Mounts are extra route owners, such as the procurement API.
	Mounts []channel.Mounter
	Events *bus.EventBus
	Health HealthFunc
}

type Service struct {
	cfg      *config.Config
	log      *slog.Logger
	health   HealthFunc
	manager  *runtimeManager
	channels []channel.Adapter
	mounts   []channel.Mounter
	events   *bus.EventBus

	mu               sync.RWMutex
	startedAt        time.Time
	providerLastOKAt time.Time
	providerLastErr  string
	channelStates    map[string]channelState
	eventCounts      map[bus.EventType]int64
}

type channelState struct {
	Running bool          `json:"running"`
	Error   string        `json:"error,omitempty"`
	Jobs    *worker.Stats `json:"jobs,omitempty"`
}

type statusResponse struct {
	Status           string                  `json:"status"`
	UptimeSeconds    int64                   `json:"uptime_seconds"`
	ProviderLastOKAt string                  `json:"provider_last_ok_at,omitempty"`
	ProviderLastErr  string                  `json:"provider_last_error,omitempty"`
	Channels         map[string]channelState `json:"channels"`
	Events           map[bus.EventType]int64 `json:"events"`
	EventsMissed     uint64                  `json:"events_missed,omitempty"`
	Responding       int                     `json:"responding"`
}

func NewService(cfg *config.Config, opts Options, log *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if len(opts.Adapters) == 0 {
		return nil, errors.New("at least one channel adapter is required")
	}
	if log == nil {
		log = slog.Default()
	}

	manager, err := newRuntimeManager(opts.Handler, log)
	if err != nil {
		return nil, err
	}

	events := opts.Events
	if events == nil {
		events = bus.NewEventBus()
	}

	channelStates := make(map[string]channelState, len(opts.Adapters))
	for _, adapter := range opts.Adapters {
		channelStates[adapter.Name()] = channelState{}
	}

	return &Service{
		cfg:           cfg,
		log:           log.With("component", "gateway.service"),
		health:        opts.Health,
		manager:       manager,
		channels:      opts.Adapters,
		mounts:        opts.Mounts,
		events:        events,
		channelStates: channelStates,
		eventCounts:   make(map[bus.EventType]int64),
	}, nil
}

// Run checks provider health, serves HTTP and runs every adapter until ctx
// ends or one of them fails. It returns once every adapter has stopped.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var adapters sync.WaitGroup
	defer adapters.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	if err := s.checkProviderHealth(ctx); err != nil {
		return err
	}

	go s.countEvents(ctx)
	go agentruntime.ObserveEvents(ctx, s.events, s.log)

	listener, err := s.listen()
	if err != nil {
		return err
	}
	serverErrors := make(chan error, 1)
	go s.serve(ctx, listener, serverErrors)

	go func() {
		ticker := time.NewTicker(healthCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = s.checkProviderHealth(ctx)
			}
		}
	}()

	errCh := make(chan error, len(s.channels))
	for _, adapter := range s.channels {
		s.setChannelState(adapter.Name(), channelState{Running: true})

		adapters.Add(1)
		go func() {
			defer adapters.Done()
			err := adapter.Run(ctx, s.manager.Respond)
			s.setChannelState(adapter.Name(), channelState{Running: false, Error: errorString(err)})
			if err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("run %s channel: %w", adapter.Name(), err)
			}
		}()
	}

	defer s.manager.Close()
	select {
	case <-ctx.Done():
		return nil
	case err := <-serverErrors:
		return err
	case err := <-errCh:
		return err
	}
}

// Handler returns the HTTP routes: welcome, health, readiness, and every
// mounted channel and API.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleWelcome)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	for _, adapter := range s.channels {
		if mounter, ok := adapter.(channel.Mounter); ok {
			mounter.Mount(mux)
		}
	}
	for _, mounter := range s.mounts {
		mounter.Mount(mux)
	}

	return mux
}

// Addr returns the configured bind address.
func (s *Service) Addr() string {
	host := strings.TrimSpace(s.cfg.Gateway.Host)
	if host == "" {
		host = defaultHost
	}

	port := s.cfg.Gateway.Port
	if port <= 0 {
		port = defaultPort
	}

	return net.JoinHostPort(host, strconv.Itoa(port))
}

func (s *Service) listen() (net.Listener, error) {
	listener, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", s.Addr(), err)
	}
	return listener, nil
}

func (s *Service) serve(ctx context.Context, listener net.Listener, errCh chan<- error) {
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("Gateway server started", "address", listener.Addr().String())
	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("serve gateway: %w", err)
	}
}

func (s *Service) countEvents(ctx context.Context) {
	stream, unsubscribe := s.events.SubscribeEvents(ctx, 256)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-stream:
			if !ok {
				return
			}
			s.mu.Lock()
			s.eventCounts[event.Type]++
			s.mu.Unlock()
		}
	}
}

func (s *Service) handleWelcome(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": welcomeMessage})
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondStatus(w, http.StatusOK, "ok")
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !s.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	s.respondStatus(w, statusCode, status)
}

func (s *Service) respondStatus(w http.ResponseWriter, statusCode int, status string) {
	payload := s.currentStatus(status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write status response", "error", err)
	}
}

func (s *Service) currentStatus(status string) statusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}

	channels := make(map[string]channelState, len(s.channelStates))
	for name, state := range s.channelStates {
		channels[name] = state
	}
	for _, adapter := range s.channels {
		if reporter, ok := adapter.(statsReporter); ok {
			state := channels[adapter.Name()]
			stats := reporter.Stats()
			state.Jobs = &stats
			channels[adapter.Name()] = state
		}
	}

	events := make(map[bus.EventType]int64, len(s.eventCounts))
	for eventType, count := range s.eventCounts {
		events[eventType] = count
	}

	providerLastOK := ""
	if !s.providerLastOKAt.IsZero() {
		providerLastOK = s.providerLastOKAt.Format(time.RFC3339)
	}

	return statusResponse{
		Status:           status,
		UptimeSeconds:    uptime,
		ProviderLastOKAt: providerLastOK,
		ProviderLastErr:  s.providerLastErr,
		Channels:         channels,
		Events:           events,
		EventsMissed:     s.events.Missed(),
		Responding:       s.manager.Active(),
	}
}

func (s *Service) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	anyRunning := false
	for _, state := range s.channelStates {
		if state.Running {
			anyRunning = true
			break
		}
	}
	if !anyRunning {
		return false
	}

	if s.providerLastOKAt.IsZero() || s.providerLastErr != "" {
		return false
	}

	return true
}

// checkProviderHealth records the outcome of the configured probe. Without a
// probe the providers are assumed healthy.
func (s *Service) checkProviderHealth(ctx context.Context) error {
	if s.health != nil {
		if err := s.health(ctx); err != nil {
			s.mu.Lock()
			s.providerLastErr = err.Error()
			s.mu.Unlock()
			return fmt.Errorf("provider health check failed: %w", err)
		}
	}

	s.mu.Lock()
	s.providerLastErr = ""
	s.providerLastOKAt = time.Now().UTC()
	s.mu.Unlock()

	return nil
}

func (s *Service) setChannelState(name string, state channelState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channelStates[name] = state
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
