package whatsapp

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"freightdesk/pkg/config"
	"freightdesk/pkg/logger"
	"freightdesk/pkg/workspace"
)

const (
	testToken   = "EAAG-test-token"
	testPhoneID = "106540352242922"
	testVersion = "v21.0"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\nfake-image")

// fakeGraph serves the subset of the Graph API the client uses.
type fakeGraph struct {
	server *httptest.Server

	mu          sync.Mutex
	sent        []map[string]any
	auth        []string
	mediaStatus int
	mediaMime   string
	sendStatus  int
	sendDelay   time.Duration
	sentCh      chan map[string]any
}

func newFakeGraph(t *testing.T) *fakeGraph {
	t.Helper()

	graph := &fakeGraph{
		mediaStatus: http.StatusOK,
		mediaMime:   "image/png",
		sendStatus:  http.StatusOK,
		sentCh:      make(chan map[string]any, 16),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /"+testVersion+"/{id}", graph.handleMetadata)
	mux.HandleFunc("GET /cdn/{id}", graph.handleDownload)
	mux.HandleFunc("POST /"+testVersion+"/{phone}/messages", graph.handleSend)

	graph.server = httptest.NewServer(mux)
	t.Cleanup(graph.server.Close)
	return graph
}

func (g *fakeGraph) handleMetadata(w http.ResponseWriter, r *http.Request) {
	g.recordAuth(r)

	g.mu.Lock()
	status, mime := g.mediaStatus, g.mediaMime
	g.mu.Unlock()

	if status != http.StatusOK {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, `{"error":{"message":"media not found"}}`)
		return
	}

	id := r.PathValue("id")
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":        id,
		"url":       g.server.URL + "/cdn/" + id,
		"mime_type": mime,
		"file_size": len(pngBytes),
	})
}

func (g *fakeGraph) handleDownload(w http.ResponseWriter, r *http.Request) {
	g.recordAuth(r)
	if r.Header.Get("Authorization") != "Bearer "+testToken {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(pngBytes)
}

func (g *fakeGraph) handleSend(w http.ResponseWriter, r *http.Request) {
	g.recordAuth(r)

	g.mu.Lock()
	status, delay := g.sendStatus, g.sendDelay
	g.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	var payload map[string]any
	_ = json.NewDecoder(r.Body).Decode(&payload)
	payload["_phone"] = r.PathValue("phone")

	g.mu.Lock()
	g.sent = append(g.sent, payload)
	g.mu.Unlock()
	select {
	case g.sentCh <- payload:
	default:
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if status != http.StatusOK {
		_, _ = io.WriteString(w, `{"error":{"message":"recipient not allowed"}}`)
		return
	}
	_, _ = io.WriteString(w, `{"messaging_product":"whatsapp","contacts":[{"input":"x","wa_id":"x"}],"messages":[{"id":"wamid.reply1"}]}`)
}

func (g *fakeGraph) recordAuth(r *http.Request) {
	g.mu.Lock()
	g.auth = append(g.auth, r.Header.Get("Authorization"))
	g.mu.Unlock()
}

func (g *fakeGraph) sentMessages() []map[string]any {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]map[string]any(nil), g.sent...)
}

func (g *fakeGraph) authHeaders() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.auth...)
}

func (g *fakeGraph) set(fn func(g *fakeGraph)) {
	g.mu.Lock()
	fn(g)
	g.mu.Unlock()
}

func testWhatsAppConfig(baseURL string) config.WhatsAppConfig {
	return config.WhatsAppConfig{
		Enabled:       true,
		GraphBaseURL:  baseURL,
		APIVersion:    testVersion,
		PhoneNumberID: testPhoneID,
		AccessToken:   testToken,
		VerifyToken:   "verify-me",
	}
}

// newTestClient returns a client against graph plus the staging root.
func newTestClient(t *testing.T, graph *fakeGraph, mutate func(*config.WhatsAppConfig)) (*Client, string) {
	t.Helper()

	guard, err := workspace.NewGuard(t.TempDir())
	if err != nil {
		t.Fatalf("NewGuard error: %v", err)
	}

	cfg := testWhatsAppConfig(graph.server.URL)
	if mutate != nil {
		mutate(&cfg)
	}

	client, err := NewClient(cfg, workspace.NewStaging(guard), graph.server.Client(), logger.Discard())
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	return client, guard.Root()
}
