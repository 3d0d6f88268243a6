package gemini

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"freightdesk/pkg/config"
	providertypes "freightdesk/pkg/provider/types"
)

func newFakeGemini(t *testing.T, reply string) (*Client, func() map[string]any) {
	t.Helper()

	var (
		mu   sync.Mutex
		last map[string]any
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !strings.HasSuffix(r.URL.Path, ":generateContent") {
			http.NotFound(w, r)
			return
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request: %v", err)
		}
		payload["_path"] = r.URL.Path
		payload["_key"] = r.Header.Get("x-goog-api-key")
		mu.Lock()
		last = payload
		mu.Unlock()
		_, _ = io.WriteString(w, `{
		  "candidates": [{"content": {"role": "model", "parts": [{"text": "`+reply+`"}]}, "finishReason": "STOP"}],
		  "usageMetadata": {"promptTokenCount": 10, "candidatesTokenCount": 5, "totalTokenCount": 15}
		}`)
	}))
	t.Cleanup(server.Close)

	client, err := New(context.Background(), config.ProviderConfig{APIKey: "gm-test", BaseURL: server.URL}, server.Client())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	return client, func() map[string]any {
		mu.Lock()
		defer mu.Unlock()
		return last
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New(context.Background(), config.ProviderConfig{}, nil); err == nil {
		t.Fatal("expected error when API key is missing")
	}
}

func TestCompleteSendsInlineImage(t *testing.T) {
	client, last := newFakeGemini(t, "A ceramic vase.")

	result, err := client.Complete(context.Background(), providertypes.Request{
		Model:     "gemini/gemini-2.0-flash",
		System:    "Identify the product.",
		Prompt:    "Ship to Hamburg",
		Images:    []providertypes.Image{{MimeType: "image/png", Data: []byte("png")}},
		MaxTokens: 128,
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if result.Text != "A ceramic vase." {
		t.Fatalf("Text = %q", result.Text)
	}
	if result.Metadata.Provider != "gemini" || result.Metadata.Model != "gemini-2.0-flash" {
		t.Fatalf("unexpected metadata: %+v", result.Metadata)
	}
	if result.Metadata.Usage == nil || result.Metadata.Usage.TotalTokens != 15 {
		t.Fatalf("unexpected usage: %+v", result.Metadata.Usage)
	}

	payload := last()
	if !strings.Contains(payload["_path"].(string), "gemini-2.0-flash") {
		t.Fatalf("path = %v", payload["_path"])
	}
	if payload["_key"] != "gm-test" {
		t.Fatalf("api key header = %v", payload["_key"])
	}

	contents := payload["contents"].([]any)
	parts := contents[0].(map[string]any)["parts"].([]any)
	if len(parts) != 2 {
		t.Fatalf("parts = %d, want 2", len(parts))
	}
	inline := parts[0].(map[string]any)["inlineData"].(map[string]any)
	if inline["mimeType"] != "image/png" || inline["data"] != "cG5n" {
		t.Fatalf("unexpected inline data: %v", inline)
	}
	if parts[1].(map[string]any)["text"] != "Ship to Hamburg" {
		t.Fatalf("unexpected text part: %v", parts[1])
	}
	if _, ok := payload["systemInstruction"]; !ok {
		t.Fatal("expected systemInstruction in request")
	}
}

func TestNormalizeModel(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{input: "gemini-2.0-flash", want: "gemini-2.0-flash"},
		{input: "models/gemini-2.0-flash", want: "gemini-2.0-flash"},
		{input: "gemini/gemini-2.0-flash", want: "gemini-2.0-flash"},
		{input: "openai/gpt-4o", wantErr: true},
		{input: " ", wantErr: true},
	}

	for _, tt := range tests {
		got, err := normalizeModel(tt.input)
		if (err != nil) != tt.wantErr {
			t.Fatalf("normalizeModel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
		if got != tt.want {
			t.Fatalf("normalizeModel(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
