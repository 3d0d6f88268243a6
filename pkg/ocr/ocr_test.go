package ocr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"freightdesk/pkg/config"
	"freightdesk/pkg/fault"
	"freightdesk/pkg/logger"
	"freightdesk/pkg/workspace"
)

type fakeMistral struct {
	mu         sync.Mutex
	uploads    int
	gotPurpose string
	gotName    string
	gotExpiry  string
	gotOCR     processRequest
	pages      []page
}

func (f *fakeMistral) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/files", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.uploads++
		require.NoError(t, r.ParseMultipartForm(1<<20))
		f.gotPurpose = r.FormValue("purpose")
		_, header, err := r.FormFile("file")
		require.NoError(t, err)
		f.gotName = header.Filename
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"file-1","object":"file","bytes":3,"created_at":1,"filename":"rates.pdf","purpose":"ocr"}`))
	})
	mux.HandleFunc("GET /v1/files/file-1/url", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.gotExpiry = r.URL.Query().Get("expiry")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"url":"https://files.example/signed/rates.pdf"}`))
	})
	mux.HandleFunc("POST /v1/ocr", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&f.gotOCR))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(processResponse{Pages: f.pages})
	})
	return mux
}

func newTestConverter(t *testing.T, fake *fakeMistral) (*Converter, string) {
	t.Helper()

	server := httptest.NewServer(fake.handler(t))
	t.Cleanup(server.Close)

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "Documents"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "Documents", "rates.pdf"), []byte("pdf"), 0o644))

	guard, err := workspace.NewGuard(root)
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.Providers.Mistral = config.ProviderConfig{APIKey: "ms-test", BaseURL: server.URL + "/v1"}

	converter, err := New(cfg, workspace.NewStaging(guard), server.Client(), logger.Discard())
	require.NoError(t, err)
	return converter, root
}

func TestConvertWritesJoinedPages(t *testing.T) {
	fake := &fakeMistral{pages: []page{
		{Index: 0, Markdown: "# UPS rate guide"},
		{Index: 1, Markdown: "Zone 5: 42.10 USD"},
		{Index: 2, Markdown: "Fuel surcharge 18%"},
	}}
	converter, root := newTestConverter(t, fake)

	result, err := converter.Convert(context.Background(), "Documents/rates.pdf")
	require.NoError(t, err)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Equal(t, 1, fake.uploads)
	require.Equal(t, "ocr", fake.gotPurpose)
	require.Equal(t, "rates.pdf", fake.gotName)
	require.Equal(t, "24", fake.gotExpiry)
	require.Equal(t, "mistral-ocr-latest", fake.gotOCR.Model)
	require.Equal(t, documentURL{Type: "document_url", DocumentURL: "https://files.example/signed/rates.pdf"}, fake.gotOCR.Document)

	want := "# UPS rate guide\nZone 5: 42.10 USD\nFuel surcharge 18%"
	require.Equal(t, want, result.Markdown)
	require.Equal(t, 3, result.Pages)
	require.Equal(t, filepath.Join("Markdown", "rates.md"), result.Output)

	written, err := os.ReadFile(filepath.Join(root, "Markdown", "rates.md"))
	require.NoError(t, err)
	require.Equal(t, want, string(written))
}

func TestConvertMissingFile(t *testing.T) {
	fake := &fakeMistral{}
	converter, _ := newTestConverter(t, fake)

	_, err := converter.Convert(context.Background(), "Documents/missing.pdf")
	require.Error(t, err)
	fake.mu.Lock()
	require.Zero(t, fake.uploads)
	fake.mu.Unlock()

	_, err = converter.Convert(context.Background(), " ")
	require.True(t, fault.Is(err, fault.Validation))
}

func TestNewRequiresMistralKey(t *testing.T) {
	guard, err := workspace.NewGuard(t.TempDir())
	require.NoError(t, err)

	_, err = New(config.DefaultConfig(), workspace.NewStaging(guard), nil, logger.Discard())
	require.True(t, fault.Is(err, fault.Configuration))
}

func TestJoinPagesKeepsOrder(t *testing.T) {
	require.Empty(t, joinPages(nil))
	require.Equal(t, "b\na", joinPages([]page{{Index: 1, Markdown: "b"}, {Index: 0, Markdown: "a"}}))
}
