package telegram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mymmrac/telego"

	"freightdesk/pkg/channel"
	"freightdesk/pkg/config"
	"freightdesk/pkg/fault"
	"freightdesk/pkg/workspace"
)

type fakeFiles struct {
	baseURL string
	file    *telego.File
	err     error
	gotID   string
}

func (f *fakeFiles) GetFile(_ context.Context, params *telego.GetFileParams) (*telego.File, error) {
	f.gotID = params.FileID
	return f.file, f.err
}

func (f *fakeFiles) FileDownloadURL(filePath string) string {
	return f.baseURL + "/" + filePath
}

func newTestAdapter(t *testing.T, allow []string) (*Adapter, string) {
	t.Helper()

	root := t.TempDir()
	guard, err := workspace.NewGuard(root)
	if err != nil {
		t.Fatalf("NewGuard error: %v", err)
	}

	adapter, err := NewAdapter(config.TelegramConfig{Token: "123:abc", AllowFrom: allow}, Options{Staging: workspace.NewStaging(guard)}, nil)
	if err != nil {
		t.Fatalf("NewAdapter error: %v", err)
	}
	return adapter, root
}

func TestNewAdapterRequiresToken(t *testing.T) {
	_, err := NewAdapter(config.TelegramConfig{}, Options{}, nil)
	if !fault.Is(err, fault.Configuration) {
		t.Fatalf("err = %v, want configuration fault", err)
	}
}

func TestAllowFromSet(t *testing.T) {
	allowed := allowFromSet([]string{" 123 ", "", "456", "123"})
	if len(allowed) != 2 {
		t.Fatalf("allowFromSet len = %d, want 2", len(allowed))
	}
	if _, ok := allowed["123"]; !ok {
		t.Fatal("allowFromSet missing 123")
	}
	if _, ok := allowed["456"]; !ok {
		t.Fatal("allowFromSet missing 456")
	}
}

func TestSenderAllowed(t *testing.T) {
	adapter := &Adapter{allowFrom: map[string]struct{}{"1": {}}}
	if !adapter.senderAllowed("1") {
		t.Fatal("expected sender 1 to be allowed")
	}
	if adapter.senderAllowed("2") {
		t.Fatal("expected sender 2 to be denied")
	}

	adapter.allowFrom = nil
	if !adapter.senderAllowed("any") {
		t.Fatal("expected sender to be allowed when allowlist empty")
	}
}

func TestToInboundText(t *testing.T) {
	adapter, _ := newTestAdapter(t, nil)

	inbound, err := adapter.toInbound(context.Background(), &fakeFiles{}, "req-1", &telego.Message{
		MessageID: 7,
		Date:      1700000000,
		From:      &telego.User{ID: 42, FirstName: "Sam", LastName: "Lee"},
		Chat:      telego.Chat{ID: 99},
		Text:      "  ship a sofa to Oslo ",
	})
	if err != nil {
		t.Fatalf("toInbound error: %v", err)
	}

	text, ok := inbound.Message.(channel.Text)
	if !ok || text.Body != "ship a sofa to Oslo" {
		t.Fatalf("message = %#v", inbound.Message)
	}
	if inbound.SenderID != "42" || inbound.ChatID != "99" || inbound.MessageID != "7" || inbound.SenderName != "Sam Lee" {
		t.Fatalf("inbound = %+v", inbound)
	}
	if inbound.Channel != "telegram" || inbound.RequestID != "req-1" {
		t.Fatalf("inbound = %+v", inbound)
	}
}

func TestToInboundPhotoDownloadsLargestSize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/photos/file_9.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png-bytes"))
	}))
	defer server.Close()

	adapter, root := newTestAdapter(t, nil)
	files := &fakeFiles{baseURL: server.URL, file: &telego.File{FilePath: "photos/file_9.png"}}

	inbound, err := adapter.toInbound(context.Background(), files, "req-2", &telego.Message{
		From:    &telego.User{ID: 42},
		Chat:    telego.Chat{ID: 99},
		Caption: "to Bergen",
		Photo: []telego.PhotoSize{
			{FileID: "small", FileUniqueID: "u-small", Width: 90, Height: 90},
			{FileID: "large", FileUniqueID: "u-large", Width: 1280, Height: 960},
			{FileID: "medium", FileUniqueID: "u-medium", Width: 320, Height: 240},
		},
	})
	if err != nil {
		t.Fatalf("toInbound error: %v", err)
	}

	if files.gotID != "large" {
		t.Fatalf("requested file %q, want large", files.gotID)
	}
	image, ok := inbound.Message.(channel.Image)
	if !ok || image.Caption != "to Bergen" || image.MediaID != "u-large" {
		t.Fatalf("message = %#v", inbound.Message)
	}
	if inbound.Media == nil || string(inbound.Media.Data) != "png-bytes" || inbound.Media.MimeType != "image/png" {
		t.Fatalf("media = %+v", inbound.Media)
	}

	staged, err := os.ReadFile(filepath.Join(root, "images", "u-large.png"))
	if err != nil {
		t.Fatalf("staged photo: %v", err)
	}
	if string(staged) != "png-bytes" {
		t.Fatalf("staged = %q", staged)
	}
}

func TestToInboundFailures(t *testing.T) {
	adapter, _ := newTestAdapter(t, []string{"1"})

	_, err := adapter.toInbound(context.Background(), &fakeFiles{}, "r", &telego.Message{From: &telego.User{ID: 2}, Text: "hi"})
	if !fault.Is(err, fault.Validation) {
		t.Fatalf("disallowed sender err = %v", err)
	}

	_, err = adapter.toInbound(context.Background(), &fakeFiles{}, "r", &telego.Message{Text: "hi"})
	if !fault.Is(err, fault.Validation) {
		t.Fatalf("missing sender err = %v", err)
	}

	_, err = adapter.toInbound(context.Background(), &fakeFiles{}, "r", &telego.Message{From: &telego.User{ID: 1}, Voice: &telego.Voice{FileID: "v"}})
	if !fault.Is(err, fault.UnsupportedMessageType) || !strings.Contains(err.Error(), "voice") {
		t.Fatalf("voice err = %v", err)
	}

	files := &fakeFiles{err: errors.New("file is too big")}
	_, err = adapter.toInbound(context.Background(), files, "r", &telego.Message{
		From:  &telego.User{ID: 1},
		Photo: []telego.PhotoSize{{FileID: "p"}},
	})
	if !fault.Is(err, fault.MediaFetch) {
		t.Fatalf("photo err = %v", err)
	}
}

func TestSplitMessage(t *testing.T) {
	if got := splitMessage("  ", 10); got != nil {
		t.Fatalf("blank split = %q", got)
	}
	if got := splitMessage("short", 10); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short split = %q", got)
	}

	got := splitMessage("line one\nline two\nline three", 18)
	want := []string{"line one\nline two", "line three"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("split = %q, want %q", got, want)
	}

	long := strings.Repeat("é", 25)
	parts := splitMessage(long, 10)
	if len(parts) != 3 || parts[2] != strings.Repeat("é", 5) {
		t.Fatalf("rune split = %q", parts)
	}
}

func TestPreviewText(t *testing.T) {
	short := " hello "
	if got := previewText(short); got != "hello" {
		t.Fatalf("previewText short = %q, want %q", got, "hello")
	}

	long := strings.Repeat("a", messagePreviewLimit+20)
	got := previewText(long)
	if len(got) != messagePreviewLimit+3 {
		t.Fatalf("previewText long len = %d, want %d", len(got), messagePreviewLimit+3)
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("previewText long = %q, want ellipsis suffix", got)
	}
}

func TestJobDeadlineBoundsTheResponder(t *testing.T) {
	adapter, err := NewAdapter(config.TelegramConfig{Token: "123:abc"}, Options{JobTimeout: 20 * time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("NewAdapter error: %v", err)
	}

	hung := func(ctx context.Context, _ channel.Inbound) (string, error) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(2 * time.Second):
			return "late", nil
		}
	}

	ctx, cancel := adapter.withJobDeadline(context.Background())
	defer cancel()
	_, err = hung(ctx, channel.Inbound{Message: channel.Text{Body: "quote"}})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestJobDeadlineDefaultsToTwoMinutes(t *testing.T) {
	adapter, _ := newTestAdapter(t, nil)

	ctx, cancel := adapter.withJobDeadline(context.Background())
	defer cancel()
	deadline, ok := ctx.Deadline()
	if !ok {
		t.Fatal("expected a deadline")
	}
	if remaining := time.Until(deadline); remaining <= time.Minute || remaining > defaultJobTimeout {
		t.Fatalf("remaining = %s, want about %s", remaining, defaultJobTimeout)
	}
}
