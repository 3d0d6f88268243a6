package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

func TestParseInput(t *testing.T) {
	tests := []struct {
		line       string
		wantPrompt string
		wantImage  string
		wantErr    bool
	}{
		{line: "ship 3 pallets to Oslo", wantPrompt: "ship 3 pallets to Oslo"},
		{line: "/image chair.jpg how much to Lisbon?", wantPrompt: "how much to Lisbon?", wantImage: "chair.jpg"},
		{line: "/image photos/sofa.png", wantImage: "photos/sofa.png"},
		{line: "/image   ", wantErr: true},
	}

	for _, tt := range tests {
		prompt, image, err := parseInput(tt.line)
		if (err != nil) != tt.wantErr {
			t.Fatalf("parseInput(%q) error = %v, wantErr %v", tt.line, err, tt.wantErr)
		}
		if prompt != tt.wantPrompt || image != tt.wantImage {
			t.Fatalf("parseInput(%q) = (%q, %q), want (%q, %q)", tt.line, prompt, image, tt.wantPrompt, tt.wantImage)
		}
	}
}

func TestUserLabel(t *testing.T) {
	if got := userLabel(" hello ", ""); got != "hello" {
		t.Fatalf("userLabel text = %q", got)
	}
	if got := userLabel("", "chair.jpg"); got != "🖼  chair.jpg" {
		t.Fatalf("userLabel image = %q", got)
	}
}

func TestEnterSendsPromptAndRecordsReply(t *testing.T) {
	var gotPrompt, gotImage string
	promptFn := func(_ context.Context, prompt string, imagePath string) (string, error) {
		gotPrompt, gotImage = prompt, imagePath
		return "sea freight: 120 EUR", nil
	}

	m := newModel(context.Background(), promptFn, modeInteractive, "", "", RuntimeInfo{})
	m.booting = false
	m.input.SetValue("/image chair.jpg to Lisbon")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatal("expected a command after enter")
	}
	if !m.isLoading {
		t.Fatal("expected loading state after enter")
	}

	msg := sendPromptCmd(m.ctx, m.promptFn, "to Lisbon", "chair.jpg")()
	if gotPrompt != "to Lisbon" || gotImage != "chair.jpg" {
		t.Fatalf("prompt func got (%q, %q)", gotPrompt, gotImage)
	}

	m.Update(msg)
	if m.isLoading {
		t.Fatal("expected loading to end")
	}
	if conversationTurns(m.messages) != 1 {
		t.Fatalf("turns = %d, want 1", conversationTurns(m.messages))
	}
	last := m.messages[len(m.messages)-1]
	if last.role != "assistant" || last.content != "sea freight: 120 EUR" {
		t.Fatalf("last message = %+v", last)
	}
}

func TestPromptErrorIsShown(t *testing.T) {
	m := newModel(context.Background(), nil, modeInteractive, "", "", RuntimeInfo{})
	m.booting = false
	m.isLoading = true

	m.Update(promptResultMsg{err: errors.New("estimator down"), elapsed: time.Second})
	if m.lastErr != "estimator down" {
		t.Fatalf("lastErr = %q", m.lastErr)
	}
	if m.messages[len(m.messages)-1].role != "error" {
		t.Fatalf("expected error message, got %+v", m.messages)
	}
}

func TestOneShotQuitsAfterReply(t *testing.T) {
	m := newModel(context.Background(), nil, modeOneShot, "how much?", "", RuntimeInfo{})
	_, cmd := m.Update(promptResultMsg{reply: "50 USD"})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("expected tea.QuitMsg")
	}
}

func TestFormatElapsed(t *testing.T) {
	if got := formatElapsed(0); got != "n/a" {
		t.Fatalf("formatElapsed(0) = %q", got)
	}
	if got := formatElapsed(1234 * time.Millisecond); got != "1.2s" {
		t.Fatalf("formatElapsed = %q", got)
	}
}
