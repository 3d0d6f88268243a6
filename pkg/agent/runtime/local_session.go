// Package runtime drives the responder from the local CLI with the same
// lifecycle events the gateway publishes.
package runtime

import (
	"context"
	"errors"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"freightdesk/pkg/agent"
	"freightdesk/pkg/bus"
	"freightdesk/pkg/channel"
)

const (
	cliChannelName = "cli"
	cliChatID      = "local"
)

// LocalSession coordinates a single local CLI session.
//
// It owns one event bus, one transcript and, when requested, one goroutine
// that logs lifecycle events.
type LocalSession struct {
	handler    channel.Handler
	events     *bus.EventBus
	transcript *agent.Transcript
	log        *slog.Logger

	cancelObserver context.CancelFunc
}

func StartLocalSession(ctx context.Context, handler channel.Handler, log *slog.Logger, observeEvents bool) (*LocalSession, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	if log == nil {
		log = slog.Default()
	}

	session := &LocalSession{
		handler:        handler,
		events:         bus.NewEventBus(),
		transcript:     agent.NewTranscript(),
		log:            log.With("component", "runtime.local"),
		cancelObserver: func() {},
	}

	if observeEvents {
		observerCtx, cancel := context.WithCancel(ctx)
		session.cancelObserver = cancel
		go ObserveEvents(observerCtx, session.events, log)
	}

	return session, nil
}

// Events exposes the session bus for subscribers such as tests or the TUI.
func (s *LocalSession) Events() *bus.EventBus {
	return s.events
}

// Transcript returns the turns recorded so far.
func (s *LocalSession) Transcript() *agent.Transcript {
	return s.transcript
}

// Ask runs one question through the handler. imagePath, when set, is sent as
// a photo with prompt as its caption.
func (s *LocalSession) Ask(ctx context.Context, prompt string, imagePath string) (string, error) {
	if s == nil {
		return "", errors.New("local session is nil")
	}

	requestID := uuid.NewString()
	lifecycle := s.events.Track(cliChannelName, requestID)
	lifecycle.SetChat(cliChatID)
	_ = lifecycle.Advance(ctx, bus.EventReceived, map[string]string{"prompt_length": strconv.Itoa(len(prompt))})

	inbound, err := buildInbound(requestID, prompt, imagePath)
	if err != nil {
		_ = lifecycle.Fail(ctx, err, nil)
		return "", err
	}
	_ = lifecycle.Advance(ctx, bus.EventValidated, nil)
	_ = lifecycle.Advance(ctx, bus.EventClassified, map[string]string{"message_type": inbound.Message.Kind()})

	s.transcript.Append("user", userTurn(prompt, imagePath))

	start := time.Now()
	reply, err := s.handler(ctx, inbound)
	if err != nil {
		_ = lifecycle.Fail(ctx, err, nil)
		return "", err
	}
	_ = lifecycle.Advance(ctx, bus.EventDispatched, map[string]string{
		"reply_length": strconv.Itoa(len(reply)),
		"duration_ms":  strconv.FormatInt(time.Since(start).Milliseconds(), 10),
	})

	s.transcript.Append("assistant", reply)
	_ = lifecycle.Advance(ctx, bus.EventSent, nil)

	return reply, nil
}

// Close stops the event observer and closes the bus.
func (s *LocalSession) Close() {
	if s == nil {
		return
	}

	s.cancelObserver()
	s.events.Close()
}

func buildInbound(requestID string, prompt string, imagePath string) (channel.Inbound, error) {
	prompt = strings.TrimSpace(prompt)
	inbound := channel.Inbound{
		Channel:    cliChannelName,
		RequestID:  requestID,
		MessageID:  requestID,
		SenderID:   cliChatID,
		ChatID:     cliChatID,
		ReceivedAt: time.Now().UTC(),
	}

	imagePath = strings.TrimSpace(imagePath)
	if imagePath == "" {
		if prompt == "" {
			return channel.Inbound{}, errors.New("prompt is required")
		}
		inbound.Message = channel.Text{Body: prompt}
		return inbound, nil
	}

	imagePath, err := filepath.Abs(imagePath)
	if err != nil {
		return channel.Inbound{}, err
	}
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return channel.Inbound{}, err
	}
	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(imagePath)))
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	mediaID := strings.TrimSuffix(filepath.Base(imagePath), filepath.Ext(imagePath))

	inbound.Message = channel.Image{MediaID: mediaID, Caption: prompt, MimeType: mimeType}
	inbound.Media = &channel.Media{
		MediaID:  mediaID,
		Path:     imagePath,
		Caption:  prompt,
		MimeType: mimeType,
		Data:     data,
	}
	return inbound, nil
}

func userTurn(prompt string, imagePath string) string {
	if strings.TrimSpace(imagePath) == "" {
		return prompt
	}
	return strings.TrimSpace("[image: " + filepath.Base(imagePath) + "] " + prompt)
}
