// Package telegram answers Telegram bot messages with the same responder as
// the WhatsApp webhook.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"freightdesk/pkg/bus"
	"freightdesk/pkg/channel"
	"freightdesk/pkg/config"
	"freightdesk/pkg/fault"
	"freightdesk/pkg/workspace"
)

const (
	channelName           = "telegram"
	messagePreviewLimit   = 240
	maxMessageRunes       = 4096
	maxPhotoBytes         = 20 * 1024 * 1024
	typingRefreshInterval = 4 * time.Second
	defaultMediaDir       = "images"
	defaultJobTimeout     = 120 * time.Second
)

// Options wires the adapter's collaborators.
type Options struct {
	Staging      *workspace.Staging
	Events       *bus.EventBus
	FailureReply string
	MediaDir     string
	JobTimeout   time.Duration
	HTTPClient   *http.Client
}

// fileResolver is the part of the bot API used to download photos.
type fileResolver interface {
	GetFile(ctx context.Context, params *telego.GetFileParams) (*telego.File, error)
	FileDownloadURL(filePath string) string
}

// Adapter bridges Telegram updates into the responder.
type Adapter struct {
	cfg          config.TelegramConfig
	allowFrom    map[string]struct{}
	staging      *workspace.Staging
	events       *bus.EventBus
	failureReply string
	mediaDir     string
	jobTimeout   time.Duration
	httpClient   *http.Client
	log          *slog.Logger
}

// NewAdapter validates Telegram configuration and constructs an adapter instance.
func NewAdapter(cfg config.TelegramConfig, opts Options, log *slog.Logger) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, fault.New(fault.Configuration, "telegram requires TELEGRAM_BOT_TOKEN")
	}

	if log == nil {
		log = slog.Default()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = defaultJobTimeout
	}
	mediaDir := strings.TrimSpace(opts.MediaDir)
	if mediaDir == "" {
		mediaDir = defaultMediaDir
	}

	return &Adapter{
		cfg:          cfg,
		allowFrom:    allowFromSet(cfg.AllowFrom),
		staging:      opts.Staging,
		events:       opts.Events,
		failureReply: strings.TrimSpace(opts.FailureReply),
		mediaDir:     mediaDir,
		jobTimeout:   opts.JobTimeout,
		httpClient:   opts.HTTPClient,
		log:          log.With("component", "channel.telegram"),
	}, nil
}

// Name returns the channel identifier used in events and logs.
func (a *Adapter) Name() string {
	return channelName
}

// Run starts Telegram long polling and answers each message in turn.
func (a *Adapter) Run(ctx context.Context, handler channel.Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}

	bot, err := telego.NewBot(strings.TrimSpace(a.cfg.Token))
	if err != nil {
		return fmt.Errorf("initialize telegram bot: %w", err)
	}

	updates, err := bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}

	a.log.Info("Telegram channel started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				if err := ctx.Err(); err != nil {
					return nil
				}
				return errors.New("telegram updates channel closed")
			}
			if update.Message == nil {
				continue
			}

			a.handleMessage(ctx, bot, handler, update.Message)
		}
	}
}

// withJobDeadline bounds one message from download to reply.
func (a *Adapter) withJobDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.jobTimeout)
}

func (a *Adapter) handleMessage(ctx context.Context, bot *telego.Bot, handler channel.Handler, message *telego.Message) {
	ctx, cancel := a.withJobDeadline(ctx)
	defer cancel()

	requestID := uuid.NewString()
	lc := a.events.Track(channelName, requestID)
	chatID := strconv.FormatInt(message.Chat.ID, 10)
	lc.SetChat(chatID)
	log := a.log.With("request_id", requestID, "chat_id", chatID)

	_ = lc.Advance(ctx, bus.EventReceived, nil)

	inbound, err := a.toInbound(ctx, bot, requestID, message)
	if err != nil {
		if fault.Is(err, fault.Validation) {
			log.Debug("Ignoring message", "reason", err)
			_ = lc.Advance(ctx, bus.EventDropped, nil)
			return
		}
		log.Warn("Dropping message", "error", err)
		_ = lc.Fail(ctx, err, nil)
		return
	}
	_ = lc.Advance(ctx, bus.EventValidated, nil)
	_ = lc.Advance(ctx, bus.EventClassified, map[string]string{"kind": inbound.Message.Kind()})
	log.Info("Received message", "sender_id", inbound.SenderID, "kind", inbound.Message.Kind(), "content", previewText(messageText(message)))

	stopTyping := a.startTypingIndicator(ctx, bot, message.Chat.ID)
	reply, err := handler(ctx, inbound)
	stopTyping()
	if err != nil {
		log.Error("Failed to process inbound message", "error", err)
		_ = lc.Fail(ctx, err, map[string]string{"stage": "dispatch"})
		if a.failureReply != "" {
			_ = a.send(ctx, bot, message.Chat.ID, a.failureReply)
		}
		return
	}
	_ = lc.Advance(ctx, bus.EventDispatched, map[string]string{"reply_bytes": strconv.Itoa(len(reply))})

	log.Info("Sending message", "content", previewText(reply))
	if err := a.send(ctx, bot, message.Chat.ID, reply); err != nil {
		log.Error("Failed to send telegram message", "error", err)
		_ = lc.Fail(ctx, fault.Wrap(fault.SendFailure, "telegram send", err), map[string]string{"stage": "send"})
		return
	}
	_ = lc.Advance(ctx, bus.EventSent, nil)
}

// toInbound classifies a Telegram message. Messages from senders outside the
// allow list are validation faults; anything but text or photo is
// unsupported.
func (a *Adapter) toInbound(ctx context.Context, files fileResolver, requestID string, message *telego.Message) (channel.Inbound, error) {
	if message.From == nil {
		return channel.Inbound{}, fault.New(fault.Validation, "message without sender")
	}

	senderID := strconv.FormatInt(message.From.ID, 10)
	if !a.senderAllowed(senderID) {
		return channel.Inbound{}, fault.Newf(fault.Validation, "sender %s is not allowed", senderID)
	}

	inbound := channel.Inbound{
		Channel:    channelName,
		RequestID:  requestID,
		MessageID:  strconv.Itoa(message.MessageID),
		SenderID:   senderID,
		SenderName: strings.TrimSpace(message.From.FirstName + " " + message.From.LastName),
		ChatID:     strconv.FormatInt(message.Chat.ID, 10),
		ReceivedAt: time.Unix(message.Date, 0).UTC(),
	}

	switch {
	case len(message.Photo) > 0:
		photo := largestPhoto(message.Photo)
		media, err := a.fetchPhoto(ctx, files, photo, message.Caption)
		if err != nil {
			return channel.Inbound{}, err
		}
		inbound.Message = channel.Image{MediaID: media.MediaID, Caption: media.Caption, MimeType: media.MimeType}
		inbound.Media = &media
	case strings.TrimSpace(message.Text) != "":
		inbound.Message = channel.Text{Body: strings.TrimSpace(message.Text)}
	default:
		kind := messageKind(message)
		return channel.Inbound{}, fault.Newf(fault.UnsupportedMessageType, "message type %q", kind)
	}

	return inbound, nil
}

func (a *Adapter) fetchPhoto(ctx context.Context, files fileResolver, photo telego.PhotoSize, caption string) (channel.Media, error) {
	if a.staging == nil {
		return channel.Media{}, fault.New(fault.Configuration, "telegram photos require a staging area")
	}

	file, err := files.GetFile(ctx, &telego.GetFileParams{FileID: photo.FileID})
	if err != nil {
		return channel.Media{}, fault.Wrap(fault.MediaFetch, "get telegram file", err)
	}
	if file.FilePath == "" {
		return channel.Media{}, fault.New(fault.MediaFetch, "telegram file has no path")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, files.FileDownloadURL(file.FilePath), nil)
	if err != nil {
		return channel.Media{}, fault.Wrap(fault.MediaFetch, "build download request", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return channel.Media{}, fault.Wrap(fault.MediaFetch, "download telegram file", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return channel.Media{}, fault.Newf(fault.MediaFetch, "download telegram file: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPhotoBytes))
	if err != nil {
		return channel.Media{}, fault.Wrap(fault.MediaFetch, "read telegram file", err)
	}

	ext := path.Ext(file.FilePath)
	if ext == "" {
		ext = ".jpg"
	}
	mediaID := photo.FileUniqueID
	if mediaID == "" {
		mediaID = photo.FileID
	}
	written, err := a.staging.WriteFile(ctx, filepath.Join(a.mediaDir, mediaID+ext), data)
	if err != nil {
		return channel.Media{}, fault.Wrap(fault.MediaFetch, "stage telegram photo", err)
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = "image/jpeg"
	}

	return channel.Media{
		MediaID:  mediaID,
		Path:     written.Path,
		Caption:  strings.TrimSpace(caption),
		MimeType: mimeType,
		Data:     data,
	}, nil
}

func (a *Adapter) send(ctx context.Context, bot *telego.Bot, chatID int64, text string) error {
	for _, part := range splitMessage(text, maxMessageRunes) {
		if _, err := bot.SendMessage(ctx, tu.Message(tu.ID(chatID), part)); err != nil {
			return err
		}
	}
	return nil
}

// senderAllowed checks whether a sender is permitted by allow_from config.
//
// When no allow list is configured, all senders are accepted.
func (a *Adapter) senderAllowed(senderID string) bool {
	if len(a.allowFrom) == 0 {
		return true
	}

	_, ok := a.allowFrom[strings.TrimSpace(senderID)]
	return ok
}

// allowFromSet normalizes allow_from values into a lookup set.
func allowFromSet(allowFrom []string) map[string]struct{} {
	if len(allowFrom) == 0 {
		return nil
	}

	allowed := make(map[string]struct{}, len(allowFrom))
	for _, value := range allowFrom {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		allowed[trimmed] = struct{}{}
	}

	if len(allowed) == 0 {
		return nil
	}

	return allowed
}

func largestPhoto(sizes []telego.PhotoSize) telego.PhotoSize {
	best := sizes[0]
	for _, size := range sizes[1:] {
		if size.Width*size.Height > best.Width*best.Height {
			best = size
		}
	}
	return best
}

func messageKind(message *telego.Message) string {
	switch {
	case message.Voice != nil:
		return "voice"
	case message.Audio != nil:
		return "audio"
	case message.Video != nil:
		return "video"
	case message.Document != nil:
		return "document"
	case message.Sticker != nil:
		return "sticker"
	case message.Location != nil:
		return "location"
	default:
		return "unknown"
	}
}

func messageText(message *telego.Message) string {
	if message.Text != "" {
		return message.Text
	}
	return message.Caption
}

// splitMessage cuts text into parts of at most limit runes, preferring line
// breaks.
func splitMessage(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var parts []string
	for utf8.RuneCountInString(text) > limit {
		runes := []rune(text)
		cut := limit
		if idx := strings.LastIndex(string(runes[:limit]), "\n"); idx > 0 {
			cut = utf8.RuneCountInString(string(runes[:limit])[:idx])
		}
		parts = append(parts, strings.TrimSpace(string(runes[:cut])))
		text = strings.TrimSpace(string(runes[cut:]))
	}
	if text != "" {
		parts = append(parts, text)
	}

	return parts
}

// previewText returns a bounded log-safe preview of message text.
func previewText(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= messagePreviewLimit {
		return trimmed
	}

	return trimmed[:messagePreviewLimit] + "..."
}

// startTypingIndicator sends an initial typing action and refreshes it periodically
// until the returned cancel function is called.
func (a *Adapter) startTypingIndicator(ctx context.Context, bot *telego.Bot, chatID int64) context.CancelFunc {
	typingCtx, cancel := context.WithCancel(ctx)

	sendTyping := func() {
		if err := bot.SendChatAction(typingCtx, tu.ChatAction(tu.ID(chatID), telego.ChatActionTyping)); err != nil && typingCtx.Err() == nil {
			a.log.Debug("Failed to send typing indicator", "chat_id", chatID, "error", err)
		}
	}

	sendTyping()

	go func() {
		ticker := time.NewTicker(typingRefreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-typingCtx.Done():
				return
			case <-ticker.C:
				sendTyping()
			}
		}
	}()

	return cancel
}
