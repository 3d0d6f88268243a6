package whatsapp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"freightdesk/pkg/bus"
	"freightdesk/pkg/channel"
	"freightdesk/pkg/dedupe"
	"freightdesk/pkg/fault"
	"freightdesk/pkg/worker"
)

const (
	channelName       = "whatsapp"
	defaultJobTimeout = 120 * time.Second
	dedupeTTL         = 24 * time.Hour
)

// Job is one accepted webhook delivery, owned by exactly one worker.
type Job struct {
	RequestID  string
	Envelope   Envelope
	ReceivedAt time.Time

	lifecycle *bus.Lifecycle
}

// Options wires the adapter's collaborators.
type Options struct {
	VerifyToken  string
	AppSecret    string
	JobTimeout   time.Duration
	FailureReply string
	Pool         *worker.Pool
	Dedupe       dedupe.Store
	Events       *bus.EventBus
}

// Adapter receives WhatsApp webhooks over the gateway HTTP server and runs
// classification, media fetch, response and send on a worker pool.
type Adapter struct {
	client       *Client
	verifyToken  string
	appSecret    string
	jobTimeout   time.Duration
	failureReply string
	pool         *worker.Pool
	dedupe       dedupe.Store
	events       *bus.EventBus
	chats        *chatQueue
	log          *slog.Logger

	mu      sync.RWMutex
	handler channel.Handler
}

// NewAdapter validates webhook secrets and constructs an adapter.
func NewAdapter(client *Client, opts Options, log *slog.Logger) (*Adapter, error) {
	if client == nil {
		return nil, fault.New(fault.Configuration, "whatsapp client is required")
	}
	verifyToken := strings.TrimSpace(opts.VerifyToken)
	if verifyToken == "" {
		return nil, fault.New(fault.Configuration, "whatsapp verify token (VERIFY_TOKEN) is required")
	}
	if log == nil {
		log = slog.Default()
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = defaultJobTimeout
	}
	if opts.Pool == nil {
		opts.Pool = worker.New(4, 64, log)
	}
	if opts.Dedupe == nil {
		opts.Dedupe = dedupe.NewMemory(dedupeTTL)
	}

	return &Adapter{
		client:       client,
		verifyToken:  verifyToken,
		appSecret:    strings.TrimSpace(opts.AppSecret),
		jobTimeout:   opts.JobTimeout,
		failureReply: strings.TrimSpace(opts.FailureReply),
		pool:         opts.Pool,
		dedupe:       opts.Dedupe,
		events:       opts.Events,
		chats:        newChatQueue(maxChatBacklog),
		log:          log.With("component", "channel.whatsapp"),
	}, nil
}

// Name returns the channel identifier used in events and logs.
func (a *Adapter) Name() string {
	return channelName
}

// Mount registers the webhook routes.
func (a *Adapter) Mount(mux *http.ServeMux) {
	mux.HandleFunc("GET /webhook", a.handleVerify)
	mux.HandleFunc("POST /webhook", a.handleReceive)
}

// Run starts the worker pool and blocks until ctx ends, then drains it.
// Webhooks arriving before Run are rejected as busy.
func (a *Adapter) Run(ctx context.Context, handler channel.Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}

	a.mu.Lock()
	a.handler = handler
	a.mu.Unlock()

	if err := a.pool.Start(ctx); err != nil {
		return err
	}
	a.log.Info("WhatsApp channel started")

	<-ctx.Done()
	a.pool.Close()
	a.log.Info("WhatsApp channel stopped")
	return nil
}

// Ready reports whether webhooks are being accepted.
func (a *Adapter) Ready() bool {
	return a.pool.Running()
}

// Stats exposes the worker pool counters for readiness reporting. Queued
// includes jobs waiting behind an earlier message from the same sender.
func (a *Adapter) Stats() worker.Stats {
	stats := a.pool.Stats()
	stats.Queued += a.chats.waiting()
	return stats
}

// enqueue hands job to the pool, or parks it behind the sender's running job.
// A false result means the service is busy.
func (a *Adapter) enqueue(job Job) bool {
	key := job.Envelope.senderID()
	if key == "" {
		key = job.RequestID
	}

	return a.chats.push(key, job, a.pool.Running(), func(first Job) bool {
		return a.pool.TrySubmit(a.task(key, first))
	})
}

// task processes job and then every job the same sender queued meanwhile.
func (a *Adapter) task(key string, job Job) worker.Task {
	return func(ctx context.Context) {
		for {
			if err := ctx.Err(); err != nil {
				_ = job.lifecycle.Fail(ctx, err, map[string]string{"stage": "queue"})
			} else {
				a.process(ctx, job)
			}

			next, ok := a.chats.next(key)
			if !ok {
				return
			}
			job = next
		}
	}
}

func (a *Adapter) currentHandler() channel.Handler {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.handler
}

// process runs classify → fetch → respond → send for one job. Every failure
// ends the lifecycle in failed; no step is retried.
func (a *Adapter) process(ctx context.Context, job Job) {
	ctx, cancel := context.WithTimeout(ctx, a.jobTimeout)
	defer cancel()

	start := time.Now()
	lc := job.lifecycle
	log := a.log.With("request_id", job.RequestID)

	classified, err := Classify(job.Envelope)
	if err != nil {
		log.Error("Message classification failed", "error", err)
		_ = lc.Fail(ctx, err, nil)
		return
	}
	lc.SetChat(classified.SenderID)
	log = log.With("sender_id", classified.SenderID, "message_id", classified.MessageID)

	inbound := channel.Inbound{
		Channel:    channelName,
		RequestID:  job.RequestID,
		MessageID:  classified.MessageID,
		SenderID:   classified.SenderID,
		SenderName: classified.SenderName,
		ChatID:     classified.SenderID,
		ReceivedAt: job.ReceivedAt,
		Message:    classified.Message,
	}

	switch msg := classified.Message.(type) {
	case channel.Text:
		log.Info("Text message received", "content", preview(msg.Body))
	case channel.Image:
		media, err := a.client.FetchMedia(ctx, msg)
		if err != nil {
			_ = lc.Fail(ctx, err, map[string]string{"media_id": msg.MediaID})
			return
		}
		inbound.Media = &media
		log.Info("Image message received", "path", media.Path, "caption", preview(media.Caption))
	case channel.Unsupported:
		unsupported := fault.Newf(fault.UnsupportedMessageType, "message type %q", msg.Type)
		log.Warn("Dropping message", "error", unsupported)
		_ = lc.Fail(ctx, unsupported, map[string]string{"type": msg.Type})
		return
	default:
		unknown := fault.Newf(fault.UnsupportedMessageType, "unhandled message kind %T", msg)
		log.Error("Dropping message", "error", unknown)
		_ = lc.Fail(ctx, unknown, nil)
		return
	}
	_ = lc.Advance(ctx, bus.EventClassified, map[string]string{"kind": classified.Message.Kind()})

	handler := a.currentHandler()
	if handler == nil {
		_ = lc.Fail(ctx, errors.New("no handler registered"), nil)
		return
	}

	reply, err := handler(ctx, inbound)
	if err != nil {
		err = asAgentError(err)
		log.Error("Responder failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		_ = lc.Fail(ctx, err, map[string]string{"stage": "dispatch"})
		a.sendFailureReply(ctx, log, classified.SenderID)
		return
	}
	_ = lc.Advance(ctx, bus.EventDispatched, map[string]string{"reply_bytes": strconv.Itoa(len(reply))})

	result, err := a.client.SendText(ctx, classified.SenderID, reply)
	if err != nil {
		log.Error("Reply delivery failed", "error", err)
		_ = lc.Fail(ctx, err, map[string]string{"stage": "send"})
		return
	}

	_ = lc.Advance(ctx, bus.EventSent, map[string]string{"wamid": result.MessageID})
	log.Info("Reply sent", "wamid", result.MessageID, "duration_ms", time.Since(start).Milliseconds())
}

// sendFailureReply sends the configured apology text, when there is one.
func (a *Adapter) sendFailureReply(ctx context.Context, log *slog.Logger, recipient string) {
	if a.failureReply == "" {
		return
	}

	if _, err := a.client.SendText(ctx, recipient, a.failureReply); err != nil {
		log.Error("Failure reply delivery failed", "error", err)
	}
}

func asAgentError(err error) error {
	var categorized *fault.Error
	if errors.As(err, &categorized) {
		return err
	}

	return fault.Wrap(fault.AgentInvocation, "respond", err)
}

func preview(text string) string {
	const limit = 240

	trimmed := strings.TrimSpace(text)
	if utf8.RuneCountInString(trimmed) <= limit {
		return trimmed
	}

	runes := []rune(trimmed)
	return string(runes[:limit]) + "..."
}
