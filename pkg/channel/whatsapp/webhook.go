package whatsapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"freightdesk/pkg/bus"
	"freightdesk/pkg/fault"
)

const (
	maxWebhookBytes  = 1024 * 1024
	signatureHeader  = "X-Hub-Signature-256"
	signaturePrefix  = "sha256="
	msgInvalidJSON   = "Invalid JSON provided"
	msgNotWhatsApp   = "Not a WhatsApp API event"
	msgServerBusy    = "Server busy"
	msgMissingParams = "Missing parameters"
	msgVerifyFailed  = "Verification failed"
	msgBadSignature  = "Invalid signature"
)

// Response is the JSON acknowledgement written to the platform.
type Response struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

var okResponse = Response{Status: "ok"}

// Verify answers the subscription handshake. It returns the challenge on
// success, a validation fault when mode or token is missing, and a
// verification fault when they do not match.
func (a *Adapter) Verify(mode string, token string, challenge string) (string, error) {
	if mode == "" || token == "" {
		return "", fault.New(fault.Validation, "hub.mode and hub.verify_token are required")
	}
	if mode != "subscribe" || subtle.ConstantTimeCompare([]byte(token), []byte(a.verifyToken)) != 1 {
		return "", fault.New(fault.Verification, "verify token mismatch")
	}

	return challenge, nil
}

func (a *Adapter) handleVerify(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	challenge, err := a.Verify(query.Get("hub.mode"), query.Get("hub.verify_token"), query.Get("hub.challenge"))
	if err != nil {
		if fault.Is(err, fault.Validation) {
			a.log.Warn("Webhook verification missing parameters")
			writeJSON(w, http.StatusBadRequest, Response{Status: "error", Message: msgMissingParams})
			return
		}
		a.log.Warn("Webhook verification failed")
		writeJSON(w, http.StatusForbidden, Response{Status: "error", Message: msgVerifyFailed})
		return
	}

	a.log.Info("Webhook verified")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, challenge)
}

func (a *Adapter) handleReceive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		a.log.Error("Failed to read webhook body", "error", err)
		writeJSON(w, http.StatusBadRequest, Response{Status: "error", Message: msgInvalidJSON})
		return
	}

	if !a.signatureValid(body, r.Header.Get(signatureHeader)) {
		a.log.Warn("Webhook signature mismatch")
		writeJSON(w, http.StatusForbidden, Response{Status: "error", Message: msgBadSignature})
		return
	}

	status, response := a.Receive(r.Context(), body)
	writeJSON(w, status, response)
}

// Receive validates one webhook body and schedules background work for an
// actionable message. It never waits for the responder.
func (a *Adapter) Receive(ctx context.Context, body []byte) (int, Response) {
	envelope, err := Decode(body)
	if err != nil {
		a.log.Error("Failed to decode JSON", "error", err)
		return http.StatusBadRequest, Response{Status: "error", Message: msgInvalidJSON}
	}

	switch envelope.Inspect() {
	case KindStatus:
		a.log.Info("Received a WhatsApp status update")
		return http.StatusOK, okResponse
	case KindMessage:
	default:
		a.log.Warn("Webhook body is not a WhatsApp message event", "object", envelope.Object)
		return http.StatusNotFound, Response{Status: "error", Message: msgNotWhatsApp}
	}

	job := Job{
		RequestID:  uuid.NewString(),
		Envelope:   envelope,
		ReceivedAt: time.Now().UTC(),
	}
	job.lifecycle = a.events.Track(channelName, job.RequestID)
	messageID := envelope.firstValue().Messages[0].ID
	payload := map[string]string{"message_id": messageID}
	_ = job.lifecycle.Advance(ctx, bus.EventReceived, payload)
	_ = job.lifecycle.Advance(ctx, bus.EventValidated, payload)

	if messageID != "" {
		seen, err := a.dedupe.Seen(ctx, messageID)
		if err != nil {
			a.log.Warn("Dedupe lookup failed; processing message", "request_id", job.RequestID, "message_id", messageID, "error", err)
		} else if seen {
			a.log.Info("Duplicate message ignored", "request_id", job.RequestID, "message_id", messageID)
			_ = job.lifecycle.Advance(ctx, bus.EventDropped, map[string]string{"message_id": messageID, "reason": "duplicate"})
			return http.StatusOK, okResponse
		}
	}

	if !a.enqueue(job) {
		busy := fault.New(fault.Overloaded, "worker queue full")
		a.log.Warn("Rejecting message", "request_id", job.RequestID, "message_id", messageID, "error", busy)
		if messageID != "" {
			if err := a.dedupe.Forget(ctx, messageID); err != nil {
				a.log.Warn("Failed to release message id", "message_id", messageID, "error", err)
			}
		}
		_ = job.lifecycle.Fail(ctx, busy, payload)
		return http.StatusServiceUnavailable, Response{Status: "error", Message: msgServerBusy}
	}

	a.log.Info("Message accepted", "request_id", job.RequestID, "message_id", messageID)
	return http.StatusOK, okResponse
}

// signatureValid checks X-Hub-Signature-256 when an app secret is configured.
func (a *Adapter) signatureValid(body []byte, header string) bool {
	if a.appSecret == "" {
		return true
	}

	given, ok := strings.CutPrefix(strings.TrimSpace(header), signaturePrefix)
	if !ok {
		return false
	}
	decoded, err := hex.DecodeString(given)
	if err != nil {
		return false
	}

	return hmac.Equal(decoded, Sign([]byte(a.appSecret), body))
}

// Sign returns the HMAC-SHA256 of body under secret.
func Sign(secret []byte, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
