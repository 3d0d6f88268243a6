package whatsapp

import (
	"encoding/json"
	"strings"

	"freightdesk/pkg/fault"
)

// Envelope is the webhook body posted by the WhatsApp Cloud API.
type Envelope struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string `json:"field"`
	Value *Value `json:"value"`
}

type Value struct {
	MessagingProduct string         `json:"messaging_product"`
	Metadata         Metadata       `json:"metadata"`
	Contacts         []Contact      `json:"contacts"`
	Messages         []InboundEntry `json:"messages"`
	Statuses         []Status       `json:"statuses"`
}

type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type Contact struct {
	WaID    string  `json:"wa_id"`
	Profile Profile `json:"profile"`
}

type Profile struct {
	Name string `json:"name"`
}

// InboundEntry is one element of value.messages.
type InboundEntry struct {
	From      string       `json:"from"`
	ID        string       `json:"id"`
	Timestamp string       `json:"timestamp"`
	Type      string       `json:"type"`
	Text      *TextBody    `json:"text,omitempty"`
	Image     *MediaObject `json:"image,omitempty"`
}

type TextBody struct {
	Body string `json:"body"`
}

type MediaObject struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256"`
	Caption  string `json:"caption"`
}

type Status struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
}

// Kind is the outcome of inspecting a decoded envelope.
type Kind int

const (
	KindUnrecognized Kind = iota
	KindStatus
	KindMessage
)

func (k Kind) String() string {
	switch k {
	case KindStatus:
		return "status"
	case KindMessage:
		return "message"
	default:
		return "unrecognized"
	}
}

// Decode parses a webhook body. Syntax errors are validation faults; a body
// that parses but has an unexpected shape is left to Inspect.
func Decode(body []byte) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Envelope{}, fault.Wrap(fault.Validation, "decode webhook body", err)
	}

	return envelope, nil
}

// Inspect classifies an envelope. Status updates are checked first, so a
// delivery receipt is acknowledged even when the rest of the envelope is sparse.
func (e Envelope) Inspect() Kind {
	value := e.firstValue()
	if value != nil && len(value.Statuses) > 0 {
		return KindStatus
	}
	if e.Actionable() {
		return KindMessage
	}

	return KindUnrecognized
}

// Actionable reports whether object, entry[0], changes[0], value and
// messages[0] all resolve.
func (e Envelope) Actionable() bool {
	if strings.TrimSpace(e.Object) == "" {
		return false
	}

	value := e.firstValue()
	return value != nil && len(value.Messages) > 0
}

// senderID returns contacts[0].wa_id, falling back to messages[0].from.
func (e Envelope) senderID() string {
	value := e.firstValue()
	if value == nil {
		return ""
	}
	if len(value.Contacts) > 0 {
		if id := strings.TrimSpace(value.Contacts[0].WaID); id != "" {
			return id
		}
	}
	if len(value.Messages) > 0 {
		return strings.TrimSpace(value.Messages[0].From)
	}
	return ""
}

// firstValue returns entry[0].changes[0].value, or nil when any step is missing.
func (e Envelope) firstValue() *Value {
	if len(e.Entry) == 0 || len(e.Entry[0].Changes) == 0 {
		return nil
	}

	return e.Entry[0].Changes[0].Value
}
