package whatsapp

import (
	"strings"

	"freightdesk/pkg/channel"
	"freightdesk/pkg/fault"
)

// Classified is the sender and closed message variant extracted from an
// actionable envelope.
type Classified struct {
	MessageID  string
	SenderID   string
	SenderName string
	Message    channel.Message
}

// Classify extracts the sender from contacts[0] and maps messages[0] onto the
// closed message variant. Unknown types become channel.Unsupported rather than
// an error; the caller decides to drop them.
func Classify(envelope Envelope) (Classified, error) {
	if !envelope.Actionable() {
		return Classified{}, fault.New(fault.Validation, "envelope has no message")
	}

	value := envelope.firstValue()
	entry := value.Messages[0]

	result := Classified{
		MessageID: entry.ID,
		SenderID:  envelope.senderID(),
	}
	if len(value.Contacts) > 0 {
		result.SenderName = strings.TrimSpace(value.Contacts[0].Profile.Name)
	}
	if result.SenderID == "" {
		return Classified{}, fault.New(fault.Validation, "message has no sender")
	}

	switch entry.Type {
	case "text":
		if entry.Text == nil {
			return Classified{}, fault.New(fault.Validation, "text message without body")
		}
		result.Message = channel.Text{Body: entry.Text.Body}
	case "image":
		if entry.Image == nil || strings.TrimSpace(entry.Image.ID) == "" {
			return Classified{}, fault.New(fault.Validation, "image message without media id")
		}
		result.Message = channel.Image{
			MediaID:  entry.Image.ID,
			Caption:  entry.Image.Caption,
			MimeType: entry.Image.MimeType,
		}
	default:
		kind := strings.TrimSpace(entry.Type)
		if kind == "" {
			kind = "unknown"
		}
		result.Message = channel.Unsupported{Type: kind}
	}

	return result, nil
}
