package channel

import (
	"context"
	"net/http"
	"time"
)

// Message is the classified content of one inbound message. The set of
// implementations is closed: Text, Image and Unsupported.
type Message interface {
	Kind() string
	isMessage()
}

// Text is a plain text message.
type Text struct {
	Body string
}

// Image is a photo message whose bytes still live on the platform.
type Image struct {
	MediaID  string
	Caption  string
	MimeType string
}

// Unsupported is any message type the responder does not handle.
type Unsupported struct {
	Type string
}

func (Text) Kind() string          { return "text" }
func (Image) Kind() string         { return "image" }
func (m Unsupported) Kind() string { return m.Type }

func (Text) isMessage()        {}
func (Image) isMessage()       {}
func (Unsupported) isMessage() {}

// Media is an image downloaded and staged on disk.
type Media struct {
	MediaID  string
	// Path is the absolute location of the staged file.
	Path     string
	Caption  string
	MimeType string
	Data     []byte
}

// Inbound is one classified message handed to the responder.
type Inbound struct {
	Channel    string
	RequestID  string
	MessageID  string
	SenderID   string
	SenderName string
	ChatID     string
	ReceivedAt time.Time
	Message    Message
	Media      *Media
}

// Handler turns one inbound message into reply text.
type Handler func(context.Context, Inbound) (string, error)

// Adapter bridges one external transport into the responder.
type Adapter interface {
	Name() string
	Run(context.Context, Handler) error
}

// Mounter is implemented by adapters that receive traffic over the gateway's
// HTTP server.
type Mounter interface {
	Mount(mux *http.ServeMux)
}
