// Package dispatch turns one classified inbound message into reply text:
// the identifier describes the product, the estimator compares carriers,
// and both answers are joined into a single reply.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"freightdesk/pkg/channel"
	"freightdesk/pkg/fault"
	providertypes "freightdesk/pkg/provider/types"
)

// Separator sits between the product description and the estimate.
const Separator = "\n\n---\n\n"

// IdentifyImagePrompt asks the identifier to describe a photographed product.
const IdentifyImagePrompt = "Please define the object on the image, along with its name, dimensions and material."

// Runner is one agent role.
type Runner interface {
	Run(ctx context.Context, prompt string, images ...providertypes.Image) (providertypes.PromptResult, error)
}

type Responder struct {
	identifier Runner
	estimator  Runner
	log        *slog.Logger
}

func New(identifier Runner, estimator Runner, log *slog.Logger) *Responder {
	if log == nil {
		log = slog.Default()
	}

	return &Responder{
		identifier: identifier,
		estimator:  estimator,
		log:        log.With("component", "dispatch"),
	}
}

// Handle implements channel.Handler. A failing step fails the whole message;
// no partial reply is produced.
func (r *Responder) Handle(ctx context.Context, in channel.Inbound) (string, error) {
	start := time.Now()
	log := r.log.With("request_id", in.RequestID, "channel", in.Channel)

	question, description, err := r.identify(ctx, in)
	if err != nil {
		return "", err
	}
	log.Debug("Product identified", "description_length", len(description))

	estimate, err := r.estimator.Run(ctx, DerivedPrompt(question, description))
	if err != nil {
		return "", err
	}

	reply := Compose(description, estimate.Text)
	log.Info("Reply composed", "reply_length", len(reply), "duration_ms", time.Since(start).Milliseconds())
	return reply, nil
}

func (r *Responder) identify(ctx context.Context, in channel.Inbound) (string, string, error) {
	switch msg := in.Message.(type) {
	case channel.Text:
		body := strings.TrimSpace(msg.Body)
		if body == "" {
			return "", "", fault.New(fault.Validation, "empty text message")
		}
		result, err := r.identifier.Run(ctx, body)
		if err != nil {
			return "", "", err
		}
		return body, result.Text, nil

	case channel.Image:
		media := in.Media
		if media == nil {
			return "", "", fault.Newf(fault.MediaFetch, "image %s was not fetched", msg.MediaID)
		}
		image, err := imageFromMedia(*media)
		if err != nil {
			return "", "", err
		}

		prompt := IdentifyImagePrompt
		if caption := strings.TrimSpace(media.Caption); caption != "" {
			prompt += "\nCaption: " + caption
		}
		result, err := r.identifier.Run(ctx, prompt, image)
		if err != nil {
			return "", "", err
		}
		return strings.TrimSpace(media.Caption), result.Text, nil

	default:
		return "", "", fault.Newf(fault.UnsupportedMessageType, "message type %q", in.Message.Kind())
	}
}

func imageFromMedia(media channel.Media) (providertypes.Image, error) {
	data := media.Data
	if len(data) == 0 && media.Path != "" {
		if !filepath.IsAbs(media.Path) {
			return providertypes.Image{}, fault.Newf(fault.MediaFetch, "staged image path %q is not absolute", media.Path)
		}
		raw, err := os.ReadFile(media.Path)
		if err != nil {
			return providertypes.Image{}, fault.Wrap(fault.MediaFetch, "read staged image", err)
		}
		data = raw
	}
	if len(data) == 0 {
		return providertypes.Image{}, fault.Newf(fault.MediaFetch, "image %s is empty", media.MediaID)
	}

	return providertypes.Image{MimeType: media.MimeType, Data: data}, nil
}

// DerivedPrompt is the estimator input built from the user's words and the
// identified product.
func DerivedPrompt(question string, description string) string {
	return fmt.Sprintf("User Question: %s\nProduct Specifications: %s", question, description)
}

// Compose joins description and estimate verbatim.
func Compose(description string, estimate string) string {
	return description + Separator + estimate
}
