package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"

	"freightdesk/pkg/fault"
)

// TextMessage is the outbound envelope for a plain text reply.
type TextMessage struct {
	MessagingProduct string      `json:"messaging_product"`
	RecipientType    string      `json:"recipient_type"`
	To               string      `json:"to"`
	Type             string      `json:"type"`
	Text             TextPayload `json:"text"`
}

type TextPayload struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

// TemplateMessage is the outbound envelope for a pre-approved template.
type TemplateMessage struct {
	MessagingProduct string          `json:"messaging_product"`
	To               string          `json:"to"`
	Type             string          `json:"type"`
	Template         TemplatePayload `json:"template"`
}

type TemplatePayload struct {
	Name     string           `json:"name"`
	Language TemplateLanguage `json:"language"`
}

type TemplateLanguage struct {
	Code string `json:"code"`
}

// SendResult describes an accepted outbound message.
type SendResult struct {
	StatusCode int
	MessageID  string
	Recipient  string
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// NewTextMessage builds the text envelope for recipient.
func NewTextMessage(recipient string, body string) TextMessage {
	return TextMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               recipient,
		Type:             "text",
		Text:             TextPayload{PreviewURL: false, Body: body},
	}
}

// SendText posts a text reply. Timeouts are send_timeout faults, any other
// failure is a send_failure fault. Nothing is retried.
func (c *Client) SendText(ctx context.Context, recipient string, body string) (SendResult, error) {
	to := c.resolveRecipient(recipient)
	if to == "" {
		return SendResult{}, fault.New(fault.SendFailure, "recipient is required")
	}

	return c.post(ctx, to, NewTextMessage(to, body))
}

// SendTemplate posts a template message such as hello_world.
func (c *Client) SendTemplate(ctx context.Context, recipient string, name string, language string) (SendResult, error) {
	to := c.resolveRecipient(recipient)
	if to == "" {
		return SendResult{}, fault.New(fault.SendFailure, "recipient is required")
	}
	if strings.TrimSpace(language) == "" {
		language = "en_US"
	}

	return c.post(ctx, to, TemplateMessage{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "template",
		Template: TemplatePayload{
			Name:     name,
			Language: TemplateLanguage{Code: language},
		},
	})
}

func (c *Client) resolveRecipient(recipient string) string {
	if c.recipientOverride != "" {
		return c.recipientOverride
	}

	return strings.TrimSpace(recipient)
}

func (c *Client) post(ctx context.Context, to string, payload any) (SendResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return SendResult{}, classifySendError("wait for send slot", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.sendTimeout)
	defer cancel()

	encoded, err := json.Marshal(payload)
	if err != nil {
		return SendResult{}, fault.Wrap(fault.SendFailure, "encode message", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphURL(c.phoneNumberID, "messages"), bytes.NewReader(encoded))
	if err != nil {
		return SendResult{}, fault.Wrap(fault.SendFailure, "build send request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		sendErr := classifySendError("post message", err)
		c.log.Error("Send failed", "to", to, "error", sendErr)
		return SendResult{}, sendErr
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	c.log.Info("Send response",
		"to", to,
		"status", resp.StatusCode,
		"content_type", resp.Header.Get("Content-Type"),
		"body", string(body),
	)
	if readErr != nil {
		return SendResult{}, classifySendError("read send response", readErr)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return SendResult{}, fault.Newf(fault.SendFailure, "graph api status %d", resp.StatusCode)
	}

	result := SendResult{StatusCode: resp.StatusCode, Recipient: to}
	var decoded sendResponse
	if err := json.Unmarshal(body, &decoded); err == nil && len(decoded.Messages) > 0 {
		result.MessageID = decoded.Messages[0].ID
	}

	return result, nil
}

func classifySendError(detail string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fault.Wrap(fault.SendTimeout, detail, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fault.Wrap(fault.SendTimeout, detail, err)
	}

	return fault.Wrap(fault.SendFailure, detail, err)
}
