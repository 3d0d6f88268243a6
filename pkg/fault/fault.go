package fault

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

const (
	Configuration          = "configuration"
	Validation             = "validation"
	Verification           = "verification"
	MediaFetch             = "media_fetch"
	AgentInvocation        = "agent_invocation"
	SendTimeout            = "send_timeout"
	SendFailure            = "send_failure"
	UnsupportedMessageType = "unsupported_message_type"
	Overloaded             = "overloaded"
	Internal               = "internal"
)

// Error is a categorized failure of the message pipeline.
type Error struct {
	Category string
	Detail   string
	Err      error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	msg := e.Category
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", e.Category, e.Detail)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}

	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Err
}

// New creates a categorized error without an underlying cause.
func New(category string, detail string) error {
	return &Error{Category: category, Detail: detail}
}

// Newf is New with a formatted detail.
func Newf(category string, format string, args ...any) error {
	return &Error{Category: category, Detail: fmt.Sprintf(format, args...)}
}

// Wrap attaches a category to err. A nil err stays nil.
func Wrap(category string, detail string, err error) error {
	if err == nil {
		return nil
	}

	return &Error{Category: category, Detail: detail, Err: err}
}

// CategoryOf returns the category of the outermost categorized error in the chain.
func CategoryOf(err error) string {
	if err == nil {
		return ""
	}

	var categorized *Error
	if errors.As(err, &categorized) {
		return categorized.Category
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return SendTimeout
	}

	return Internal
}

// Is reports whether err carries the given category.
func Is(err error, category string) bool {
	return err != nil && CategoryOf(err) == category
}

// HTTPStatus maps a category onto the status code the webhook responds with.
func HTTPStatus(err error) int {
	switch CategoryOf(err) {
	case Validation:
		return http.StatusBadRequest
	case Verification:
		return http.StatusForbidden
	case Overloaded:
		return http.StatusServiceUnavailable
	case SendTimeout:
		return http.StatusRequestTimeout
	case "":
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}
