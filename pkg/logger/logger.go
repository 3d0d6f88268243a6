// Package logger builds the process slog.Logger: charmbracelet/log text for
// terminals or JSON lines for log collectors. Both outputs redact credentials
// and mask phone numbers.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	charmLog "github.com/charmbracelet/log"

	"freightdesk/pkg/config"
)

const (
	formatText = "text"
	formatJSON = "json"
	redacted   = "[redacted]"
)

var secretKeys = map[string]bool{
	"access_token":  true,
	"authorization": true,
	"api_key":       true,
	"verify_token":  true,
	"app_secret":    true,
	"token":         true,
}

// phoneKeys hold WhatsApp numbers; only their last four digits are logged.
var phoneKeys = map[string]bool{
	"recipient": true,
	"to":        true,
	"from":      true,
	"wa_id":     true,
}

// New builds the process logger on stderr. Environment overrides are already
// folded into cfg by config.LoadConfig.
func New(cfg config.LoggingConfig) (*slog.Logger, error) {
	return newWithWriter(cfg, os.Stderr)
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newWithWriter(cfg config.LoggingConfig, w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var handler slog.Handler
	switch format := strings.ToLower(strings.TrimSpace(cfg.Format)); format {
	case "", formatText:
		handler = charmLog.NewWithOptions(w, charmLog.Options{
			Level:           charmLog.Level(level),
			ReportTimestamp: true,
			ReportCaller:    cfg.AddSource,
			TimeFormat:      time.TimeOnly,
		})
	case formatJSON:
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:       level,
			AddSource:   cfg.AddSource,
			ReplaceAttr: jsonKeys,
		})
	default:
		return nil, fmt.Errorf("unsupported log format %q", format)
	}

	return slog.New(&maskingHandler{next: handler}), nil
}

func parseLevel(input string) (slog.Level, error) {
	switch level := strings.ToLower(strings.TrimSpace(input)); level {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported log level %q", level)
	}
}

// jsonKeys renames the built-in keys to timestamp, level, message and
// caller.
func jsonKeys(groups []string, a slog.Attr) slog.Attr {
	if len(groups) > 0 {
		return a
	}

	switch a.Key {
	case slog.TimeKey:
		return slog.String("timestamp", a.Value.Time().UTC().Format(time.RFC3339Nano))
	case slog.LevelKey:
		return slog.String(slog.LevelKey, strings.ToLower(a.Value.String()))
	case slog.MessageKey:
		return slog.Attr{Key: "message", Value: a.Value}
	case slog.SourceKey:
		if src, ok := a.Value.Any().(*slog.Source); ok {
			return slog.String("caller", fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line))
		}
	}
	return a
}

// maskingHandler rewrites sensitive attributes before the wrapped handler
// sees them.
type maskingHandler struct {
	next slog.Handler
}

func (h *maskingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *maskingHandler) Handle(ctx context.Context, record slog.Record) error {
	masked := slog.NewRecord(record.Time, record.Level, record.Message, record.PC)
	record.Attrs(func(a slog.Attr) bool {
		masked.AddAttrs(mask(a))
		return true
	})
	return h.next.Handle(ctx, masked)
}

func (h *maskingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &maskingHandler{next: h.next.WithAttrs(maskAll(attrs))}
}

func (h *maskingHandler) WithGroup(name string) slog.Handler {
	return &maskingHandler{next: h.next.WithGroup(name)}
}

func maskAll(attrs []slog.Attr) []slog.Attr {
	out := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		out[i] = mask(a)
	}
	return out
}

func mask(a slog.Attr) slog.Attr {
	a.Value = a.Value.Resolve()
	key := strings.ToLower(a.Key)

	switch {
	case secretKeys[key]:
		return slog.String(a.Key, redacted)
	case a.Value.Kind() == slog.KindGroup:
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(maskAll(a.Value.Group())...)}
	case phoneKeys[key] && a.Value.Kind() == slog.KindString:
		return slog.String(a.Key, MaskPhone(a.Value.String()))
	}
	return a
}

// MaskPhone keeps the last four characters of a phone number.
func MaskPhone(number string) string {
	number = strings.TrimSpace(number)
	if len(number) <= 4 {
		return number
	}
	return strings.Repeat("*", len(number)-4) + number[len(number)-4:]
}
