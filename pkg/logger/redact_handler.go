package logger

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
)

const redactedPlaceholder = "[REDACTED]"

var (
	emailPattern  = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	cardPattern   = regexp.MustCompile(`\b(?:\d[ -]?){13,19}\b`)
	sensitiveKeys = map[string]struct{}{
		"token": {}, "access_token": {}, "refresh_token": {}, "bot_token": {},
		"interaction_token": {}, "password": {}, "secret": {}, "authorization": {},
		"email": {}, "cc": {}, "credit_card": {}, "ssn": {},
	}
)

// RedactHandler scrubs bot/interaction tokens, broker credentials and other
// PII-shaped values out of log attributes before they reach next.
type RedactHandler struct {
	next slog.Handler
}

// NewRedactHandler wraps next with redaction.
func NewRedactHandler(next slog.Handler) *RedactHandler {
	return &RedactHandler{next: next}
}

func (h *RedactHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *RedactHandler) Handle(ctx context.Context, r slog.Record) error {
	redacted := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		redacted.AddAttrs(redactAttr(a))
		return true
	})
	return h.next.Handle(ctx, redacted)
}

func redactAttr(a slog.Attr) slog.Attr {
	if _, sensitive := sensitiveKeys[strings.ToLower(a.Key)]; sensitive {
		return slog.String(a.Key, redactedPlaceholder)
	}

	if a.Value.Kind() == slog.KindString {
		s := a.Value.String()
		if emailPattern.MatchString(s) || cardPattern.MatchString(s) {
			s = emailPattern.ReplaceAllString(s, redactedPlaceholder)
			s = cardPattern.ReplaceAllString(s, redactedPlaceholder)
			return slog.String(a.Key, s)
		}
	}

	return a
}

func (h *RedactHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = redactAttr(a)
	}
	return &RedactHandler{next: h.next.WithAttrs(redacted)}
}

func (h *RedactHandler) WithGroup(name string) slog.Handler {
	return &RedactHandler{next: h.next.WithGroup(name)}
}
