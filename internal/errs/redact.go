package errs

import (
	"context"
	"log/slog"
	"regexp"
)

// sensitivePattern matches "key=value" and "key: value" pairs whose key
// looks like a credential, per the log redaction policy: deeper diagnostic
// detail belongs in the log, but never the secret itself.
var sensitivePattern = regexp.MustCompile(`(?i)(api[-_]?key|token|password|secret|bearer)\s*[=:]\s*\S+`)

// Redact replaces sensitive substrings in s with a masked marker, preserving
// the matched key name so the redacted line still says what was scrubbed.
func Redact(s string) string {
	return sensitivePattern.ReplaceAllString(s, "$1=***REDACTED***")
}

// RedactingHandler wraps a slog.Handler and redacts sensitive substrings
// from the message and every string-valued attribute before they reach the
// underlying handler.
type RedactingHandler struct {
	next slog.Handler
}

// NewRedactingHandler wraps next with the sensitive-data filter.
func NewRedactingHandler(next slog.Handler) *RedactingHandler {
	return &RedactingHandler{next: next}
}

func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	r.Message = Redact(r.Message)

	redacted := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		redacted.AddAttrs(redactAttr(a))
		return true
	})
	return h.next.Handle(ctx, redacted)
}

func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		out[i] = redactAttr(a)
	}
	return &RedactingHandler{next: h.next.WithAttrs(out)}
}

func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{next: h.next.WithGroup(name)}
}

func redactAttr(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindString {
		return slog.String(a.Key, Redact(a.Value.String()))
	}
	return a
}
