package lifecycle

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/secondbrain/strata/entity"
)

// Summarizer condenses entity content.
type Summarizer interface {
	Summarize(ctx context.Context, content string) (string, error)
}

// Notifier delivers a message to a tenant.
type Notifier interface {
	Notify(ctx context.Context, tenantID, message string) error
}

// Filer files an entity into permanent storage.
type Filer interface {
	File(ctx context.Context, e *entity.Entity) error
}

// SummarizerFunc adapts a function to Summarizer.
type SummarizerFunc func(ctx context.Context, content string) (string, error)

// Summarize calls f.
func (f SummarizerFunc) Summarize(ctx context.Context, content string) (string, error) {
	return f(ctx, content)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, tenantID, message string) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, tenantID, message string) error {
	return f(ctx, tenantID, message)
}

// ExcerptSummarizer summarizes by taking the first paragraph, truncated to
// MaxLen runes.
type ExcerptSummarizer struct {
	MaxLen int
}

// Summarize returns the leading excerpt of content.
func (s ExcerptSummarizer) Summarize(_ context.Context, content string) (string, error) {
	limit := s.MaxLen
	if limit <= 0 {
		limit = 280
	}
	text := strings.TrimSpace(content)
	if i := strings.Index(text, "\n\n"); i >= 0 {
		text = text[:i]
	}
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= limit {
		return text, nil
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:limit])) + "…", nil
}

// LogNotifier writes notifications to a logger.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify logs the message.
func (n LogNotifier) Notify(_ context.Context, tenantID, message string) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("lifecycle notification",
		slog.String("tenant_id", tenantID),
		slog.String("message", message),
	)
	return nil
}

// NopFiler files nothing.
type NopFiler struct{}

// File does nothing.
func (NopFiler) File(context.Context, *entity.Entity) error { return nil }
