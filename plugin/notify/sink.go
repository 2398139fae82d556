// Package notify delivers proactive notifications: to the log, the store
// inbox, a webhook endpoint or Telegram, fanned out and optionally queued
// behind a rate-limited dispatcher.
package notify

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/hrygo/routinesense/store"
)

// Sink delivers a notification.
type Sink interface {
	Emit(ctx context.Context, notification *store.Notification) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, notification *store.Notification) error

func (f SinkFunc) Emit(ctx context.Context, notification *store.Notification) error {
	return f(ctx, notification)
}

// Fanout emits to every sink, continuing past failures.
type Fanout []Sink

func (f Fanout) Emit(ctx context.Context, notification *store.Notification) error {
	var (
		first  error
		failed int
	)
	for _, sink := range f {
		if err := sink.Emit(ctx, notification); err != nil {
			if first == nil {
				first = err
			}
			failed++
		}
	}
	if first == nil {
		return nil
	}
	return errors.Wrapf(first, "%d of %d sinks failed", failed, len(f))
}

// LogSink writes notifications to a logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a log sink. A nil logger uses slog.Default().
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(ctx context.Context, n *store.Notification) error {
	s.logger.InfoContext(ctx, "notification",
		"user_id", n.UserID,
		"kind", n.Kind,
		"priority", n.Priority,
		"title", n.Title,
		"body", n.Body,
	)
	return nil
}

// InboxStore persists notifications. *store.Store implements it.
type InboxStore interface {
	CreateNotification(ctx context.Context, create *store.Notification) (*store.Notification, error)
}

// InboxSink persists notifications to the user's inbox.
type InboxSink struct {
	store InboxStore
}

// NewInboxSink creates an inbox sink.
func NewInboxSink(store InboxStore) *InboxSink {
	return &InboxSink{store: store}
}

func (s *InboxSink) Emit(ctx context.Context, n *store.Notification) error {
	if _, err := s.store.CreateNotification(ctx, n); err != nil {
		return errors.Wrap(err, "failed to store notification")
	}
	return nil
}

func patternUID(n *store.Notification) string {
	uid, _ := n.Payload["patternUid"].(string)
	return uid
}
