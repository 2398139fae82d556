package proactive

import (
	"context"
	"log/slog"
	"time"

	"github.com/hrygo/routinesense/ai/observability/logging"
	"github.com/hrygo/routinesense/store"
)

// Option customizes a Detector, Monitor, Responder or Scheduler.
type Option func(*options)

type options struct {
	now     func() time.Time
	logger  *slog.Logger
	metrics MetricsRecorder
}

func newOptions(opts []Option) options {
	o := options{
		now:     time.Now,
		logger:  slog.Default(),
		metrics: nopRecorder{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the fallback logger used when the context carries none.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

func (o options) log(ctx context.Context) *slog.Logger {
	return logging.FromContextOr(ctx, o.logger)
}

// emit hands n to sink. Delivery failures are logged and counted, never returned.
func (o options) emit(ctx context.Context, sink NotificationSink, n *store.Notification) {
	status := "sent"
	if err := sink.Emit(ctx, n); err != nil {
		status = "failed"
		o.log(ctx).Warn("failed to emit notification",
			"kind", n.Kind,
			"user_id", n.UserID,
			"error", err,
		)
	}
	o.metrics.RecordNotification(n.Kind, status)
}
