package proactive

import (
	"context"
	"time"

	"github.com/hrygo/routinesense/store"
)

// ActivitySource reads a user's reminder and task history.
type ActivitySource interface {
	ListActivities(ctx context.Context, userID int32, since time.Time) ([]*store.ActivityRecord, error)
}

// UserLister enumerates users with recent activity.
type UserLister interface {
	ListActiveUserIDs(ctx context.Context, cutoff time.Time) ([]int32, error)
}

// PatternStore is the durable keyed store of patterns. (userID, normalizedTitle,
// frequency) is unique. The Claim methods are conditional writes that succeed
// at most once per gate. A deleted pattern stays as a tombstone: FindPatternByKey
// returns it, ListPatterns hides it, and only RestorePattern brings it back.
type PatternStore interface {
	FindPatternByKey(ctx context.Context, userID int32, normalizedTitle string, frequency store.PatternFrequency) (*store.Pattern, error)
	UpsertPattern(ctx context.Context, upsert *store.Pattern) (*store.Pattern, error)
	ListPatterns(ctx context.Context, find *store.FindPattern) ([]*store.Pattern, error)
	UpdatePatternResponse(ctx context.Context, update *store.UpdatePatternResponse) (*store.Pattern, error)
	ClaimAutomationOffer(ctx context.Context, id int64, at time.Time) (bool, error)
	ClaimForgottenReminder(ctx context.Context, id int64, at, dayStart time.Time) (bool, error)
	DeletePattern(ctx context.Context, id int64, at time.Time) error
	RestorePattern(ctx context.Context, restore *store.Pattern) (*store.Pattern, error)
}

// NotificationSink delivers notifications. Emit is fire-and-forget from the
// engine's point of view; retries and fan-out belong to the sink.
type NotificationSink interface {
	Emit(ctx context.Context, notification *store.Notification) error
}

// MetricsRecorder receives engine counters. *metrics.PrometheusExporter implements it.
type MetricsRecorder interface {
	RecordPass(job, status string, duration time.Duration)
	RecordPatternUpsert(action string)
	RecordNotification(kind store.NotificationKind, status string)
	RecordMalformedEvidence(n int)
}

type nopRecorder struct{}

func (nopRecorder) RecordPass(string, string, time.Duration) {}
func (nopRecorder) RecordPatternUpsert(string) {}
func (nopRecorder) RecordNotification(store.NotificationKind, string) {}
func (nopRecorder) RecordMalformedEvidence(int) {}
