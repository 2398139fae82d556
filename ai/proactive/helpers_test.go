package proactive

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hrygo/routinesense/ai/habit"
	"github.com/hrygo/routinesense/store"
)

// monday is 2026-03-02, a Monday.
var monday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

// at returns monday + day days at hh:mm UTC.
func at(day, hour, minute int) time.Time {
	return monday.AddDate(0, 0, day).Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(now time.Time) *testClock {
	return &testClock{now: now}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

type recordingSink struct {
	mu    sync.Mutex
	items []*store.Notification
	err   error
}

func (s *recordingSink) Emit(_ context.Context, n *store.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, n)
	return s.err
}

func (s *recordingSink) all() []*store.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*store.Notification(nil), s.items...)
}

func (s *recordingSink) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Analysis = &habit.AnalysisConfig{LookbackDays: 60, MinOccurrences: 5, Location: time.UTC}
	return cfg
}

func addActivities(ms *MemoryStore, userID int32, title string, days []int, hour, minute int) {
	for _, d := range days {
		ms.AddActivity(&store.ActivityRecord{
			UserID:     userID,
			Title:      title,
			Type:       store.ActivityTypeReminder,
			OccurredAt: at(d, hour, minute).Format(time.RFC3339),
		})
	}
}

// seedAccepted stores an accepted daily pattern for userID.
func seedAccepted(t *testing.T, ms *MemoryStore, userID int32, title string, priority store.PatternPriority, lastOccurrence time.Time) *store.Pattern {
	t.Helper()
	ctx := context.Background()
	p, err := ms.UpsertPattern(ctx, &store.Pattern{
		UID:              "uid-" + habit.Normalize(title),
		UserID:           userID,
		Title:            title,
		NormalizedTitle:  habit.Normalize(title),
		Type:             store.ActivityTypeReminder,
		Frequency:        store.PatternFrequencyDaily,
		Timing:           store.PatternTiming{Hour: 7, Minute: 0},
		Occurrences:      12,
		Consistency:      0.9,
		Priority:         priority,
		UserResponse:     store.PatternResponsePending,
		LastOccurrenceTs: lastOccurrence.Unix(),
		FirstDetectedTs:  lastOccurrence.AddDate(0, 0, -12).Unix(),
	})
	require.NoError(t, err)

	accepted, on := store.PatternResponseAccepted, true
	p, err = ms.UpdatePatternResponse(ctx, &store.UpdatePatternResponse{ID: p.ID, UserResponse: &accepted, AutoCreated: &on})
	require.NoError(t, err)
	return p
}
