package proactive

import (
	"context"
	"time"

	"github.com/hrygo/routinesense/ai/habit"
	"github.com/hrygo/routinesense/store"
)

// SweepResult summarizes one user's forgotten-activity sweep.
type SweepResult struct {
	UserID    int32
	Evaluated int
	NotDue    int
	// Waiting counts due patterns still inside their grace period.
	Waiting   int
	Completed int
	// AlreadyReminded counts patterns reminded earlier today.
	AlreadyReminded int
	Reminded        int
}

// Monitor reminds users about automated routines they skipped today.
type Monitor struct {
	source   ActivitySource
	patterns PatternStore
	sink     NotificationSink
	config   Config
	options
}

// NewMonitor creates a monitor. source may be nil, in which case only the
// pattern's own last occurrence tells whether today's activity happened.
func NewMonitor(source ActivitySource, patterns PatternStore, sink NotificationSink, cfg Config, opts ...Option) *Monitor {
	if sink == nil {
		sink = discardSink{}
	}
	return &Monitor{
		source:   source,
		patterns: patterns,
		sink:     sink,
		config:   cfg.withDefaults(),
		options:  newOptions(opts),
	}
}

// SweepUser evaluates every automated pattern of userID.
func (m *Monitor) SweepUser(ctx context.Context, userID int32) (*SweepResult, error) {
	listCtx, cancel := context.WithTimeout(ctx, m.config.UserTimeout)
	defer cancel()
	autoCreated := true
	list, err := m.patterns.ListPatterns(listCtx, &store.FindPattern{UserID: &userID, AutoCreated: &autoCreated})
	if err != nil {
		return &SweepResult{UserID: userID}, storeUnavailable(err, "failed to list automated patterns")
	}
	return m.SweepPatterns(ctx, userID, list)
}

// SweepPatterns evaluates the given automated patterns of userID at the
// current time and emits at most one reminder per pattern per local day.
func (m *Monitor) SweepPatterns(ctx context.Context, userID int32, patterns []*store.Pattern) (*SweepResult, error) {
	ctx, cancel := context.WithTimeout(ctx, m.config.UserTimeout)
	defer cancel()

	now := m.now()
	loc := m.config.location()
	dayStart := habit.StartOfDay(now, loc)
	result := &SweepResult{UserID: userID}
	today := &todayActivity{source: m.source, userID: userID, dayStart: dayStart, now: now, loc: loc}

	for _, p := range patterns {
		if !p.AutoCreated || p.UserID != userID {
			continue
		}
		result.Evaluated++

		eval := EvaluateDay(p, now, loc, m.config.GracePeriod(p.Priority))
		switch {
		case eval.State == DayNotDue:
			result.NotDue++
			continue
		case eval.State == DayCompleted:
			result.Completed++
			continue
		case eval.State == DayReminded:
			result.AlreadyReminded++
			continue
		case !eval.Overdue():
			result.Waiting++
			continue
		}

		done, err := today.has(ctx, p.NormalizedTitle)
		if err != nil {
			return result, storeUnavailable(err, "failed to list today's activities")
		}
		if done {
			result.Completed++
			continue
		}

		claimed, err := m.patterns.ClaimForgottenReminder(ctx, p.ID, now, dayStart)
		if err != nil {
			return result, storeUnavailable(err, "failed to claim forgotten reminder")
		}
		if !claimed {
			result.AlreadyReminded++
			continue
		}
		result.Reminded++
		m.log(ctx).Info("activity forgotten",
			"user_id", userID,
			"pattern_uid", p.UID,
			"title", p.NormalizedTitle,
			"minutes_late", eval.MinutesLate,
		)
		m.emit(ctx, m.sink, forgottenNotification(p, eval, p.Metadata.MissedCount+1, now))
	}
	return result, nil
}

// todayActivity lazily loads the normalized titles a user logged today.
type todayActivity struct {
	source   ActivitySource
	userID   int32
	dayStart time.Time
	now      time.Time
	loc      *time.Location
	titles   map[string]bool
}

func (t *todayActivity) has(ctx context.Context, normalizedTitle string) (bool, error) {
	if t.source == nil {
		return false, nil
	}
	if t.titles == nil {
		records, err := t.source.ListActivities(ctx, t.userID, t.dayStart)
		if err != nil {
			return false, err
		}
		t.titles = map[string]bool{}
		for _, r := range records {
			at, err := habit.ParseTimestamp(r.OccurredAt, t.loc)
			if err != nil || at.Before(t.dayStart) || at.After(t.now) {
				continue
			}
			t.titles[habit.Normalize(r.Title)] = true
		}
	}
	return t.titles[normalizedTitle], nil
}
