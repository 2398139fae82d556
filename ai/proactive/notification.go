package proactive

import (
	"fmt"
	"strings"
	"time"

	"github.com/hrygo/routinesense/store"
)

// Actions offered with an automation offer.
const (
	ActionAccept  = "accept"
	ActionDecline = "decline"
	ActionPause   = "pause"
)

var weekdayShort = [...]string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

// DescribeSchedule renders the cadence of p, e.g. "every Monday at 18:30".
func DescribeSchedule(p *store.Pattern) string {
	at := fmt.Sprintf("%02d:%02d", p.Timing.Hour, p.Timing.Minute)
	switch p.Frequency {
	case store.PatternFrequencyDaily:
		return "every day at " + at
	case store.PatternFrequencyWeekly:
		if p.Timing.DayOfWeek != nil {
			return fmt.Sprintf("every %s at %s", time.Weekday(*p.Timing.DayOfWeek), at)
		}
		return "every week at " + at
	case store.PatternFrequencyMonthly:
		if p.Timing.DayOfMonth != nil {
			return fmt.Sprintf("monthly on day %d at %s", *p.Timing.DayOfMonth, at)
		}
		return "every month at " + at
	case store.PatternFrequencyCustom:
		days := make([]string, 0, len(p.Timing.CustomDays))
		for _, d := range p.Timing.CustomDays {
			if d >= 0 && d < len(weekdayShort) {
				days = append(days, weekdayShort[d])
			}
		}
		return fmt.Sprintf("on %s at %s", strings.Join(days, ", "), at)
	default:
		return at
	}
}

func automationOfferNotification(p *store.Pattern, now time.Time) *store.Notification {
	return &store.Notification{
		UserID: p.UserID,
		Kind:   store.NotificationKindPatternDetected,
		Title:  "Automate \"" + p.Title + "\"?",
		Body: fmt.Sprintf("You usually do \"%s\" %s (%d times so far, %.0f%% consistent). Want a reminder created for it automatically?",
			p.Title, DescribeSchedule(p), p.Occurrences, p.Consistency*100),
		Payload: map[string]any{
			"patternUid":      p.UID,
			"patternId":       p.ID,
			"normalizedTitle": p.NormalizedTitle,
			"frequency":       string(p.Frequency),
			"schedule":        DescribeSchedule(p),
			"occurrences":     p.Occurrences,
			"consistency":     p.Consistency,
			"actions":         []string{ActionAccept, ActionDecline},
		},
		Priority:  p.Priority,
		CreatedTs: now.Unix(),
	}
}

func forgottenNotification(p *store.Pattern, eval DayEvaluation, missedCount int, now time.Time) *store.Notification {
	return &store.Notification{
		UserID: p.UserID,
		Kind:   store.NotificationKindForgottenActivity,
		Title:  "Did you forget \"" + p.Title + "\"?",
		Body: fmt.Sprintf("You usually do \"%s\" around %s. It's %d minutes past that and nothing is logged yet today.",
			p.Title, eval.ScheduledAt.Format("15:04"), eval.MinutesLate),
		Payload: map[string]any{
			"patternUid":  p.UID,
			"patternId":   p.ID,
			"scheduledAt": eval.ScheduledAt.Format(time.RFC3339),
			"minutesLate": eval.MinutesLate,
			"missedCount": missedCount,
			"actions":     []string{ActionPause},
		},
		Priority:  p.Priority,
		CreatedTs: now.Unix(),
	}
}
