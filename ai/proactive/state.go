package proactive

import (
	"time"

	"github.com/hrygo/routinesense/ai/habit"
	"github.com/hrygo/routinesense/store"
)

// OfferState is where a pattern stands with respect to the automation offer.
type OfferState int

const (
	// OfferNotEligible: pending, consistency below the offer threshold.
	OfferNotEligible OfferState = iota
	// OfferEligible: pending, above the threshold, never offered.
	OfferEligible
	// OfferMade: offered once, waiting for the user.
	OfferMade
	OfferAccepted
	OfferDeclined
)

func (s OfferState) String() string {
	switch s {
	case OfferNotEligible:
		return "not_eligible"
	case OfferEligible:
		return "eligible"
	case OfferMade:
		return "offered"
	case OfferAccepted:
		return "accepted"
	case OfferDeclined:
		return "declined"
	default:
		return "unknown"
	}
}

// OfferStateOf derives the offer state of p. A user response always wins over
// the consistency, so a declined pattern stays declined however strong it gets.
func OfferStateOf(p *store.Pattern, threshold float64) OfferState {
	switch p.UserResponse {
	case store.PatternResponseAccepted:
		return OfferAccepted
	case store.PatternResponseDeclined:
		return OfferDeclined
	}
	if p.Metadata.AutomationOfferedTs != nil {
		return OfferMade
	}
	if p.Consistency >= threshold {
		return OfferEligible
	}
	return OfferNotEligible
}

// DayState is the per-day status of an automated pattern.
type DayState int

const (
	// DayNotDue: the pattern's schedule does not select today.
	DayNotDue DayState = iota
	// DayDuePending: due today, no occurrence and no reminder yet.
	DayDuePending
	// DayReminded: a forgotten-activity reminder was already sent today.
	DayReminded
	// DayCompleted: the activity happened today.
	DayCompleted
)

func (s DayState) String() string {
	switch s {
	case DayNotDue:
		return "not_due"
	case DayDuePending:
		return "due_pending"
	case DayReminded:
		return "reminded"
	case DayCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// DayEvaluation is the outcome of EvaluateDay.
type DayEvaluation struct {
	State       DayState
	ScheduledAt time.Time
	// MinutesLate is whole minutes since ScheduledAt; negative before it.
	MinutesLate int
	Grace       time.Duration
}

// Overdue reports whether a reminder is due: the pattern is pending for today
// and strictly more than the grace period has passed since the scheduled time.
func (e DayEvaluation) Overdue() bool {
	return e.State == DayDuePending && e.MinutesLate > int(e.Grace/time.Minute)
}

// EvaluateDay evaluates p for the local day containing now.
func EvaluateDay(p *store.Pattern, now time.Time, loc *time.Location, grace time.Duration) DayEvaluation {
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)
	eval := DayEvaluation{
		State:       DayNotDue,
		ScheduledAt: time.Date(local.Year(), local.Month(), local.Day(), p.Timing.Hour, p.Timing.Minute, 0, 0, loc),
		Grace:       grace,
	}
	eval.MinutesLate = int(local.Sub(eval.ScheduledAt) / time.Minute)

	if !DueOn(p, local) {
		return eval
	}
	switch {
	case p.LastOccurrenceTs > 0 && habit.SameDay(p.LastOccurrence(), local, loc):
		eval.State = DayCompleted
	case p.Metadata.LastRemindedTs != nil && habit.SameDay(time.Unix(*p.Metadata.LastRemindedTs, 0), local, loc):
		eval.State = DayReminded
	default:
		eval.State = DayDuePending
	}
	return eval
}

// DueOn reports whether p's schedule selects the day of local. A monthly day
// past the end of a short month falls on that month's last day.
func DueOn(p *store.Pattern, local time.Time) bool {
	switch p.Frequency {
	case store.PatternFrequencyDaily:
		return true
	case store.PatternFrequencyWeekly:
		return p.Timing.DayOfWeek != nil && int(local.Weekday()) == *p.Timing.DayOfWeek
	case store.PatternFrequencyMonthly:
		if p.Timing.DayOfMonth == nil {
			return false
		}
		day := *p.Timing.DayOfMonth
		if last := lastDayOfMonth(local); day > last {
			day = last
		}
		return local.Day() == day
	case store.PatternFrequencyCustom:
		for _, d := range p.Timing.CustomDays {
			if int(local.Weekday()) == d {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func lastDayOfMonth(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
}
