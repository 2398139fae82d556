package habit

import (
	"math"
	"time"

	"github.com/hrygo/routinesense/store"
)

// periodDays is the expected gap between occurrences for each fixed cadence.
var periodDays = map[store.PatternFrequency]float64{
	store.PatternFrequencyWeekly:  7,
	store.PatternFrequencyMonthly: 30,
}

// ExpectedOccurrences is how many occurrences the span between the first and last
// evidence should hold under the classified cadence. Daily and custom cadences count
// calendar days, both ends included. Evidence confined to one day expects nothing.
func ExpectedOccurrences(occ []Occurrence, cls *Classification, loc *time.Location) float64 {
	if len(occ) == 0 || cls == nil {
		return 0
	}
	if loc == nil {
		loc = time.Local
	}
	spanDays := float64(dayNumber(occ[len(occ)-1].At, loc) - dayNumber(occ[0].At, loc))
	if spanDays <= 0 {
		return 0
	}
	switch cls.Frequency {
	case store.PatternFrequencyDaily:
		return spanDays + 1
	case store.PatternFrequencyCustom:
		return (spanDays + 1) / 7 * float64(len(cls.CustomDays))
	}
	period, ok := periodDays[cls.Frequency]
	if !ok {
		return 0
	}
	return spanDays / period
}

// Consistency is observed/expected occurrences capped at 1. It describes past
// behaviour only. A zero expectation scores 0.
func Consistency(occ []Occurrence, cls *Classification, loc *time.Location) float64 {
	expected := ExpectedOccurrences(occ, cls, loc)
	if expected <= 0 {
		return 0
	}
	return math.Min(float64(len(occ))/expected, 1)
}
