package habit

import (
	"sort"
	"time"

	"github.com/hrygo/routinesense/store"
)

// Mean-gap ranges in days, inclusive on both ends.
const (
	dailyMinGap   = 0.5
	dailyMaxGap   = 1.5
	customMinGap  = 2.0
	customMaxGap  = 4.0
	weeklyMinGap  = 6.0
	weeklyMaxGap  = 8.0
	monthlyMinGap = 25.0
	monthlyMaxGap = 35.0

	customMinWeekdays = 2
	customMaxWeekdays = 5
)

// Classification is the cadence inferred for a group.
type Classification struct {
	Frequency store.PatternFrequency
	// DayOfWeek is set for weekly patterns (0 = Sunday).
	DayOfWeek *int
	// CustomDays is the ascending weekday set of a custom pattern.
	CustomDays  []int
	MeanGapDays float64
}

// MeanGapDays averages the calendar-day gaps between successive occurrences.
// occ must be sorted ascending and hold at least two entries.
func MeanGapDays(occ []Occurrence, loc *time.Location) float64 {
	total := 0
	for i := 1; i < len(occ); i++ {
		total += dayNumber(occ[i].At, loc) - dayNumber(occ[i-1].At, loc)
	}
	return float64(total) / float64(len(occ)-1)
}

// Classify infers the cadence of a sorted occurrence list. It reports false when the
// gaps do not fit any cadence.
func Classify(occ []Occurrence, loc *time.Location) (*Classification, bool) {
	if len(occ) < 2 {
		return nil, false
	}
	if loc == nil {
		loc = time.Local
	}
	mean := MeanGapDays(occ, loc)

	switch {
	case mean >= dailyMinGap && mean <= dailyMaxGap:
		return &Classification{Frequency: store.PatternFrequencyDaily, MeanGapDays: mean}, true

	case mean >= customMinGap && mean <= customMaxGap:
		days := distinctWeekdays(occ, loc)
		if len(days) < customMinWeekdays || len(days) > customMaxWeekdays {
			return nil, false
		}
		return &Classification{Frequency: store.PatternFrequencyCustom, CustomDays: days, MeanGapDays: mean}, true

	case mean >= weeklyMinGap && mean <= weeklyMaxGap:
		day := modeWeekday(occ, loc)
		return &Classification{Frequency: store.PatternFrequencyWeekly, DayOfWeek: &day, MeanGapDays: mean}, true

	case mean >= monthlyMinGap && mean <= monthlyMaxGap:
		return &Classification{Frequency: store.PatternFrequencyMonthly, MeanGapDays: mean}, true
	}
	return nil, false
}

func distinctWeekdays(occ []Occurrence, loc *time.Location) []int {
	var present [7]bool
	var days []int
	for _, o := range occ {
		d := int(o.At.In(loc).Weekday())
		if !present[d] {
			present[d] = true
			days = append(days, d)
		}
	}
	sort.Ints(days)
	return days
}

// modeWeekday returns the most frequent weekday; ties go to the weekday seen first.
func modeWeekday(occ []Occurrence, loc *time.Location) int {
	values := make([]int, len(occ))
	for i, o := range occ {
		values[i] = int(o.At.In(loc).Weekday())
	}
	return firstMode(values)
}

// firstMode returns the most frequent value, preferring the earliest seen on ties.
func firstMode(values []int) int {
	counts := map[int]int{}
	var order []int
	for _, v := range values {
		if counts[v] == 0 {
			order = append(order, v)
		}
		counts[v]++
	}
	best := order[0]
	for _, v := range order[1:] {
		if counts[v] > counts[best] {
			best = v
		}
	}
	return best
}
