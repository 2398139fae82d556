package habit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/routinesense/store"
)

func TestClassify(t *testing.T) {
	testCases := []struct {
		name      string
		days      []int
		frequency store.PatternFrequency
		ok        bool
	}{
		{"every day", seq(0, 1, 7), store.PatternFrequencyDaily, true},
		{"daily upper bound 1.5", []int{0, 1, 2, 4, 6, 7, 9}, store.PatternFrequencyDaily, true},
		{"daily lower bound 0.5", []int{0, 0, 1, 1, 2}, store.PatternFrequencyDaily, true},
		{"weekly", seq(0, 7, 5), store.PatternFrequencyWeekly, true},
		{"weekly upper bound 8", seq(0, 8, 5), store.PatternFrequencyWeekly, true},
		{"weekly lower bound 6", seq(0, 6, 5), store.PatternFrequencyWeekly, true},
		{"mon wed fri", []int{0, 2, 4, 7, 9, 11}, store.PatternFrequencyCustom, true},
		{"every three days on five weekdays", seq(0, 3, 5), store.PatternFrequencyCustom, true},
		{"monthly", seq(0, 30, 5), store.PatternFrequencyMonthly, true},
		{"monthly lower bound 25", seq(0, 25, 5), store.PatternFrequencyMonthly, true},
		{"gap between daily and custom", []int{0, 1, 3, 5, 6, 8}, "", false},
		{"every three days on all weekdays", seq(0, 3, 7), "", false},
		{"gap of five days", seq(0, 5, 5), "", false},
		{"gap of twelve days", seq(0, 12, 5), "", false},
		{"gap of forty days", seq(0, 40, 5), "", false},
		{"all on one day", []int{0, 0, 0, 0, 0}, "", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cls, ok := Classify(occurrencesOn(tc.days, 7, 0), time.UTC)
			require.Equal(t, tc.ok, ok, "mean gap %.2f", MeanGapDays(occurrencesOn(tc.days, 7, 0), time.UTC))
			if ok {
				assert.Equal(t, tc.frequency, cls.Frequency)
			}
		})
	}
}

func TestClassify_CustomDays(t *testing.T) {
	cls, ok := Classify(occurrencesOn([]int{0, 2, 4, 7, 9, 11}, 18, 30), time.UTC)
	require.True(t, ok)
	assert.Equal(t, []int{1, 3, 5}, cls.CustomDays)
	assert.Nil(t, cls.DayOfWeek)
}

func TestClassify_WeeklyDayOfWeek(t *testing.T) {
	cls, ok := Classify(occurrencesOn(seq(5, 7, 6), 10, 0), time.UTC)
	require.True(t, ok)
	require.NotNil(t, cls.DayOfWeek)
	assert.Equal(t, int(time.Saturday), *cls.DayOfWeek)
}

func TestClassify_WeekdayTieUsesFirstSeen(t *testing.T) {
	// Tue, Mon, Tue, Mon: gaps 6, 8, 6 with two of each weekday.
	cls, ok := Classify(occurrencesOn([]int{1, 7, 15, 21}, 9, 0), time.UTC)
	require.True(t, ok)
	require.Equal(t, store.PatternFrequencyWeekly, cls.Frequency)
	assert.Equal(t, int(time.Tuesday), *cls.DayOfWeek)

	// Same weekdays, Monday first.
	cls, ok = Classify(occurrencesOn([]int{0, 8, 14, 22}, 9, 0), time.UTC)
	require.True(t, ok)
	assert.Equal(t, int(time.Monday), *cls.DayOfWeek)
}

func TestClassify_UsesCalendarDaysInLocation(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	// 23:30 UTC is 18:30 in loc; times drift across midnight UTC but stay on
	// consecutive local days.
	var occ []Occurrence
	for i := 0; i < 5; i++ {
		occ = append(occ, Occurrence{At: monday.AddDate(0, 0, i).Add(23*time.Hour + 30*time.Minute + time.Duration(i)*20*time.Minute)})
	}
	cls, ok := Classify(occ, loc)
	require.True(t, ok)
	assert.Equal(t, store.PatternFrequencyDaily, cls.Frequency)
	assert.InDelta(t, 1.0, cls.MeanGapDays, 1e-9)
}

func TestClassify_TooFew(t *testing.T) {
	_, ok := Classify(occurrencesOn([]int{0}, 7, 0), time.UTC)
	assert.False(t, ok)
	_, ok = Classify(nil, time.UTC)
	assert.False(t, ok)
}
