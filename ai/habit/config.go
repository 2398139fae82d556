// Package habit detects recurring routines in a user's activity history.
//
// Everything here is pure: callers hand in activity records and get back groups,
// classifications and scores. Persistence lives in ai/proactive.
package habit

import "time"

// AnalysisConfig holds configuration for routine analysis.
type AnalysisConfig struct {
	// LookbackDays is how many days of history to analyze.
	LookbackDays int `json:"lookback_days"`
	// MinOccurrences is the minimum group size worth classifying.
	MinOccurrences int `json:"min_occurrences"`
	// Location is the zone calendar days are counted in.
	Location *time.Location `json:"-"`
}

// DefaultAnalysisConfig returns the default analysis configuration.
func DefaultAnalysisConfig() *AnalysisConfig {
	return &AnalysisConfig{
		LookbackDays:   60,
		MinOccurrences: 5,
		Location:       time.Local,
	}
}

func (c *AnalysisConfig) location() *time.Location {
	if c == nil || c.Location == nil {
		return time.Local
	}
	return c.Location
}

// Lookback returns the analysis window as a duration.
func (c *AnalysisConfig) Lookback() time.Duration {
	return time.Duration(c.LookbackDays) * 24 * time.Hour
}

// dayNumber returns the civil day index of t in loc.
func dayNumber(t time.Time, loc *time.Location) int {
	y, m, d := t.In(loc).Date()
	return int(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400)
}

// StartOfDay returns local midnight of the day containing t.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// SameDay reports whether a and b fall on the same calendar day in loc.
func SameDay(a, b time.Time, loc *time.Location) bool {
	return dayNumber(a, loc) == dayNumber(b, loc)
}
