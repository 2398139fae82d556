package habit

import (
	"fmt"
	"time"

	"github.com/hrygo/routinesense/store"
)

// monday is 2026-03-02, a Monday.
var monday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

// occurrencesOn builds occurrences on the given day offsets from monday at hh:mm UTC.
func occurrencesOn(days []int, hour, minute int) []Occurrence {
	occ := make([]Occurrence, 0, len(days))
	for i, d := range days {
		occ = append(occ, Occurrence{
			At:       monday.AddDate(0, 0, d).Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute),
			SourceID: fmt.Sprintf("r%d", i),
			Type:     store.ActivityTypeReminder,
		})
	}
	return occ
}

func seq(start, step, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = start + i*step
	}
	return out
}
