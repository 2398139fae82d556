package habit

import (
	"math"
	"time"

	"github.com/hrygo/routinesense/store"
)

// InferTiming derives the usual time of day, and the day selector the cadence needs.
func InferTiming(occ []Occurrence, cls *Classification, loc *time.Location) store.PatternTiming {
	if len(occ) == 0 || cls == nil {
		return store.PatternTiming{}
	}
	if loc == nil {
		loc = time.Local
	}
	hours := make([]int, len(occ))
	for i, o := range occ {
		hours[i] = o.At.In(loc).Hour()
	}
	hour := firstMode(hours)

	minutes, n := 0, 0
	for _, o := range occ {
		local := o.At.In(loc)
		if local.Hour() == hour {
			minutes += local.Minute()
			n++
		}
	}
	minute := int(math.Round(float64(minutes) / float64(n)))
	if minute > 59 {
		minute = 59
	}

	timing := store.PatternTiming{Hour: hour, Minute: minute}
	switch cls.Frequency {
	case store.PatternFrequencyWeekly:
		if cls.DayOfWeek != nil {
			day := *cls.DayOfWeek
			timing.DayOfWeek = &day
		}
	case store.PatternFrequencyCustom:
		timing.CustomDays = append([]int(nil), cls.CustomDays...)
	case store.PatternFrequencyMonthly:
		days := make([]int, len(occ))
		for i, o := range occ {
			days[i] = o.At.In(loc).Day()
		}
		day := firstMode(days)
		timing.DayOfMonth = &day
	}
	return timing
}
