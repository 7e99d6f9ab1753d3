package distribution

import "time"

// DefaultLookbackDays is the window used when a sequence runs on at most
// one weekday.
const DefaultLookbackDays = 7

// LookbackDays returns how many days back the previous scheduled send
// was, relative to now's weekday. Schedules with zero or one distinct
// day use fallback (DefaultLookbackDays when fallback is not positive).
func LookbackDays(days []int, now time.Time, fallback int) int {
	if fallback <= 0 {
		fallback = DefaultLookbackDays
	}

	var scheduled [7]bool
	distinct := 0
	for _, d := range days {
		if d < 0 || d > 6 || scheduled[d] {
			continue
		}
		scheduled[d] = true
		distinct++
	}
	if distinct <= 1 {
		return fallback
	}

	today := int(now.Weekday())
	for back := 1; back <= 7; back++ {
		if scheduled[(today-back+7)%7] {
			return back
		}
	}
	return fallback
}
