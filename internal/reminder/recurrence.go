package reminder

import "time"

// NextOccurrence returns the first occurrence of rule after current that is
// strictly later than now. It returns false when the rule does not recur.
//
// Daily and weekly steps are calendar days in current's location, so the
// wall-clock time survives DST transitions. Monthly steps keep the
// day-of-month and clamp to the last day of shorter months.
func NextOccurrence(current time.Time, rule Recurrence, now time.Time) (time.Time, bool) {
	switch rule.Type {
	case RecurrenceDaily:
		next := current.AddDate(0, 0, 1)
		for !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		return next, true

	case RecurrenceWeekly:
		days := weekdaySet(rule.DaysOfWeek)
		next := nextWeekly(current, days)
		for !next.After(now) {
			next = nextWeekly(next, days)
		}
		return next, true

	case RecurrenceMonthly:
		// Counting months from the original anchor keeps a day 31 reminder
		// on day 31 whenever the month has one.
		for n := 1; ; n++ {
			next := addMonthsClamped(current, n)
			if next.After(now) {
				return next, true
			}
		}
	}

	return time.Time{}, false
}

// NextTimestamp is NextOccurrence on epoch milliseconds, using loc for
// calendar arithmetic.
func NextTimestamp(currentMs int64, rule Recurrence, nowMs int64, loc *time.Location) (int64, bool) {
	if loc == nil {
		loc = time.Local
	}
	next, ok := NextOccurrence(time.UnixMilli(currentMs).In(loc), rule, time.UnixMilli(nowMs))
	if !ok {
		return 0, false
	}
	return next.UnixMilli(), true
}

func weekdaySet(days []int) map[time.Weekday]bool {
	set := make(map[time.Weekday]bool, len(days))
	for _, d := range days {
		if d >= 0 && d <= 6 {
			set[time.Weekday(d)] = true
		}
	}
	return set
}

func nextWeekly(t time.Time, days map[time.Weekday]bool) time.Time {
	if len(days) == 0 {
		return t.AddDate(0, 0, 7)
	}
	for i := 1; i <= 7; i++ {
		candidate := t.AddDate(0, 0, i)
		if days[candidate.Weekday()] {
			return candidate
		}
	}
	return t.AddDate(0, 0, 7)
}

func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	// Day 0 of the following month is the last day of the target month.
	last := time.Date(year, month+time.Month(months)+1, 0, 0, 0, 0, 0, t.Location()).Day()
	if day > last {
		day = last
	}
	return time.Date(year, month+time.Month(months), day, hour, min, sec, t.Nanosecond(), t.Location())
}
