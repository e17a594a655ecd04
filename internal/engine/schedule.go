package engine

import (
	"time"

	"homeguard/internal/store"
)

// weekdayIndex maps time.Weekday onto the stored convention: Monday=0 ... Sunday=6.
func weekdayIndex(d time.Weekday) int {
	return (int(d) + 6) % 7
}

func clockOf(now time.Time) string {
	return now.Format("15:04")
}

// InWindow reports whether now falls inside the schedule's weekly window.
// A window whose start is after its end spans midnight and is checked against
// both the day it starts (from start to 23:59) and the following day (from
// 00:00 to end).
func InWindow(now time.Time, sc store.Schedule) bool {
	day := weekdayIndex(now.Weekday())
	clock := clockOf(now)
	days := sc.DaysList()

	if sc.StartTime <= sc.EndTime {
		return containsDay(days, day) && sc.StartTime <= clock && clock <= sc.EndTime
	}

	// Overnight: today's evening half, or the tail of a window that started
	// yesterday.
	if containsDay(days, day) && clock >= sc.StartTime {
		return true
	}
	prev := (day + 6) % 7
	return containsDay(days, prev) && clock <= sc.EndTime
}

// anyWindow OR-combines InWindow over the given schedules.
func anyWindow(now time.Time, schedules []store.Schedule) bool {
	for _, sc := range schedules {
		if InWindow(now, sc) {
			return true
		}
	}
	return false
}

func containsDay(days []int, d int) bool {
	for _, v := range days {
		if v == d {
			return true
		}
	}
	return false
}
