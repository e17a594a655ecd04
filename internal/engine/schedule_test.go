package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"homeguard/internal/store"
)

// 2026-08-24 is a Monday.
func at(day, hour, min int) time.Time {
	return time.Date(2026, 8, day, hour, min, 0, 0, time.UTC)
}

func TestInWindowSameDay(t *testing.T) {
	sc := store.Schedule{StartTime: "09:00", EndTime: "17:00", Days: "0"} // Monday

	assert.True(t, InWindow(at(24, 10, 0), sc))  // Monday 10:00
	assert.True(t, InWindow(at(24, 9, 0), sc))   // inclusive start
	assert.True(t, InWindow(at(24, 17, 0), sc))  // inclusive end
	assert.False(t, InWindow(at(24, 8, 59), sc)) // before window
	assert.False(t, InWindow(at(24, 17, 1), sc)) // after window
	assert.False(t, InWindow(at(25, 10, 0), sc)) // Tuesday
}

func TestInWindowOvernight(t *testing.T) {
	sc := store.Schedule{StartTime: "22:00", EndTime: "06:00", Days: "0"} // Monday night

	assert.True(t, InWindow(at(24, 23, 30), sc)) // Monday 23:30
	assert.True(t, InWindow(at(25, 5, 0), sc))   // Tuesday 05:00, tail of Monday's window
	assert.False(t, InWindow(at(25, 7, 0), sc))  // Tuesday 07:00
	assert.False(t, InWindow(at(24, 21, 0), sc)) // Monday 21:00, before start
	assert.False(t, InWindow(at(26, 5, 0), sc))  // Wednesday 05:00, Tuesday not scheduled
}

func TestAnyWindow(t *testing.T) {
	schedules := []store.Schedule{
		{StartTime: "09:00", EndTime: "12:00", Days: "0"},
		{StartTime: "14:00", EndTime: "18:00", Days: "0"},
	}
	assert.True(t, anyWindow(at(24, 10, 0), schedules))
	assert.True(t, anyWindow(at(24, 15, 0), schedules))
	assert.False(t, anyWindow(at(24, 13, 0), schedules))
}

func TestWeekdayIndex(t *testing.T) {
	assert.Equal(t, 0, weekdayIndex(time.Monday))
	assert.Equal(t, 5, weekdayIndex(time.Saturday))
	assert.Equal(t, 6, weekdayIndex(time.Sunday))
}
