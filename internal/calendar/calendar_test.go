package calendar_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bops/internal/calendar"
)

func date(s string) time.Time {
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestBusinessDaysAfterSkipsWeekends(t *testing.T) {
	cal, err := calendar.New(nil)
	require.NoError(t, err)

	// Friday + 1 working day is Monday.
	assert.Equal(t, "2026-10-19", cal.BusinessDaysAfter(date("2026-10-16"), 1).Format(time.DateOnly))
	// Monday + 5 is the next Monday.
	assert.Equal(t, "2026-10-26", cal.BusinessDaysAfter(date("2026-10-19"), 5).Format(time.DateOnly))
	// Starting on a Saturday counts from Monday.
	assert.Equal(t, "2026-10-19", cal.BusinessDaysAfter(date("2026-10-17"), 1).Format(time.DateOnly))
	assert.Equal(t, "2026-10-17", cal.BusinessDaysAfter(date("2026-10-17"), 0).Format(time.DateOnly))
}

func TestBusinessDaysAfterSkipsHolidays(t *testing.T) {
	cal, err := calendar.New([]string{"2026-12-25", "2026-12-28", "2027-01-01"})
	require.NoError(t, err)

	// Thu 24 Dec + 1: Fri 25 holiday, weekend, Mon 28 holiday, so Tue 29.
	assert.Equal(t, "2026-12-29", cal.BusinessDaysAfter(date("2026-12-24"), 1).Format(time.DateOnly))
	// Tue 29 Dec + 3: Wed 30, Thu 31, (Fri 1 Jan holiday, weekend) Mon 4 Jan.
	assert.Equal(t, "2027-01-04", cal.BusinessDaysAfter(date("2026-12-29"), 3).Format(time.DateOnly))
	assert.False(t, cal.IsBusinessDay(date("2026-12-25")))
	assert.True(t, cal.IsBusinessDay(date("2026-12-24")))
}

func TestBusinessDaysAfterDropsTimeOfDay(t *testing.T) {
	cal, err := calendar.New(nil)
	require.NoError(t, err)
	got := cal.BusinessDaysAfter(time.Date(2026, 10, 14, 17, 45, 0, 0, time.UTC), 2)
	assert.Equal(t, time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC), got)
}

func TestNewRejectsBadDates(t *testing.T) {
	_, err := calendar.New([]string{"2026-13-01"})
	require.Error(t, err)
}
