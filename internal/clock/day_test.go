package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDay(t *testing.T) {
	in := time.Date(2026, 3, 2, 17, 45, 12, 999, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), Day(in))

	// The input's own calendar date is kept and pinned to UTC.
	ist := time.FixedZone("IST", 5*3600+1800)
	late := time.Date(2026, 3, 2, 1, 0, 0, 0, ist)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), Day(late))
}

func TestParseDay(t *testing.T) {
	day, err := ParseDay("2026-03-02")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), day)

	_, err = ParseDay("02-03-2026")
	assert.Error(t, err)

	_, err = ParseDay("")
	assert.Error(t, err)
}

func TestDaysBetween(t *testing.T) {
	a := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 0, DaysBetween(a, a))
	assert.Equal(t, 3, DaysBetween(a, a.AddDate(0, 0, 3)))
	assert.Equal(t, -1, DaysBetween(a, a.AddDate(0, 0, -1)))

	// Hours below a full day do not count.
	assert.Equal(t, 0, DaysBetween(a, a.Add(23*time.Hour)))
}
