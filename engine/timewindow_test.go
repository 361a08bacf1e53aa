package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailpilot/models"
)

var (
	windowStart = models.NewClockTime(9, 0)
	windowEnd   = models.NewClockTime(18, 0)
)

// 2026-08-21 is a Friday, 2026-08-22/23 a weekend, 2026-08-24 a Monday.
func day(t *testing.T, day, hour, minute int) time.Time {
	t.Helper()
	return time.Date(2026, 8, day, hour, minute, 0, 0, time.UTC)
}

func TestIsBusinessDay(t *testing.T) {
	tw := NewTimeWindow(time.UTC)

	assert.True(t, tw.IsBusinessDay(day(t, 21, 12, 0)), "Friday")
	assert.False(t, tw.IsBusinessDay(day(t, 22, 12, 0)), "Saturday")
	assert.False(t, tw.IsBusinessDay(day(t, 23, 12, 0)), "Sunday")
	assert.True(t, tw.IsBusinessDay(day(t, 24, 12, 0)), "Monday")
}

func TestIsWithinWindow(t *testing.T) {
	tw := NewTimeWindow(time.UTC)

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"before start", day(t, 21, 8, 59), false},
		{"at start inclusive", day(t, 21, 9, 0), true},
		{"middle", day(t, 21, 13, 30), true},
		{"at end inclusive", day(t, 21, 18, 0), true},
		{"after end", day(t, 21, 18, 1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tw.IsWithinWindow(tt.at, windowStart, windowEnd))
		})
	}
}

func TestIsWithinWindowInvertedNeverMatches(t *testing.T) {
	tw := NewTimeWindow(time.UTC)
	assert.False(t, tw.IsWithinWindow(day(t, 21, 12, 0), windowEnd, windowStart))
}

func TestAdjustToWindow(t *testing.T) {
	tw := NewTimeWindow(time.UTC)

	tests := []struct {
		name string
		at   time.Time
		want time.Time
	}{
		{
			name: "inside window unchanged",
			at:   day(t, 21, 14, 15),
			want: day(t, 21, 14, 15),
		},
		{
			name: "before start snaps to start same day",
			at:   day(t, 21, 7, 30),
			want: day(t, 21, 9, 0),
		},
		{
			name: "after end rolls to next business day start",
			at:   day(t, 21, 19, 45),
			want: day(t, 24, 9, 0),
		},
		{
			name: "saturday rolls to monday start",
			at:   day(t, 22, 11, 0),
			want: day(t, 24, 9, 0),
		},
		{
			name: "sunday rolls to monday start",
			at:   day(t, 23, 23, 0),
			want: day(t, 24, 9, 0),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tw.AdjustToWindow(tt.at, windowStart, windowEnd, true)
			assert.True(t, got.Equal(tt.want), "got %v want %v", got, tt.want)
		})
	}
}

func TestAdjustToWindowWeekendAllowed(t *testing.T) {
	tw := NewTimeWindow(time.UTC)

	// Without the business-day gate a Saturday inside the window stays put
	at := day(t, 22, 11, 0)
	got := tw.AdjustToWindow(at, windowStart, windowEnd, false)
	assert.True(t, got.Equal(at))

	// and an after-hours Saturday rolls to Sunday's window start
	got = tw.AdjustToWindow(day(t, 22, 20, 0), windowStart, windowEnd, false)
	assert.True(t, got.Equal(day(t, 23, 9, 0)))
}

func TestAdjustToWindowRespectsZone(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	tw := NewTimeWindow(loc)

	// 12:00 UTC on Friday is 08:00 in New York, before the window start
	got := tw.AdjustToWindow(day(t, 21, 12, 0), windowStart, windowEnd, true)
	want := time.Date(2026, 8, 21, 9, 0, 0, 0, loc)
	assert.True(t, got.Equal(want), "got %v want %v", got, want)
}

func TestNextWindowStart(t *testing.T) {
	tw := NewTimeWindow(time.UTC)

	// Friday advances to Monday when weekends are excluded
	got := tw.NextWindowStart(day(t, 21, 10, 0), windowStart, true)
	assert.True(t, got.Equal(day(t, 24, 9, 0)))

	// and to Saturday when they are not
	got = tw.NextWindowStart(day(t, 21, 10, 0), windowStart, false)
	assert.True(t, got.Equal(day(t, 22, 9, 0)))
}

func TestStepDelay(t *testing.T) {
	rule := &models.FollowUpRule{
		DelayHours: 48,
		Sequences: []models.FollowUpSequence{
			{SequenceNumber: 2, DelayDays: 5},
		},
	}

	assert.Equal(t, 48*time.Hour, stepDelay(rule, 1), "no explicit step falls back to flat delay")
	assert.Equal(t, 5*24*time.Hour, stepDelay(rule, 2), "explicit step wins")
	assert.Equal(t, 48*time.Hour, stepDelay(rule, 3))
}
