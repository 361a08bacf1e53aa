package engine

import (
	"time"

	"mailpilot/models"
)

// TimeWindow answers business-day and send-window questions in a fixed IANA
// zone. All methods are pure functions over the instant passed in; callers
// inject "now".
type TimeWindow struct {
	loc *time.Location
}

func NewTimeWindow(loc *time.Location) *TimeWindow {
	if loc == nil {
		loc = time.UTC
	}
	return &TimeWindow{loc: loc}
}

func (w *TimeWindow) Location() *time.Location { return w.loc }

// IsBusinessDay reports whether t falls on Mon-Fri in the configured zone.
func (w *TimeWindow) IsBusinessDay(t time.Time) bool {
	switch t.In(w.loc).Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return true
}

// IsWithinWindow reports whether t's wall-clock time is inside
// [start, end], inclusive. Windows never wrap midnight; a start after end
// never matches.
func (w *TimeWindow) IsWithinWindow(t time.Time, start, end models.ClockTime) bool {
	if start > end {
		return false
	}
	local := t.In(w.loc)
	minute := models.NewClockTime(local.Hour(), local.Minute())
	return minute >= start && minute <= end
}

// NextWindowStart advances t to the next valid day (skipping weekends when
// businessDaysOnly) and pins the time of day to start.
func (w *TimeWindow) NextWindowStart(t time.Time, start models.ClockTime, businessDaysOnly bool) time.Time {
	local := t.In(w.loc).AddDate(0, 0, 1)
	if businessDaysOnly {
		for !w.IsBusinessDay(local) {
			local = local.AddDate(0, 0, 1)
		}
	}
	return w.atClock(local, start)
}

// AdjustToWindow moves t forward until it satisfies both the business-day
// gate and the send window. A time before the window start on a valid day
// snaps to the window start the same day; a time after the window end rolls
// to the next valid day's window start. t already inside the window is
// returned unchanged.
func (w *TimeWindow) AdjustToWindow(t time.Time, start, end models.ClockTime, businessDaysOnly bool) time.Time {
	local := t.In(w.loc)

	if businessDaysOnly && !w.IsBusinessDay(local) {
		for !w.IsBusinessDay(local) {
			local = local.AddDate(0, 0, 1)
		}
		return w.atClock(local, start)
	}

	minute := models.NewClockTime(local.Hour(), local.Minute())
	switch {
	case minute < start:
		return w.atClock(local, start)
	case minute > end:
		return w.NextWindowStart(local, start, businessDaysOnly)
	default:
		return local
	}
}

func (w *TimeWindow) atClock(t time.Time, c models.ClockTime) time.Time {
	local := t.In(w.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), c.Hour(), c.Minute(), 0, 0, w.loc)
}
