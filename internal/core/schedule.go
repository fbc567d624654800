// This file implements the per-frequency stepping used to advance a
// recurring rule from one scheduled occurrence to the next.

package core

import (
	"fmt"
	"time"
)

// Stepper computes the occurrence that follows prev for a schedule that
// started at start. Both instants are expressed in the schedule's location.
// The result falls on a later local date than prev at start's wall-clock time
// of day; a time of day that does not exist on that date (a daylight-saving
// gap) is moved forward by the length of the gap.
type Stepper interface {
	Next(prev, start time.Time) time.Time
}

// DailyStepper moves one calendar day forward.
type DailyStepper struct{}

func (DailyStepper) Next(prev, start time.Time) time.Time {
	y, m, d := prev.Date()
	return wallClock(y, m, d+1, start)
}

// WeeklyStepper moves seven calendar days forward.
type WeeklyStepper struct{}

func (WeeklyStepper) Next(prev, start time.Time) time.Time {
	y, m, d := prev.Date()
	return wallClock(y, m, d+7, start)
}

// MonthlyStepper moves to the start's day-of-month in the following month,
// clamped to that month's last day. Jan 31 steps to Feb 29 (leap year) and
// then back to Mar 31.
type MonthlyStepper struct{}

func (MonthlyStepper) Next(prev, start time.Time) time.Time {
	return addMonthsClamped(prev, 1, start)
}

// YearlyStepper moves to the same month next year, on the start's
// day-of-month clamped to the month length (Feb 29 -> Feb 28 -> ... -> Feb 29).
type YearlyStepper struct{}

func (YearlyStepper) Next(prev, start time.Time) time.Time {
	return addMonthsClamped(prev, 12, start)
}

var steppers = map[Frequency]Stepper{
	Daily:   DailyStepper{},
	Weekly:  WeeklyStepper{},
	Monthly: MonthlyStepper{},
	Yearly:  YearlyStepper{},
}

// StepperFor returns the stepper for a recurring frequency.
func StepperFor(f Frequency) (Stepper, error) {
	s, ok := steppers[f]
	if !ok {
		return nil, fmt.Errorf("%w: %q does not recur", ErrInvalidFrequency, f)
	}
	return s, nil
}

// Advance returns the UTC instant of the occurrence after prev. Calendar
// arithmetic happens in loc so that "same day next month" means the local day.
func Advance(prev time.Time, f Frequency, start time.Time, loc *time.Location) (time.Time, error) {
	s, err := StepperFor(f)
	if err != nil {
		return time.Time{}, err
	}
	if loc == nil {
		loc = time.UTC
	}
	return s.Next(prev.In(loc), start.In(loc)).UTC(), nil
}

// DaysIn returns the number of days in month m of year y.
func DaysIn(y int, m time.Month) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func addMonthsClamped(prev time.Time, months int, start time.Time) time.Time {
	first := time.Date(prev.Year(), prev.Month()+time.Month(months), 1, 0, 0, 0, 0, time.UTC)
	day := start.Day()
	if last := DaysIn(first.Year(), first.Month()); day > last {
		day = last
	}
	return wallClock(first.Year(), first.Month(), day, start)
}

// wallClock returns the local date y-m-d at clock's time of day in clock's
// location. time.Date resolves a time inside a daylight-saving gap to an
// unspecified side of the transition; this always lands after it.
func wallClock(y int, m time.Month, d int, clock time.Time) time.Time {
	h, mi, s := clock.Clock()
	t := time.Date(y, m, d, h, mi, s, clock.Nanosecond(), clock.Location())

	want := time.Date(y, m, d, h, mi, s, clock.Nanosecond(), time.UTC)
	ty, tm, td := t.Date()
	th, tmi, ts := t.Clock()
	got := time.Date(ty, tm, td, th, tmi, ts, t.Nanosecond(), time.UTC)
	if gap := want.Sub(got); gap > 0 {
		t = t.Add(gap)
	}
	return t
}
