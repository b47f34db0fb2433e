// Package timeslot defines the hourly key that joins origin files, warehouse
// files, and catalog partitions, along with the path and file name encodings
// of that key.
package timeslot

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// A Slot identifies one hour of pagecounts data. Slots are comparable and
// can be used as map keys.
type Slot struct {
	Year  int
	Month time.Month
	Day   int
	Hour  int
}

// FromTime returns the slot containing t, evaluated in UTC.
func FromTime(t time.Time) Slot {
	t = t.UTC()
	return Slot{Year: t.Year(), Month: t.Month(), Day: t.Day(), Hour: t.Hour()}
}

// New returns the slot for the given hour, rejecting impossible dates such as
// February 30th.
func New(year int, month time.Month, day, hour int) (Slot, error) {
	s := Slot{Year: year, Month: month, Day: day, Hour: hour}
	if err := s.Validate(); err != nil {
		return Slot{}, err
	}
	return s, nil
}

// Validate checks that every component is in range, and that the year fits
// in the four digits used by the warehouse layout.
func (s Slot) Validate() error {
	switch {
	case s.Year < 1000 || s.Year > 9999:
		return fmt.Errorf("year %d out of range", s.Year)
	case s.Month < time.January || s.Month > time.December:
		return fmt.Errorf("month %d out of range", s.Month)
	case s.Hour < 0 || s.Hour > 23:
		return fmt.Errorf("hour %d out of range", s.Hour)
	case s.Day < 1 || s.Day > daysIn(s.Year, s.Month):
		return fmt.Errorf("day %d out of range for %d-%02d", s.Day, s.Year, s.Month)
	}
	return nil
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Time returns the start of the slot in UTC.
func (s Slot) Time() time.Time {
	return time.Date(s.Year, s.Month, s.Day, s.Hour, 0, 0, 0, time.UTC)
}

// Before reports whether s is earlier than other.
func (s Slot) Before(other Slot) bool {
	return s.Time().Before(other.Time())
}

// After reports whether s is later than other.
func (s Slot) After(other Slot) bool {
	return s.Time().After(other.Time())
}

// Next returns the following hour.
func (s Slot) Next() Slot {
	return FromTime(s.Time().Add(time.Hour))
}

// MonthStart returns the first hour of the slot's calendar month.
func (s Slot) MonthStart() Slot {
	return Slot{Year: s.Year, Month: s.Month, Day: 1}
}

func (s Slot) String() string {
	return s.Time().Format("2006-01-02T15")
}

// A Window is an inclusive range of slots.
type Window struct {
	Start Slot
	End   Slot
}

// NewWindow returns the window from start to end, inclusive.
func NewWindow(start, end Slot) (Window, error) {
	if err := start.Validate(); err != nil {
		return Window{}, fmt.Errorf("start: %s", err)
	}
	if err := end.Validate(); err != nil {
		return Window{}, fmt.Errorf("end: %s", err)
	}
	if end.Before(start) {
		return Window{}, fmt.Errorf("end %s is before start %s", end, start)
	}
	return Window{Start: start, End: end}, nil
}

// DefaultWindow returns the window starting at start and ending at end. If
// end is nil, the window ends at the current hour according to clock.
func DefaultWindow(clock clockwork.Clock, start Slot, end *Slot) (Window, error) {
	if end == nil {
		now := FromTime(clock.Now())
		end = &now
	}
	return NewWindow(start, *end)
}

// Contains reports whether s falls inside the window. Both ends are
// inclusive.
func (w Window) Contains(s Slot) bool {
	return !s.Before(w.Start) && !s.After(w.End)
}

// Months returns the first slot of every calendar month that intersects the
// window, in chronological order.
func (w Window) Months() []Slot {
	var months []Slot
	last := w.End.MonthStart()
	for m := w.Start.MonthStart(); !m.After(last); m = nextMonth(m) {
		months = append(months, m)
	}
	return months
}

func nextMonth(s Slot) Slot {
	return FromTime(time.Date(s.Year, s.Month+1, 1, 0, 0, 0, 0, time.UTC))
}

func (w Window) String() string {
	return fmt.Sprintf("[%s, %s]", w.Start, w.End)
}
