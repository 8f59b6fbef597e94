package scheduling

import (
	"fmt"
	"time"
)

// MaxWeekOffset bounds how far the week browser may move from the current week.
const MaxWeekOffset = 52

// Clock supplies "today" to handlers. The resolver functions never read it.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// StartOfDay returns the calendar date of t (in t's own location) as midnight
// UTC. All date arithmetic in this package runs on such values so that DST
// transitions never shift a day.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ResolveDate returns the date of weekday (0=Sunday) in the week weekOffset
// weeks away from the week containing reference.
//
// reference must already be stripped to midnight with StartOfDay; passing a
// value with a time of day keeps that time of day in the result.
func ResolveDate(reference time.Time, weekday, weekOffset int) time.Time {
	if !ValidWeekday(weekday) {
		panic(fmt.Sprintf("scheduling: ResolveDate weekday %d out of range", weekday))
	}
	offset := -(int(reference.Weekday()) - weekday) + weekOffset*7
	return reference.AddDate(0, 0, offset)
}

// WeekBounds returns the Sunday and Saturday of the target week.
func WeekBounds(reference time.Time, weekOffset int) (start, end time.Time) {
	return ResolveDate(reference, 0, weekOffset), ResolveDate(reference, 6, weekOffset)
}

// WeekStartOf returns the Sunday on or before date.
func WeekStartOf(date time.Time) time.Time {
	return date.AddDate(0, 0, -int(date.Weekday()))
}

func ValidWeekday(weekday int) bool {
	return weekday >= 0 && weekday <= 6
}

func validWeekOffset(offset int) error {
	if offset < -MaxWeekOffset || offset > MaxWeekOffset {
		return fmt.Errorf("week offset %d outside [-%d, %d]: %w", offset, MaxWeekOffset, MaxWeekOffset, ErrInvalidInput)
	}
	return nil
}

// GridDay is one column of the week grid.
type GridDay struct {
	Weekday int       `json:"weekday"`
	Name    string    `json:"name"`
	Date    time.Time `json:"date"`
}

// WeekGrid is what the appointment pages render: seven dated columns and the
// 48 half-hour rows.
type WeekGrid struct {
	WeekOffset int       `json:"week_offset"`
	Days       []GridDay `json:"days"`
	Labels     []Label   `json:"labels"`
}

// BuildWeekGrid computes the grid for a week without touching any store.
func BuildWeekGrid(reference time.Time, weekOffset int) (*WeekGrid, error) {
	if err := validWeekOffset(weekOffset); err != nil {
		return nil, err
	}
	g := &WeekGrid{WeekOffset: weekOffset, Labels: DayLabels()}
	for wd := 0; wd < 7; wd++ {
		g.Days = append(g.Days, GridDay{
			Weekday: wd,
			Name:    time.Weekday(wd).String(),
			Date:    ResolveDate(reference, wd, weekOffset),
		})
	}
	return g, nil
}
