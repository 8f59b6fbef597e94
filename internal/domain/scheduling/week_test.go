package scheduling

import (
	"errors"
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestResolveDate(t *testing.T) {
	// 2024-01-10 is a Wednesday.
	ref := date(2024, 1, 10)

	tests := []struct {
		name    string
		weekday int
		offset  int
		want    time.Time
	}{
		{"sunday this week", 0, 0, date(2024, 1, 7)},
		{"same day", 3, 0, date(2024, 1, 10)},
		{"saturday this week", 6, 0, date(2024, 1, 13)},
		{"sunday next week", 0, 1, date(2024, 1, 14)},
		{"friday last week", 5, -1, date(2024, 1, 5)},
		{"across year end", 1, -2, date(2023, 12, 25)},
		{"across month end", 4, 3, date(2024, 2, 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveDate(ref, tt.weekday, tt.offset)
			if !got.Equal(tt.want) {
				t.Errorf("ResolveDate(%s, %d, %d) = %s, want %s",
					ref.Format(time.DateOnly), tt.weekday, tt.offset,
					got.Format(time.DateOnly), tt.want.Format(time.DateOnly))
			}
		})
	}
}

func TestResolveDate_Properties(t *testing.T) {
	start := date(2024, 2, 25)
	for day := 0; day < 21; day++ {
		ref := start.AddDate(0, 0, day)
		for wd := 0; wd < 7; wd++ {
			got := ResolveDate(ref, wd, 0)
			if again := ResolveDate(ref, wd, 0); !again.Equal(got) {
				t.Fatalf("ResolveDate not deterministic for %s/%d", ref.Format(time.DateOnly), wd)
			}
			if int(got.Weekday()) != wd {
				t.Errorf("ResolveDate(%s, %d, 0) landed on %s", ref.Format(time.DateOnly), wd, got.Weekday())
			}
			if diff := got.Sub(ref); diff < -6*24*time.Hour || diff > 6*24*time.Hour {
				t.Errorf("ResolveDate(%s, %d, 0) = %s is more than 6 days away",
					ref.Format(time.DateOnly), wd, got.Format(time.DateOnly))
			}
			for _, off := range []int{-3, 1, 52} {
				shifted := ResolveDate(ref, wd, off)
				if want := got.AddDate(0, 0, 7*off); !shifted.Equal(want) {
					t.Errorf("offset %d from %s: got %s, want %s", off, got.Format(time.DateOnly),
						shifted.Format(time.DateOnly), want.Format(time.DateOnly))
				}
			}
		}
	}
}

func TestResolveDate_PanicsOnBadWeekday(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected a panic for weekday 7")
		}
	}()
	ResolveDate(date(2024, 1, 10), 7, 0)
}

func TestStartOfDay(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*60*60)
	// 23:30 on the 6th in UTC is already the 7th at UTC+10.
	instant := time.Date(2024, 1, 6, 23, 30, 0, 0, time.UTC)

	if got := StartOfDay(instant); !got.Equal(date(2024, 1, 6)) {
		t.Errorf("StartOfDay UTC = %s", got)
	}
	if got := StartOfDay(instant.In(loc)); !got.Equal(date(2024, 1, 7)) {
		t.Errorf("StartOfDay UTC+10 = %s", got)
	}
}

func TestWeekBoundsAndStart(t *testing.T) {
	ref := date(2024, 1, 10)
	start, end := WeekBounds(ref, 1)
	if !start.Equal(date(2024, 1, 14)) || !end.Equal(date(2024, 1, 20)) {
		t.Errorf("WeekBounds = %s..%s", start.Format(time.DateOnly), end.Format(time.DateOnly))
	}
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if ws := WeekStartOf(d); !ws.Equal(start) {
			t.Errorf("WeekStartOf(%s) = %s, want %s", d.Format(time.DateOnly), ws.Format(time.DateOnly), start.Format(time.DateOnly))
		}
	}
}

func TestBuildWeekGrid(t *testing.T) {
	grid, err := BuildWeekGrid(date(2024, 1, 10), 0)
	if err != nil {
		t.Fatalf("BuildWeekGrid: %v", err)
	}
	if len(grid.Days) != 7 || len(grid.Labels) != SlotsPerDay {
		t.Fatalf("expected 7 days and %d labels, got %d and %d", SlotsPerDay, len(grid.Days), len(grid.Labels))
	}
	if grid.Days[0].Name != "Sunday" || !grid.Days[0].Date.Equal(date(2024, 1, 7)) {
		t.Errorf("unexpected first column: %+v", grid.Days[0])
	}
	if grid.Days[6].Name != "Saturday" || !grid.Days[6].Date.Equal(date(2024, 1, 13)) {
		t.Errorf("unexpected last column: %+v", grid.Days[6])
	}
	if grid.Labels[0] != "12:00 am" || grid.Labels[SlotsPerDay-1] != "11:30 pm" {
		t.Errorf("unexpected label range %q..%q", grid.Labels[0], grid.Labels[SlotsPerDay-1])
	}

	if _, err := BuildWeekGrid(date(2024, 1, 10), MaxWeekOffset+1); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for an out-of-range week, got %v", err)
	}
}
