package scheduling

import (
	"fmt"
	"strconv"
	"strings"
)

// Label is a half-hour boundary written the way the booking pages show it,
// e.g. "9:30 am" or "12:00 pm". The hour has no leading zero and the minute
// is always "00" or "30".
type Label string

// SlotsPerDay is the number of half-hour labels in one day.
const SlotsPerDay = 48

// ParseLabel validates s as a Label. Use it on anything that did not come from
// this package; NextHalfHour assumes a well-formed label.
func ParseLabel(s string) (Label, error) {
	if _, _, _, err := splitLabel(s); err != nil {
		return "", fmt.Errorf("time label %q: %w", s, ErrInvalidInput)
	}
	return Label(s), nil
}

// NextHalfHour returns the label thirty minutes after l.
//
//	9:00 am  -> 9:30 am
//	11:30 am -> 12:00 pm
//	11:30 pm -> 12:00 am
//	12:30 pm -> 1:00 pm
//
// A malformed label is a caller bug and panics.
func NextHalfHour(l Label) Label {
	hour, minute, meridiem, err := splitLabel(string(l))
	if err != nil {
		panic(fmt.Sprintf("scheduling: NextHalfHour(%q): %v", string(l), err))
	}
	if minute == "00" {
		return formatLabel(hour, "30", meridiem)
	}
	switch hour {
	case 11:
		return formatLabel(12, "00", flipMeridiem(meridiem))
	case 12:
		return formatLabel(1, "00", meridiem)
	default:
		return formatLabel(hour+1, "00", meridiem)
	}
}

// MinuteOfDay returns minutes since midnight, 0 for "12:00 am" and 1410 for
// "11:30 pm". Panics on a malformed label like NextHalfHour.
func (l Label) MinuteOfDay() int {
	hour, minute, meridiem, err := splitLabel(string(l))
	if err != nil {
		panic(fmt.Sprintf("scheduling: MinuteOfDay(%q): %v", string(l), err))
	}
	h := hour % 12
	if meridiem == "pm" {
		h += 12
	}
	m := 0
	if minute == "30" {
		m = 30
	}
	return h*60 + m
}

func (l Label) String() string { return string(l) }

// DayLabels lists all 48 labels of a day starting at midnight.
func DayLabels() []Label {
	labels := make([]Label, 0, SlotsPerDay)
	l := Label("12:00 am")
	for i := 0; i < SlotsPerDay; i++ {
		labels = append(labels, l)
		l = NextHalfHour(l)
	}
	return labels
}

func splitLabel(s string) (hour int, minute, meridiem string, err error) {
	fields := strings.Fields(s)
	if len(fields) != 2 || fields[0]+" "+fields[1] != s {
		return 0, "", "", fmt.Errorf("expected \"H:MM am|pm\"")
	}
	meridiem = fields[1]
	if meridiem != "am" && meridiem != "pm" {
		return 0, "", "", fmt.Errorf("meridiem must be am or pm, got %q", meridiem)
	}
	hm := strings.Split(fields[0], ":")
	if len(hm) != 2 {
		return 0, "", "", fmt.Errorf("missing ':' in %q", fields[0])
	}
	hour, err = strconv.Atoi(hm[0])
	if err != nil || hour < 1 || hour > 12 || strconv.Itoa(hour) != hm[0] {
		return 0, "", "", fmt.Errorf("hour must be 1-12 without leading zero, got %q", hm[0])
	}
	minute = hm[1]
	if minute != "00" && minute != "30" {
		return 0, "", "", fmt.Errorf("minute must be 00 or 30, got %q", minute)
	}
	return hour, minute, meridiem, nil
}

func formatLabel(hour int, minute, meridiem string) Label {
	return Label(strconv.Itoa(hour) + ":" + minute + " " + meridiem)
}

func flipMeridiem(m string) string {
	if m == "am" {
		return "pm"
	}
	return "am"
}
