package schedule

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"January 2",
	"Jan 2",
	"1/2",
}

// ParseDate parses the loose date formats upstream sources publish. Layouts
// without a year resolve against anchor's year, rolling forward a year when
// the result would land more than a month in the past (a December page
// listing January dates).
func ParseDate(s string, anchor time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range dateLayouts {
		t, err := time.ParseInLocation(layout, s, anchor.Location())
		if err != nil {
			continue
		}
		if t.Year() == 0 {
			t = time.Date(anchor.Year(), t.Month(), t.Day(), 0, 0, 0, 0, anchor.Location())
			if t.Before(anchor.AddDate(0, -1, 0)) {
				t = t.AddDate(1, 0, 0)
			}
		}
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

var clockRe = regexp.MustCompile(`(?i)^(\d{1,2})(?::(\d{2}))?\s*(am|pm)?$`)

// ParseClock parses a clock time ("4:00", "11:30 AM", "7pm") onto day.
// Bare hours below noon with no meridiem are taken as afternoon times,
// which is how the upstream schedules write them.
func ParseClock(s string, day time.Time) (time.Time, error) {
	m := clockRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return time.Time{}, fmt.Errorf("unrecognized time %q", s)
	}
	hour := atoi(m[1])
	minute := 0
	if m[2] != "" {
		minute = atoi(m[2])
	}
	if hour > 23 || minute > 59 {
		return time.Time{}, fmt.Errorf("time %q out of range", s)
	}
	switch strings.ToLower(m[3]) {
	case "pm":
		if hour < 12 {
			hour += 12
		}
	case "am":
		if hour == 12 {
			hour = 0
		}
	default:
		if hour >= 1 && hour <= 11 {
			hour += 12
		}
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, day.Location()), nil
}

var rangeSplitRe = regexp.MustCompile(`\s*[-–—]\s*`)

// ParseTimeRange parses "4:00 - 8:00" style ranges onto day. Both bounds
// must parse; otherwise the range is reported unusable and the caller
// keeps the event without times.
func ParseTimeRange(s string, day time.Time) (start, end time.Time, err error) {
	parts := rangeSplitRe.Split(strings.TrimSpace(s), -1)
	if len(parts) != 2 {
		return time.Time{}, time.Time{}, fmt.Errorf("unrecognized time range %q", s)
	}
	start, err = ParseClock(parts[0], day)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err = ParseClock(parts[1], day)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !end.After(start) {
		// "10:00 PM - 1:00 AM" wraps past midnight.
		end = end.AddDate(0, 0, 1)
	}
	return start, end, nil
}

func atoi(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}
