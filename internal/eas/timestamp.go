package eas

import (
	"fmt"
	"time"
)

// Date layouts used throughout the report.
const (
	// TimestampLayout is the MM/DD/YY HH:MM:SS form entries are logged and reported in.
	TimestampLayout = "01/02/06 15:04:05"
	// WeekLayout formats week buckets.
	WeekLayout = "2006-01-02"
	// MonthLayout formats month keys.
	MonthLayout = "2006-01"
)

// parseLayout accepts one or two digit months and days, as EAS encoders
// are not consistent about zero padding.
const parseLayout = "1/2/06 15:04:05"

// ParseTimestamp parses an entry date. Two digit years 69-99 map to the 1900s.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(parseLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// WeekStart returns midnight of the Sunday that starts t's week.
// A Sunday maps to itself.
func WeekStart(t time.Time) time.Time {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return day.AddDate(0, 0, -int(day.Weekday()))
}

// WeekBucket returns the week bucket key for t.
func WeekBucket(t time.Time) string {
	return WeekStart(t).Format(WeekLayout)
}

// MonthKey returns the YYYY-MM month a week bucket belongs to. The month is
// taken from the bucket's Sunday, not from the entries inside it.
func MonthKey(week string) (string, error) {
	t, err := time.Parse(WeekLayout, week)
	if err != nil {
		return "", fmt.Errorf("invalid week bucket %q: %w", week, err)
	}
	return t.Format(MonthLayout), nil
}

// ChooseTimestamp picks the timestamp that represents a report cell: the
// earliest of the list, in TimestampLayout. If any entry fails to parse the
// first raw entry is returned unchanged. An empty list yields "".
func ChooseTimestamp(timestamps []string) string {
	if len(timestamps) == 0 {
		return ""
	}

	var earliest time.Time
	for i, ts := range timestamps {
		t, err := ParseTimestamp(ts)
		if err != nil {
			return timestamps[0]
		}
		if i == 0 || t.Before(earliest) {
			earliest = t
		}
	}
	return FormatTimestamp(earliest)
}
