// Package eas turns Emergency Alert System test logs into classified,
// week-bucketed test events. It owns the XML entry reader, the monitor
// source heuristics, the entry classifier and the cross-file aggregator.
package eas

import "time"

// Direction says whether the station sent or received a test.
type Direction string

// Directions in the order reports list them.
const (
	Received Direction = "Received"
	Sent     Direction = "Sent"
)

// Directions returns the report order of directions.
func Directions() []Direction {
	return []Direction{Received, Sent}
}

// TestKind is the compliance test category of an entry.
type TestKind string

const (
	// Weekly is a Required Weekly Test (RWT).
	Weekly TestKind = "RWT"
	// Monthly is a Required Monthly Test (RMT).
	Monthly TestKind = "RMT"
)

// LogEntry is one <entry> record. A nil field means the child element was absent.
type LogEntry struct {
	Details *string `xml:"details"`
	Date    *string `xml:"date"`
	Type    *string `xml:"type"`
}

// NewLogEntry builds an entry with all three fields present.
func NewLogEntry(details, date, typ string) LogEntry {
	return LogEntry{Details: &details, Date: &date, Type: &typ}
}

// ClassifiedEvent is a reportable test event extracted from one entry.
type ClassifiedEvent struct {
	Monitor   string
	Direction Direction
	Kind      TestKind
	Week      string    // week bucket, YYYY-MM-DD of the starting Sunday
	Timestamp time.Time // parsed entry date
	Raw       string    // entry date as logged, trimmed
}
