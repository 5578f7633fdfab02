package eas

import (
	"sort"
)

// Key identifies one report row: a monitor source in one direction.
type Key struct {
	Monitor   string
	Direction Direction
}

// Less orders keys by monitor, then direction.
func (k Key) Less(other Key) bool {
	if k.Monitor != other.Monitor {
		return k.Monitor < other.Monitor
	}
	return k.Direction < other.Direction
}

// Buckets holds raw timestamps per key and week bucket.
type Buckets map[Key]map[string][]string

// Add appends a raw timestamp under key and week.
func (b Buckets) Add(key Key, week, timestamp string) {
	weeks, ok := b[key]
	if !ok {
		weeks = make(map[string][]string)
		b[key] = weeks
	}
	weeks[week] = append(weeks[week], timestamp)
}

// Get returns the timestamps for key and week, or nil.
func (b Buckets) Get(key Key, week string) []string {
	return b[key][week]
}

// Keys returns the keys ordered by monitor, then direction.
func (b Buckets) Keys() []Key {
	keys := make([]Key, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

// Weeks returns the sorted week buckets of key.
func (b Buckets) Weeks(key Key) []string {
	return sortedKeys(b[key])
}

// Len returns the number of timestamps held.
func (b Buckets) Len() int {
	n := 0
	for _, weeks := range b {
		for _, ts := range weeks {
			n += len(ts)
		}
	}
	return n
}

// merge concatenates other into b, skipping weeks keep rejects. It returns
// the weeks that were merged.
func (b Buckets) merge(other Buckets, keep func(week string) bool) []string {
	var merged []string
	for key, weeks := range other {
		for week, timestamps := range weeks {
			if !keep(week) {
				continue
			}
			for _, ts := range timestamps {
				b.Add(key, week, ts)
			}
			merged = append(merged, week)
		}
	}
	return merged
}

// FileResult is the classification of one log document.
type FileResult struct {
	Weekly  Buckets
	Monthly Buckets

	WeeklyWeeks  []string // sorted week buckets holding weekly events
	MonthlyWeeks []string // sorted week buckets holding monthly events

	Entries int // entries read
	Events  int // entries that classified
}

// Fold classifies entries and buckets the resulting events.
func Fold(entries []LogEntry, c *Classifier) *FileResult {
	res := &FileResult{
		Weekly:  make(Buckets),
		Monthly: make(Buckets),
		Entries: len(entries),
	}
	weeklyWeeks := make(map[string]struct{})
	monthlyWeeks := make(map[string]struct{})

	for _, entry := range entries {
		ev, ok := c.Classify(entry)
		if !ok {
			continue
		}
		res.Events++

		key := Key{Monitor: ev.Monitor, Direction: ev.Direction}
		if ev.Kind == Weekly {
			res.Weekly.Add(key, ev.Week, ev.Raw)
			weeklyWeeks[ev.Week] = struct{}{}
		} else {
			res.Monthly.Add(key, ev.Week, ev.Raw)
			monthlyWeeks[ev.Week] = struct{}{}
		}
	}

	res.WeeklyWeeks = sortedKeys(weeklyWeeks)
	res.MonthlyWeeks = sortedKeys(monthlyWeeks)
	return res
}

// Aggregate accumulates file results for one report month. The month is
// fixed by the first weekly week bucket seen; weekly buckets from other
// months are excluded file by file. Monthly events are always merged, since
// an early-month RMT often falls in a bucket that starts the month before.
type Aggregate struct {
	Weekly  Buckets
	Monthly Buckets

	weeks    map[string]struct{}
	monthKey string
}

// NewAggregate creates an empty aggregate.
func NewAggregate() *Aggregate {
	return &Aggregate{
		Weekly:  make(Buckets),
		Monthly: make(Buckets),
		weeks:   make(map[string]struct{}),
	}
}

// Merge folds one file's result into the aggregate and returns the weekly
// week buckets it excluded because they fall outside the report month.
func (a *Aggregate) Merge(fr *FileResult) []string {
	excluded := make(map[string]struct{})
	for _, week := range fr.WeeklyWeeks {
		month, err := MonthKey(week)
		if err != nil {
			excluded[week] = struct{}{}
			continue
		}
		if a.monthKey == "" {
			a.monthKey = month
		}
		if month != a.monthKey {
			excluded[week] = struct{}{}
		}
	}

	keep := func(week string) bool {
		_, skip := excluded[week]
		return !skip
	}
	for _, week := range a.Weekly.merge(fr.Weekly, keep) {
		a.weeks[week] = struct{}{}
	}
	a.Monthly.merge(fr.Monthly, func(string) bool { return true })

	return sortedKeys(excluded)
}

// MonthKey returns the report month, or "" while no bucket has been seen.
func (a *Aggregate) MonthKey() string {
	return a.monthKey
}

// Weeks returns the sorted week buckets that hold weekly events.
func (a *Aggregate) Weeks() []string {
	return sortedKeys(a.weeks)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
