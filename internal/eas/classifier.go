package eas

import (
	"strings"
)

// SourceMatcher attributes an entry to one of the selected monitor sources.
type SourceMatcher interface {
	// Match receives details already normalized (NFC, lower case).
	Match(details string, sources []string) (string, bool)
}

// FirstMatch attributes an entry to the first source, in caller order, whose
// text appears in the details. Later sources never win a tie.
type FirstMatch struct{}

// Match implements SourceMatcher.
func (FirstMatch) Match(details string, sources []string) (string, bool) {
	for _, src := range sources {
		if strings.Contains(details, normalizeText(src)) {
			return src, true
		}
	}
	return "", false
}

// DetectKind classifies normalized details. Weekly patterns are checked
// first, so details mentioning both tests count as weekly.
func DetectKind(details string) (TestKind, bool) {
	switch {
	case strings.Contains(details, "rwt"), strings.Contains(details, "required weekly test"):
		return Weekly, true
	case strings.Contains(details, "rmt"), strings.Contains(details, "required monthly test"):
		return Monthly, true
	default:
		return "", false
	}
}

// ParseDirection maps an entry type to a direction, ignoring case and
// surrounding space.
func ParseDirection(typ string) (Direction, bool) {
	switch strings.ToLower(strings.TrimSpace(typ)) {
	case "sent":
		return Sent, true
	case "received":
		return Received, true
	default:
		return "", false
	}
}

// ClassifierOption configures a Classifier.
type ClassifierOption func(*Classifier)

// WithMatcher replaces the first-match source policy.
func WithMatcher(m SourceMatcher) ClassifierOption {
	return func(c *Classifier) { c.matcher = m }
}

// Classifier decides which entries are reportable test events.
type Classifier struct {
	sources []string
	matcher SourceMatcher
}

// NewClassifier creates a classifier for the selected sources. Source order
// matters to the default matcher.
func NewClassifier(sources []string, opts ...ClassifierOption) *Classifier {
	c := &Classifier{
		sources: append([]string(nil), sources...),
		matcher: FirstMatch{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Sources returns the selected sources in match order.
func (c *Classifier) Sources() []string {
	return append([]string(nil), c.sources...)
}

// Classify returns the event an entry represents. The boolean is false for
// entries that are not reportable; dropping them is normal.
func (c *Classifier) Classify(entry LogEntry) (ClassifiedEvent, bool) {
	if entry.Details == nil || entry.Date == nil || entry.Type == nil {
		return ClassifiedEvent{}, false
	}

	details := normalizeText(*entry.Details)

	kind, ok := DetectKind(details)
	if !ok {
		return ClassifiedEvent{}, false
	}

	monitor, ok := c.matcher.Match(details, c.sources)
	if !ok {
		return ClassifiedEvent{}, false
	}

	raw := strings.TrimSpace(*entry.Date)
	ts, err := ParseTimestamp(raw)
	if err != nil {
		return ClassifiedEvent{}, false
	}

	direction, ok := ParseDirection(*entry.Type)
	if !ok {
		return ClassifiedEvent{}, false
	}

	return ClassifiedEvent{
		Monitor:   monitor,
		Direction: direction,
		Kind:      kind,
		Week:      WeekBucket(ts),
		Timestamp: ts,
		Raw:       raw,
	}, true
}
