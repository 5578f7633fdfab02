package eas

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// SourceExtractor derives candidate monitor source names from sample entries.
type SourceExtractor interface {
	Extract(entries []LogEntry) []string
}

// defaultStopWords are words every test entry carries, so they never name a source.
var defaultStopWords = []string{"required", "weekly", "monthly", "test", "sent", "received"}

// TokenHeuristic treats every long, non-numeric, non-stop-word token of an
// entry's details as a candidate source. It over-reports on purpose: the
// operator narrows the list before a run.
type TokenHeuristic struct {
	minLength int
	stopWords map[string]struct{}
}

// Compile-time interface check
var _ SourceExtractor = (*TokenHeuristic)(nil)

// NewTokenHeuristic returns the default heuristic: tokens longer than three
// characters that are not purely digits and not stop words.
func NewTokenHeuristic() *TokenHeuristic {
	stop := make(map[string]struct{}, len(defaultStopWords))
	for _, w := range defaultStopWords {
		stop[w] = struct{}{}
	}
	return &TokenHeuristic{minLength: 4, stopWords: stop}
}

// Extract returns the sorted, de-duplicated candidates found in entries.
func (h *TokenHeuristic) Extract(entries []LogEntry) []string {
	found := make(map[string]struct{})
	for _, entry := range entries {
		if entry.Details == nil || *entry.Details == "" {
			continue
		}
		for _, word := range strings.Fields(normalizeText(*entry.Details)) {
			if h.accept(word) {
				found[word] = struct{}{}
			}
		}
	}

	sources := make([]string, 0, len(found))
	for s := range found {
		sources = append(sources, s)
	}
	sort.Strings(sources)
	return sources
}

func (h *TokenHeuristic) accept(word string) bool {
	if utf8.RuneCountInString(word) < h.minLength {
		return false
	}
	if isDigits(word) {
		return false
	}
	_, stop := h.stopWords[word]
	return !stop
}

// ExtractMonitorSources runs the default heuristic over entries.
func ExtractMonitorSources(entries []LogEntry) []string {
	return NewTokenHeuristic().Extract(entries)
}

func isDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}

// normalizeText composes the text to NFC and lower-cases it so matching is
// not defeated by decomposed accents in station names.
func normalizeText(s string) string {
	return strings.ToLower(norm.NFC.String(s))
}
