// Package engine implements availability and conflict logic over a week of
// calendar events. Everything here is a pure function of its inputs: nothing
// is persisted, logged or mutated in place.
package engine

import (
	"regexp"
	"strings"
)

// Severity is a heuristic priority tier derived from an event title.
type Severity int

const (
	Low Severity = iota + 1
	Medium
	High
)

// String returns a string representation of the severity.
func (s Severity) String() string {
	switch s {
	case High:
		return "High"
	case Medium:
		return "Medium"
	case Low:
		return "Low"
	default:
		return "Unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var severityRules = []struct {
	severity Severity
	pattern  *regexp.Regexp
}{
	{High, regexp.MustCompile(`\b(client|interview|deadline|presentation|review|qbr)\b`)},
	{Medium, regexp.MustCompile(`\b(planning|apollo|brainstorm|session|workshop)\b`)},
	{Low, regexp.MustCompile(`\b(standup|sync|catch-up|team|internal|follow up)\b`)},
}

// Classify maps an event title to a severity. Rules are tested in order
// High, Medium, Low; titles matching none are Medium.
func Classify(title string) Severity {
	lower := strings.ToLower(title)
	for _, rule := range severityRules {
		if rule.pattern.MatchString(lower) {
			return rule.severity
		}
	}
	return Medium
}
