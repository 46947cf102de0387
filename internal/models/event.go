package models

import (
	"strings"
	"time"
)

// Calendar identifies the provider an event was synced from.
type Calendar string

const (
	CalendarGoogle   Calendar = "Google"
	CalendarOutlook  Calendar = "Outlook"
	CalendarCalDAV   Calendar = "CalDAV"
	CalendarBoundary Calendar = "Boundary"
)

// ParseCalendar maps a provider tag (any case) to a Calendar.
func ParseCalendar(s string) (Calendar, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "google":
		return CalendarGoogle, true
	case "outlook", "microsoft", "microsoft outlook":
		return CalendarOutlook, true
	case "caldav", "icloud":
		return CalendarCalDAV, true
	case "boundary", "temporal blocks":
		return CalendarBoundary, true
	}
	return "", false
}

// Event represents a scheduled interval.
// This is an internal representation, independent of any specific calendar provider.
type Event struct {
	ID          string    // Unique within its source calendar
	Title       string    // Summary or title of the event, may be empty
	Start       time.Time // Start instant
	End         time.Time // End instant
	Calendar    Calendar  // Provider the event came from
	CalendarID  string    // Provider-side calendar the event lives in
	Ref         string    // Provider handle for writes, e.g. a CalDAV object path
	IsBoundary  bool      // True for self-created protected blocks
	Description string
	Location    string
}

// Duration returns End-Start, never negative.
func (e Event) Duration() time.Duration {
	d := e.End.Sub(e.Start)
	if d < 0 {
		return 0
	}
	return d
}

// BoundarySpec describes a protected block to create.
type BoundarySpec struct {
	Title string
	Start time.Time
	End   time.Time
}
