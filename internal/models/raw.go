package models

import (
	"errors"
	"strings"
	"time"
)

// RawEvent is an event record as delivered by an event source, before its
// timestamps have been parsed.
type RawEvent struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Start      string `json:"start"`
	End        string `json:"end"`
	Calendar   string `json:"calendar"`
	CalendarID string `json:"calendarId,omitempty"`
	IsBoundary bool   `json:"isBoundary,omitempty"`
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

var errEmptyTime = errors.New("empty timestamp")

// ParseTime parses a timestamp in any of the accepted layouts. Layouts
// without an offset are interpreted in loc.
func ParseTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errEmptyTime
	}
	if loc == nil {
		loc = time.Local
	}
	var err error
	for _, layout := range timeLayouts {
		var t time.Time
		t, err = time.ParseInLocation(layout, s, loc)
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}

// ParseRawEvents converts raw records to Events. Records whose start or end
// cannot be parsed are dropped; the second return value counts them.
func ParseRawEvents(raws []RawEvent, loc *time.Location) ([]Event, int) {
	events := make([]Event, 0, len(raws))
	dropped := 0
	for _, r := range raws {
		start, err := ParseTime(r.Start, loc)
		if err != nil {
			dropped++
			continue
		}
		end, err := ParseTime(r.End, loc)
		if err != nil {
			dropped++
			continue
		}
		cal, ok := ParseCalendar(r.Calendar)
		if !ok {
			cal = Calendar(r.Calendar)
		}
		events = append(events, Event{
			ID:         r.ID,
			Title:      r.Title,
			Start:      start,
			End:        end,
			Calendar:   cal,
			CalendarID: r.CalendarID,
			IsBoundary: r.IsBoundary || cal == CalendarBoundary,
		})
	}
	return events, dropped
}
