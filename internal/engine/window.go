package engine

import (
	"sort"
	"time"

	"unifiedavail/internal/models"
)

// WindowLength is the span of a viewing window.
const WindowLength = 7 * 24 * time.Hour

// Window is the half-open interval [Start, Start+7d) being viewed.
type Window struct {
	Start time.Time
}

// WeekOf returns the window for the week containing t, anchored at midnight
// of weekStart in loc.
func WeekOf(t time.Time, loc *time.Location, weekStart time.Weekday) Window {
	if loc == nil {
		loc = time.Local
	}
	local := t.In(loc)
	offset := (int(local.Weekday()) - int(weekStart) + 7) % 7
	day := time.Date(local.Year(), local.Month(), local.Day()-offset, 0, 0, 0, 0, loc)
	return Window{Start: day}
}

// End returns the exclusive end of the window.
func (w Window) End() time.Time {
	return w.Start.AddDate(0, 0, 7)
}

// Next returns the window one week later.
func (w Window) Next() Window {
	return Window{Start: w.Start.AddDate(0, 0, 7)}
}

// Prev returns the window one week earlier.
func (w Window) Prev() Window {
	return Window{Start: w.Start.AddDate(0, 0, -7)}
}

// Overlaps reports whether [start, end) intersects the window.
func (w Window) Overlaps(start, end time.Time) bool {
	return start.Before(w.End()) && end.After(w.Start)
}

// WindowEvent is an event annotated for the current window. It is a derived
// copy; the source event is never modified.
type WindowEvent struct {
	models.Event
	Severity Severity
	Conflict bool
}

type boundaryKey struct {
	title      string
	start, end int64
}

// FilterWindow returns the events relevant to w, classified, with duplicate
// boundary blocks removed and ordered by start (ties keep input order).
//
// Events partially inside the window are kept whole. Events with a zero
// start or end are treated as malformed and dropped.
func FilterWindow(events []models.Event, w Window) []WindowEvent {
	out := make([]WindowEvent, 0, len(events))
	seen := make(map[boundaryKey]struct{})

	for _, e := range events {
		if e.Start.IsZero() || e.End.IsZero() {
			continue
		}
		if !w.Overlaps(e.Start, e.End) {
			continue
		}
		if e.IsBoundary {
			key := boundaryKey{title: e.Title, start: e.Start.UnixMilli(), end: e.End.UnixMilli()}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}
		out = append(out, WindowEvent{Event: e, Severity: Classify(e.Title)})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start.Before(out[j].Start)
	})
	return out
}
