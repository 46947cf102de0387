package engine

import (
	"time"

	"unifiedavail/internal/models"
)

// Advice is the suggested resolution of one conflicting pair.
type Advice struct {
	Keep       WindowEvent
	Reschedule WindowEvent
	Slots      []time.Time
}

// Advise keeps the higher-severity event of the pair and proposes slots for
// the other. On equal severity the first argument is kept. req.Event is
// replaced with the event chosen for rescheduling; the remaining fields
// parameterise the slot search.
func Advise(a, b WindowEvent, req SlotRequest) Advice {
	keep, move := a, b
	if b.Severity > a.Severity {
		keep, move = b, a
	}
	req.Event = move.Event
	return Advice{
		Keep:       keep,
		Reschedule: move,
		Slots:      FindSlots(req),
	}
}

// Rescheduled returns ev moved to newStart with its duration preserved.
func Rescheduled(ev models.Event, newStart time.Time) models.Event {
	ev.End = newStart.Add(ev.Duration())
	ev.Start = newStart
	return ev
}

// Events returns the plain events of a window, in window order.
func Events(events []WindowEvent) []models.Event {
	out := make([]models.Event, len(events))
	for i, e := range events {
		out[i] = e.Event
	}
	return out
}
