package engine

import (
	"sort"
	"time"

	"unifiedavail/internal/models"
)

const (
	// DefaultBuffer is the gap required around every event when creating or
	// rescheduling.
	DefaultBuffer = 15 * time.Minute

	// DefaultHorizonDays is how many calendar days the slot search covers.
	DefaultHorizonDays = 14

	// DefaultSlotCount is how many candidate slots are proposed.
	DefaultSlotCount = 3
)

// WorkingHours is a daily [Start, End) window. Start and End are local
// wall-clock times of day, e.g. 9*time.Hour for 09:00.
type WorkingHours struct {
	Start time.Duration
	End   time.Duration
}

// DefaultWorkingHours is 09:00-17:00.
var DefaultWorkingHours = WorkingHours{Start: 9 * time.Hour, End: 17 * time.Hour}

// SlotRequest describes a search for new start instants for Event.
type SlotRequest struct {
	Event       models.Event
	Others      []models.Event
	Count       int
	Buffer      time.Duration
	Now         time.Time
	Location    *time.Location
	Hours       WorkingHours
	HorizonDays int
}

func (r SlotRequest) normalized() SlotRequest {
	if r.Count <= 0 {
		r.Count = DefaultSlotCount
	}
	if r.Buffer < 0 {
		r.Buffer = 0
	}
	if r.Location == nil {
		r.Location = time.Local
	}
	if r.Hours.End <= r.Hours.Start {
		r.Hours = DefaultWorkingHours
	}
	if r.HorizonDays <= 0 {
		r.HorizonDays = DefaultHorizonDays
	}
	if r.Now.IsZero() {
		r.Now = time.Now()
	}
	return r
}

// FindSlots proposes up to Count start instants for the event such that,
// keeping its duration, it stays Buffer away from every other event and
// inside that day's working hours. The search is greedy: days are scanned
// in order starting today, gaps within a day in time order. Today's gaps
// are searched from now onwards. An empty result
// means no slot exists within the horizon.
func FindSlots(req SlotRequest) []time.Time {
	req = req.normalized()

	duration := req.Event.Duration()
	required := duration + 2*req.Buffer

	others := make([]models.Event, 0, len(req.Others))
	for _, e := range req.Others {
		if e.ID == req.Event.ID {
			continue
		}
		if e.Start.IsZero() || e.End.IsZero() {
			continue
		}
		if e.End.Before(e.Start) {
			e.End = e.Start
		}
		others = append(others, e)
	}
	sort.SliceStable(others, func(i, j int) bool {
		return others[i].Start.Before(others[j].Start)
	})

	now := req.Now.In(req.Location)
	earliest := ceilMinute(now)
	slots := make([]time.Time, 0, req.Count)

	emit := func(cursor time.Time) bool {
		slots = append(slots, cursor.Add(req.Buffer))
		return len(slots) >= req.Count
	}

	for i := 0; i < req.HorizonDays; i++ {
		dayStart := clockOn(now, i, req.Hours.Start)
		dayEnd := clockOn(now, i, req.Hours.End)
		if !dayEnd.After(earliest) {
			continue
		}

		// Anything within a buffer of the working window can constrain it,
		// including events carried over from the previous day.
		lo := dayStart.Add(-req.Buffer)
		hi := dayEnd.Add(req.Buffer)

		cursor := dayStart
		for _, e := range others {
			if !e.Start.Before(hi) {
				break
			}
			if !e.End.After(lo) {
				continue
			}
			from := latest(cursor, earliest)
			if e.Start.Sub(from) >= required {
				if emit(from) {
					return slots
				}
			}
			if e.End.After(cursor) {
				cursor = e.End
			}
		}
		from := latest(cursor, earliest)
		if dayEnd.Sub(from) >= required {
			if emit(from) {
				return slots
			}
		}
	}
	return slots
}

// clockOn returns the wall-clock time offset from midnight, days after t's
// date in t's location. Offsets are read as hours and minutes so the result
// stays on the clock across DST transitions.
func clockOn(t time.Time, days int, offset time.Duration) time.Time {
	h := int(offset / time.Hour)
	m := int(offset % time.Hour / time.Minute)
	return time.Date(t.Year(), t.Month(), t.Day()+days, h, m, 0, 0, t.Location())
}

func ceilMinute(t time.Time) time.Time {
	if r := t.Truncate(time.Minute); !r.Equal(t) {
		return r.Add(time.Minute)
	}
	return t
}

func latest(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
