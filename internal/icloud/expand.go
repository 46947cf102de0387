package icloud

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/teambition/rrule-go"

	"unifiedavail/internal/models"
)

const (
	// boundaryProp marks objects created as protected blocks.
	boundaryProp     = "X-UNIFIEDAVAIL-BOUNDARY"
	boundaryCategory = "Boundary"

	occurrenceSep    = "#"
	occurrenceLayout = "20060102T150405Z"
)

// ErrUnknownInstance is returned when an event id does not match anything in
// a calendar object.
var ErrUnknownInstance = errors.New("event not found in calendar object")

// occurrenceID identifies one instance of a recurring series.
func occurrenceID(uid string, start time.Time) string {
	return uid + occurrenceSep + start.UTC().Format(occurrenceLayout)
}

// splitID reverses occurrenceID. Plain UIDs report ok=false.
func splitID(id string) (uid string, occ time.Time, ok bool) {
	i := strings.LastIndex(id, occurrenceSep)
	if i < 0 {
		return id, time.Time{}, false
	}
	t, err := time.Parse(occurrenceLayout, id[i+1:])
	if err != nil {
		return id, time.Time{}, false
	}
	return id[:i], t, true
}

// expandCalendar converts the VEVENTs of one calendar object into events
// intersecting [from, to). Recurring series are expanded; overrides replace
// the occurrence they name and cancelled overrides remove it.
func expandCalendar(cal *ical.Calendar, objectPath string, from, to time.Time, loc *time.Location) ([]models.Event, error) {
	var masters []ical.Event
	overrides := make(map[string]map[int64]ical.Event)
	for _, ev := range cal.Events() {
		rid := ev.Props.Get(ical.PropRecurrenceID)
		if rid == nil {
			masters = append(masters, ev)
			continue
		}
		t, err := rid.DateTime(loc)
		if err != nil {
			return nil, fmt.Errorf("invalid RECURRENCE-ID: %w", err)
		}
		uid := propText(ev.Component, ical.PropUID)
		if overrides[uid] == nil {
			overrides[uid] = make(map[int64]ical.Event)
		}
		overrides[uid][t.Unix()] = ev
	}

	var out []models.Event
	for _, master := range masters {
		if isAllDay(master.Component) {
			continue
		}
		start, err := master.DateTimeStart(loc)
		if err != nil {
			return nil, fmt.Errorf("invalid DTSTART: %w", err)
		}
		end, err := master.DateTimeEnd(loc)
		if err != nil {
			return nil, fmt.Errorf("invalid DTEND: %w", err)
		}
		uid := propText(master.Component, ical.PropUID)

		set, err := master.RecurrenceSet(loc)
		if err != nil {
			return nil, fmt.Errorf("invalid recurrence rule for %s: %w", uid, err)
		}
		if set == nil {
			if overlaps(start, end, from, to) {
				out = append(out, toEvent(master.Component, uid, start, end, objectPath))
			}
			continue
		}

		dur := end.Sub(start)
		for _, occ := range occurrences(set, dur, from, to) {
			if _, replaced := overrides[uid][occ.Unix()]; replaced {
				continue
			}
			out = append(out, toEvent(master.Component, occurrenceID(uid, occ), occ, occ.Add(dur), objectPath))
		}
	}

	for uid, byStart := range overrides {
		for occ, ov := range byStart {
			if strings.EqualFold(propText(ov.Component, ical.PropStatus), "CANCELLED") || isAllDay(ov.Component) {
				continue
			}
			start, err := ov.DateTimeStart(loc)
			if err != nil {
				return nil, fmt.Errorf("invalid DTSTART: %w", err)
			}
			end, err := ov.DateTimeEnd(loc)
			if err != nil {
				return nil, fmt.Errorf("invalid DTEND: %w", err)
			}
			if overlaps(start, end, from, to) {
				out = append(out, toEvent(ov.Component, occurrenceID(uid, time.Unix(occ, 0)), start, end, objectPath))
			}
		}
	}
	return out, nil
}

// occurrences returns the starts of the instances of set lasting dur that
// intersect [from, to).
func occurrences(set *rrule.Set, dur time.Duration, from, to time.Time) []time.Time {
	var out []time.Time
	for _, occ := range set.Between(from.Add(-dur), to, true) {
		if overlaps(occ, occ.Add(dur), from, to) {
			out = append(out, occ)
		}
	}
	return out
}

func toEvent(comp *ical.Component, id string, start, end time.Time, objectPath string) models.Event {
	return models.Event{
		ID:          id,
		Title:       propText(comp, ical.PropSummary),
		Start:       start,
		End:         end,
		Calendar:    models.CalendarCalDAV,
		Ref:         objectPath,
		IsBoundary:  isBoundary(comp),
		Description: propText(comp, ical.PropDescription),
		Location:    propText(comp, ical.PropLocation),
	}
}

func overlaps(start, end, from, to time.Time) bool {
	return start.Before(to) && end.After(from)
}

func propText(comp *ical.Component, name string) string {
	s, err := comp.Props.Text(name)
	if err != nil {
		return ""
	}
	return s
}

func isAllDay(comp *ical.Component) bool {
	p := comp.Props.Get(ical.PropDateTimeStart)
	return p != nil && p.ValueType() == ical.ValueDate
}

func isBoundary(comp *ical.Component) bool {
	if p := comp.Props.Get(boundaryProp); p != nil && strings.EqualFold(p.Value, "TRUE") {
		return true
	}
	for _, p := range comp.Props.Values(ical.PropCategories) {
		for _, c := range strings.Split(p.Value, ",") {
			if strings.EqualFold(strings.TrimSpace(c), boundaryCategory) {
				return true
			}
		}
	}
	return false
}

// newBoundaryCalendar builds the calendar object for a protected block.
func newBoundaryCalendar(uid string, spec models.BoundarySpec, now time.Time) *ical.Calendar {
	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, uid)
	ve.Props.SetText(ical.PropSummary, spec.Title)
	ve.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())
	ve.Props.SetDateTime(ical.PropDateTimeStart, spec.Start.UTC())
	ve.Props.SetDateTime(ical.PropDateTimeEnd, spec.End.UTC())
	ve.Props.SetText(ical.PropTransparency, "OPAQUE")
	ve.Props.SetText(ical.PropCategories, boundaryCategory)
	ve.Props.SetText(boundaryProp, "TRUE")

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//unifiedavail//EN")
	cal.Children = append(cal.Children, ve)
	return cal
}

// findInstance returns the VEVENT for id. For an occurrence without an
// override, master is the series and override is nil.
func findInstance(cal *ical.Calendar, id string, loc *time.Location) (master, override *ical.Component, occ time.Time, err error) {
	uid, occ, recurring := splitID(id)
	for _, child := range cal.Children {
		if child.Name != ical.CompEvent || propText(child, ical.PropUID) != uid {
			continue
		}
		rid := child.Props.Get(ical.PropRecurrenceID)
		if rid == nil {
			master = child
			continue
		}
		if !recurring {
			continue
		}
		if t, err := rid.DateTime(loc); err == nil && t.Equal(occ) {
			override = child
		}
	}
	if master == nil && override == nil {
		return nil, nil, time.Time{}, fmt.Errorf("%w: %s", ErrUnknownInstance, id)
	}
	return master, override, occ, nil
}

// moveInstance reschedules the event id inside cal. A single occurrence of a
// series is moved by writing an override for it.
func moveInstance(cal *ical.Calendar, id string, start, end time.Time, loc *time.Location, now time.Time) error {
	master, override, occ, err := findInstance(cal, id, loc)
	if err != nil {
		return err
	}
	target := override
	if target == nil {
		if _, _, recurring := splitID(id); !recurring {
			target = master
		} else {
			target = ical.NewComponent(ical.CompEvent)
			for _, name := range []string{ical.PropUID, ical.PropSummary, ical.PropDescription, ical.PropLocation, ical.PropCategories, boundaryProp} {
				if p := master.Props.Get(name); p != nil {
					target.Props.Set(p)
				}
			}
			target.Props.SetDateTime(ical.PropRecurrenceID, occ)
			cal.Children = append(cal.Children, target)
		}
	}
	target.Props.Del(ical.PropDuration)
	target.Props.SetDateTime(ical.PropDateTimeStart, start.UTC())
	target.Props.SetDateTime(ical.PropDateTimeEnd, end.UTC())
	target.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())
	return nil
}

// removeInstance deletes the event id from cal. It reports whether the whole
// object should be removed instead, which is the case for plain events.
func removeInstance(cal *ical.Calendar, id string, loc *time.Location) (removeObject bool, err error) {
	master, override, occ, err := findInstance(cal, id, loc)
	if err != nil {
		return false, err
	}
	if _, _, recurring := splitID(id); !recurring {
		return true, nil
	}
	if override != nil {
		kept := cal.Children[:0]
		for _, child := range cal.Children {
			if child != override {
				kept = append(kept, child)
			}
		}
		cal.Children = kept
	}
	if master == nil {
		return len(cal.Events()) == 0, nil
	}
	exdate := ical.NewProp(ical.PropExceptionDates)
	exdate.SetDateTime(occ)
	master.Props.Add(exdate)
	return false, nil
}
