package engine

import (
	"encoding/json"
	"reflect"
	"testing"

	"unifiedavail/internal/models"
)

func TestOverlapsTouchingEndpoints(t *testing.T) {
	a := WindowEvent{Event: event("a", "A", at(0, 9, 0), at(0, 10, 0))}
	b := WindowEvent{Event: event("b", "B", at(0, 10, 0), at(0, 11, 0))}
	c := WindowEvent{Event: event("c", "C", at(0, 9, 59), at(0, 11, 0))}

	if Overlaps(a, b) || Overlaps(b, a) {
		t.Error("touching events must not overlap")
	}
	if !Overlaps(a, c) || !Overlaps(c, a) {
		t.Error("overlapping events not detected")
	}
}

func TestOverlapsZeroWidth(t *testing.T) {
	long := WindowEvent{Event: event("long", "Long", at(0, 9, 0), at(0, 11, 0))}
	inside := WindowEvent{Event: event("in", "Ping", at(0, 10, 0), at(0, 10, 0))}
	edge := WindowEvent{Event: event("edge", "Ping", at(0, 9, 0), at(0, 9, 0))}
	negative := WindowEvent{Event: event("neg", "Backwards", at(0, 10, 0), at(0, 8, 0))}

	if !Overlaps(long, inside) {
		t.Error("zero-width event strictly inside should pierce")
	}
	if Overlaps(long, edge) {
		t.Error("zero-width event at the start boundary should not overlap")
	}
	if !Overlaps(long, negative) {
		t.Error("negative-duration event is clamped to zero width at its start")
	}
}

func TestDetectConflictsScenario(t *testing.T) {
	w := Window{Start: monday}
	window := FilterWindow([]models.Event{
		event("standup", "Standup", at(0, 9, 0), at(0, 10, 0)),
		event("client", "Client Call", at(0, 9, 30), at(0, 10, 30)),
		event("later", "Lunch", at(0, 12, 0), at(0, 13, 0)),
	}, w)

	det := DetectConflicts(window, nil)
	if len(det.Pairs) != 1 {
		t.Fatalf("got %d pairs, want 1", len(det.Pairs))
	}
	p := det.Pairs[0]
	if p.ID != NewPairID("client", "standup") {
		t.Errorf("pair id = %v", p.ID)
	}
	if p.A.ID != "standup" || p.B.ID != "client" {
		t.Errorf("pair members out of window order: %s, %s", p.A.ID, p.B.ID)
	}
	if !p.A.Conflict || !p.B.Conflict {
		t.Error("pair members must carry the conflict flag")
	}
	if p.A.Severity != Low || p.B.Severity != High {
		t.Errorf("severities = %v, %v", p.A.Severity, p.B.Severity)
	}
	for _, e := range det.Events {
		if want := e.ID != "later"; e.Conflict != want {
			t.Errorf("%s.Conflict = %v, want %v", e.ID, e.Conflict, want)
		}
	}
	for _, e := range window {
		if e.Conflict {
			t.Errorf("input event %s was mutated", e.ID)
		}
	}
}

func TestDetectConflictsIgnoreIsPerPair(t *testing.T) {
	window := FilterWindow([]models.Event{
		event("a", "A", at(0, 9, 0), at(0, 11, 0)),
		event("b", "B", at(0, 10, 0), at(0, 12, 0)),
		event("c", "C", at(0, 10, 30), at(0, 13, 0)),
	}, Window{Start: monday})

	ignore := IgnoreSet{}
	ignore.Add(NewPairID("b", "a"))

	det := DetectConflicts(window, ignore)
	for _, p := range det.Pairs {
		if p.ID == NewPairID("a", "b") {
			t.Fatal("ignored pair reported as unresolved")
		}
	}
	if len(det.Pairs) != 2 {
		t.Errorf("got %d pairs, want 2 (a-c, b-c)", len(det.Pairs))
	}
	for _, e := range det.Events {
		if !e.Conflict {
			t.Errorf("%s should still be flagged through its other peer", e.ID)
		}
	}

	// Once c is gone, a and b only overlap each other through the ignored pair.
	det = DetectConflicts(window[:2], ignore)
	if len(det.Pairs) != 0 {
		t.Errorf("got %d pairs, want none", len(det.Pairs))
	}
	for _, e := range det.Events {
		if e.Conflict {
			t.Errorf("%s flagged only through an ignored pair", e.ID)
		}
	}
}

func TestDetectConflictsIdempotent(t *testing.T) {
	events := []models.Event{
		event("a", "Client review", at(1, 9, 0), at(1, 10, 0)),
		event("b", "Team sync", at(1, 9, 45), at(1, 10, 15)),
		boundary("c", "Focus", at(1, 10, 0), at(1, 11, 0)),
		boundary("d", "Focus", at(1, 10, 0), at(1, 11, 0)),
	}
	w := Window{Start: monday}

	first := DetectConflicts(FilterWindow(events, w), nil)
	second := DetectConflicts(FilterWindow(events, w), nil)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("detection not idempotent:\n%+v\n%+v", first, second)
	}
	again := DetectConflicts(first.Events, nil)
	if !reflect.DeepEqual(first, again) {
		t.Error("re-running on annotated output changed the result")
	}
}

func TestPairIDIsOrderIndependent(t *testing.T) {
	if NewPairID("x", "a|b") != NewPairID("a|b", "x") {
		t.Error("pair identity depends on argument order")
	}
	// Ids containing the separator used by string-joined keys stay distinct.
	if NewPairID("a|b", "c") == NewPairID("a", "b|c") {
		t.Error("distinct pairs collided")
	}
}

func TestPairIDJSON(t *testing.T) {
	data, err := json.Marshal(NewPairID("b", "a"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `["a","b"]` {
		t.Errorf("marshal = %s", data)
	}

	var id PairID
	if err := json.Unmarshal([]byte(`["z","y"]`), &id); err != nil {
		t.Fatal(err)
	}
	if id != NewPairID("y", "z") {
		t.Errorf("unmarshal = %v", id)
	}
	if err := json.Unmarshal([]byte(`["only"]`), &id); err == nil {
		t.Error("expected error for a one-element pair")
	}
}
