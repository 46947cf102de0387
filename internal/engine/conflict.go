package engine

import (
	"encoding/json"
	"errors"
	"time"
)

// PairID identifies an unordered pair of events by their ids. Low <= High
// always holds, so (A,B) and (B,A) produce the same key.
type PairID struct {
	Low  string
	High string
}

// NewPairID returns the identity of the pair {a, b}.
func NewPairID(a, b string) PairID {
	if b < a {
		a, b = b, a
	}
	return PairID{Low: a, High: b}
}

// Contains reports whether id is one side of the pair.
func (p PairID) Contains(id string) bool {
	return p.Low == id || p.High == id
}

// MarshalJSON encodes the pair as a two-element array.
func (p PairID) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{p.Low, p.High})
}

// UnmarshalJSON decodes a two-element array, normalising the order.
func (p *PairID) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	if len(ids) != 2 {
		return errors.New("pair id must have exactly two elements")
	}
	*p = NewPairID(ids[0], ids[1])
	return nil
}

// IgnoreSet holds the pairs the user has dismissed.
type IgnoreSet map[PairID]struct{}

// Add marks the pair as ignored.
func (s IgnoreSet) Add(id PairID) {
	s[id] = struct{}{}
}

// Has reports whether the pair is ignored. A nil set ignores nothing.
func (s IgnoreSet) Has(id PairID) bool {
	_, ok := s[id]
	return ok
}

// Clone returns an independent copy.
func (s IgnoreSet) Clone() IgnoreSet {
	c := make(IgnoreSet, len(s))
	for id := range s {
		c[id] = struct{}{}
	}
	return c
}

// IDs returns the ignored pairs in no particular order.
func (s IgnoreSet) IDs() []PairID {
	ids := make([]PairID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	return ids
}

// Pair is an unresolved conflict between two events of a window.
type Pair struct {
	ID PairID
	A  WindowEvent
	B  WindowEvent
}

// Detection is the result of running DetectConflicts.
type Detection struct {
	Events []WindowEvent
	Pairs  []Pair
}

// Overlaps reports whether two events strictly overlap. Touching endpoints
// do not overlap. A negative-duration event counts as zero width at its start.
func Overlaps(a, b WindowEvent) bool {
	aStart, aEnd := span(a)
	bStart, bEnd := span(b)
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

func span(e WindowEvent) (time.Time, time.Time) {
	if e.End.Before(e.Start) {
		return e.Start, e.Start
	}
	return e.Start, e.End
}

// DetectConflicts examines every pair of events and returns annotated
// copies plus the overlapping pairs not present in ignore, in window order.
//
// An event is flagged as a conflict iff it overlaps at least one other event
// through a pair that is not ignored.
func DetectConflicts(events []WindowEvent, ignore IgnoreSet) Detection {
	out := make([]WindowEvent, len(events))
	copy(out, events)
	for i := range out {
		out[i].Conflict = false
	}

	type match struct {
		i, j int
		id   PairID
	}
	var matches []match
	for i := 0; i < len(out)-1; i++ {
		for j := i + 1; j < len(out); j++ {
			if !Overlaps(out[i], out[j]) {
				continue
			}
			id := NewPairID(out[i].ID, out[j].ID)
			if ignore.Has(id) {
				continue
			}
			out[i].Conflict = true
			out[j].Conflict = true
			matches = append(matches, match{i: i, j: j, id: id})
		}
	}

	// Members are copied once the flags are final.
	pairs := make([]Pair, 0, len(matches))
	for _, m := range matches {
		pairs = append(pairs, Pair{ID: m.id, A: out[m.i], B: out[m.j]})
	}
	return Detection{Events: out, Pairs: pairs}
}
