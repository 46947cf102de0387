package engine

import (
	"errors"
	"fmt"
	"time"
)

// ErrEndBeforeStart is returned when a proposed block does not have a
// positive duration.
var ErrEndBeforeStart = errors.New("end time must be after start")

// TooCloseError rejects a proposed block that comes within the buffer of an
// existing event.
type TooCloseError struct {
	Event  WindowEvent
	Buffer time.Duration
}

func (e *TooCloseError) Error() string {
	return fmt.Sprintf("time is too close to an existing event (%v buffer): %q", e.Buffer, e.Event.Title)
}

// ValidateBoundary checks a proposed protected block [start, end) against the
// window's events. The block must keep a full buffer away from every event on
// both sides. It reserves nothing; a concurrent external change can still
// invalidate the result.
func ValidateBoundary(start, end time.Time, events []WindowEvent, buffer time.Duration) error {
	if !start.Before(end) {
		return ErrEndBeforeStart
	}
	for _, ev := range events {
		if start.Before(ev.End.Add(buffer)) && end.Add(buffer).After(ev.Start) {
			return &TooCloseError{Event: ev, Buffer: buffer}
		}
	}
	return nil
}
