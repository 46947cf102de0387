package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"unifiedavail/internal/engine"
	"unifiedavail/internal/models"
)

var (
	// ErrTitleRequired is returned when a boundary block has no title.
	ErrTitleRequired = errors.New("a title is required")
	// ErrUnknownPair is returned for a pair that is not currently unresolved.
	ErrUnknownPair = errors.New("conflict is not unresolved")
	// ErrUnknownEvent is returned for an event id that is not loaded.
	ErrUnknownEvent = errors.New("event not found")
	// ErrAmbiguousEvent is returned for a bare id shared by several providers.
	ErrAmbiguousEvent = errors.New("event id is ambiguous")
	// ErrNoSuggester is returned when no text suggestion service is configured.
	ErrNoSuggester = errors.New("no suggestion service configured")
)

// Source fetches every event known for a time range.
type Source interface {
	FetchEvents(ctx context.Context, from, to time.Time) ([]models.Event, error)
}

// Sink applies mutations to the external event store.
type Sink interface {
	CreateBoundary(ctx context.Context, spec models.BoundarySpec) ([]models.Event, error)
	UpdateEvent(ctx context.Context, ev models.Event, start, end time.Time) error
	DeleteEvent(ctx context.Context, ev models.Event) error
}

// Suggester produces free text for a prompt.
type Suggester interface {
	Suggest(ctx context.Context, prompt string) (string, error)
}

// Options tune the session. Zero values fall back to defaults.
type Options struct {
	Location    *time.Location
	WeekStart   time.Weekday
	Buffer      time.Duration
	Hours       engine.WorkingHours
	SlotCount   int
	HorizonDays int
	Now         func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.Buffer <= 0 {
		o.Buffer = engine.DefaultBuffer
	}
	if o.Hours.End <= o.Hours.Start {
		o.Hours = engine.DefaultWorkingHours
	}
	if o.SlotCount <= 0 {
		o.SlotCount = engine.DefaultSlotCount
	}
	if o.HorizonDays <= 0 {
		o.HorizonDays = engine.DefaultHorizonDays
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// View is the annotated state of the current window.
type View struct {
	Window     engine.Window
	Events     []engine.WindowEvent
	Unresolved []engine.Pair
}

// Session holds the local, optimistic view of a user's calendars: every
// fetched event, the window being viewed, the ignored pairs and the queue of
// unresolved conflicts. All conflict logic is delegated to the engine.
type Session struct {
	logger    *slog.Logger
	source    Source
	sink      Sink
	suggester Suggester
	opts      Options

	mu         sync.Mutex
	events     []models.Event
	window     engine.Window
	ignore     engine.IgnoreSet
	unresolved []engine.PairID
}

// New creates a Session viewing the current week.
func New(logger *slog.Logger, source Source, sink Sink, opts Options) *Session {
	opts = opts.withDefaults()
	return &Session{
		logger: logger,
		source: source,
		sink:   sink,
		opts:   opts,
		window: engine.WeekOf(opts.Now(), opts.Location, opts.WeekStart),
		ignore: make(engine.IgnoreSet),
	}
}

// SetSuggester configures the optional text suggestion service.
func (s *Session) SetSuggester(sg Suggester) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suggester = sg
}

// Refresh replaces the local events with a fresh fetch covering the viewed
// week and the slot search horizon. On failure the previous events are kept.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	from, to := s.fetchRangeLocked()
	s.mu.Unlock()

	s.logger.Debug("Fetching events.", "from", from, "to", to)
	events, err := s.source.FetchEvents(ctx, from, to)
	if err != nil {
		return fmt.Errorf("failed to fetch events: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = valid(events)
	s.syncQueueLocked()
	s.logger.Info("Fetched all events.", "count", len(s.events), "unresolved", len(s.unresolved))
	return nil
}

// Load replaces the local events without contacting the source.
func (s *Session) Load(events []models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = valid(events)
	s.syncQueueLocked()
}

func (s *Session) fetchRangeLocked() (time.Time, time.Time) {
	now := s.opts.Now().In(s.opts.Location)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.opts.Location)
	horizonEnd := today.AddDate(0, 0, s.opts.HorizonDays)

	from, to := s.window.Start, s.window.End()
	if today.Before(from) {
		from = today
	}
	if horizonEnd.After(to) {
		to = horizonEnd
	}
	return from, to
}

// valid drops events without usable timestamps; one bad record must not
// blank the week.
func valid(events []models.Event) []models.Event {
	out := make([]models.Event, 0, len(events))
	for _, e := range events {
		if e.Start.IsZero() || e.End.IsZero() {
			continue
		}
		out = append(out, e)
	}
	return out
}

// View returns the annotated current window and its unresolved conflicts.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	det := s.detectLocked()
	return View{
		Window:     s.window,
		Events:     det.Events,
		Unresolved: s.queuedPairsLocked(det),
	}
}

// Window returns the window being viewed.
func (s *Session) Window() engine.Window {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.window
}

// NextWeek moves the view one week forward.
func (s *Session) NextWeek() engine.Window {
	return s.navigate(func(w engine.Window) engine.Window { return w.Next() })
}

// PrevWeek moves the view one week back.
func (s *Session) PrevWeek() engine.Window {
	return s.navigate(func(w engine.Window) engine.Window { return w.Prev() })
}

// ThisWeek jumps back to the week containing now.
func (s *Session) ThisWeek() engine.Window {
	return s.navigate(func(engine.Window) engine.Window {
		return engine.WeekOf(s.opts.Now(), s.opts.Location, s.opts.WeekStart)
	})
}

func (s *Session) navigate(move func(engine.Window) engine.Window) engine.Window {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.window = move(s.window)
	s.syncQueueLocked()
	return s.window
}

// Ignored returns a copy of the ignored pairs.
func (s *Session) Ignored() engine.IgnoreSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ignore.Clone()
}

// SetIgnored replaces the ignored pairs, e.g. with a persisted set.
func (s *Session) SetIgnored(set engine.IgnoreSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ignore = set.Clone()
	s.syncQueueLocked()
}

func (s *Session) detectLocked() engine.Detection {
	return engine.DetectConflicts(engine.FilterWindow(s.events, s.window), s.ignore)
}

// syncQueueLocked drops queued pairs that no longer conflict and appends
// newly detected ones, keeping the queue free of duplicates.
func (s *Session) syncQueueLocked() {
	det := s.detectLocked()
	current := make(map[engine.PairID]struct{}, len(det.Pairs))
	for _, p := range det.Pairs {
		current[p.ID] = struct{}{}
	}

	queue := make([]engine.PairID, 0, len(s.unresolved))
	queued := make(map[engine.PairID]struct{}, len(s.unresolved))
	for _, id := range s.unresolved {
		if _, ok := current[id]; ok {
			queue = append(queue, id)
			queued[id] = struct{}{}
		}
	}
	added := 0
	for _, p := range det.Pairs {
		if _, ok := queued[p.ID]; !ok {
			queue = append(queue, p.ID)
			queued[p.ID] = struct{}{}
			added++
		}
	}
	if added > 0 {
		s.logger.Info("Adding new unresolved conflicts.", "count", added)
	}
	s.unresolved = queue
}

func (s *Session) queuedPairsLocked(det engine.Detection) []engine.Pair {
	byID := make(map[engine.PairID]engine.Pair, len(det.Pairs))
	for _, p := range det.Pairs {
		byID[p.ID] = p
	}
	pairs := make([]engine.Pair, 0, len(s.unresolved))
	for _, id := range s.unresolved {
		if p, ok := byID[id]; ok {
			pairs = append(pairs, p)
		}
	}
	return pairs
}

func (s *Session) removeFromQueueLocked(id engine.PairID) {
	for i, q := range s.unresolved {
		if q == id {
			s.unresolved = append(s.unresolved[:i:i], s.unresolved[i+1:]...)
			return
		}
	}
}

func (s *Session) pairLocked(id engine.PairID) (engine.Pair, error) {
	for _, p := range s.queuedPairsLocked(s.detectLocked()) {
		if p.ID == id {
			return p, nil
		}
	}
	return engine.Pair{}, fmt.Errorf("%w: %s / %s", ErrUnknownPair, id.Low, id.High)
}

// Conflicts returns the unresolved conflict queue in order.
func (s *Session) Conflicts() []engine.Pair {
	return s.View().Unresolved
}

// Advise suggests which side of an unresolved pair to keep and proposes
// slots for the other one.
func (s *Session) Advise(id engine.PairID) (engine.Advice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.pairLocked(id)
	if err != nil {
		return engine.Advice{}, err
	}
	return engine.Advise(p.A, p.B, s.slotRequestLocked()), nil
}

// Slots proposes new start instants for any loaded event.
func (s *Session) Slots(eventID string) ([]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, err := s.findLocked(eventID)
	if err != nil {
		return nil, err
	}
	req := s.slotRequestLocked()
	req.Event = ev
	return engine.FindSlots(req), nil
}

func (s *Session) slotRequestLocked() engine.SlotRequest {
	others := make([]models.Event, len(s.events))
	copy(others, s.events)
	return engine.SlotRequest{
		Others:      others,
		Count:       s.opts.SlotCount,
		Buffer:      s.opts.Buffer,
		Now:         s.opts.Now(),
		Location:    s.opts.Location,
		Hours:       s.opts.Hours,
		HorizonDays: s.opts.HorizonDays,
	}
}

// findLocked resolves an event reference. A bare id must match exactly one
// loaded event; ids are only unique per provider, so a reference may be
// qualified as "<calendar>:<id>", e.g. "outlook:AAMk".
func (s *Session) findLocked(ref string) (models.Event, error) {
	var matches []models.Event
	for _, e := range s.events {
		if e.ID == ref {
			matches = append(matches, e)
		}
	}
	if len(matches) == 0 {
		if tag, id, ok := strings.Cut(ref, ":"); ok {
			if cal, ok := models.ParseCalendar(tag); ok {
				for _, e := range s.events {
					if e.ID == id && e.Calendar == cal {
						matches = append(matches, e)
					}
				}
			}
		}
	}
	switch len(matches) {
	case 0:
		return models.Event{}, fmt.Errorf("%w: %s", ErrUnknownEvent, ref)
	case 1:
		return matches[0], nil
	}
	cals := make([]string, len(matches))
	for i, e := range matches {
		cals[i] = strings.ToLower(string(e.Calendar))
	}
	return models.Event{}, fmt.Errorf("%w: %s is in %s, qualify it as <calendar>:%s", ErrAmbiguousEvent, ref, strings.Join(cals, ", "), ref)
}

// copiesLocked returns ev and, for a boundary block, every other provider's
// copy of the same block.
func (s *Session) copiesLocked(ev models.Event) []models.Event {
	copies := []models.Event{ev}
	if !ev.IsBoundary {
		return copies
	}
	for _, e := range s.events {
		if e.ID == ev.ID && e.Calendar == ev.Calendar {
			continue
		}
		if sameBlock(e, ev) {
			copies = append(copies, e)
		}
	}
	return copies
}

func sameBlock(a, b models.Event) bool {
	return a.IsBoundary && b.IsBoundary && a.Title == b.Title && a.Start.Equal(b.Start) && a.End.Equal(b.End)
}

// aliasesLocked returns the ids a pair side can appear under: the id itself
// and, for a boundary block, the ids of its other provider copies.
func (s *Session) aliasesLocked(id string) []string {
	ids := []string{id}
	for _, e := range s.events {
		if e.ID != id || !e.IsBoundary {
			continue
		}
		for _, c := range s.copiesLocked(e)[1:] {
			ids = append(ids, c.ID)
		}
		break
	}
	return ids
}

// Ignore dismisses a pair. Its events are untouched; the pair stays
// suppressed for as long as the same two events overlap, whichever copy of
// a boundary block is shown.
func (s *Session) Ignore(id engine.PairID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.aliasesLocked(id.Low) {
		for _, b := range s.aliasesLocked(id.High) {
			s.ignore.Add(engine.NewPairID(a, b))
		}
	}
	s.removeFromQueueLocked(id)
	s.syncQueueLocked()
	s.logger.Info("Ignoring conflict.", "a", id.Low, "b", id.High)
}

// pairSide returns the event of p with the given id.
func pairSide(p engine.Pair, id string) models.Event {
	if p.A.ID == id {
		return p.A.Event
	}
	return p.B.Event
}

// Keep resolves a pair by deleting discardID. The pair leaves the queue at
// once; the deletion is applied locally before the sink confirms it.
func (s *Session) Keep(ctx context.Context, id engine.PairID, discardID string) error {
	if !id.Contains(discardID) {
		return fmt.Errorf("%w: %s is not part of the conflict", ErrUnknownEvent, discardID)
	}
	s.mu.Lock()
	p, err := s.pairLocked(id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.removeFromQueueLocked(id)
	s.mu.Unlock()

	s.logger.Info("Resolving conflict by deleting event.", "id", discardID)
	return s.delete(ctx, pairSide(p, discardID))
}

// Reschedule resolves a pair by moving eventID to newStart, preserving its
// duration. The pair leaves the queue when the update is dispatched; if the
// sink fails, the rollback brings it back at the end of the queue.
func (s *Session) Reschedule(ctx context.Context, id engine.PairID, eventID string, newStart time.Time) error {
	if !id.Contains(eventID) {
		return fmt.Errorf("%w: %s is not part of the conflict", ErrUnknownEvent, eventID)
	}
	s.mu.Lock()
	p, err := s.pairLocked(id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.removeFromQueueLocked(id)
	s.mu.Unlock()

	s.logger.Info("Resolving conflict by rescheduling event.", "id", eventID, "start", newStart)
	return s.move(ctx, pairSide(p, eventID), newStart)
}

// DeleteEvent optimistically removes an event and asks the sink to delete
// it. A boundary block is deleted from every provider holding a copy. If
// the sink fails, the events are restored to the state before the call.
func (s *Session) DeleteEvent(ctx context.Context, ref string) error {
	s.mu.Lock()
	target, err := s.findLocked(ref)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.delete(ctx, target)
}

func (s *Session) delete(ctx context.Context, target models.Event) error {
	s.mu.Lock()
	snapshot := s.snapshotLocked()
	targets := s.copiesLocked(target)
	kept := make([]models.Event, 0, len(s.events))
	for _, e := range s.events {
		if contains(targets, e) {
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	s.syncQueueLocked()
	s.mu.Unlock()

	var errs []error
	for _, t := range targets {
		if err := s.sink.DeleteEvent(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		s.rollback(snapshot)
		s.logger.Error("Failed to delete event, reverting.", "title", target.Title, "id", target.ID, "error", err)
		return fmt.Errorf("failed to delete event %q: %w", target.Title, err)
	}
	s.logger.Info("Deleted event.", "title", target.Title, "calendar", target.Calendar, "copies", len(targets))
	return nil
}

// MoveEvent optimistically moves an event to newStart, preserving its
// duration, and asks the sink to update it. Every copy of a boundary block
// moves together. Failures are rolled back.
func (s *Session) MoveEvent(ctx context.Context, ref string, newStart time.Time) error {
	s.mu.Lock()
	target, err := s.findLocked(ref)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.move(ctx, target, newStart)
}

func (s *Session) move(ctx context.Context, target models.Event, newStart time.Time) error {
	s.mu.Lock()
	snapshot := s.snapshotLocked()
	targets := s.copiesLocked(target)
	moved := engine.Rescheduled(target, newStart)
	updated := make([]models.Event, len(s.events))
	for i, e := range s.events {
		if contains(targets, e) {
			e = engine.Rescheduled(e, newStart)
		}
		updated[i] = e
	}
	s.events = updated
	s.syncQueueLocked()
	s.mu.Unlock()

	var errs []error
	for _, t := range targets {
		if err := s.sink.UpdateEvent(ctx, t, moved.Start, moved.End); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		s.rollback(snapshot)
		s.logger.Error("Failed to reschedule event, reverting.", "title", target.Title, "id", target.ID, "error", err)
		return fmt.Errorf("failed to reschedule event %q: %w", target.Title, err)
	}
	s.logger.Info("Rescheduled event.", "title", target.Title, "start", moved.Start, "end", moved.End)
	return nil
}

func contains(events []models.Event, ev models.Event) bool {
	for _, e := range events {
		if e.ID == ev.ID && e.Calendar == ev.Calendar {
			return true
		}
	}
	return false
}

func (s *Session) snapshotLocked() []models.Event {
	snap := make([]models.Event, len(s.events))
	copy(snap, s.events)
	return snap
}

// rollback restores the events wholesale and recomputes the queue, so pairs
// the failed action took off it are appended again.
func (s *Session) rollback(snapshot []models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = snapshot
	s.syncQueueLocked()
}

// CreateBoundary validates a protected block against the current window and
// submits it. Created events echoed by the sink are merged as boundary
// blocks; without an echo the session refreshes from the source.
func (s *Session) CreateBoundary(ctx context.Context, title string, start, end time.Time) ([]models.Event, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ErrTitleRequired
	}

	s.mu.Lock()
	window := engine.FilterWindow(s.events, s.window)
	s.mu.Unlock()
	if err := engine.ValidateBoundary(start, end, window, s.opts.Buffer); err != nil {
		return nil, err
	}

	s.logger.Info("Creating boundary block.", "title", title, "start", start, "end", end)
	created, err := s.sink.CreateBoundary(ctx, models.BoundarySpec{Title: title, Start: start, End: end})
	if err != nil {
		s.logger.Error("Failed to create boundary block.", "title", title, "error", err)
		return nil, fmt.Errorf("failed to create block: %w", err)
	}

	if len(created) == 0 {
		s.logger.Warn("Sink did not return created events, falling back to a full refresh.")
		if err := s.Refresh(ctx); err != nil {
			return nil, err
		}
		return nil, nil
	}

	for i := range created {
		created[i].IsBoundary = true
		if created[i].Calendar == "" {
			created[i].Calendar = models.CalendarBoundary
		}
	}
	s.mu.Lock()
	s.events = append(s.events, valid(created)...)
	s.syncQueueLocked()
	s.mu.Unlock()
	return created, nil
}
