package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"unifiedavail/internal/models"
)

// ErrNoProvider is returned when a write targets a calendar that has no
// configured provider.
var ErrNoProvider = errors.New("no provider for calendar")

// Provider is a single external calendar account.
type Provider interface {
	Calendar() models.Calendar
	ListEvents(ctx context.Context, from, to time.Time) ([]models.Event, error)
	CreateBoundary(ctx context.Context, spec models.BoundarySpec) (models.Event, error)
	UpdateEvent(ctx context.Context, ev models.Event, start, end time.Time) error
	DeleteEvent(ctx context.Context, ev models.Event) error
}

// Status is the outcome of the last fetch from one provider.
type Status struct {
	Calendar  models.Calendar `json:"calendar"`
	Events    int             `json:"events"`
	Error     string          `json:"error,omitempty"`
	FetchedAt time.Time       `json:"fetchedAt"`
}

// Aggregator merges several providers into one event source and routes
// writes back to the provider that owns each event.
type Aggregator struct {
	logger    *slog.Logger
	providers []Provider

	mu     sync.RWMutex
	status []Status
}

// New creates an Aggregator. Providers are queried in the given order.
func New(logger *slog.Logger, providers ...Provider) *Aggregator {
	return &Aggregator{
		logger:    logger,
		providers: providers,
	}
}

// Providers lists the configured calendars.
func (a *Aggregator) Providers() []models.Calendar {
	cals := make([]models.Calendar, len(a.providers))
	for i, p := range a.providers {
		cals[i] = p.Calendar()
	}
	return cals
}

// Status returns the outcome of the most recent fetch per provider.
func (a *Aggregator) Status() []Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Status, len(a.status))
	copy(out, a.status)
	return out
}

// FetchEvents queries all providers concurrently. A failing provider is
// logged and skipped; an error is returned only if every provider fails.
func (a *Aggregator) FetchEvents(ctx context.Context, from, to time.Time) ([]models.Event, error) {
	if len(a.providers) == 0 {
		return nil, nil
	}

	type result struct {
		events []models.Event
		err    error
	}
	results := make([]result, len(a.providers))

	var wg sync.WaitGroup
	for i, p := range a.providers {
		wg.Add(1)
		go func(i int, p Provider) {
			defer wg.Done()
			events, err := p.ListEvents(ctx, from, to)
			results[i] = result{events: events, err: err}
		}(i, p)
	}
	wg.Wait()

	now := time.Now()
	status := make([]Status, len(a.providers))
	var all []models.Event
	var errs []error
	for i, r := range results {
		cal := a.providers[i].Calendar()
		status[i] = Status{Calendar: cal, Events: len(r.events), FetchedAt: now}
		if r.err != nil {
			a.logger.Error("Could not fetch events for a calendar", "calendar", cal, "error", r.err)
			status[i].Error = r.err.Error()
			errs = append(errs, fmt.Errorf("%s: %w", cal, r.err))
			continue
		}
		for _, e := range r.events {
			if e.Calendar == "" {
				e.Calendar = cal
			}
			all = append(all, e)
		}
	}

	a.mu.Lock()
	a.status = status
	a.mu.Unlock()

	if len(errs) == len(a.providers) {
		return nil, fmt.Errorf("all calendars failed: %w", errors.Join(errs...))
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].Start.Before(all[j].Start) })
	return all, nil
}

// CreateBoundary writes the block to every provider so that it shows as busy
// everywhere. Copies created before a failure are still returned.
func (a *Aggregator) CreateBoundary(ctx context.Context, spec models.BoundarySpec) ([]models.Event, error) {
	var created []models.Event
	var errs []error
	for _, p := range a.providers {
		ev, err := p.CreateBoundary(ctx, spec)
		if err != nil {
			a.logger.Error("Failed to create block", "calendar", p.Calendar(), "title", spec.Title, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", p.Calendar(), err))
			continue
		}
		if ev.Calendar == "" {
			ev.Calendar = p.Calendar()
		}
		ev.IsBoundary = true
		created = append(created, ev)
	}
	if len(created) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return created, nil
}

// UpdateEvent moves an event in the calendar it came from.
func (a *Aggregator) UpdateEvent(ctx context.Context, ev models.Event, start, end time.Time) error {
	p, err := a.owner(ev)
	if err != nil {
		return err
	}
	return p.UpdateEvent(ctx, ev, start, end)
}

// DeleteEvent removes an event from the calendar it came from.
func (a *Aggregator) DeleteEvent(ctx context.Context, ev models.Event) error {
	p, err := a.owner(ev)
	if err != nil {
		return err
	}
	return p.DeleteEvent(ctx, ev)
}

func (a *Aggregator) owner(ev models.Event) (Provider, error) {
	for _, p := range a.providers {
		if p.Calendar() == ev.Calendar {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w %q", ErrNoProvider, ev.Calendar)
}
