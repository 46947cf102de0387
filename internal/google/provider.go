package google

import (
	"context"
	"errors"
	"fmt"
	"time"

	"unifiedavail/internal/models"
)

// Provider exposes every authenticated Google account as one calendar.
// Writes go to the account an event was read from.
type Provider struct {
	clients []*CalendarClient
}

// NewProvider combines per-account clients. The first one receives new
// boundary blocks.
func NewProvider(clients ...*CalendarClient) (*Provider, error) {
	if len(clients) == 0 {
		return nil, errors.New("no google accounts configured")
	}
	return &Provider{clients: clients}, nil
}

func (p *Provider) Calendar() models.Calendar { return models.CalendarGoogle }

// ListEvents fetches all accounts. One failing account fails the provider so
// that a partial week is never shown as authoritative.
func (p *Provider) ListEvents(ctx context.Context, from, to time.Time) ([]models.Event, error) {
	var all []models.Event
	for _, c := range p.clients {
		events, err := c.ListEvents(ctx, from, to)
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", c.account, err)
		}
		all = append(all, events...)
	}
	return all, nil
}

func (p *Provider) CreateBoundary(ctx context.Context, spec models.BoundarySpec) (models.Event, error) {
	return p.clients[0].CreateBoundary(ctx, spec)
}

func (p *Provider) UpdateEvent(ctx context.Context, ev models.Event, start, end time.Time) error {
	c, err := p.client(ev)
	if err != nil {
		return err
	}
	return c.UpdateEvent(ctx, ev, start, end)
}

func (p *Provider) DeleteEvent(ctx context.Context, ev models.Event) error {
	c, err := p.client(ev)
	if err != nil {
		return err
	}
	return c.DeleteEvent(ctx, ev)
}

func (p *Provider) client(ev models.Event) (*CalendarClient, error) {
	if ev.Ref == "" {
		return p.clients[0], nil
	}
	for _, c := range p.clients {
		if c.account == ev.Ref {
			return c, nil
		}
	}
	return nil, fmt.Errorf("no google account %q for event %s", ev.Ref, ev.ID)
}
