package icloud

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"

	"unifiedavail/internal/models"
)

// DefaultEndpoint is the iCloud CalDAV server.
const DefaultEndpoint = "https://caldav.icloud.com/"

// customTransport handles adding Basic Auth and custom headers to requests.
type customTransport struct {
	Username  string
	Password  string
	Transport http.RoundTripper
}

// RoundTrip adds required headers and authentication to each request.
func (t *customTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(t.Username, t.Password)
	req.Header.Set("User-Agent", "unifiedavail/1.0")
	return t.Transport.RoundTrip(req)
}

// CalDAVClient reads and writes one calendar collection on a CalDAV server.
type CalDAVClient struct {
	client       *caldav.Client
	logger       *slog.Logger
	calendarPath string
	location     *time.Location
	now          func() time.Time
}

// Options configure a CalDAVClient.
type Options struct {
	Endpoint     string
	Username     string
	Password     string
	CalendarName string
	// Location resolves floating times. Defaults to time.Local.
	Location *time.Location
}

// NewClient connects to the server and resolves the named calendar.
func NewClient(ctx context.Context, logger *slog.Logger, opts Options) (*CalDAVClient, error) {
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	httpClient := &http.Client{
		Transport: &customTransport{
			Username:  opts.Username,
			Password:  opts.Password,
			Transport: http.DefaultTransport,
		},
		Timeout: 30 * time.Second,
	}

	caldavClient, err := caldav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create caldav client: %w", err)
	}

	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	c := &CalDAVClient{
		client:   caldavClient,
		logger:   logger,
		location: loc,
		now:      time.Now,
	}

	logger.Info("Finding CalDAV calendar", "calendarName", opts.CalendarName)
	calendarPath, err := c.findCalendar(ctx, opts.CalendarName)
	if err != nil {
		return nil, fmt.Errorf("could not find calendar '%s': %w", opts.CalendarName, err)
	}
	c.calendarPath = calendarPath
	logger.Info("Successfully found CalDAV calendar", "path", calendarPath)

	return c, nil
}

func (c *CalDAVClient) Calendar() models.Calendar { return models.CalendarCalDAV }

// ListEvents queries the calendar for VEVENTs in [from, to) and expands
// recurring series locally.
func (c *CalDAVClient) ListEvents(ctx context.Context, from, to time.Time) ([]models.Event, error) {
	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:     ical.CompCalendar,
			AllProps: true,
			AllComps: true,
		},
		CompFilter: caldav.CompFilter{
			Name: ical.CompCalendar,
			Comps: []caldav.CompFilter{{
				Name:  ical.CompEvent,
				Start: from.UTC(),
				End:   to.UTC(),
			}},
		},
	}
	objects, err := c.client.QueryCalendar(ctx, c.calendarPath, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query calendar: %w", err)
	}

	var events []models.Event
	for _, obj := range objects {
		if obj.Data == nil {
			continue
		}
		expanded, err := expandCalendar(obj.Data, obj.Path, from, to, c.location)
		if err != nil {
			// One malformed object must not hide the rest of the calendar.
			c.logger.Warn("Skipping unreadable calendar object", "path", obj.Path, "error", err)
			continue
		}
		events = append(events, expanded...)
	}
	c.logger.Info("Successfully fetched events from CalDAV", "objects", len(objects), "count", len(events))
	return events, nil
}

// CreateBoundary stores a protected block as a new calendar object.
func (c *CalDAVClient) CreateBoundary(ctx context.Context, spec models.BoundarySpec) (models.Event, error) {
	uid := GenerateUID()
	objectPath := path.Join(c.calendarPath, uid+".ics")
	cal := newBoundaryCalendar(uid, spec, c.now())

	if _, err := c.client.PutCalendarObject(ctx, objectPath, cal); err != nil {
		return models.Event{}, fmt.Errorf("failed to create event on CalDAV server: %w", err)
	}
	c.logger.Info("Created boundary block", "title", spec.Title, "path", objectPath)
	return models.Event{
		ID:         uid,
		Title:      spec.Title,
		Start:      spec.Start,
		End:        spec.End,
		Calendar:   models.CalendarCalDAV,
		Ref:        objectPath,
		IsBoundary: true,
	}, nil
}

// UpdateEvent rewrites the object holding ev with new times.
func (c *CalDAVClient) UpdateEvent(ctx context.Context, ev models.Event, start, end time.Time) error {
	obj, err := c.client.GetCalendarObject(ctx, ev.Ref)
	if err != nil {
		return fmt.Errorf("failed to fetch calendar object: %w", err)
	}
	if err := moveInstance(obj.Data, ev.ID, start, end, c.location, c.now()); err != nil {
		return err
	}
	if _, err := c.client.PutCalendarObject(ctx, ev.Ref, obj.Data); err != nil {
		return fmt.Errorf("failed to update calendar object: %w", err)
	}
	return nil
}

// DeleteEvent removes ev. A plain event deletes its object; an occurrence of
// a series is excluded from it instead.
func (c *CalDAVClient) DeleteEvent(ctx context.Context, ev models.Event) error {
	if _, _, recurring := splitID(ev.ID); !recurring {
		if err := c.client.RemoveAll(ctx, ev.Ref); err != nil {
			return fmt.Errorf("failed to delete calendar object: %w", err)
		}
		return nil
	}

	obj, err := c.client.GetCalendarObject(ctx, ev.Ref)
	if err != nil {
		return fmt.Errorf("failed to fetch calendar object: %w", err)
	}
	removeObject, err := removeInstance(obj.Data, ev.ID, c.location)
	if err != nil {
		return err
	}
	if removeObject {
		if err := c.client.RemoveAll(ctx, ev.Ref); err != nil {
			return fmt.Errorf("failed to delete calendar object: %w", err)
		}
		return nil
	}
	if _, err := c.client.PutCalendarObject(ctx, ev.Ref, obj.Data); err != nil {
		return fmt.Errorf("failed to update calendar object: %w", err)
	}
	return nil
}

// findCalendar discovers the user's calendars and returns the path of the one
// with the matching name. An empty name selects the first calendar that
// supports events.
func (c *CalDAVClient) findCalendar(ctx context.Context, name string) (string, error) {
	principalPath, err := c.client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to find principal path: %w", err)
	}

	homeSetPath, err := c.client.FindCalendarHomeSet(ctx, principalPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendar home set: %w", err)
	}

	calendars, err := c.client.FindCalendars(ctx, homeSetPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendars: %w", err)
	}

	for _, cal := range calendars {
		if name == "" && supportsEvents(cal) {
			return cal.Path, nil
		}
		if strings.EqualFold(cal.Name, name) {
			return cal.Path, nil
		}
	}

	return "", fmt.Errorf("no calendar found with name '%s'", name)
}

func supportsEvents(cal caldav.Calendar) bool {
	if len(cal.SupportedComponentSet) == 0 {
		return true
	}
	for _, comp := range cal.SupportedComponentSet {
		if comp == ical.CompEvent {
			return true
		}
	}
	return false
}

// GenerateUID creates a new unique identifier for an event.
func GenerateUID() string {
	return uuid.New().String()
}
