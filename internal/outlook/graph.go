package outlook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"unifiedavail/internal/models"
)

const (
	// DefaultBaseURL is the Microsoft Graph v1.0 root.
	DefaultBaseURL = "https://graph.microsoft.com/v1.0"

	boundaryCategory = "Boundary"
	graphTimeLayout  = "2006-01-02T15:04:05.9999999"
	pageSize         = 100
)

// Client talks to the Microsoft Graph calendar API of the signed-in user.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// NewClient wraps an authenticated HTTP client, usually from Config.Client.
func NewClient(logger *slog.Logger, httpClient *http.Client, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient.Timeout == 0 {
		httpClient.Timeout = 30 * time.Second
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		logger:     logger,
	}
}

func (c *Client) Calendar() models.Calendar { return models.CalendarOutlook }

type dateTimeTimeZone struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type location struct {
	DisplayName string `json:"displayName,omitempty"`
}

type graphEvent struct {
	ID          string            `json:"id,omitempty"`
	Subject     string            `json:"subject,omitempty"`
	BodyPreview string            `json:"bodyPreview,omitempty"`
	Start       *dateTimeTimeZone `json:"start,omitempty"`
	End         *dateTimeTimeZone `json:"end,omitempty"`
	Location    *location         `json:"location,omitempty"`
	Categories  []string          `json:"categories,omitempty"`
	ShowAs      string            `json:"showAs,omitempty"`
	IsAllDay    bool              `json:"isAllDay,omitempty"`
	IsCancelled bool              `json:"isCancelled,omitempty"`
}

type eventPage struct {
	Value    []graphEvent `json:"value"`
	NextLink string       `json:"@odata.nextLink"`
}

type graphError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ListEvents reads the calendar view for [from, to). Graph expands
// recurring series itself.
func (c *Client) ListEvents(ctx context.Context, from, to time.Time) ([]models.Event, error) {
	q := url.Values{}
	q.Set("startDateTime", from.UTC().Format(time.RFC3339))
	q.Set("endDateTime", to.UTC().Format(time.RFC3339))
	q.Set("$top", fmt.Sprint(pageSize))
	q.Set("$select", "id,subject,bodyPreview,start,end,location,categories,isAllDay,isCancelled")
	next := c.baseURL + "/me/calendarView?" + q.Encode()

	var events []models.Event
	for next != "" {
		var page eventPage
		if err := c.do(ctx, http.MethodGet, next, nil, &page); err != nil {
			return nil, fmt.Errorf("failed to fetch calendar view: %w", err)
		}
		for _, item := range page.Value {
			if ev, ok := toEvent(item); ok {
				events = append(events, ev)
			}
		}
		next = page.NextLink
	}
	c.logger.Info("Successfully fetched events from Outlook", "count", len(events))
	return events, nil
}

// CreateBoundary creates a busy event tagged with the boundary category.
func (c *Client) CreateBoundary(ctx context.Context, spec models.BoundarySpec) (models.Event, error) {
	body := graphEvent{
		Subject:    spec.Title,
		Start:      toGraphTime(spec.Start),
		End:        toGraphTime(spec.End),
		Categories: []string{boundaryCategory},
		ShowAs:     "busy",
	}
	var created graphEvent
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/me/events", body, &created); err != nil {
		return models.Event{}, fmt.Errorf("failed to create event: %w", err)
	}
	ev, ok := toEvent(created)
	if !ok {
		return models.Event{}, fmt.Errorf("graph returned an unusable event %q", created.ID)
	}
	return ev, nil
}

// UpdateEvent moves an event.
func (c *Client) UpdateEvent(ctx context.Context, ev models.Event, start, end time.Time) error {
	body := graphEvent{Start: toGraphTime(start), End: toGraphTime(end)}
	if err := c.do(ctx, http.MethodPatch, c.eventURL(ev.ID), body, nil); err != nil {
		return fmt.Errorf("failed to update event: %w", err)
	}
	return nil
}

// DeleteEvent removes an event.
func (c *Client) DeleteEvent(ctx context.Context, ev models.Event) error {
	if err := c.do(ctx, http.MethodDelete, c.eventURL(ev.ID), nil, nil); err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	return nil
}

func (c *Client) eventURL(id string) string {
	return c.baseURL + "/me/events/" + url.PathEscape(id)
}

func (c *Client) do(ctx context.Context, method, endpoint string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Prefer", `outlook.timezone="UTC"`)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(resp.Body)
		var ge graphError
		if json.Unmarshal(data, &ge) == nil && ge.Error.Message != "" {
			return fmt.Errorf("graph API returned status %d: %s: %s", resp.StatusCode, ge.Error.Code, ge.Error.Message)
		}
		return fmt.Errorf("graph API returned status %d: %s", resp.StatusCode, string(data))
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func toGraphTime(t time.Time) *dateTimeTimeZone {
	return &dateTimeTimeZone{DateTime: t.UTC().Format(graphTimeLayout), TimeZone: "UTC"}
}

func parseGraphTime(dt *dateTimeTimeZone) (time.Time, error) {
	if dt == nil {
		return time.Time{}, fmt.Errorf("missing time")
	}
	loc := time.UTC
	if dt.TimeZone != "" && dt.TimeZone != "UTC" {
		l, err := time.LoadLocation(dt.TimeZone)
		if err != nil {
			return time.Time{}, fmt.Errorf("unknown time zone %q: %w", dt.TimeZone, err)
		}
		loc = l
	}
	return time.ParseInLocation(graphTimeLayout, dt.DateTime, loc)
}

func toEvent(item graphEvent) (models.Event, bool) {
	if item.IsAllDay || item.IsCancelled {
		return models.Event{}, false
	}
	start, err := parseGraphTime(item.Start)
	if err != nil {
		return models.Event{}, false
	}
	end, err := parseGraphTime(item.End)
	if err != nil {
		return models.Event{}, false
	}
	ev := models.Event{
		ID:          item.ID,
		Title:       item.Subject,
		Start:       start,
		End:         end,
		Calendar:    models.CalendarOutlook,
		Description: item.BodyPreview,
	}
	if item.Location != nil {
		ev.Location = item.Location.DisplayName
	}
	for _, c := range item.Categories {
		if strings.EqualFold(c, boundaryCategory) {
			ev.IsBoundary = true
		}
	}
	return ev, true
}
