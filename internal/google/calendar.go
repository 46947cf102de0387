package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"unifiedavail/internal/models"
)

const (
	credentialsFile = "credentials.json"

	// boundaryKey marks events created as protected blocks.
	boundaryKey = "unifiedavailBoundary"
)

var scopes = []string{calendar.CalendarEventsScope, calendar.CalendarReadonlyScope}

// CalendarClient talks to the Google Calendar API for one account.
type CalendarClient struct {
	service     *calendar.Service
	logger      *slog.Logger
	account     string
	calendarIDs []string
}

// NewClient creates a client for accountName, loading its token from
// token-<account>.json in tokenDir. Run the auth command first.
func NewClient(ctx context.Context, logger *slog.Logger, clientID, clientSecret, tokenDir, accountName string, calendarIDs []string) (*CalendarClient, error) {
	config, err := getOAuthConfig(clientID, clientSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to get OAuth config: %w", err)
	}

	token, err := tokenFromFile(TokenPath(tokenDir, accountName))
	if err != nil {
		return nil, fmt.Errorf("could not load token for account %s: %w. Please run the 'auth google' command first", accountName, err)
	}

	service, err := calendar.NewService(ctx, option.WithHTTPClient(config.Client(ctx, token)))
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return newCalendarClient(service, logger, accountName, calendarIDs), nil
}

func newCalendarClient(service *calendar.Service, logger *slog.Logger, account string, calendarIDs []string) *CalendarClient {
	if len(calendarIDs) == 0 {
		calendarIDs = []string{"primary"}
	}
	return &CalendarClient{service: service, logger: logger, account: account, calendarIDs: calendarIDs}
}

// Account returns the account name the client was created for.
func (c *CalendarClient) Account() string { return c.account }

// ListEvents fetches the timed events of every configured calendar that
// intersect [from, to). Recurring events are expanded by the API.
func (c *CalendarClient) ListEvents(ctx context.Context, from, to time.Time) ([]models.Event, error) {
	var all []models.Event
	for _, calID := range c.calendarIDs {
		c.logger.Debug("Fetching events", "account", c.account, "calendarID", calID)
		call := c.service.Events.List(calID).
			ShowDeleted(false).
			SingleEvents(true).
			TimeMin(from.Format(time.RFC3339)).
			TimeMax(to.Format(time.RFC3339)).
			OrderBy("startTime")
		count := 0
		err := call.Pages(ctx, func(page *calendar.Events) error {
			for _, item := range page.Items {
				if ev, ok := toEvent(item, calID, c.account); ok {
					all = append(all, ev)
					count++
				}
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to retrieve events for %s: %w", calID, err)
		}
		c.logger.Info("Successfully fetched events from Google Calendar", "count", count, "calendarID", calID)
	}
	return all, nil
}

// CreateBoundary inserts a protected block into the first configured calendar.
func (c *CalendarClient) CreateBoundary(ctx context.Context, spec models.BoundarySpec) (models.Event, error) {
	calID := c.calendarIDs[0]
	item := &calendar.Event{
		Summary:      spec.Title,
		Start:        &calendar.EventDateTime{DateTime: spec.Start.Format(time.RFC3339)},
		End:          &calendar.EventDateTime{DateTime: spec.End.Format(time.RFC3339)},
		Transparency: "opaque",
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: map[string]string{boundaryKey: "true"},
		},
	}
	created, err := c.service.Events.Insert(calID, item).Context(ctx).Do()
	if err != nil {
		return models.Event{}, fmt.Errorf("failed to insert event: %w", err)
	}
	ev, ok := toEvent(created, calID, c.account)
	if !ok {
		return models.Event{}, fmt.Errorf("google returned an event without times: %s", created.Id)
	}
	return ev, nil
}

// UpdateEvent moves an event, keeping everything else.
func (c *CalendarClient) UpdateEvent(ctx context.Context, ev models.Event, start, end time.Time) error {
	patch := &calendar.Event{
		Start: &calendar.EventDateTime{DateTime: start.Format(time.RFC3339)},
		End:   &calendar.EventDateTime{DateTime: end.Format(time.RFC3339)},
	}
	if _, err := c.service.Events.Patch(ev.CalendarID, ev.ID, patch).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to patch event: %w", err)
	}
	return nil
}

// DeleteEvent removes an event.
func (c *CalendarClient) DeleteEvent(ctx context.Context, ev models.Event) error {
	if err := c.service.Events.Delete(ev.CalendarID, ev.ID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	return nil
}

// toEvent converts a Google Calendar event. All-day events carry no
// DateTime and are skipped.
func toEvent(item *calendar.Event, calendarID, account string) (models.Event, bool) {
	if item == nil || item.Start == nil || item.End == nil || item.Start.DateTime == "" || item.End.DateTime == "" {
		return models.Event{}, false
	}
	start, err := time.Parse(time.RFC3339, item.Start.DateTime)
	if err != nil {
		return models.Event{}, false
	}
	end, err := time.Parse(time.RFC3339, item.End.DateTime)
	if err != nil {
		return models.Event{}, false
	}
	boundary := false
	if item.ExtendedProperties != nil {
		boundary = item.ExtendedProperties.Private[boundaryKey] == "true"
	}
	return models.Event{
		ID:          item.Id,
		Title:       item.Summary,
		Start:       start,
		End:         end,
		Calendar:    models.CalendarGoogle,
		CalendarID:  calendarID,
		Ref:         account,
		IsBoundary:  boundary,
		Description: item.Description,
		Location:    item.Location,
	}, true
}

// DiscoverGoogleCalendars finds all calendars associated with the authenticated account.
func (c *CalendarClient) DiscoverGoogleCalendars(ctx context.Context) ([]string, error) {
	list, err := c.service.CalendarList.List().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list calendars: %w", err)
	}

	var calendarIDs []string
	for _, item := range list.Items {
		calendarIDs = append(calendarIDs, item.Id)
	}
	return calendarIDs, nil
}

// GetOAuthConfigForAuthFlow is used by the auth command to get the config for the web flow.
func GetOAuthConfigForAuthFlow(clientID, clientSecret string) (*oauth2.Config, error) {
	return getOAuthConfig(clientID, clientSecret)
}

// getOAuthConfig prefers explicit client credentials over a local
// credentials.json file.
func getOAuthConfig(clientID, clientSecret string) (*oauth2.Config, error) {
	if clientID != "" && clientSecret != "" {
		return &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  "urn:ietf:wg:oauth:2.0:oob",
			Scopes:       scopes,
			Endpoint:     google.Endpoint,
		}, nil
	}

	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("credentials.json not found. Please provide GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET or place credentials.json in the working directory")
		}
		return nil, fmt.Errorf("unable to read client secret file: %w", err)
	}

	config, err := google.ConfigFromJSON(b, scopes...)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}
	config.RedirectURL = "urn:ietf:wg:oauth:2.0:oob"
	return config, nil
}

// TokenFromWeb exchanges an authorization code for a token.
func TokenFromWeb(ctx context.Context, config *oauth2.Config, authCode string) (*oauth2.Token, error) {
	return config.Exchange(ctx, authCode)
}

// TokenPath returns where the token for account is stored.
func TokenPath(dir, account string) string {
	return filepath.Join(dir, fmt.Sprintf("token-%s.json", account))
}

// SaveToken saves a token to a file path.
func SaveToken(path string, token *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("unable to create token file: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}

func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}

// GetTokenAccounts lists the accounts that have a token in dir.
func GetTokenAccounts(dir string) ([]string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var accounts []string
	for _, file := range files {
		name := file.Name()
		if strings.HasPrefix(name, "token-") && strings.HasSuffix(name, ".json") {
			accounts = append(accounts, strings.TrimSuffix(strings.TrimPrefix(name, "token-"), ".json"))
		}
	}
	return accounts, nil
}
