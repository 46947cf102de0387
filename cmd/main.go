package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"unifiedavail/internal/aggregator"
	"unifiedavail/internal/config"
	"unifiedavail/internal/google"
	"unifiedavail/internal/icloud"
	"unifiedavail/internal/models"
	"unifiedavail/internal/outlook"
	"unifiedavail/internal/session"
	"unifiedavail/internal/suggest"
)

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "unifiedavail",
		Usage: "See one week across Google, Outlook and CalDAV calendars and resolve double bookings.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Value: "config.yaml", EnvVars: []string{"UNIFIEDAVAIL_CONFIG"}, Usage: "Path to the YAML config file."},
			&cli.StringFlag{Name: "events-file", Usage: "Read events from a JSON file instead of the calendar providers (read-only)."},
			&cli.IntFlag{Name: "week", Usage: "Week offset from the current week, e.g. 1 for next week."},
		},
		Commands: []*cli.Command{
			authCommand(),
			weekCommand(),
			conflictsCommand(),
			adviseCommand(),
			keepCommand(),
			rescheduleCommand(),
			ignoreCommand(),
			deleteCommand(),
			boundaryCommand(),
			agendaCommand(),
			serveCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}

func loggerFromEnv() *slog.Logger {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	return setupLogger(logLevel)
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// app bundles everything a command needs.
type app struct {
	logger     *slog.Logger
	cfg        *config.Config
	loc        *time.Location
	session    *session.Session
	aggregator *aggregator.Aggregator
}

// setup builds the providers and a session, loads the ignore state and
// fetches the selected week.
func setup(c *cli.Context) (*app, error) {
	logger := loggerFromEnv()
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	hours, err := cfg.WorkingHours()
	if err != nil {
		return nil, err
	}

	a := &app{logger: logger, cfg: cfg, loc: loc}
	var source session.Source
	var sink session.Sink
	if path := c.String("events-file"); path != "" {
		events, err := readEventsFile(path, loc)
		if err != nil {
			return nil, err
		}
		logger.Info("Using events file, writes are disabled.", "file", path, "count", len(events))
		source, sink = staticSource(events), readOnlySink{}
	} else {
		providers, err := buildProviders(c.Context, logger, cfg, loc)
		if err != nil {
			return nil, err
		}
		a.aggregator = aggregator.New(logger, providers...)
		source, sink = a.aggregator, a.aggregator
	}

	a.session = session.New(logger, source, sink, session.Options{
		Location:    loc,
		WeekStart:   cfg.Weekday(),
		Buffer:      cfg.Buffer,
		Hours:       hours,
		SlotCount:   cfg.SlotCount,
		HorizonDays: cfg.HorizonDays,
	})
	if cfg.Suggest.URL != "" {
		a.session.SetSuggester(suggest.New(cfg.Suggest.URL, cfg.Suggest.Token))
	}

	ignored, err := session.LoadIgnored(cfg.StateFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load ignore state: %w", err)
	}
	a.session.SetIgnored(ignored)

	for i := 0; i < c.Int("week"); i++ {
		a.session.NextWeek()
	}
	for i := 0; i > c.Int("week"); i-- {
		a.session.PrevWeek()
	}

	if err := a.session.Refresh(c.Context); err != nil {
		return nil, err
	}
	return a, nil
}

// buildProviders creates a provider for every configured account.
func buildProviders(ctx context.Context, logger *slog.Logger, cfg *config.Config, loc *time.Location) ([]aggregator.Provider, error) {
	var providers []aggregator.Provider

	accounts, err := google.GetTokenAccounts(cfg.Google.TokenDir)
	if err != nil {
		return nil, fmt.Errorf("could not look for google tokens: %w", err)
	}
	if len(accounts) > 0 {
		var clients []*google.CalendarClient
		for _, acc := range accounts {
			client, err := google.NewClient(ctx, logger, cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.TokenDir, acc, cfg.Google.CalendarIDs)
			if err != nil {
				return nil, fmt.Errorf("failed to create google client for account %s: %w", acc, err)
			}
			clients = append(clients, client)
		}
		p, err := google.NewProvider(clients...)
		if err != nil {
			return nil, err
		}
		logger.Info("Initialized Google clients for all accounts.", "count", len(clients))
		providers = append(providers, p)
	}

	if cfg.Outlook.ClientID != "" {
		oauthCfg := outlook.OAuthConfig(cfg.Outlook.Tenant, cfg.Outlook.ClientID, cfg.Outlook.ClientSecret)
		httpClient, err := outlook.HTTPClient(ctx, oauthCfg, cfg.Outlook.TokenFile)
		if err != nil {
			return nil, err
		}
		providers = append(providers, outlook.NewClient(logger, httpClient, cfg.Outlook.BaseURL))
		logger.Info("Initialized Outlook client.")
	}

	if cfg.CalDAV.Username != "" {
		client, err := icloud.NewClient(ctx, logger, icloud.Options{
			Endpoint:     cfg.CalDAV.Endpoint,
			Username:     cfg.CalDAV.Username,
			Password:     cfg.CalDAV.Password,
			CalendarName: cfg.CalDAV.CalendarName,
			Location:     loc,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create caldav client: %w", err)
		}
		providers = append(providers, client)
	}

	if len(providers) == 0 {
		return nil, errors.New("no calendars configured. Run 'auth google', 'auth outlook' or set the CalDAV credentials")
	}
	return providers, nil
}

func readEventsFile(path string, loc *time.Location) ([]models.Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read events file: %w", err)
	}
	var raws []models.RawEvent
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("failed to parse events file: %w", err)
	}
	events, dropped := models.ParseRawEvents(raws, loc)
	if dropped > 0 {
		slog.Warn("Dropped events with unparseable times.", "count", dropped)
	}
	return events, nil
}

type staticSource []models.Event

func (s staticSource) FetchEvents(context.Context, time.Time, time.Time) ([]models.Event, error) {
	return s, nil
}

var errReadOnly = errors.New("events file is read-only")

type readOnlySink struct{}

func (readOnlySink) CreateBoundary(context.Context, models.BoundarySpec) ([]models.Event, error) {
	return nil, errReadOnly
}

func (readOnlySink) UpdateEvent(context.Context, models.Event, time.Time, time.Time) error {
	return errReadOnly
}

func (readOnlySink) DeleteEvent(context.Context, models.Event) error {
	return errReadOnly
}
