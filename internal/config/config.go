package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"unifiedavail/internal/engine"
)

// GoogleConfig holds the OAuth client and the calendars to read.
type GoogleConfig struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	CalendarIDs  []string `yaml:"calendar_ids"`
	// TokenDir holds token-<account>.json files written by "auth google".
	TokenDir string `yaml:"token_dir"`
}

// CalDAVConfig holds the CalDAV account. It is disabled without a username.
type CalDAVConfig struct {
	Endpoint     string `yaml:"endpoint"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	CalendarName string `yaml:"calendar_name"`
}

// OutlookConfig holds the Azure AD app registration. It is disabled without
// a client id.
type OutlookConfig struct {
	Tenant       string `yaml:"tenant"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	TokenFile    string `yaml:"token_file"`
	BaseURL      string `yaml:"base_url,omitempty"`
}

// SuggestConfig points at the text suggestion service.
type SuggestConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen"`

	// Timezone is the IANA zone used for weeks, working hours and display.
	Timezone string `yaml:"timezone"`

	// WeekStart is "monday" (default) or "sunday".
	WeekStart string `yaml:"week_start"`

	// RefreshCron is the schedule for background refreshes in serve mode.
	RefreshCron string `yaml:"refresh"`

	Buffer      time.Duration `yaml:"buffer"`
	WorkStart   string        `yaml:"work_start"`
	WorkEnd     string        `yaml:"work_end"`
	SlotCount   int           `yaml:"slot_count"`
	HorizonDays int           `yaml:"horizon_days"`

	// StateFile persists ignored conflict pairs.
	StateFile string `yaml:"state_file"`

	// APIKey, when set, is required on every API request except /health.
	APIKey string `yaml:"api_key,omitempty"`

	Google  GoogleConfig  `yaml:"google"`
	CalDAV  CalDAVConfig  `yaml:"caldav"`
	Outlook OutlookConfig `yaml:"outlook"`
	Suggest SuggestConfig `yaml:"suggest"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Normalize()
	return cfg
}

// Normalize fills in missing or invalid values with defaults.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	switch strings.ToLower(c.WeekStart) {
	case "monday", "sunday":
		c.WeekStart = strings.ToLower(c.WeekStart)
	default:
		c.WeekStart = "monday"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = "*/15 * * * *"
	}
	if c.Buffer <= 0 {
		c.Buffer = engine.DefaultBuffer
	}
	if c.WorkStart == "" {
		c.WorkStart = "09:00"
	}
	if c.WorkEnd == "" {
		c.WorkEnd = "17:00"
	}
	if c.SlotCount <= 0 {
		c.SlotCount = engine.DefaultSlotCount
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = engine.DefaultHorizonDays
	}
	if c.StateFile == "" {
		c.StateFile = "ignored-conflicts.json"
	}
	if c.Google.TokenDir == "" {
		c.Google.TokenDir = "."
	}
	if c.Outlook.TokenFile == "" {
		c.Outlook.TokenFile = "outlook-token.json"
	}
}

// ApplyEnv overrides file values with the environment, so that secrets can
// stay in .env.
func (c *Config) ApplyEnv() {
	set := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Listen, "LISTEN_ADDR")
	set(&c.Timezone, "PRIMARY_TIMEZONE")
	set(&c.APIKey, "API_KEY")
	set(&c.Google.ClientID, "GOOGLE_CLIENT_ID")
	set(&c.Google.ClientSecret, "GOOGLE_CLIENT_SECRET")
	if v := os.Getenv("GOOGLE_CALENDAR_IDS"); v != "" {
		c.Google.CalendarIDs = splitList(v)
	}
	set(&c.CalDAV.Endpoint, "CALDAV_ENDPOINT")
	set(&c.CalDAV.Username, "ICLOUD_USERNAME")
	set(&c.CalDAV.Password, "ICLOUD_APP_SPECIFIC_PASSWORD")
	set(&c.CalDAV.CalendarName, "ICLOUD_CALENDAR_NAME")
	set(&c.Outlook.Tenant, "OUTLOOK_TENANT")
	set(&c.Outlook.ClientID, "OUTLOOK_CLIENT_ID")
	set(&c.Outlook.ClientSecret, "OUTLOOK_CLIENT_SECRET")
	set(&c.Suggest.URL, "SUGGEST_URL")
	set(&c.Suggest.Token, "SUGGEST_TOKEN")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone '%s': %w", c.Timezone, err)
	}
	return loc, nil
}

// Weekday returns the first day of the week.
func (c *Config) Weekday() time.Weekday {
	if c.WeekStart == "sunday" {
		return time.Sunday
	}
	return time.Monday
}

// WorkingHours parses WorkStart and WorkEnd ("HH:MM").
func (c *Config) WorkingHours() (engine.WorkingHours, error) {
	start, err := parseClock(c.WorkStart)
	if err != nil {
		return engine.WorkingHours{}, fmt.Errorf("invalid work_start: %w", err)
	}
	end, err := parseClock(c.WorkEnd)
	if err != nil {
		return engine.WorkingHours{}, fmt.Errorf("invalid work_end: %w", err)
	}
	if end <= start {
		return engine.WorkingHours{}, fmt.Errorf("work_end %s must be after work_start %s", c.WorkEnd, c.WorkStart)
	}
	return engine.WorkingHours{Start: start, End: end}, nil
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// Load reads the YAML config at path. A missing file is created with the
// defaults on first run.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.Normalize()
	return &cfg, nil
}

// Save writes cfg to path atomically with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}
	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".unifiedavail-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
