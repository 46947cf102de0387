package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Buffer != 15*time.Minute || cfg.SlotCount != 3 || cfg.HorizonDays != 14 {
		t.Errorf("defaults = %+v", cfg)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("config not written: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}

	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.Buffer != cfg.Buffer || again.WeekStart != "monday" {
		t.Errorf("reloaded = %+v", again)
	}
}

func TestLoadParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
timezone: Europe/Berlin
week_start: Sunday
buffer: 10m
work_start: "08:30"
work_end: "18:00"
google:
  calendar_ids: [primary, team@example.com]
caldav:
  username: me@icloud.com
  calendar_name: Work
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Buffer != 10*time.Minute {
		t.Errorf("buffer = %v", cfg.Buffer)
	}
	if cfg.Weekday() != time.Sunday {
		t.Errorf("weekday = %v", cfg.Weekday())
	}
	hours, err := cfg.WorkingHours()
	if err != nil {
		t.Fatal(err)
	}
	if hours.Start != 8*time.Hour+30*time.Minute || hours.End != 18*time.Hour {
		t.Errorf("hours = %+v", hours)
	}
	loc, err := cfg.Location()
	if err != nil || loc.String() != "Europe/Berlin" {
		t.Errorf("location = %v, %v", loc, err)
	}
	if len(cfg.Google.CalendarIDs) != 2 || cfg.CalDAV.CalendarName != "Work" {
		t.Errorf("providers = %+v / %+v", cfg.Google, cfg.CalDAV)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("GOOGLE_CALENDAR_IDS", "a@example.com, b@example.com,")
	t.Setenv("ICLOUD_USERNAME", "env@icloud.com")
	t.Setenv("PRIMARY_TIMEZONE", "America/New_York")

	cfg := DefaultConfig()
	cfg.CalDAV.Username = "file@icloud.com"
	cfg.ApplyEnv()

	if len(cfg.Google.CalendarIDs) != 2 || cfg.Google.CalendarIDs[1] != "b@example.com" {
		t.Errorf("calendar ids = %v", cfg.Google.CalendarIDs)
	}
	if cfg.CalDAV.Username != "env@icloud.com" || cfg.Timezone != "America/New_York" {
		t.Errorf("env not applied: %+v", cfg)
	}
}

func TestWorkingHoursValidation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WorkStart, cfg.WorkEnd = "17:00", "09:00"
	if _, err := cfg.WorkingHours(); err == nil {
		t.Error("expected error for inverted hours")
	}
	cfg.WorkStart = "nine"
	if _, err := cfg.WorkingHours(); err == nil {
		t.Error("expected parse error")
	}
}
