package google

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"unifiedavail/internal/models"
)

func TestToEvent(t *testing.T) {
	item := &calendar.Event{
		Id:      "abc",
		Summary: "Client Call",
		Start:   &calendar.EventDateTime{DateTime: "2025-03-03T09:30:00+01:00"},
		End:     &calendar.EventDateTime{DateTime: "2025-03-03T10:30:00+01:00"},
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: map[string]string{boundaryKey: "true"},
		},
	}
	ev, ok := toEvent(item, "work@example.com", "me")
	if !ok {
		t.Fatal("expected timed event to convert")
	}
	if ev.Calendar != models.CalendarGoogle || ev.CalendarID != "work@example.com" || ev.Ref != "me" {
		t.Errorf("unexpected routing fields: %+v", ev)
	}
	if !ev.IsBoundary {
		t.Error("boundary marker not recognised")
	}
	if want := time.Date(2025, 3, 3, 8, 30, 0, 0, time.UTC); !ev.Start.Equal(want) {
		t.Errorf("start = %v, want %v", ev.Start, want)
	}

	allDay := &calendar.Event{Id: "day", Start: &calendar.EventDateTime{Date: "2025-03-03"}, End: &calendar.EventDateTime{Date: "2025-03-04"}}
	if _, ok := toEvent(allDay, "primary", "me"); ok {
		t.Error("all-day events should be skipped")
	}
}

type recorded struct {
	method string
	path   string
	body   map[string]any
}

func newTestClient(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *CalendarClient {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(handler))
	t.Cleanup(srv.Close)

	svc, err := calendar.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/calendar/v3/"),
		option.WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return newCalendarClient(svc, logger, "me", nil)
}

func TestClientRoundTrip(t *testing.T) {
	var calls []recorded
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{method: r.Method, path: r.URL.Path}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&rec.body)
		}
		calls = append(calls, rec)

		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/calendars/primary/events"):
			_ = json.NewEncoder(w).Encode(map[string]any{
				"items": []map[string]any{
					{"id": "e1", "summary": "Standup", "start": map[string]string{"dateTime": "2025-03-03T09:00:00Z"}, "end": map[string]string{"dateTime": "2025-03-03T10:00:00Z"}},
					{"id": "e2", "summary": "Holiday", "start": map[string]string{"date": "2025-03-04"}, "end": map[string]string{"date": "2025-03-05"}},
				},
			})
		case r.Method == http.MethodPost:
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id": "new", "summary": rec.body["summary"], "start": rec.body["start"], "end": rec.body["end"],
				"extendedProperties": rec.body["extendedProperties"],
			})
		case r.Method == http.MethodPatch:
			_ = json.NewEncoder(w).Encode(map[string]any{"id": "e1"})
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		default:
			http.Error(w, "unexpected", http.StatusBadRequest)
		}
	})
	ctx := context.Background()
	from := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)

	events, err := client.ListEvents(ctx, from, from.AddDate(0, 0, 7))
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 1 || events[0].ID != "e1" || events[0].CalendarID != "primary" {
		t.Fatalf("events = %+v", events)
	}

	created, err := client.CreateBoundary(ctx, models.BoundarySpec{Title: "Deep Work", Start: from.Add(13 * time.Hour), End: from.Add(15 * time.Hour)})
	if err != nil {
		t.Fatalf("CreateBoundary: %v", err)
	}
	if created.ID != "new" || !created.IsBoundary || created.Title != "Deep Work" {
		t.Errorf("created = %+v", created)
	}

	if err := client.UpdateEvent(ctx, events[0], from.Add(11*time.Hour), from.Add(12*time.Hour)); err != nil {
		t.Fatalf("UpdateEvent: %v", err)
	}
	if err := client.DeleteEvent(ctx, events[0]); err != nil {
		t.Fatalf("DeleteEvent: %v", err)
	}

	last := calls[len(calls)-1]
	if last.method != http.MethodDelete || !strings.HasSuffix(last.path, "/calendars/primary/events/e1") {
		t.Errorf("last call = %s %s", last.method, last.path)
	}
	patch := calls[len(calls)-2]
	start, _ := patch.body["start"].(map[string]any)
	if start["dateTime"] != "2025-03-03T11:00:00Z" {
		t.Errorf("patch start = %v", patch.body["start"])
	}
}

func TestProviderRoutesByAccount(t *testing.T) {
	p, err := NewProvider(&CalendarClient{account: "work"}, &CalendarClient{account: "home"})
	if err != nil {
		t.Fatal(err)
	}
	c, err := p.client(models.Event{ID: "x", Ref: "home"})
	if err != nil || c.account != "home" {
		t.Errorf("client = %v, %v", c, err)
	}
	if _, err := p.client(models.Event{ID: "x", Ref: "other"}); err == nil {
		t.Error("expected error for unknown account")
	}
	if _, err := NewProvider(); err == nil {
		t.Error("expected error without accounts")
	}
}
