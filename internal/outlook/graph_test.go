package outlook

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

	"unifiedavail/internal/models"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClient(logger, srv.Client(), srv.URL)
}

func TestListEventsFollowsPages(t *testing.T) {
	var base string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/me/calendarView" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Prefer"); got != `outlook.timezone="UTC"` {
			t.Errorf("Prefer header = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page") == "" {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"value": []map[string]any{
					{"id": "o1", "subject": "Client Call",
						"start": map[string]string{"dateTime": "2025-03-03T09:30:00.0000000", "timeZone": "UTC"},
						"end":   map[string]string{"dateTime": "2025-03-03T10:30:00.0000000", "timeZone": "UTC"}},
					{"id": "o2", "subject": "Holiday", "isAllDay": true,
						"start": map[string]string{"dateTime": "2025-03-04T00:00:00.0000000", "timeZone": "UTC"},
						"end":   map[string]string{"dateTime": "2025-03-05T00:00:00.0000000", "timeZone": "UTC"}},
				},
				"@odata.nextLink": base + "/me/calendarView?page=2",
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"value": []map[string]any{
				{"id": "o3", "subject": "Focus", "categories": []string{"Boundary"},
					"start": map[string]string{"dateTime": "2025-03-05T13:00:00.0000000", "timeZone": "UTC"},
					"end":   map[string]string{"dateTime": "2025-03-05T15:00:00.0000000", "timeZone": "UTC"}},
			},
		})
	})
	base = client.baseURL

	from := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
	events, err := client.ListEvents(context.Background(), from, from.AddDate(0, 0, 7))
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %+v", events)
	}
	if events[0].ID != "o1" || !events[0].Start.Equal(from.Add(9*time.Hour+30*time.Minute)) {
		t.Errorf("first event = %+v", events[0])
	}
	if !events[1].IsBoundary || events[1].Calendar != models.CalendarOutlook {
		t.Errorf("boundary event = %+v", events[1])
	}
}

func TestWrites(t *testing.T) {
	var calls []string
	var patched graphEvent
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodPost:
			var in graphEvent
			_ = json.NewDecoder(r.Body).Decode(&in)
			in.ID = "new"
			_ = json.NewEncoder(w).Encode(in)
		case http.MethodPatch:
			_ = json.NewDecoder(r.Body).Decode(&patched)
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "o1"})
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		}
	})
	ctx := context.Background()
	start := time.Date(2025, 3, 4, 13, 0, 0, 0, time.UTC)

	created, err := client.CreateBoundary(ctx, models.BoundarySpec{Title: "Deep Work", Start: start, End: start.Add(2 * time.Hour)})
	if err != nil {
		t.Fatalf("CreateBoundary: %v", err)
	}
	if created.ID != "new" || !created.IsBoundary || !created.End.Equal(start.Add(2*time.Hour)) {
		t.Errorf("created = %+v", created)
	}

	if err := client.UpdateEvent(ctx, models.Event{ID: "o1"}, start, start.Add(time.Hour)); err != nil {
		t.Fatalf("UpdateEvent: %v", err)
	}
	if patched.Start == nil || patched.Start.DateTime != "2025-03-04T13:00:00" || patched.Start.TimeZone != "UTC" {
		t.Errorf("patched start = %+v", patched.Start)
	}

	if err := client.DeleteEvent(ctx, models.Event{ID: "o1"}); err != nil {
		t.Fatalf("DeleteEvent: %v", err)
	}
	want := []string{"POST /me/events", "PATCH /me/events/o1", "DELETE /me/events/o1"}
	if strings.Join(calls, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v", calls)
	}
}

func TestGraphErrorIsReported(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":"ErrorAccessDenied","message":"Access is denied."}}`))
	})
	err := client.DeleteEvent(context.Background(), models.Event{ID: "o1"})
	if err == nil || !strings.Contains(err.Error(), "ErrorAccessDenied") {
		t.Errorf("err = %v", err)
	}
}
