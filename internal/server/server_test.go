package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"unifiedavail/internal/models"
	"unifiedavail/internal/session"
)

var monday = time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)

func at(day, hour, minute int) time.Time {
	return monday.AddDate(0, 0, day).Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

type memoryStore struct {
	events  []models.Event
	deleted []string
	failing bool
}

func (m *memoryStore) FetchEvents(ctx context.Context, from, to time.Time) ([]models.Event, error) {
	return m.events, nil
}

func (m *memoryStore) CreateBoundary(ctx context.Context, spec models.BoundarySpec) ([]models.Event, error) {
	return []models.Event{{ID: "block-1", Title: spec.Title, Start: spec.Start, End: spec.End, Calendar: models.CalendarGoogle}}, nil
}

func (m *memoryStore) UpdateEvent(ctx context.Context, ev models.Event, start, end time.Time) error {
	if m.failing {
		return errors.New("provider unavailable")
	}
	return nil
}

func (m *memoryStore) DeleteEvent(ctx context.Context, ev models.Event) error {
	if m.failing {
		return errors.New("provider unavailable")
	}
	m.deleted = append(m.deleted, ev.ID)
	return nil
}

func newTestServer(t *testing.T, opts Options) (*httptest.Server, *memoryStore) {
	t.Helper()
	store := &memoryStore{events: []models.Event{
		{ID: "standup", Title: "Standup", Start: at(0, 9, 0), End: at(0, 10, 0), Calendar: models.CalendarGoogle},
		{ID: "client", Title: "Client Call", Start: at(0, 9, 30), End: at(0, 10, 30), Calendar: models.CalendarOutlook},
	}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sess := session.New(logger, store, store, session.Options{
		Location:  time.UTC,
		WeekStart: time.Monday,
		Now:       func() time.Time { return at(0, 8, 0) },
	})
	if err := sess.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(New(logger, sess, opts).Handler())
	t.Cleanup(srv.Close)
	return srv, store
}

func do(t *testing.T, method, url, body string, out any) int {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, r)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, url, err)
		}
	}
	return resp.StatusCode
}

func TestWeekAndConflicts(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	var view viewJSON
	if code := do(t, http.MethodGet, srv.URL+"/api/week", "", &view); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(view.Events) != 2 || len(view.Unresolved) != 1 {
		t.Fatalf("view = %+v", view)
	}
	if !view.WindowStart.Equal(monday) {
		t.Errorf("window start = %v", view.WindowStart)
	}

	var raw []map[string]any
	do(t, http.MethodGet, srv.URL+"/api/conflicts", "", &raw)
	if len(raw) != 1 {
		t.Fatalf("conflicts = %v", raw)
	}
	id, _ := raw[0]["id"].([]any)
	if len(id) != 2 || id[0] != "client" || id[1] != "standup" {
		t.Errorf("pair id = %v", raw[0]["id"])
	}
	a, _ := raw[0]["a"].(map[string]any)
	if a["severity"] != "Low" {
		t.Errorf("severity = %v", a["severity"])
	}
}

func TestAdviceAndKeep(t *testing.T) {
	srv, store := newTestServer(t, Options{})

	var advice adviceJSON
	if code := do(t, http.MethodGet, srv.URL+"/api/conflicts/standup/client/advice", "", &advice); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if advice.Keep.ID != "client" || advice.Reschedule.ID != "standup" || len(advice.Slots) == 0 {
		t.Errorf("advice = %+v", advice)
	}

	var view viewJSON
	if code := do(t, http.MethodPost, srv.URL+"/api/conflicts/client/standup/keep", `{"discard":"standup"}`, &view); code != http.StatusOK {
		t.Fatalf("keep status = %d", code)
	}
	if len(store.deleted) != 1 || len(view.Unresolved) != 0 || len(view.Events) != 1 {
		t.Errorf("after keep: deleted=%v view=%+v", store.deleted, view)
	}

	if code := do(t, http.MethodGet, srv.URL+"/api/conflicts/client/standup/advice", "", nil); code != http.StatusNotFound {
		t.Errorf("resolved pair advice status = %d, want 404", code)
	}
}

func TestRescheduleFailureIsBadGateway(t *testing.T) {
	srv, store := newTestServer(t, Options{})
	store.failing = true

	body := `{"eventId":"standup","start":"2025-03-04T09:15:00Z"}`
	if code := do(t, http.MethodPost, srv.URL+"/api/conflicts/client/standup/reschedule", body, nil); code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", code)
	}
	var view viewJSON
	do(t, http.MethodGet, srv.URL+"/api/week", "", &view)
	for _, e := range view.Events {
		if e.ID == "standup" && !e.Start.Equal(at(0, 9, 0)) {
			t.Errorf("standup not rolled back: %v", e.Start)
		}
	}
}

func TestIgnorePersistsState(t *testing.T) {
	state := filepath.Join(t.TempDir(), "ignored.json")
	srv, _ := newTestServer(t, Options{StateFile: state})

	var view viewJSON
	do(t, http.MethodPost, srv.URL+"/api/conflicts/standup/client/ignore", "", &view)
	if len(view.Unresolved) != 0 {
		t.Errorf("unresolved = %+v", view.Unresolved)
	}
	set, err := session.LoadIgnored(state)
	if err != nil || len(set) != 1 {
		t.Errorf("persisted set = %v, %v", set, err)
	}
}

func TestCreateBoundary(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	var rejected map[string]string
	code := do(t, http.MethodPost, srv.URL+"/api/boundaries", `{"title":"Focus","start":"2025-03-03T10:35:00Z","end":"2025-03-03T11:30:00Z"}`, &rejected)
	if code != http.StatusUnprocessableEntity || !strings.Contains(rejected["error"], "too close") {
		t.Errorf("status = %d, body = %v", code, rejected)
	}
	if code := do(t, http.MethodPost, srv.URL+"/api/boundaries", `{"title":"","start":"2025-03-04T13:00:00Z","end":"2025-03-04T15:00:00Z"}`, nil); code != http.StatusUnprocessableEntity {
		t.Errorf("missing title status = %d", code)
	}

	var created []eventJSON
	code = do(t, http.MethodPost, srv.URL+"/api/boundaries", `{"title":"Deep Work","start":"2025-03-04T13:00:00Z","end":"2025-03-04T15:00:00Z"}`, &created)
	if code != http.StatusCreated || len(created) != 1 || !created[0].IsBoundary {
		t.Errorf("status = %d, created = %+v", code, created)
	}
}

func TestNavigationAndSuggestions(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	var view viewJSON
	do(t, http.MethodPost, srv.URL+"/api/week/next", "", &view)
	if !view.WindowStart.Equal(monday.AddDate(0, 0, 7)) || len(view.Events) != 0 {
		t.Errorf("next week view = %+v", view)
	}

	if code := do(t, http.MethodGet, srv.URL+"/api/suggestions/boundary-title", "", nil); code != http.StatusNotImplemented {
		t.Errorf("suggestion without service status = %d, want 501", code)
	}
}

func TestAPIKey(t *testing.T) {
	srv, _ := newTestServer(t, Options{APIKey: "s3cret"})

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}

	if code := do(t, http.MethodGet, srv.URL+"/api/week", "", nil); code != http.StatusUnauthorized {
		t.Errorf("status without key = %d", code)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/week", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status with key = %d", resp.StatusCode)
	}
}
