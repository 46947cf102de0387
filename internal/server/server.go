package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"unifiedavail/internal/aggregator"
	"unifiedavail/internal/engine"
	"unifiedavail/internal/models"
	"unifiedavail/internal/session"
)

// StatusReporter exposes per-provider fetch results.
type StatusReporter interface {
	Status() []aggregator.Status
}

// Options configure the API server.
type Options struct {
	// APIKey, when set, must be sent as a bearer token or X-API-Key header.
	APIKey string
	// StateFile, when set, receives the ignore set after every change.
	StateFile string
	Status    StatusReporter
}

// Server exposes a Session over a JSON API.
type Server struct {
	logger  *slog.Logger
	session *session.Session
	opts    Options
	mux     *http.ServeMux
}

// New constructs a Server and registers its routes.
func New(logger *slog.Logger, sess *session.Session, opts Options) *Server {
	s := &Server{
		logger:  logger,
		session: sess,
		opts:    opts,
		mux:     http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the root handler, wrapped with API key checks if enabled.
func (s *Server) Handler() http.Handler {
	if s.opts.APIKey != "" {
		return s.apiKeyMiddleware(s.mux)
	}
	return s.mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", "listen", "http://"+addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)

	s.mux.HandleFunc("GET /api/week", s.handleWeek)
	s.mux.HandleFunc("POST /api/week/next", s.handleNavigate(s.session.NextWeek))
	s.mux.HandleFunc("POST /api/week/prev", s.handleNavigate(s.session.PrevWeek))
	s.mux.HandleFunc("POST /api/week/today", s.handleNavigate(s.session.ThisWeek))
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)

	s.mux.HandleFunc("GET /api/conflicts", s.handleConflicts)
	s.mux.HandleFunc("GET /api/conflicts/{a}/{b}/advice", s.handleAdvice)
	s.mux.HandleFunc("POST /api/conflicts/{a}/{b}/keep", s.handleKeep)
	s.mux.HandleFunc("POST /api/conflicts/{a}/{b}/reschedule", s.handleReschedule)
	s.mux.HandleFunc("POST /api/conflicts/{a}/{b}/ignore", s.handleIgnore)

	s.mux.HandleFunc("GET /api/events/{id}/slots", s.handleSlots)
	s.mux.HandleFunc("GET /api/events/{id}/agenda", s.handleAgenda)
	s.mux.HandleFunc("PATCH /api/events/{id}", s.handleMove)
	s.mux.HandleFunc("DELETE /api/events/{id}", s.handleDelete)

	s.mux.HandleFunc("POST /api/boundaries", s.handleCreateBoundary)
	s.mux.HandleFunc("GET /api/suggestions/boundary-title", s.handleSuggestTitle)
}

// apiKeyMiddleware guards everything except /health.
func (s *Server) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if !secureCompare(key, s.opts.APIKey) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Status == nil {
		writeJSON(w, http.StatusOK, []aggregator.Status{})
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Status.Status())
}

func (s *Server) handleWeek(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toViewJSON(s.session.View()))
}

func (s *Server) handleNavigate(move func() engine.Window) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		move()
		writeJSON(w, http.StatusOK, toViewJSON(s.session.View()))
	}
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Refresh(r.Context()); err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toViewJSON(s.session.View()))
}

func (s *Server) handleConflicts(w http.ResponseWriter, _ *http.Request) {
	pairs := s.session.Conflicts()
	out := make([]pairJSON, len(pairs))
	for i, p := range pairs {
		out[i] = toPairJSON(p)
	}
	writeJSON(w, http.StatusOK, out)
}

func pairFromPath(r *http.Request) engine.PairID {
	return engine.NewPairID(r.PathValue("a"), r.PathValue("b"))
}

func (s *Server) handleAdvice(w http.ResponseWriter, r *http.Request) {
	advice, err := s.session.Advise(pairFromPath(r))
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, adviceJSON{
		Keep:       toEventJSON(advice.Keep),
		Reschedule: toEventJSON(advice.Reschedule),
		Slots:      advice.Slots,
	})
}

type keepRequest struct {
	Discard string `json:"discard"`
}

func (s *Server) handleKeep(w http.ResponseWriter, r *http.Request) {
	var req keepRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.session.Keep(r.Context(), pairFromPath(r), req.Discard); err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toViewJSON(s.session.View()))
}

type rescheduleRequest struct {
	EventID string    `json:"eventId"`
	Start   time.Time `json:"start"`
}

func (s *Server) handleReschedule(w http.ResponseWriter, r *http.Request) {
	var req rescheduleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Start.IsZero() {
		writeError(w, http.StatusBadRequest, "start is required")
		return
	}
	if err := s.session.Reschedule(r.Context(), pairFromPath(r), req.EventID, req.Start); err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toViewJSON(s.session.View()))
}

func (s *Server) handleIgnore(w http.ResponseWriter, r *http.Request) {
	s.session.Ignore(pairFromPath(r))
	if s.opts.StateFile != "" {
		if err := session.SaveIgnored(s.opts.StateFile, s.session.Ignored()); err != nil {
			s.logger.Error("Failed to save ignore state", "file", s.opts.StateFile, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, toViewJSON(s.session.View()))
}

func (s *Server) handleSlots(w http.ResponseWriter, r *http.Request) {
	slots, err := s.session.Slots(r.PathValue("id"))
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	if slots == nil {
		slots = []time.Time{}
	}
	writeJSON(w, http.StatusOK, slots)
}

type moveRequest struct {
	Start time.Time `json:"start"`
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Start.IsZero() {
		writeError(w, http.StatusBadRequest, "start is required")
		return
	}
	if err := s.session.MoveEvent(r.Context(), r.PathValue("id"), req.Start); err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toViewJSON(s.session.View()))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.session.DeleteEvent(r.Context(), r.PathValue("id")); err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toViewJSON(s.session.View()))
}

type boundaryRequest struct {
	Title string    `json:"title"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (s *Server) handleCreateBoundary(w http.ResponseWriter, r *http.Request) {
	var req boundaryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	created, err := s.session.CreateBoundary(r.Context(), req.Title, req.Start, req.End)
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	out := make([]eventJSON, len(created))
	for i, e := range created {
		out[i] = toEventJSON(engine.WindowEvent{Event: e, Severity: engine.Classify(e.Title)})
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleAgenda(w http.ResponseWriter, r *http.Request) {
	text, err := s.session.Agenda(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"agenda": text})
}

func (s *Server) handleSuggestTitle(w http.ResponseWriter, r *http.Request) {
	title, err := s.session.SuggestBoundaryTitle(r.Context())
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"title": title})
}

// writeSessionError maps session and engine errors to HTTP statuses.
// Anything unrecognised is an upstream provider failure.
func (s *Server) writeSessionError(w http.ResponseWriter, err error) {
	var tooClose *engine.TooCloseError
	switch {
	case errors.Is(err, session.ErrUnknownPair), errors.Is(err, session.ErrUnknownEvent):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrAmbiguousEvent):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrTitleRequired), errors.Is(err, engine.ErrEndBeforeStart), errors.As(err, &tooClose):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, session.ErrNoSuggester):
		writeError(w, http.StatusNotImplemented, err.Error())
	default:
		s.logger.Error("Request failed", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

type eventJSON struct {
	ID         string          `json:"id"`
	Title      string          `json:"title"`
	Start      time.Time       `json:"start"`
	End        time.Time       `json:"end"`
	Calendar   models.Calendar `json:"calendar"`
	IsBoundary bool            `json:"isBoundary"`
	Severity   engine.Severity `json:"severity"`
	Conflict   bool            `json:"conflict"`
}

type pairJSON struct {
	ID engine.PairID `json:"id"`
	A  eventJSON     `json:"a"`
	B  eventJSON     `json:"b"`
}

type viewJSON struct {
	WindowStart time.Time   `json:"windowStart"`
	WindowEnd   time.Time   `json:"windowEnd"`
	Events      []eventJSON `json:"events"`
	Unresolved  []pairJSON  `json:"unresolved"`
}

type adviceJSON struct {
	Keep       eventJSON   `json:"keep"`
	Reschedule eventJSON   `json:"reschedule"`
	Slots      []time.Time `json:"slots"`
}

func toEventJSON(e engine.WindowEvent) eventJSON {
	return eventJSON{
		ID:         e.ID,
		Title:      e.Title,
		Start:      e.Start,
		End:        e.End,
		Calendar:   e.Calendar,
		IsBoundary: e.IsBoundary,
		Severity:   e.Severity,
		Conflict:   e.Conflict,
	}
}

func toPairJSON(p engine.Pair) pairJSON {
	return pairJSON{ID: p.ID, A: toEventJSON(p.A), B: toEventJSON(p.B)}
}

func toViewJSON(v session.View) viewJSON {
	out := viewJSON{
		WindowStart: v.Window.Start,
		WindowEnd:   v.Window.End(),
		Events:      make([]eventJSON, len(v.Events)),
		Unresolved:  make([]pairJSON, len(v.Unresolved)),
	}
	for i, e := range v.Events {
		out.Events[i] = toEventJSON(e)
	}
	for i, p := range v.Unresolved {
		out.Unresolved[i] = toPairJSON(p)
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
