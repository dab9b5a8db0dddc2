// Package api serves the read-mostly status API: health, readiness, fixtures and
// their connection history.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ledbridge/internal/ledger"
	"github.com/dokzlo13/ledbridge/internal/light"
	"github.com/dokzlo13/ledbridge/internal/manager"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

// Fixtures is the registry view the API serves.
type Fixtures interface {
	Fixtures() []manager.Fixture
	Fixture(id string) (manager.Fixture, error)
	Light(id string) (*light.Light, error)
	Ready() bool
}

// History reads the connection ledger.
type History interface {
	History(fixture string, limit int) ([]*ledger.Entry, error)
	Attempt(attemptID string) ([]*ledger.Entry, error)
	GetByType(eventType ledger.EventType, limit int) ([]*ledger.Entry, error)
}

type server struct {
	fixtures Fixtures
	history  History
}

// NewRouter builds the HTTP handler.
func NewRouter(fixtures Fixtures, history History) http.Handler {
	s := &server{fixtures: fixtures, history: history}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.health)
	r.Get("/ready", s.ready)
	r.Route("/fixtures", func(r chi.Router) {
		r.Get("/", s.listFixtures)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getFixture)
			r.Post("/state", s.setState)
			r.Get("/history", s.getHistory)
		})
	})
	r.Get("/attempts/{id}", s.getAttempt)
	r.Get("/events", s.listEvents)
	return r
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// ready fails while a fixture that connected before has no live connection.
func (s *server) ready(w http.ResponseWriter, r *http.Request) {
	if !s.fixtures.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *server) listFixtures(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.fixtures.Fixtures())
}

func (s *server) getFixture(w http.ResponseWriter, r *http.Request) {
	f, err := s.fixtures.Fixture(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *server) setState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	l, err := s.fixtures.Light(id)
	if err != nil {
		writeError(w, err)
		return
	}

	var req light.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	l.Apply(req)
	writeJSON(w, http.StatusAccepted, l.Snapshot())
}

func (s *server) getHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.fixtures.Fixture(id); err != nil {
		writeError(w, err)
		return
	}

	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	entries, err := s.history.History(id, limit)
	writeEntries(w, entries, err)
}

func (s *server) getAttempt(w http.ResponseWriter, r *http.Request) {
	entries, err := s.history.Attempt(chi.URLParam(r, "id"))
	if err == nil && len(entries) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown attempt"})
		return
	}
	writeEntries(w, entries, err)
}

// listEvents returns the newest ledger entries of one type across all fixtures.
func (s *server) listEvents(w http.ResponseWriter, r *http.Request) {
	et := ledger.EventType(r.URL.Query().Get("type"))
	if !et.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown event type"})
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	entries, err := s.history.GetByType(et, limit)
	writeEntries(w, entries, err)
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultHistoryLimit, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
		return 0, false
	}
	return min(n, maxHistoryLimit), true
}

func writeEntries(w http.ResponseWriter, entries []*ledger.Entry, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []*ledger.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, manager.ErrUnknownFixture) {
		status = http.StatusNotFound
	} else {
		log.Error().Err(err).Msg("API request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
