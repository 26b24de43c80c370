// Package server exposes the tab router, page-action state and whitelist
// settings to the browser extension over a local HTTP bridge.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/eggpi/similarity/internal/cache"
	"github.com/eggpi/similarity/internal/pageaction"
	"github.com/eggpi/similarity/internal/router"
	"github.com/eggpi/similarity/internal/suggest"
	"github.com/eggpi/similarity/internal/tabs"
	"github.com/eggpi/similarity/internal/whitelist"
)

const maxBodyBytes = 1 << 20

var errUnknownTab = errors.New("unknown tab")

// RuleStore persists the whitelist.
type RuleStore interface {
	LoadWhitelist() ([]string, error)
	SaveWhitelist(rules []string) error
	ResetWhitelist() ([]string, error)
}

type Server struct {
	router    *router.Router
	indicator *pageaction.Registry
	rules     RuleStore
	cache     *cache.Cache
	logger    *slog.Logger
}

func New(rt *router.Router, indicator *pageaction.Registry, rules RuleStore, c *cache.Cache, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		router:    rt,
		indicator: indicator,
		rules:     rules,
		cache:     c,
		logger:    logger,
	}
}

// Handler returns the bridge routes wrapped in the request middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/tabs/{id}/activated", s.handleActivated)
	mux.HandleFunc("POST /v1/tabs/{id}/updated", s.handleUpdated)
	mux.HandleFunc("GET /v1/tabs/{id}", s.handleTab)
	mux.HandleFunc("DELETE /v1/tabs/{id}", s.handleRemoved)
	mux.HandleFunc("GET /v1/tabs/{id}/page-action", s.handlePageAction)
	mux.HandleFunc("GET /v1/suggestions", s.handleSuggestions)
	mux.HandleFunc("GET /v1/whitelist", s.handleGetWhitelist)
	mux.HandleFunc("PUT /v1/whitelist", s.handlePutWhitelist)
	mux.HandleFunc("POST /v1/whitelist/reset", s.handleResetWhitelist)
	mux.HandleFunc("POST /v1/whitelist/validate", s.handleValidatePattern)
	mux.HandleFunc("GET /v1/cache", s.handleCache)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	return chain(mux, requestID(), recoverPanic(s.logger), accessLog(s.logger))
}

type tabEvent struct {
	URL    string `json:"url"`
	Status string `json:"status,omitempty"`
}

type visibility struct {
	Visible bool `json:"visible"`
}

type tabState struct {
	tabs.Tab
	Visible bool `json:"visible"`
}

type suggestionsResponse struct {
	Articles []cache.Article `json:"articles"`
}

type rulesBody struct {
	Rules []string `json:"rules"`
}

type patternBody struct {
	Pattern string `json:"pattern"`
}

type validation struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// CacheEntry is the bridge view of a live cache entry.
type CacheEntry struct {
	Key        string    `json:"key"`
	Articles   int       `json:"articles"`
	InsertedAt time.Time `json:"inserted_at"`
	AgeSeconds float64   `json:"age_seconds"`
}

func (s *Server) handleActivated(w http.ResponseWriter, r *http.Request) {
	var ev tabEvent
	if !s.decode(w, r, &ev) {
		return
	}
	t := tabs.Tab{ID: r.PathValue("id"), URL: ev.URL}
	s.router.Activated(r.Context(), t)
	s.writeJSON(w, http.StatusOK, visibility{Visible: s.indicator.Visible(t.ID)})
}

func (s *Server) handleUpdated(w http.ResponseWriter, r *http.Request) {
	var ev tabEvent
	if !s.decode(w, r, &ev) {
		return
	}
	t := tabs.Tab{ID: r.PathValue("id"), URL: ev.URL}
	s.router.Updated(r.Context(), t, ev.Status)
	s.writeJSON(w, http.StatusOK, visibility{Visible: s.indicator.Visible(t.ID)})
}

// handleRemoved accepts the tab's last known url as an optional query
// parameter for tabs the daemon never saw.
func (s *Server) handleRemoved(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.router.Removed(tabs.Tab{ID: id, URL: r.URL.Query().Get("url")})
	s.indicator.Forget(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTab(w http.ResponseWriter, r *http.Request) {
	t, ok := s.router.Tabs().Get(r.PathValue("id"))
	if !ok {
		s.writeError(w, http.StatusNotFound, errUnknownTab)
		return
	}
	s.writeJSON(w, http.StatusOK, tabState{Tab: t, Visible: s.indicator.Visible(t.ID)})
}

func (s *Server) handlePageAction(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, visibility{Visible: s.indicator.Visible(r.PathValue("id"))})
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	articles, err := s.router.Query(r.Context())
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	if articles == nil {
		articles = []cache.Article{}
	}
	s.writeJSON(w, http.StatusOK, suggestionsResponse{Articles: articles})
}

func (s *Server) handleGetWhitelist(w http.ResponseWriter, _ *http.Request) {
	rules, err := s.rules.LoadWhitelist()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rulesBody{Rules: rules})
}

func (s *Server) handlePutWhitelist(w http.ResponseWriter, r *http.Request) {
	var body rulesBody
	if !s.decode(w, r, &body) {
		return
	}
	if err := whitelist.ValidateAll(body.Rules); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.rules.SaveWhitelist(body.Rules); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if body.Rules == nil {
		body.Rules = []string{}
	}
	s.writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleResetWhitelist(w http.ResponseWriter, _ *http.Request) {
	rules, err := s.rules.ResetWhitelist()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rulesBody{Rules: rules})
}

func (s *Server) handleValidatePattern(w http.ResponseWriter, r *http.Request) {
	var body patternBody
	if !s.decode(w, r, &body) {
		return
	}
	if err := whitelist.Validate(body.Pattern); err != nil {
		s.writeJSON(w, http.StatusOK, validation{Error: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, validation{Valid: true})
}

func (s *Server) handleCache(w http.ResponseWriter, _ *http.Request) {
	infos := s.cache.Entries()
	resp := CacheState{
		Tabs:       s.router.Tabs().Len(),
		MaxEntries: s.cache.MaxEntries(),
		TTLSeconds: s.cache.TTL().Seconds(),
		Entries:    make([]CacheEntry, 0, len(infos)),
	}
	for _, e := range infos {
		resp.Entries = append(resp.Entries, CacheEntry{
			Key:        e.Key,
			Articles:   e.Articles,
			InsertedAt: e.InsertedAt,
			AgeSeconds: e.Age.Seconds(),
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func statusFor(err error) int {
	var extractErr *suggest.ExtractionError
	var lookupErr *suggest.RemoteLookupError
	switch {
	case errors.Is(err, router.ErrNoActiveTab):
		return http.StatusNotFound
	case errors.Is(err, suggest.ErrNoURL):
		return http.StatusUnprocessableEntity
	case errors.As(err, &extractErr), errors.As(err, &lookupErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("writing response", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "status", status, "err", err)
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
