// Package server provides the HTTP API over the curated index and the store.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bryan-buckman/smallweb/internal/curate"
	"github.com/bryan-buckman/smallweb/internal/database"
	"github.com/bryan-buckman/smallweb/internal/index"
	"github.com/bryan-buckman/smallweb/internal/model"
	"github.com/bryan-buckman/smallweb/internal/opml"
	"github.com/bryan-buckman/smallweb/internal/pipeline"
	"github.com/bryan-buckman/smallweb/internal/reconcile"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	// SyncTimeout bounds a sync started over the API.
	SyncTimeout = 30 * time.Minute
	// MaxIndexBody caps the size of a proposed index.
	MaxIndexBody = 5 << 20
	// OPMLTitle is the title of the exported OPML document.
	OPMLTitle = "Small Web"
)

// Server is the HTTP API server.
type Server struct {
	store    database.Store
	curator  *curate.Curator
	pipeline *pipeline.Pipeline
	poller   *pipeline.Poller
	router   chi.Router
	http     *http.Server
}

// New creates a server. poller may be nil.
func New(store database.Store, cur *curate.Curator, p *pipeline.Pipeline, poller *pipeline.Poller) *Server {
	s := &Server{
		store:    store,
		curator:  cur,
		pipeline: p,
		poller:   poller,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Get("/healthz", s.handleHealth)
	r.Get("/index.txt", s.handleIndexText)
	r.Get("/index.opml", s.handleIndexOPML)

	r.Route("/api", func(r chi.Router) {
		r.Get("/feeds", s.handleFeeds)
		r.Get("/feeds/{feedID}", s.handleFeed)
		r.Get("/non-english", s.handleNonEnglish)
		r.Post("/validate", s.handleValidate)
		r.Post("/sync", s.handleSync)
	})

	s.router = r
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the poller and serves until Shutdown.
func (s *Server) Start(addr string) error {
	if s.poller != nil {
		s.poller.Start()
	}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("[server]: listening", "addr", addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and stops the poller.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.poller != nil {
		s.poller.Stop()
	}
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"database": s.store.DatabaseType(),
	})
}

func (s *Server) handleIndexText(w http.ResponseWriter, r *http.Request) {
	urls, err := s.curator.CleanedIndex(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(index.Format(urls))
}

func (s *Server) handleIndexOPML(w http.ResponseWriter, r *http.Request) {
	urls, err := s.curator.CleanedIndex(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	data, err := opml.ExportURLs(OPMLTitle, urls)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("Content-Disposition", "attachment; filename=smallweb.opml")
	w.Write(data)
}

func (s *Server) handleFeeds(w http.ResponseWriter, r *http.Request) {
	var (
		feeds []model.Feed
		err   error
	)
	if lang, ok := r.URL.Query()["lang"]; ok {
		feeds, err = s.store.GetFeedsByLang(lang[0])
	} else {
		feeds, err = s.store.GetFeeds()
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if feeds == nil {
		feeds = []model.Feed{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"feeds": feeds,
		"total": len(feeds),
	})
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	id := model.FeedID(chi.URLParam(r, "feedID"))
	feed, err := s.store.GetFeed(id)
	if err != nil {
		writeError(w, err)
		return
	}
	articles, err := s.store.GetArticles(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if articles == nil {
		articles = []model.Article{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"feed":     feed,
		"articles": articles,
	})
}

func (s *Server) handleNonEnglish(w http.ResponseWriter, r *http.Request) {
	urls, err := s.curator.NonEnglishFeeds()
	if err != nil {
		writeError(w, err)
		return
	}
	if urls == nil {
		urls = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"urls":  urls,
		"total": len(urls),
	})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	proposed, err := index.Parse(io.LimitReader(r.Body, MaxIndexBody))
	if err != nil {
		http.Error(w, "Invalid index", http.StatusBadRequest)
		return
	}
	if len(proposed) == 0 {
		http.Error(w, "Empty index", http.StatusBadRequest)
		return
	}
	invalid, err := s.curator.Validate(r.Context(), proposed)
	if err != nil {
		writeError(w, err)
		return
	}
	if invalid == nil {
		invalid = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"valid":   len(invalid) == 0,
		"invalid": invalid,
	})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), SyncTimeout)
	defer cancel()

	opts := pipeline.Options{
		Force: r.URL.Query().Get("force") == "true",
		Date:  r.URL.Query().Get("date"),
	}
	report, err := s.pipeline.Sync(ctx, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"report": report,
	})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, database.ErrFeedNotFound):
		status = http.StatusNotFound
	case errors.Is(err, index.ErrUnavailable), errors.Is(err, reconcile.ErrEmptyIndex):
		status = http.StatusBadGateway
	case errors.Is(err, pipeline.ErrRunning), errors.Is(err, reconcile.ErrRemovalGuard):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		slog.Error("[server]: request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
