// Package httpapi exposes the store-level API boundary (spec §6A) over HTTP,
// a surface a browser-extension UI would call instead of reaching into the
// store in-process: paginated photo/group reads, the selection set, the
// scraper ingestion endpoint (§6B), and SSE progress streams for pipeline and
// grouper runs. Routing follows the teacher's chi-based internal/web/server.go
// and internal/web/routes.go; there is no auth/session layer here because the
// core never talks to a third-party gallery credential.
package httpapi

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/localgallery/photodedupe/internal/embedder"
	"github.com/localgallery/photodedupe/internal/grouper"
	"github.com/localgallery/photodedupe/internal/ingest"
	"github.com/localgallery/photodedupe/internal/pipeline"
	"github.com/localgallery/photodedupe/internal/selection"
	"github.com/localgallery/photodedupe/internal/store"
)

// Config controls the batch/geometry parameters handed to the pipeline and
// grouper started from HTTP requests.
type Config struct {
	Host string
	Port int

	PipelineBatchSize int

	GrouperBatchSize        int
	GrouperNumHashFunctions int
	GrouperNumHashTables    int
	GrouperLSHSeed          int64
}

// Server is the local HTTP boundary.
type Server struct {
	cfg        Config
	router     *chi.Mux
	httpServer *http.Server

	store     *store.Store
	ingester  *ingest.Ingester
	selection *selection.Set
	embedder  *embedder.Embedder

	// One Pipeline and one Grouper per Server, so their BusyError gates
	// cover every run started through this boundary.
	pipeline *pipeline.Pipeline
	grouper  *grouper.Grouper

	jobs *jobManager
}

// New builds a Server backed by s and e. e may be nil if POST
// /api/v1/pipeline/run, the only route that uses it, is never called (e.g.
// offline ingestion-only use).
func New(cfg Config, s *store.Store, e *embedder.Embedder) *Server {
	r := chi.NewRouter()

	srv := &Server{
		cfg:       cfg,
		router:    r,
		store:     s,
		ingester:  ingest.New(s),
		selection: selection.New(s),
		embedder:  e,
		pipeline:  pipeline.New(s, e, cfg.PipelineBatchSize),
		grouper:   grouper.New(s, cfg.GrouperBatchSize, cfg.GrouperNumHashFunctions, cfg.GrouperNumHashTables, cfg.GrouperLSHSeed),
		jobs:      newJobManager(),
	}

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(5 * time.Minute))

	srv.setupRoutes()

	srv.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // long timeout for SSE
		IdleTimeout:  60 * time.Second,
	}

	return srv
}

func (s *Server) setupRoutes() {
	s.router.Get("/api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/photos", s.listPhotos)
		r.Get("/photos/{id}", s.getPhoto)

		r.Get("/groups", s.listGroups)
		r.Get("/groups/by-status/{status}", s.listGroupsByStatus)
		r.Get("/groups/{id}", s.getGroup)
		r.Patch("/groups/{id}", s.updateGroupStatus)
		r.Get("/groups/{id}/diagnostics", s.groupDiagnostics)

		r.Post("/selection/{id}", s.selectPhoto)
		r.Delete("/selection/{id}", s.unselectPhoto)
		r.Get("/selection", s.listSelection)
		r.Delete("/selection", s.clearSelection)

		r.Post("/ingest", s.handleIngest)

		r.Post("/pipeline/run", s.startPipeline)
		r.Get("/pipeline/{jobId}", s.jobStatus)
		r.Get("/pipeline/{jobId}/events", s.jobEvents)

		r.Post("/grouper/run", s.startGrouper)
		r.Get("/grouper/{jobId}", s.jobStatus)
		r.Get("/grouper/{jobId}/events", s.jobEvents)
	})
}

// Router exposes the chi router for tests.
func (s *Server) Router() *chi.Mux { return s.router }

// Start begins serving. Blocks until Shutdown is called or the listener
// fails for a reason other than a clean close.
func (s *Server) Start() error {
	log.Printf("httpapi: listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("httpapi: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("httpapi: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("httpapi: shutdown: %w", err)
	}
	return nil
}

func (s *Server) newPipeline() *pipeline.Pipeline {
	return s.pipeline
}

func (s *Server) newGrouper() *grouper.Grouper {
	return s.grouper
}
