package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/localgallery/photodedupe/internal/grouper"
	"github.com/localgallery/photodedupe/internal/pipeline"
)

// startPipeline handles POST /api/v1/pipeline/run: starts an EmbeddingPipeline
// run in the background and returns a job id to poll/stream. Mirrors the
// teacher's process.go pattern of kicking off a goroutine and returning 202.
func (s *Server) startPipeline(w http.ResponseWriter, r *http.Request) {
	job := s.jobs.create("pipeline")
	p := s.newPipeline()

	go func() {
		ctx := context.Background()
		_, err := p.Run(ctx, func(prog pipeline.Progress) {
			job.progress(prog.Current, prog.Total, prog.Message)
		})
		job.finish(err)
	}()

	respondJSON(w, http.StatusAccepted, job.snapshot())
}

// startGrouper handles POST /api/v1/grouper/run?threshold=&windowMinutes=.
// Both query parameters are required: §9 forbids inventing a default
// similarityThreshold, and this boundary carries that requirement through.
func (s *Server) startGrouper(w http.ResponseWriter, r *http.Request) {
	thresholdStr := r.URL.Query().Get("threshold")
	windowStr := r.URL.Query().Get("windowMinutes")
	if thresholdStr == "" || windowStr == "" {
		respondError(w, http.StatusBadRequest, "threshold and windowMinutes are required")
		return
	}

	threshold := queryFloat(r, "threshold", 0)
	windowMinutes := queryInt(r, "windowMinutes", 0)

	job := s.jobs.create("grouper")
	g := s.newGrouper()

	go func() {
		ctx := context.Background()
		err := g.Run(ctx, threshold, windowMinutes, func(prog grouper.Progress) {
			job.progress(prog.Current, prog.Total, prog.Phase+": "+prog.Message)
		})
		job.finish(err)
	}()

	respondJSON(w, http.StatusAccepted, job.snapshot())
}

// jobStatus handles GET /api/v1/{pipeline,grouper}/{jobId}.
func (s *Server) jobStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobId")
	job := s.jobs.get(id)
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	respondJSON(w, http.StatusOK, job.snapshot())
}
