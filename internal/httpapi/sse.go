package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// jobEvents handles GET /api/v1/{pipeline,grouper}/{jobId}/events, streaming
// progress and the terminal outcome of a pipeline/grouper run as
// server-sent events.
func (s *Server) jobEvents(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	job := s.jobs.get(jobID)
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ch := job.AddListener()
	defer job.RemoveListener(ch)

	sendSSEEvent(w, flusher, "status", job.snapshot())

	if job.snapshot().Status != JobStatusRunning {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			sendSSEEvent(w, flusher, ev.Type, ev)
			if ev.Type == "completed" || ev.Type == "failed" {
				return
			}
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	flusher.Flush()
}
