package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/localgallery/photodedupe/internal/model"
)

// selectPhoto handles POST /api/v1/selection/{id}.
func (s *Server) selectPhoto(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.selection.Select(id, model.Now()); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, nil)
}

// unselectPhoto handles DELETE /api/v1/selection/{id}.
func (s *Server) unselectPhoto(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.selection.Unselect(id); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, nil)
}

// listSelection handles GET /api/v1/selection?offset=&limit=.
func (s *Server) listSelection(w http.ResponseWriter, r *http.Request) {
	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", 50)

	sels, err := s.selection.Page(offset, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sels)
}

// clearSelection handles DELETE /api/v1/selection.
func (s *Server) clearSelection(w http.ResponseWriter, r *http.Request) {
	if err := s.selection.Clear(); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, nil)
}
