package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/localgallery/photodedupe/internal/store"
)

// listPhotos handles GET /api/v1/photos?offset=&limit=&direction=
// Deep pagination returns an empty batch at end-of-store, per §6A.
func (s *Server) listPhotos(w http.ResponseWriter, r *http.Request) {
	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", 50)

	direction := store.Descending
	if r.URL.Query().Get("direction") == "asc" {
		direction = store.Ascending
	}

	photos, err := s.store.PagePhotos(offset, limit, direction)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, photos)
}

func (s *Server) getPhoto(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := s.store.GetPhoto(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if p == nil {
		respondError(w, http.StatusNotFound, "photo not found")
		return
	}
	respondJSON(w, http.StatusOK, p)
}
