package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/localgallery/photodedupe/internal/imaging"
	"github.com/localgallery/photodedupe/internal/model"
	"github.com/localgallery/photodedupe/internal/store"
)

// perceptualHashThreshold is the Hamming-distance cutoff (of 64 bits) below
// which two photos' perceptual hashes are called consistent. 10 is the
// threshold imaging's own doc comment names as typical for near-duplicates.
const perceptualHashThreshold = 10

// photoDiagnostic is one group member's perceptual-hash agreement with the
// group's first member (the reference photo).
type photoDiagnostic struct {
	PhotoID    string              `json:"photoId"`
	Reference  bool                `json:"reference"`
	Comparison *imaging.Comparison `json:"comparison,omitempty"`
}

// listGroups handles GET /api/v1/groups?offset=&limit=&direction=
func (s *Server) listGroups(w http.ResponseWriter, r *http.Request) {
	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", 50)

	direction := store.Descending
	if r.URL.Query().Get("direction") == "asc" {
		direction = store.Ascending
	}

	groups, err := s.store.PageGroups(offset, limit, direction)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, groups)
}

func (s *Server) getGroup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	g, err := s.store.GetGroup(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if g == nil {
		respondError(w, http.StatusNotFound, "group not found")
		return
	}
	respondJSON(w, http.StatusOK, g)
}

// groupDiagnostics handles GET /api/v1/groups/{id}/diagnostics. It compares
// every member photo's perceptual hash against the group's first member and
// flags photos whose embedding placed them in the cluster despite a
// perceptual hash that disagrees — a sanity check, never an input to
// Grouper's own clustering decision.
func (s *Server) groupDiagnostics(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	g, err := s.store.GetGroup(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if g == nil {
		respondError(w, http.StatusNotFound, "group not found")
		return
	}

	photos, err := s.store.GetPhotosByIDs(g.PhotoIDs)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(photos) == 0 {
		respondJSON(w, http.StatusOK, []photoDiagnostic{})
		return
	}

	refP, refD, err := parsePhotoHashes(photos[0])
	diagnostics := []photoDiagnostic{{PhotoID: photos[0].ID, Reference: true}}
	if err != nil {
		respondJSON(w, http.StatusOK, diagnostics)
		return
	}

	for _, p := range photos[1:] {
		pBits, dBits, err := parsePhotoHashes(p)
		if err != nil {
			diagnostics = append(diagnostics, photoDiagnostic{PhotoID: p.ID})
			continue
		}
		cmp := imaging.Compare(
			&imaging.Hashes{PHashBits: refP, DHashBits: refD},
			&imaging.Hashes{PHashBits: pBits, DHashBits: dBits},
			perceptualHashThreshold,
		)
		diagnostics = append(diagnostics, photoDiagnostic{PhotoID: p.ID, Comparison: &cmp})
	}

	respondJSON(w, http.StatusOK, diagnostics)
}

func parsePhotoHashes(p *model.Photo) (pHash, dHash uint64, err error) {
	if p.PHash == "" || p.DHash == "" {
		return 0, 0, fmt.Errorf("photo %s has no perceptual hash", p.ID)
	}
	pHash, err = imaging.ParseHashHex(p.PHash)
	if err != nil {
		return 0, 0, err
	}
	dHash, err = imaging.ParseHashHex(p.DHash)
	if err != nil {
		return 0, 0, err
	}
	return pHash, dHash, nil
}

// listGroupsByStatus handles GET /api/v1/groups/by-status/{status}?offset=&limit=
func (s *Server) listGroupsByStatus(w http.ResponseWriter, r *http.Request) {
	status := model.ReviewStatus(chi.URLParam(r, "status"))
	switch status {
	case model.ReviewPending, model.ReviewReviewed, model.ReviewDeleted:
	default:
		respondError(w, http.StatusBadRequest, "status must be one of pending|reviewed|deleted")
		return
	}

	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", 50)

	groups, err := s.store.PageGroupsByStatus(status, offset, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, groups)
}

type updateGroupStatusRequest struct {
	ReviewStatus model.ReviewStatus `json:"reviewStatus"`
}

// updateGroupStatus handles PATCH /api/v1/groups/{id} (spec §3: "its
// reviewStatus may be mutated"). The only mutable field is ReviewStatus.
func (s *Server) updateGroupStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req updateGroupStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	switch req.ReviewStatus {
	case model.ReviewPending, model.ReviewReviewed, model.ReviewDeleted:
	default:
		respondError(w, http.StatusBadRequest, "reviewStatus must be one of pending|reviewed|deleted")
		return
	}

	var notFound bool
	err := s.store.UpdateGroupInPlace(id, func(g *model.Group) error {
		if g == nil {
			notFound = true
			return nil
		}
		g.ReviewStatus = req.ReviewStatus
		return nil
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if notFound {
		respondError(w, http.StatusNotFound, "group not found")
		return
	}

	g, err := s.store.GetGroup(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, g)
}
