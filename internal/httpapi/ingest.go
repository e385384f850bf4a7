package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/localgallery/photodedupe/internal/ingest"
	"github.com/localgallery/photodedupe/internal/model"
)

// ingestRecord mirrors ingest.Record over the wire. ArrayBuffer round-trips
// as a JSON string; encoding/json base64-encodes/decodes a []byte field
// automatically, matching the scraper message shape in §6B.
type ingestRecord struct {
	ID          string           `json:"id"`
	ArrayBuffer []byte           `json:"arrayBuffer"`
	MediaType   model.MediaType  `json:"mediaType"`
	DateTaken   string           `json:"dateTaken"`
	Timestamp   int64            `json:"timestamp"`
}

// handleIngest handles POST /api/v1/ingest: the scraper → core ingestion
// message (spec §6B), a JSON array of records.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var records []ingestRecord
	if err := json.NewDecoder(r.Body).Decode(&records); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	batch := make([]ingest.Record, len(records))
	for i, rec := range records {
		batch[i] = ingest.Record{
			ID:          rec.ID,
			ArrayBuffer: rec.ArrayBuffer,
			MediaType:   rec.MediaType,
			DateTaken:   rec.DateTaken,
			Timestamp:   rec.Timestamp,
		}
	}

	n, err := s.ingester.Ingest(batch)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"ingested": n})
}
