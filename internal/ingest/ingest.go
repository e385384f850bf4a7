// Package ingest implements the scraper ingestion boundary (spec §6B): a
// batch of photo records arrives as raw bytes plus metadata, gets normalized,
// and is written straight into the PhotoStore. There is no DOM scraping here
// — that collaborator is explicitly out of scope (spec §1) — only the
// message-shape-to-store-write translation.
package ingest

import (
	"fmt"

	"golang.org/x/text/unicode/norm"

	"github.com/localgallery/photodedupe/internal/imaging"
	"github.com/localgallery/photodedupe/internal/model"
	"github.com/localgallery/photodedupe/internal/store"
)

// Record is one scraper-reported photo: {id, arrayBuffer, mediaType,
// dateTaken, timestamp} per §6B. ArrayBuffer is the raw image byte sequence
// the scraper pulled from the gallery's network response.
type Record struct {
	ID          string
	ArrayBuffer []byte
	MediaType   model.MediaType
	DateTaken   string
	Timestamp   int64
}

// Ingester turns incoming Records into stored Photos.
type Ingester struct {
	store *store.Store
}

// New builds an Ingester backed by s.
func New(s *store.Store) *Ingester {
	return &Ingester{store: s}
}

// Ingest reconstructs a Photo per record and writes the whole batch in one
// store round trip. Ids are NFC-normalized first so the same logical id
// submitted in two Unicode normalization forms by the scraper's DOM layer
// does not create two rows. Duplicate ids (after normalization) silently
// overwrite, matching §6B.
func (in *Ingester) Ingest(records []Record) (int, error) {
	photos := make([]*model.Photo, 0, len(records))
	for _, r := range records {
		p := &model.Photo{
			ID:        norm.NFC.String(r.ID),
			Blob:      r.ArrayBuffer,
			MediaType: r.MediaType,
			DateTaken: r.DateTaken,
			Timestamp: r.Timestamp,
		}

		if p.MediaType == model.MediaPhoto && len(p.Blob) > 0 {
			if hashes, err := imaging.Compute(p.Blob); err == nil {
				p.PHash = hashes.PHash
				p.DHash = hashes.DHash
			}
			// A hash failure (corrupt/unsupported image bytes) does not block
			// ingestion: pHash/dHash are non-authoritative diagnostics, never
			// required for a photo to exist in the store.
		}

		photos = append(photos, p)
	}

	if err := in.store.PutPhotosBatch(photos); err != nil {
		return 0, fmt.Errorf("ingest: %w", err)
	}
	return len(photos), nil
}
