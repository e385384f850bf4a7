// Package pipeline implements EmbeddingPipeline (spec §4.3): it walks photos
// missing an embedding, computes one, and persists it, resumable across
// restarts because the per-photo flag and its embedding row change together
// in the same transaction.
package pipeline

import (
	"context"
	"errors"
	"log"
	"strconv"
	"sync"

	"github.com/localgallery/photodedupe/internal/apperrors"
	"github.com/localgallery/photodedupe/internal/embedder"
	"github.com/localgallery/photodedupe/internal/model"
	"github.com/localgallery/photodedupe/internal/store"
)

const lastEmbeddingTimeKey = "lastEmbeddingTime"

// Progress is reported after every photo; callers may coalesce updates.
type Progress struct {
	Current int
	Total   int
	Message string
}

// Pipeline runs at most once at a time process-wide (spec §5).
type Pipeline struct {
	store     *store.Store
	embedder  *embedder.Embedder
	batchSize int

	mu      sync.Mutex
	running bool
}

// New builds a Pipeline. batchSize is the number of photos read per store
// round trip while scanning for missing embeddings (default 10 per spec
// §4.3).
func New(s *store.Store, e *embedder.Embedder, batchSize int) *Pipeline {
	return &Pipeline{store: s, embedder: e, batchSize: batchSize}
}

// Run embeds every photo currently missing one and returns the count newly
// embedded. Fails immediately with BusyError if a run is already in flight.
func (p *Pipeline) Run(ctx context.Context, onProgress func(Progress)) (int, error) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return 0, &apperrors.BusyError{Operation: "embedding pipeline"}
	}
	p.running = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	if err := p.embedder.Init(ctx); err != nil {
		return 0, err
	}

	total, err := p.store.CountMissingEmbedding()
	if err != nil {
		return 0, err
	}

	current := 0
	embedded := 0
	report := func(message string) {
		current++
		if onProgress != nil {
			onProgress(Progress{Current: current, Total: int(total), Message: message})
		}
	}

	err = p.store.ForEachPhotoBatch(p.batchSize, func(batch []*model.Photo) error {
		for _, photo := range batch {
			if photo.HasEmbedding {
				continue
			}

			vec, embErr := p.embedder.Embed(ctx, photo.ID, photo.Blob)
			if embErr != nil {
				var infErr *apperrors.InferenceError
				if errors.As(embErr, &infErr) {
					log.Printf("pipeline: skipping photo %s: %v", photo.ID, infErr)
					report("skipped " + photo.ID)
					continue
				}
				return embErr
			}

			if err := p.store.PutEmbeddingAndMarkEmbedded(&model.Embedding{
				PhotoID:   photo.ID,
				Vector:    vec,
				Timestamp: model.Now(),
			}); err != nil {
				return err
			}
			embedded++
			report("embedded " + photo.ID)
		}
		return nil
	})
	if err != nil {
		return embedded, err
	}

	if err := p.store.SetMetadata(lastEmbeddingTimeKey, strconv.FormatInt(model.Now(), 10)); err != nil {
		return embedded, err
	}

	return embedded, nil
}
