// Package grouper implements the four-phase streaming duplicate clusterer
// (spec §4.5). Every phase uses the store's batched/streaming operations;
// nothing beyond O(batch) is held in memory except the LSH index and the
// union-find state, which is bounded by the number of photos that actually
// collide, not the full photo count.
package grouper

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/localgallery/photodedupe/internal/apperrors"
	"github.com/localgallery/photodedupe/internal/lsh"
	"github.com/localgallery/photodedupe/internal/model"
	"github.com/localgallery/photodedupe/internal/store"
)

const groupsPersistChunk = 500

// Progress is emitted for each phase (spec §4.5).
type Progress struct {
	Phase       string
	Current     int
	Total       int
	GroupsFound int
	Message     string
}

// Grouper runs at most once at a time process-wide (spec §5).
type Grouper struct {
	store            *store.Store
	batchSize        int
	numHashFunctions int
	numHashTables    int
	lshSeed          int64

	mu      sync.Mutex
	running bool
}

// New builds a Grouper. batchSize controls how many records are read per
// store round trip in every phase (default 100-500 per spec §4.5).
// numHashFunctions/numHashTables are the LSHIndex geometry (internal/config's
// LSHConfig, default 16x4). lshSeed fixes the LSHIndex's random hyperplanes
// so results are deterministic for a fixed seed and fixed input (spec §4.5,
// §9).
func New(s *store.Store, batchSize, numHashFunctions, numHashTables int, lshSeed int64) *Grouper {
	return &Grouper{
		store:            s,
		batchSize:        batchSize,
		numHashFunctions: numHashFunctions,
		numHashTables:    numHashTables,
		lshSeed:          lshSeed,
	}
}

// unionFind is the Phase 2 clustering state: every grouped photo maps to an
// internal group id, and every internal group id maps to its member set.
type unionFind struct {
	photoToGroup map[string]string
	groups       map[string]map[string]struct{}
}

func newUnionFind() *unionFind {
	return &unionFind{
		photoToGroup: make(map[string]string),
		groups:       make(map[string]map[string]struct{}),
	}
}

// union joins a and b, merging their groups if both already belong to one
// (spec §4.5 union-find semantics: smaller group's members move into the
// larger group, and photoToGroup is rewritten for every moved id).
func (uf *unionFind) union(a, b string) {
	gA, okA := uf.photoToGroup[a]
	gB, okB := uf.photoToGroup[b]

	switch {
	case !okA && !okB:
		gid := uuid.NewString()
		uf.groups[gid] = map[string]struct{}{a: {}, b: {}}
		uf.photoToGroup[a] = gid
		uf.photoToGroup[b] = gid
	case okA && !okB:
		uf.groups[gA][b] = struct{}{}
		uf.photoToGroup[b] = gA
	case !okA && okB:
		uf.groups[gB][a] = struct{}{}
		uf.photoToGroup[a] = gB
	case gA != gB:
		small, large := gA, gB
		if len(uf.groups[gA]) > len(uf.groups[gB]) {
			small, large = gB, gA
		}
		for id := range uf.groups[small] {
			uf.groups[large][id] = struct{}{}
			uf.photoToGroup[id] = large
		}
		delete(uf.groups, small)
	}
}

// Run executes all four phases, clustering photos within similarity
// threshold and time window windowMinutes, and persists the result. Fails
// immediately with BusyError if a run is already in flight.
func (g *Grouper) Run(ctx context.Context, threshold float64, windowMinutes int, onProgress func(Progress)) error {
	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		return &apperrors.BusyError{Operation: "grouper"}
	}
	g.running = true
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		g.running = false
		g.mu.Unlock()
	}()

	report := func(p Progress) {
		if onProgress != nil {
			onProgress(p)
		}
	}

	idx, err := g.buildLSH(report)
	if err != nil {
		return &apperrors.GroupingError{Cause: err}
	}

	uf, err := g.findNearDuplicates(idx, threshold, windowMinutes, report)
	if err != nil {
		return &apperrors.GroupingError{Cause: err}
	}

	materialized, err := g.materializeGroups(uf, threshold, report)
	if err != nil {
		return &apperrors.GroupingError{Cause: err}
	}

	if err := g.persist(materialized, uf, report); err != nil {
		return &apperrors.GroupingError{Cause: err}
	}

	return nil
}

// buildLSH is Phase 1: stream all embeddings into a fresh LSHIndex.
func (g *Grouper) buildLSH(report func(Progress)) (*lsh.Index, error) {
	total, err := g.store.Count(store.KindEmbeddings)
	if err != nil {
		return nil, err
	}

	idx := lsh.New(model.EmbeddingDimensions, g.numHashFunctions, g.numHashTables, g.lshSeed)
	current := 0
	err = g.store.ForEachEmbeddingBatch(g.batchSize, func(batch []*model.Embedding) error {
		for _, e := range batch {
			idx.Insert(e.PhotoID, e.Vector)
			current++
		}
		report(Progress{Phase: "build_lsh", Current: current, Total: int(total), Message: "indexing embeddings"})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return idx, nil
}

// findNearDuplicates is Phase 2: stream embedded photos in timestamp
// ascending order, query LSH candidates for each, and union photos whose
// cosine similarity clears threshold within the time window.
func (g *Grouper) findNearDuplicates(idx *lsh.Index, threshold float64, windowMinutes int, report func(Progress)) (*unionFind, error) {
	uf := newUnionFind()
	windowMillis := int64(windowMinutes) * 60 * 1000

	total, err := g.store.Count(store.KindEmbeddings)
	if err != nil {
		return nil, err
	}

	current := 0
	groupsFound := 0
	err = g.store.ForEachPhotoBatch(g.batchSize, func(batch []*model.Photo) error {
		// Candidates for one batch frequently overlap (near-duplicates cluster
		// together in timestamp order), so a cache scoped to this single batch
		// avoids re-reading the same embedding from the store many times over
		// (§9 Phase 2 I/O note).
		embCache := make(map[string]*model.Embedding)
		getEmbedding := func(id string) (*model.Embedding, error) {
			if e, ok := embCache[id]; ok {
				return e, nil
			}
			e, err := g.store.GetEmbedding(id)
			if err != nil {
				return nil, err
			}
			embCache[id] = e
			return e, nil
		}

		for _, p := range batch {
			if !p.HasEmbedding {
				continue
			}
			current++

			pEmb, err := getEmbedding(p.ID)
			if err != nil {
				return err
			}
			if pEmb == nil {
				continue
			}

			// Every photo still queries its LSH candidates even once grouped,
			// and candidates already in a (possibly different) group are not
			// skipped: union() below is the thing that reconciles groups, and
			// skipping either side here would silently break transitive
			// merges like A-B-C where B gets grouped with A before C's turn.
			for _, qID := range idx.Query(pEmb.Vector, p.ID) {
				q, err := g.store.GetPhoto(qID)
				if err != nil {
					return err
				}
				if q == nil {
					continue
				}
				if abs64(p.Timestamp-q.Timestamp) > windowMillis {
					continue
				}
				qEmb, err := getEmbedding(qID)
				if err != nil {
					return err
				}
				if qEmb == nil {
					continue
				}
				cosine := lsh.CosineSimilarity(pEmb.Vector, qEmb.Vector)
				if cosine >= threshold {
					uf.union(p.ID, qID)
				}
			}
		}
		groupsFound = len(uf.groups)
		report(Progress{Phase: "find_near_duplicates", Current: current, Total: int(total), GroupsFound: groupsFound, Message: "scanning for duplicates"})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return uf, nil
}

func abs64(n int64) int64 {
	return int64(math.Abs(float64(n)))
}

// materializeGroups is Phase 3: turn every internal group of size >= 2 into
// a model.Group with members sorted by timestamp ascending.
func (g *Grouper) materializeGroups(uf *unionFind, threshold float64, report func(Progress)) ([]*model.Group, error) {
	now := model.Now()
	groups := make([]*model.Group, 0, len(uf.groups))

	current := 0
	for gid, members := range uf.groups {
		current++
		if len(members) < 2 {
			continue
		}

		ids := make([]string, 0, len(members))
		for id := range members {
			ids = append(ids, id)
		}
		photos, err := g.store.GetPhotosByIDs(ids)
		if err != nil {
			return nil, err
		}
		sort.Slice(photos, func(i, j int) bool { return photos[i].Timestamp < photos[j].Timestamp })

		sortedIDs := make([]string, len(photos))
		for i, p := range photos {
			sortedIDs[i] = p.ID
		}

		groups = append(groups, &model.Group{
			ID:       gid,
			PhotoIDs: sortedIDs,
			// SimilarityScore is the threshold used for this run, not a
			// measured average over the group's pairwise similarities.
			SimilarityScore: threshold,
			Timestamp:       now,
			ReviewStatus:    model.ReviewPending,
		})
	}

	report(Progress{Phase: "materialize_groups", Current: current, Total: len(uf.groups), GroupsFound: len(groups), Message: "materializing groups"})
	return groups, nil
}

// persist is Phase 4: clear any previous grouping, write the new groups in
// chunks, then stream photos writing back their new groupId.
func (g *Grouper) persist(groups []*model.Group, uf *unionFind, report func(Progress)) error {
	if err := g.store.ClearGroups(); err != nil {
		return err
	}

	for i := 0; i < len(groups); i += groupsPersistChunk {
		end := i + groupsPersistChunk
		if end > len(groups) {
			end = len(groups)
		}
		if err := g.store.PutGroupsBatch(groups[i:end]); err != nil {
			return err
		}
		report(Progress{Phase: "persist", Current: end, Total: len(groups), GroupsFound: len(groups), Message: "writing groups"})
	}

	current := 0
	err := g.store.ForEachPhotoBatch(g.batchSize, func(batch []*model.Photo) error {
		var toUpdate []*model.Photo
		for _, p := range batch {
			current++
			if gid, ok := uf.photoToGroup[p.ID]; ok {
				id := gid
				p.GroupID = &id
				toUpdate = append(toUpdate, p)
			}
		}
		if len(toUpdate) > 0 {
			if err := g.store.PutPhotosBatch(toUpdate); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	report(Progress{Phase: "persist", Current: current, Total: current, GroupsFound: len(groups), Message: "done"})
	return nil
}
