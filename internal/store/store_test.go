package store

import (
	"errors"
	"testing"

	"github.com/localgallery/photodedupe/internal/apperrors"
	"github.com/localgallery/photodedupe/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func photo(id string, ts int64) *model.Photo {
	return &model.Photo{ID: id, Blob: []byte("x"), MediaType: model.MediaPhoto, Timestamp: ts}
}

func TestPutPhotosBatch_CounterTracksNetNewOnly(t *testing.T) {
	s := newTestStore(t)

	if err := s.PutPhotosBatch([]*model.Photo{photo("a", 1), photo("b", 2)}); err != nil {
		t.Fatalf("PutPhotosBatch() error = %v", err)
	}
	if n, _ := s.Count(KindPhotos); n != 2 {
		t.Fatalf("Count = %d, want 2", n)
	}

	// Re-upserting "a" must not increment the counter again.
	if err := s.PutPhotosBatch([]*model.Photo{photo("a", 5)}); err != nil {
		t.Fatalf("PutPhotosBatch() error = %v", err)
	}
	if n, _ := s.Count(KindPhotos); n != 2 {
		t.Fatalf("Count after re-upsert = %d, want 2", n)
	}

	got, err := s.GetPhoto("a")
	if err != nil {
		t.Fatalf("GetPhoto() error = %v", err)
	}
	if got.Timestamp != 5 {
		t.Errorf("expected upsert to update the timestamp, got %d", got.Timestamp)
	}
}

func TestGetPhotosByIDs_PreservesOrderAndOmitsMissing(t *testing.T) {
	s := newTestStore(t)
	if err := s.PutPhotosBatch([]*model.Photo{photo("a", 1), photo("b", 2), photo("c", 3)}); err != nil {
		t.Fatalf("PutPhotosBatch() error = %v", err)
	}

	got, err := s.GetPhotosByIDs([]string{"c", "missing", "a"})
	if err != nil {
		t.Fatalf("GetPhotosByIDs() error = %v", err)
	}
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "a" {
		t.Fatalf("got %+v, want [c a] with missing omitted", got)
	}
}

func TestDeletePhotosBatch_CascadesToEmbeddingAndDecrementsCounters(t *testing.T) {
	s := newTestStore(t)
	if err := s.PutPhotosBatch([]*model.Photo{photo("a", 1)}); err != nil {
		t.Fatalf("PutPhotosBatch() error = %v", err)
	}
	if err := s.PutEmbeddingAndMarkEmbedded(&model.Embedding{PhotoID: "a", Vector: []float32{1, 0}}); err != nil {
		t.Fatalf("PutEmbeddingAndMarkEmbedded() error = %v", err)
	}

	if err := s.DeletePhotosBatch([]string{"a"}); err != nil {
		t.Fatalf("DeletePhotosBatch() error = %v", err)
	}

	if n, _ := s.Count(KindPhotos); n != 0 {
		t.Errorf("photos count = %d, want 0", n)
	}
	if n, _ := s.Count(KindEmbeddings); n != 0 {
		t.Errorf("embeddings count = %d, want 0", n)
	}
	emb, err := s.GetEmbedding("a")
	if err != nil {
		t.Fatalf("GetEmbedding() error = %v", err)
	}
	if emb != nil {
		t.Error("expected embedding to be deleted along with its photo")
	}
}

func TestPutEmbeddingAndMarkEmbedded_InvariantHoldsAcrossPipeline(t *testing.T) {
	s := newTestStore(t)
	if err := s.PutPhotosBatch([]*model.Photo{photo("a", 1)}); err != nil {
		t.Fatalf("PutPhotosBatch() error = %v", err)
	}

	p, _ := s.GetPhoto("a")
	if p.HasEmbedding {
		t.Fatal("new photo should start with hasEmbedding = false")
	}

	if err := s.PutEmbeddingAndMarkEmbedded(&model.Embedding{PhotoID: "a", Vector: []float32{1, 0}}); err != nil {
		t.Fatalf("PutEmbeddingAndMarkEmbedded() error = %v", err)
	}

	p, _ = s.GetPhoto("a")
	if !p.HasEmbedding {
		t.Error("expected hasEmbedding = true after PutEmbeddingAndMarkEmbedded")
	}
	emb, err := s.GetEmbedding("a")
	if err != nil || emb == nil {
		t.Fatalf("expected embedding row to exist, err=%v emb=%v", err, emb)
	}
}

func TestPagePhotos_DescendingDefaultAndEmptyPastEnd(t *testing.T) {
	s := newTestStore(t)
	for i, id := range []string{"a", "b", "c"} {
		if err := s.PutPhotosBatch([]*model.Photo{photo(id, int64(i))}); err != nil {
			t.Fatalf("PutPhotosBatch() error = %v", err)
		}
	}

	page, err := s.PagePhotos(0, 2, Descending)
	if err != nil {
		t.Fatalf("PagePhotos() error = %v", err)
	}
	if len(page) != 2 || page[0].ID != "c" || page[1].ID != "b" {
		t.Fatalf("got %+v, want [c b] descending by timestamp", page)
	}

	empty, err := s.PagePhotos(100, 2, Descending)
	if err != nil {
		t.Fatalf("PagePhotos() error = %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected empty batch past end of store, got %d", len(empty))
	}
}

func TestPagePhotos_SurvivesIDsContainingColons(t *testing.T) {
	s := newTestStore(t)
	ids := []string{"gallery:album-1:photo-1", "gallery:album-1:photo-2", "plain"}
	for i, id := range ids {
		if err := s.PutPhotosBatch([]*model.Photo{photo(id, int64(i))}); err != nil {
			t.Fatalf("PutPhotosBatch() error = %v", err)
		}
	}

	page, err := s.PagePhotos(0, len(ids), Ascending)
	if err != nil {
		t.Fatalf("PagePhotos() error = %v", err)
	}
	if len(page) != len(ids) {
		t.Fatalf("got %d photos, want %d (an id containing ':' must not be dropped)", len(page), len(ids))
	}
	for i, p := range page {
		if p.ID != ids[i] {
			t.Errorf("page[%d].ID = %q, want %q", i, p.ID, ids[i])
		}
	}
}

func TestForEachPhotoBatch_VisitsEveryPhotoExactlyOnceInTimestampOrder(t *testing.T) {
	s := newTestStore(t)
	for i, id := range []string{"a", "b", "c", "d", "e"} {
		if err := s.PutPhotosBatch([]*model.Photo{photo(id, int64(i))}); err != nil {
			t.Fatalf("PutPhotosBatch() error = %v", err)
		}
	}

	var seen []string
	err := s.ForEachPhotoBatch(2, func(batch []*model.Photo) error {
		for _, p := range batch {
			seen = append(seen, p.ID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ForEachPhotoBatch() error = %v", err)
	}

	want := []string{"a", "b", "c", "d", "e"}
	if len(seen) != len(want) {
		t.Fatalf("got %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("got %v, want %v", seen, want)
		}
	}
}

func TestForEachUngroupedEmbeddedPhotoBatch_UsesCompoundIndex(t *testing.T) {
	s := newTestStore(t)
	if err := s.PutPhotosBatch([]*model.Photo{photo("a", 1), photo("b", 2), photo("c", 3)}); err != nil {
		t.Fatalf("PutPhotosBatch() error = %v", err)
	}
	for _, id := range []string{"a", "b"} {
		if err := s.PutEmbeddingAndMarkEmbedded(&model.Embedding{PhotoID: id, Vector: []float32{1, 0}}); err != nil {
			t.Fatalf("PutEmbeddingAndMarkEmbedded() error = %v", err)
		}
	}
	// Group "a" so it should be excluded from the ungrouped-embedded stream.
	if _, err := s.AtomicGroupCreate("g1", []string{"a"}, 0.9, 10); err != nil {
		t.Fatalf("AtomicGroupCreate() error = %v", err)
	}

	var ids []string
	err := s.ForEachUngroupedEmbeddedPhotoBatch(10, func(batch []*model.Photo) error {
		for _, p := range batch {
			ids = append(ids, p.ID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ForEachUngroupedEmbeddedPhotoBatch() error = %v", err)
	}
	if len(ids) != 1 || ids[0] != "b" {
		t.Fatalf("got %v, want 1 ungrouped embedded photo (only b)", ids)
	}
}

func TestAtomicGroupCreate_FailsIfAnyPhotoMissing(t *testing.T) {
	s := newTestStore(t)
	if err := s.PutPhotosBatch([]*model.Photo{photo("a", 1)}); err != nil {
		t.Fatalf("PutPhotosBatch() error = %v", err)
	}

	_, err := s.AtomicGroupCreate("g1", []string{"a", "missing"}, 0.9, 10)
	if err == nil {
		t.Fatal("expected error when a listed photo is missing")
	}
	var storageErr *apperrors.StorageError
	if !errors.As(err, &storageErr) {
		t.Errorf("expected *apperrors.StorageError, got %T", err)
	}

	if n, _ := s.Count(KindGroups); n != 0 {
		t.Errorf("groups count = %d, want 0 (atomic failure must not partially apply)", n)
	}
	p, _ := s.GetPhoto("a")
	if p.GroupID != nil {
		t.Error("expected photo a to remain ungrouped after failed atomic create")
	}
}

func TestAtomicGroupCreate_SetsGroupIDOnEveryPhoto(t *testing.T) {
	s := newTestStore(t)
	if err := s.PutPhotosBatch([]*model.Photo{photo("a", 1), photo("b", 2)}); err != nil {
		t.Fatalf("PutPhotosBatch() error = %v", err)
	}

	g, err := s.AtomicGroupCreate("g1", []string{"a", "b"}, 0.95, 100)
	if err != nil {
		t.Fatalf("AtomicGroupCreate() error = %v", err)
	}
	if g.ReviewStatus != model.ReviewPending {
		t.Errorf("ReviewStatus = %v, want pending", g.ReviewStatus)
	}

	for _, id := range []string{"a", "b"} {
		p, _ := s.GetPhoto(id)
		if p.GroupID == nil || *p.GroupID != "g1" {
			t.Errorf("photo %s groupId = %v, want g1", id, p.GroupID)
		}
	}
}

func TestUpdateGroupInPlace_MutatesReviewStatusAndStatusIndex(t *testing.T) {
	s := newTestStore(t)
	if err := s.PutPhotosBatch([]*model.Photo{photo("a", 1), photo("b", 2)}); err != nil {
		t.Fatalf("PutPhotosBatch() error = %v", err)
	}
	if _, err := s.AtomicGroupCreate("g1", []string{"a", "b"}, 0.9, 10); err != nil {
		t.Fatalf("AtomicGroupCreate() error = %v", err)
	}

	err := s.UpdateGroupInPlace("g1", func(g *model.Group) error {
		g.ReviewStatus = model.ReviewReviewed
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateGroupInPlace() error = %v", err)
	}

	g, _ := s.GetGroup("g1")
	if g.ReviewStatus != model.ReviewReviewed {
		t.Fatalf("ReviewStatus = %v, want reviewed", g.ReviewStatus)
	}

	reviewed, err := s.PageGroupsByStatus(model.ReviewReviewed, 0, 10)
	if err != nil {
		t.Fatalf("PageGroupsByStatus() error = %v", err)
	}
	if len(reviewed) != 1 || reviewed[0].ID != "g1" {
		t.Fatalf("PageGroupsByStatus(reviewed) = %+v, want [g1]", reviewed)
	}

	pending, err := s.PageGroupsByStatus(model.ReviewPending, 0, 10)
	if err != nil {
		t.Fatalf("PageGroupsByStatus() error = %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("PageGroupsByStatus(pending) = %+v, want none (moved to reviewed)", pending)
	}
}

func TestUpdateGroupInPlace_MissingGroupCallsMutatorWithNil(t *testing.T) {
	s := newTestStore(t)
	var gotNil bool
	err := s.UpdateGroupInPlace("no-such-group", func(g *model.Group) error {
		gotNil = g == nil
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateGroupInPlace() error = %v", err)
	}
	if !gotNil {
		t.Fatal("expected mutator to receive nil for a missing group")
	}
}

func TestClearGroups_NullsGroupIDAndResetsCounter(t *testing.T) {
	s := newTestStore(t)
	if err := s.PutPhotosBatch([]*model.Photo{photo("a", 1), photo("b", 2)}); err != nil {
		t.Fatalf("PutPhotosBatch() error = %v", err)
	}
	if _, err := s.AtomicGroupCreate("g1", []string{"a", "b"}, 0.9, 10); err != nil {
		t.Fatalf("AtomicGroupCreate() error = %v", err)
	}

	if err := s.ClearGroups(); err != nil {
		t.Fatalf("ClearGroups() error = %v", err)
	}

	if n, _ := s.Count(KindGroups); n != 0 {
		t.Errorf("groups count = %d, want 0", n)
	}
	for _, id := range []string{"a", "b"} {
		p, _ := s.GetPhoto(id)
		if p.GroupID != nil {
			t.Errorf("photo %s groupId = %v, want nil after ClearGroups", id, p.GroupID)
		}
	}
}

func TestClearEmbeddings_UnflagsPhotosAndResetsCounter(t *testing.T) {
	s := newTestStore(t)
	if err := s.PutPhotosBatch([]*model.Photo{photo("a", 1)}); err != nil {
		t.Fatalf("PutPhotosBatch() error = %v", err)
	}
	if err := s.PutEmbeddingAndMarkEmbedded(&model.Embedding{PhotoID: "a", Vector: []float32{1, 0}}); err != nil {
		t.Fatalf("PutEmbeddingAndMarkEmbedded() error = %v", err)
	}

	if err := s.ClearEmbeddings(); err != nil {
		t.Fatalf("ClearEmbeddings() error = %v", err)
	}

	if n, _ := s.Count(KindEmbeddings); n != 0 {
		t.Errorf("embeddings count = %d, want 0", n)
	}
	p, _ := s.GetPhoto("a")
	if p.HasEmbedding {
		t.Error("expected hasEmbedding = false after ClearEmbeddings")
	}
}

func TestSelection_SelectUnselectIsIdempotentAndCounted(t *testing.T) {
	s := newTestStore(t)

	if err := s.Select("a", 100); err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if err := s.Select("a", 200); err != nil { // should be a no-op, selectedAt stays 100
		t.Fatalf("Select() error = %v", err)
	}
	if n, _ := s.SelectionCount(); n != 1 {
		t.Fatalf("SelectionCount = %d, want 1", n)
	}

	selected, err := s.IsSelected("a")
	if err != nil || !selected {
		t.Fatalf("IsSelected = %v, %v; want true, nil", selected, err)
	}

	if err := s.Unselect("a"); err != nil {
		t.Fatalf("Unselect() error = %v", err)
	}
	if n, _ := s.SelectionCount(); n != 0 {
		t.Fatalf("SelectionCount after unselect = %d, want 0", n)
	}
}

func TestSelectionBatch_OrderedBySelectedAtAscending(t *testing.T) {
	s := newTestStore(t)
	if err := s.Select("c", 30); err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if err := s.Select("a", 10); err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if err := s.Select("b", 20); err != nil {
		t.Fatalf("Select() error = %v", err)
	}

	batch, err := s.SelectionBatch(0, 10)
	if err != nil {
		t.Fatalf("SelectionBatch() error = %v", err)
	}
	want := []string{"a", "b", "c"}
	for i, sel := range batch {
		if sel.PhotoID != want[i] {
			t.Fatalf("got order %v, want %v", batch, want)
		}
	}
}

func TestClearAll_WipesEverything(t *testing.T) {
	s := newTestStore(t)
	if err := s.PutPhotosBatch([]*model.Photo{photo("a", 1)}); err != nil {
		t.Fatalf("PutPhotosBatch() error = %v", err)
	}
	if err := s.Select("a", 10); err != nil {
		t.Fatalf("Select() error = %v", err)
	}

	if err := s.ClearAll(); err != nil {
		t.Fatalf("ClearAll() error = %v", err)
	}

	if n, _ := s.Count(KindPhotos); n != 0 {
		t.Errorf("photos count = %d, want 0", n)
	}
	if n, _ := s.Count(KindSelections); n != 0 {
		t.Errorf("selections count = %d, want 0", n)
	}
}

func TestUpdatePhotoInPlace_ReadModifyWrite(t *testing.T) {
	s := newTestStore(t)
	if err := s.PutPhotosBatch([]*model.Photo{photo("a", 1)}); err != nil {
		t.Fatalf("PutPhotosBatch() error = %v", err)
	}

	err := s.UpdatePhotoInPlace("a", func(p *model.Photo) error {
		p.AISuggestionReason = "duplicate of b"
		p.AISuggestionConfidence = model.ConfidenceHigh
		return nil
	})
	if err != nil {
		t.Fatalf("UpdatePhotoInPlace() error = %v", err)
	}

	p, _ := s.GetPhoto("a")
	if p.AISuggestionReason != "duplicate of b" || p.AISuggestionConfidence != model.ConfidenceHigh {
		t.Errorf("got %+v, want mutated fields persisted", p)
	}
}

func TestOpen_MigratesFreshStoreToCurrentSchemaVersion(t *testing.T) {
	s := newTestStore(t)
	v, err := s.storedSchemaVersion()
	if err != nil {
		t.Fatalf("storedSchemaVersion() error = %v", err)
	}
	if v != schemaVersion {
		t.Errorf("storedSchemaVersion() = %d, want %d", v, schemaVersion)
	}
}
