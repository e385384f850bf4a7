package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/localgallery/photodedupe/internal/model"
	"github.com/localgallery/photodedupe/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	srv := New(Config{
		PipelineBatchSize:       10,
		GrouperBatchSize:        10,
		GrouperNumHashFunctions: 16,
		GrouperNumHashTables:    4,
		GrouperLSHSeed:          1,
	}, s, nil)
	return srv, s
}

func TestHealthCheck(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestListPhotos_EmptyStoreReturnsEmptyArray(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest("GET", "/api/v1/photos", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var photos []*model.Photo
	if err := json.Unmarshal(rec.Body.Bytes(), &photos); err != nil {
		t.Fatalf("unmarshal error = %v", err)
	}
	if len(photos) != 0 {
		t.Errorf("got %d photos, want 0", len(photos))
	}
}

func TestListPhotos_DescendingByDefault(t *testing.T) {
	srv, s := newTestServer(t)
	if err := s.PutPhotosBatch([]*model.Photo{
		{ID: "a", Timestamp: 1000},
		{ID: "b", Timestamp: 2000},
	}); err != nil {
		t.Fatalf("PutPhotosBatch() error = %v", err)
	}

	req := httptest.NewRequest("GET", "/api/v1/photos?limit=10", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	var photos []*model.Photo
	json.Unmarshal(rec.Body.Bytes(), &photos)
	if len(photos) != 2 || photos[0].ID != "b" || photos[1].ID != "a" {
		t.Errorf("got %+v, want [b, a] (descending timestamp)", photos)
	}
}

func TestGetPhoto_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest("GET", "/api/v1/photos/missing", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestSelectUnselectPhoto(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest("POST", "/api/v1/selection/p1", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("select status = %d, want 200", rec.Code)
	}

	req = httptest.NewRequest("GET", "/api/v1/selection", nil)
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	var sels []*model.Selection
	json.Unmarshal(rec.Body.Bytes(), &sels)
	if len(sels) != 1 || sels[0].PhotoID != "p1" {
		t.Fatalf("got %+v, want one selection for p1", sels)
	}

	req = httptest.NewRequest("DELETE", "/api/v1/selection/p1", nil)
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("unselect status = %d, want 200", rec.Code)
	}

	req = httptest.NewRequest("GET", "/api/v1/selection", nil)
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	sels = nil
	json.Unmarshal(rec.Body.Bytes(), &sels)
	if len(sels) != 0 {
		t.Errorf("got %d selections after unselect, want 0", len(sels))
	}
}

func TestIngest_StoresPhotos(t *testing.T) {
	srv, s := newTestServer(t)

	body, _ := json.Marshal([]map[string]any{
		{"id": "photo-1", "mediaType": "Video", "dateTaken": "2024-01-01", "timestamp": 1000},
	})
	req := httptest.NewRequest("POST", "/api/v1/ingest", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}

	p, err := s.GetPhoto("photo-1")
	if err != nil {
		t.Fatalf("GetPhoto() error = %v", err)
	}
	if p == nil {
		t.Fatal("expected photo-1 to be stored")
	}
}

func TestStartGrouper_RequiresThresholdAndWindow(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest("POST", "/api/v1/grouper/run", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 when threshold/windowMinutes are missing", rec.Code)
	}
}

func TestStartGrouper_RunsAndReachesCompleted(t *testing.T) {
	srv, s := newTestServer(t)
	if err := s.PutPhotosBatch([]*model.Photo{{ID: "a", Timestamp: 1000}}); err != nil {
		t.Fatalf("PutPhotosBatch() error = %v", err)
	}

	req := httptest.NewRequest("POST", "/api/v1/grouper/run?threshold=0.9&windowMinutes=60", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	var job Job
	json.Unmarshal(rec.Body.Bytes(), &job)
	if job.ID == "" {
		t.Fatal("expected a job id")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		req := httptest.NewRequest("GET", "/api/v1/grouper/"+job.ID, nil)
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, req)
		var got Job
		json.Unmarshal(rec.Body.Bytes(), &got)
		if got.Status == JobStatusCompleted {
			return
		}
		if got.Status == JobStatusFailed {
			t.Fatalf("grouper job failed: %s", got.Error)
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("grouper job did not reach completed within the deadline")
}

func TestGroupDiagnostics_FlagsPerceptuallyInconsistentMember(t *testing.T) {
	srv, s := newTestServer(t)
	if err := s.PutPhotosBatch([]*model.Photo{
		{ID: "a", Timestamp: 1, PHash: "0000000000000000", DHash: "0000000000000000"},
		{ID: "b", Timestamp: 2, PHash: "0000000000000001", DHash: "0000000000000000"},
		{ID: "c", Timestamp: 3, PHash: "ffffffffffffffff", DHash: "0000000000000000"},
	}); err != nil {
		t.Fatalf("PutPhotosBatch() error = %v", err)
	}
	if _, err := s.AtomicGroupCreate("g1", []string{"a", "b", "c"}, 0.9, 10); err != nil {
		t.Fatalf("AtomicGroupCreate() error = %v", err)
	}

	req := httptest.NewRequest("GET", "/api/v1/groups/g1/diagnostics", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}

	var diagnostics []photoDiagnostic
	if err := json.Unmarshal(rec.Body.Bytes(), &diagnostics); err != nil {
		t.Fatalf("unmarshal error = %v", err)
	}
	if len(diagnostics) != 3 {
		t.Fatalf("got %d diagnostics, want 3", len(diagnostics))
	}
	if !diagnostics[0].Reference {
		t.Errorf("diagnostics[0] = %+v, want the group's first member marked as reference", diagnostics[0])
	}
	if diagnostics[1].Comparison == nil || !diagnostics[1].Comparison.Consistent {
		t.Errorf("diagnostics[1] (1 bit off) = %+v, want Consistent=true", diagnostics[1])
	}
	if diagnostics[2].Comparison == nil || diagnostics[2].Comparison.Consistent {
		t.Errorf("diagnostics[2] (64 bits off) = %+v, want Consistent=false", diagnostics[2])
	}
}

func TestGroupDiagnostics_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest("GET", "/api/v1/groups/missing/diagnostics", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestUpdateGroupStatus_MutatesAndIsReflectedInByStatusIndex(t *testing.T) {
	srv, s := newTestServer(t)
	if err := s.PutPhotosBatch([]*model.Photo{{ID: "a", Timestamp: 1}, {ID: "b", Timestamp: 2}}); err != nil {
		t.Fatalf("PutPhotosBatch() error = %v", err)
	}
	if _, err := s.AtomicGroupCreate("g1", []string{"a", "b"}, 0.9, 10); err != nil {
		t.Fatalf("AtomicGroupCreate() error = %v", err)
	}

	body, _ := json.Marshal(updateGroupStatusRequest{ReviewStatus: model.ReviewReviewed})
	req := httptest.NewRequest("PATCH", "/api/v1/groups/g1", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var got model.Group
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.ReviewStatus != model.ReviewReviewed {
		t.Fatalf("ReviewStatus = %v, want reviewed", got.ReviewStatus)
	}

	req = httptest.NewRequest("GET", "/api/v1/groups/by-status/reviewed", nil)
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	var groups []*model.Group
	json.Unmarshal(rec.Body.Bytes(), &groups)
	if len(groups) != 1 || groups[0].ID != "g1" {
		t.Fatalf("groups/by-status/reviewed = %+v, want [g1]", groups)
	}
}

func TestUpdateGroupStatus_RejectsUnknownStatus(t *testing.T) {
	srv, s := newTestServer(t)
	if err := s.PutPhotosBatch([]*model.Photo{{ID: "a", Timestamp: 1}, {ID: "b", Timestamp: 2}}); err != nil {
		t.Fatalf("PutPhotosBatch() error = %v", err)
	}
	if _, err := s.AtomicGroupCreate("g1", []string{"a", "b"}, 0.9, 10); err != nil {
		t.Fatalf("AtomicGroupCreate() error = %v", err)
	}

	body, _ := json.Marshal(map[string]string{"reviewStatus": "archived"})
	req := httptest.NewRequest("PATCH", "/api/v1/groups/g1", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for an unknown reviewStatus", rec.Code)
	}
}

func TestUpdateGroupStatus_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	body, _ := json.Marshal(updateGroupStatusRequest{ReviewStatus: model.ReviewReviewed})
	req := httptest.NewRequest("PATCH", "/api/v1/groups/missing", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestJobStatus_UnknownJobReturnsNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest("GET", "/api/v1/pipeline/nonexistent", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
