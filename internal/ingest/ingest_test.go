package ingest

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/localgallery/photodedupe/internal/model"
	"github.com/localgallery/photodedupe/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 4), uint8(y * 4), 128, 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("jpeg.Encode() error = %v", err)
	}
	return buf.Bytes()
}

func TestIngest_WritesPhotosAndComputesDiagnosticHashes(t *testing.T) {
	s := newTestStore(t)
	in := New(s)

	blob := testJPEG(t)
	n, err := in.Ingest([]Record{
		{ID: "photo-1", ArrayBuffer: blob, MediaType: model.MediaPhoto, DateTaken: "2024-01-01", Timestamp: 1000},
	})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Ingest() = %d, want 1", n)
	}

	p, err := s.GetPhoto("photo-1")
	if err != nil {
		t.Fatalf("GetPhoto() error = %v", err)
	}
	if p == nil {
		t.Fatal("expected photo to be stored")
	}
	if p.PHash == "" || p.DHash == "" {
		t.Error("expected pHash/dHash to be populated for a decodable photo")
	}
	if p.HasEmbedding {
		t.Error("expected freshly ingested photo to have hasEmbedding = false")
	}
}

func TestIngest_NormalizesUnicodeIDsToNFC(t *testing.T) {
	s := newTestStore(t)
	in := New(s)

	// "e" + combining acute accent (U+0301) vs. its precomposed NFC form
	// (U+00E9), built with explicit rune concatenation so the two are
	// unambiguously different byte sequences for the same logical id.
	decomposed := "cafe" + string(rune(0x0301))
	precomposed := "caf" + string(rune(0x00E9))

	if _, err := in.Ingest([]Record{{ID: decomposed, MediaType: model.MediaVideo, Timestamp: 1}}); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	p, err := s.GetPhoto(precomposed)
	if err != nil {
		t.Fatalf("GetPhoto() error = %v", err)
	}
	if p == nil {
		t.Fatal("expected the decomposed-id record to be stored under its NFC-normalized id")
	}

	count, err := s.Count(store.KindPhotos)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 1 {
		t.Errorf("photos count = %d, want 1 (both forms are the same logical id)", count)
	}
}

func TestIngest_DuplicateIDOverwrites(t *testing.T) {
	s := newTestStore(t)
	in := New(s)

	if _, err := in.Ingest([]Record{{ID: "a", MediaType: model.MediaVideo, Timestamp: 1, DateTaken: "first"}}); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if _, err := in.Ingest([]Record{{ID: "a", MediaType: model.MediaVideo, Timestamp: 2, DateTaken: "second"}}); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	p, err := s.GetPhoto("a")
	if err != nil {
		t.Fatalf("GetPhoto() error = %v", err)
	}
	if p.DateTaken != "second" || p.Timestamp != 2 {
		t.Errorf("expected second ingest to overwrite the first, got %+v", p)
	}

	count, _ := s.Count(store.KindPhotos)
	if count != 1 {
		t.Errorf("photos count = %d, want 1", count)
	}
}

func TestIngest_SkipsHashingForVideos(t *testing.T) {
	s := newTestStore(t)
	in := New(s)

	if _, err := in.Ingest([]Record{{ID: "v1", MediaType: model.MediaVideo, ArrayBuffer: []byte("not an image"), Timestamp: 1}}); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	p, _ := s.GetPhoto("v1")
	if p.PHash != "" || p.DHash != "" {
		t.Error("expected no perceptual hash for a video record")
	}
}
