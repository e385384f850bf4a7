package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/localgallery/photodedupe/internal/apperrors"
)

func encodeTestJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("jpeg.Encode() error = %v", err)
	}
	return buf.Bytes()
}

func vectorResponse(dim int, fill float32) []byte {
	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = fill
	}
	b, _ := json.Marshal(struct {
		Dim       int       `json:"dim"`
		Embedding []float32 `json:"embedding"`
	}{Dim: dim, Embedding: vec})
	return b
}

func TestInit_RejectsInvalidURL(t *testing.T) {
	e := New("not-a-url", 768)
	err := e.Init(context.Background())
	if err == nil {
		t.Fatal("expected error for invalid base URL")
	}
	var modelErr *apperrors.ModelLoadError
	if !errors.As(err, &modelErr) {
		t.Errorf("expected *apperrors.ModelLoadError, got %T", err)
	}
}

func TestInit_IsIdempotent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	e := New(srv.URL, 3)
	if err := e.Init(context.Background()); err != nil {
		t.Fatalf("first Init() error = %v", err)
	}
	client1 := e.client
	if err := e.Init(context.Background()); err != nil {
		t.Fatalf("second Init() error = %v", err)
	}
	if e.client != client1 {
		t.Error("expected second Init() to be a no-op, reusing the same client")
	}
}

func TestEmbed_NormalizesToUnitLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(vectorResponse(3, 2.0))
	}))
	defer srv.Close()

	e := New(srv.URL, 3)
	if err := e.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	vec, err := e.Embed(context.Background(), "p1", []byte("fake-photo-bytes"))
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}

	var sumSq float64
	for _, x := range vec {
		sumSq += float64(x) * float64(x)
	}
	if sumSq < 0.999 || sumSq > 1.001 {
		t.Errorf("expected unit-length vector, got squared norm %f", sumSq)
	}
}

func TestEmbed_ResizesOversizedPhotoBeforeUpload(t *testing.T) {
	var uploadedWidth, uploadedHeight int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil {
			t.Fatalf("parse content type: %v", err)
		}
		mr := multipart.NewReader(r.Body, params["boundary"])
		part, err := mr.NextPart()
		if err != nil {
			t.Fatalf("read multipart part: %v", err)
		}
		body, err := io.ReadAll(part)
		if err != nil {
			t.Fatalf("read part body: %v", err)
		}
		img, _, err := image.Decode(bytes.NewReader(body))
		if err != nil {
			t.Fatalf("decode uploaded image: %v", err)
		}
		uploadedWidth, uploadedHeight = img.Bounds().Dx(), img.Bounds().Dy()
		w.Write(vectorResponse(3, 1.0))
	}))
	defer srv.Close()

	e := New(srv.URL, 3)
	if err := e.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	large := encodeTestJPEG(t, 2000, 1000)
	if _, err := e.Embed(context.Background(), "p1", large); err != nil {
		t.Fatalf("Embed() error = %v", err)
	}

	if uploadedWidth != maxUploadDimension || uploadedHeight != maxUploadDimension/2 {
		t.Errorf("uploaded image = %dx%d, want %dx%d", uploadedWidth, uploadedHeight, maxUploadDimension, maxUploadDimension/2)
	}
}

func TestEmbed_FallsBackToOriginalBlobWhenNotDecodable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(vectorResponse(3, 1.0))
	}))
	defer srv.Close()

	e := New(srv.URL, 3)
	if err := e.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	if _, err := e.Embed(context.Background(), "p1", []byte("not an image")); err != nil {
		t.Fatalf("Embed() error = %v, want fallback to the raw blob instead of failing", err)
	}
}

func TestEmbed_WrongDimensionIsInferenceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(vectorResponse(5, 1.0))
	}))
	defer srv.Close()

	e := New(srv.URL, 768)
	if err := e.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	_, err := e.Embed(context.Background(), "p1", []byte("x"))
	if err == nil {
		t.Fatal("expected error for dimension mismatch")
	}
	var infErr *apperrors.InferenceError
	if !errors.As(err, &infErr) {
		t.Fatalf("expected *apperrors.InferenceError, got %T", err)
	}
	if infErr.PhotoID != "p1" {
		t.Errorf("PhotoID = %q, want p1", infErr.PhotoID)
	}
}

func TestEmbed_ServerErrorIsInferenceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := New(srv.URL, 768)
	if err := e.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	_, err := e.Embed(context.Background(), "p1", []byte("x"))
	var infErr *apperrors.InferenceError
	if !errors.As(err, &infErr) {
		t.Fatalf("expected *apperrors.InferenceError, got %T", err)
	}
}

func TestNormalize_LeavesZeroVectorUnchanged(t *testing.T) {
	v := []float32{0, 0, 0}
	normalize(v)
	for _, x := range v {
		if x != 0 {
			t.Errorf("expected zero vector to stay zero, got %v", v)
		}
	}
}

func TestNormalize_UnitVectorIsUnchanged(t *testing.T) {
	v := []float32{1, 0, 0}
	normalize(v)
	if v[0] != 1 || v[1] != 0 || v[2] != 0 {
		t.Errorf("expected already-unit vector unchanged, got %v", v)
	}
}
