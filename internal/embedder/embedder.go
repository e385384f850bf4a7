// Package embedder wraps the local visual feature-extraction model server
// (spec §4.2). It follows the same multipart-upload client shape the teacher
// repo uses to talk to its own local embedding server, cut down to the single
// contract the core needs: bytes in, an L2-normalised 768-dim vector out.
package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/localgallery/photodedupe/internal/apperrors"
	"github.com/localgallery/photodedupe/internal/imaging"
)

// maxUploadDimension caps the longest edge of a photo sent to the model
// server. Full-resolution photos are unnecessary for feature extraction and
// needlessly inflate the multipart request.
const maxUploadDimension = 1024

// Embedder is a process-wide singleton holding the lazily-initialised model
// client. Exactly one of it exists per process (spec §5): construct with New,
// then call Init once (idempotent, safe to call from multiple goroutines —
// only the first call does the work).
type Embedder struct {
	baseURL    string
	dimensions int

	initOnce sync.Once
	initErr  error
	client   *http.Client
	endpoint *url.URL
}

// New builds an Embedder targeting the model server at baseURL. It does not
// contact the server; call Init for that.
func New(baseURL string, dimensions int) *Embedder {
	return &Embedder{baseURL: baseURL, dimensions: dimensions}
}

// Init prepares the embedder for use. Idempotent: only the first call does
// any work, every later call (concurrent or not) observes the same result.
// A failure here is a ModelLoadError and is NOT cached as permanent — the
// next Init call retries, since a restarted model server should recover.
func (e *Embedder) Init(ctx context.Context) error {
	e.initOnce.Do(func() {
		e.initErr = e.doInit(ctx)
	})
	if e.initErr != nil {
		// Allow a later call to retry after a transient failure by resetting
		// the guard; sync.Once can't be reset, so swap in a fresh one.
		err := e.initErr
		e.initOnce = sync.Once{}
		return &apperrors.ModelLoadError{Cause: err}
	}
	return nil
}

func (e *Embedder) doInit(ctx context.Context) error {
	base := e.baseURL
	if base == "" {
		return errors.New("embedder: empty base URL")
	}
	parsed, err := url.Parse(strings.TrimSuffix(base, "/"))
	if err != nil {
		return fmt.Errorf("embedder: invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("embedder: invalid URL scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return errors.New("embedder: URL missing host")
	}

	e.endpoint = parsed
	e.client = &http.Client{}
	return nil
}

type embeddingResponse struct {
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
}

// Embed computes the L2-normalised embedding for one photo's blob. Returns
// an InferenceError (recoverable — the pipeline skips this photo and
// continues) rather than ModelLoadError, since by this point Init already
// succeeded once.
func (e *Embedder) Embed(ctx context.Context, photoID string, blob []byte) ([]float32, error) {
	if e.client == nil || e.endpoint == nil {
		return nil, &apperrors.InferenceError{PhotoID: photoID, Cause: errors.New("embedder not initialised")}
	}

	vec, err := e.postImage(ctx, blob)
	if err != nil {
		return nil, &apperrors.InferenceError{PhotoID: photoID, Cause: err}
	}
	if len(vec) != e.dimensions {
		return nil, &apperrors.InferenceError{
			PhotoID: photoID,
			Cause:   fmt.Errorf("expected %d-dim embedding, got %d", e.dimensions, len(vec)),
		}
	}

	normalize(vec)
	return vec, nil
}

func (e *Embedder) postImage(ctx context.Context, blob []byte) ([]float32, error) {
	resized, err := imaging.Resize(blob, maxUploadDimension)
	if err != nil {
		// Not every upload is a decodable still image (callers may hand the
		// embedder raw video frames or formats imaging can't parse); fall
		// back to the original blob rather than failing the whole request.
		resized = blob
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "photo.jpg")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(resized); err != nil {
		return nil, fmt.Errorf("write photo bytes: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	reqURL := e.endpoint.JoinPath("/embed/image")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL.String(), &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding server returned status %d: %s", resp.StatusCode, string(body))
	}

	var embResp embeddingResponse
	if err := json.Unmarshal(body, &embResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if len(embResp.Embedding) == 0 {
		return nil, errors.New("embedding server returned an empty vector")
	}
	return embResp.Embedding, nil
}

// normalize scales v in place to unit L2 norm. A zero vector is left as-is;
// downstream cosine similarity against a zero vector is always 0, which is
// the correct "never matches" behaviour.
func normalize(v []float32) {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return
	}
	norm := float32(math.Sqrt(sumSq))
	for i := range v {
		v[i] /= norm
	}
}
