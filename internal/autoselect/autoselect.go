// Package autoselect is the client for the remote auto-select collaborator
// (spec §6C): pricing, checkout, per-photo upload, job submission, status
// polling and refund. The collaborator itself — payment processing and the
// AI auto-select model — is explicitly out of scope (spec §1); this package
// only implements the HTTP contract the core consumes.
package autoselect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/localgallery/photodedupe/internal/apperrors"
)

// Config is the subset of internal/config.AutoSelectConfig this client needs.
type Config struct {
	BaseURL                       string
	UploadConcurrency             int
	RetryBaseSeconds              int
	RetryMaxAttempts              int
	PollIntervalSeconds           int
	MaxConsecutiveTransportErrors int
}

// Client talks to the remote auto-select collaborator over HTTP.
type Client struct {
	cfg    Config
	client *http.Client
}

// New builds a Client. cfg.BaseURL must be a valid absolute URL.
func New(cfg Config) *Client {
	return &Client{cfg: cfg, client: &http.Client{Timeout: 60 * time.Second}}
}

// PricingResponse is the body of POST /pricing.
type PricingResponse struct {
	ChargedPhotos int     `json:"charged_photos"`
	TotalCost     float64 `json:"total_cost"`
	IsFree        bool    `json:"is_free"`
	VolumeLimited bool    `json:"volume_limited"`
}

// Pricing quotes the cost of running auto-select over photoCount photos.
func (c *Client) Pricing(ctx context.Context, photoCount int) (*PricingResponse, error) {
	var resp PricingResponse
	if err := c.postJSON(ctx, "/pricing", map[string]int{"photo_count": photoCount}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CheckoutResponse is the body of POST /checkout.
type CheckoutResponse struct {
	CheckoutURL string `json:"checkout_url"`
	CheckoutID  string `json:"checkout_id"`
	JobID       string `json:"job_id"`
}

// Checkout starts a paid (or free) run for photoCount photos.
func (c *Client) Checkout(ctx context.Context, photoCount int) (*CheckoutResponse, error) {
	var resp CheckoutResponse
	if err := c.postJSON(ctx, "/checkout", map[string]int{"photo_count": photoCount}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// VerifyResponse is the body of GET /checkout/{id}/verify.
type VerifyResponse struct {
	JobID    string `json:"job_id"`
	Verified bool   `json:"verified"`
	Tampered bool   `json:"tampered"`
	Message  string `json:"message"`
}

// VerifyCheckout confirms checkoutID was paid for the amount quoted and was
// not tampered with. A Tampered response is surfaced as TamperError, which
// is non-retryable per §7.
func (c *Client) VerifyCheckout(ctx context.Context, checkoutID string) (*VerifyResponse, error) {
	var resp VerifyResponse
	url := fmt.Sprintf("/checkout/%s/verify", checkoutID)
	if err := c.getJSON(ctx, url, &resp); err != nil {
		return nil, err
	}
	if resp.Tampered {
		return nil, &apperrors.TamperError{Message: resp.Message}
	}
	return &resp, nil
}

// UploadItem is one photo to upload to a job.
type UploadItem struct {
	PhotoID  string
	Filename string
	Blob     []byte
}

// UploadPhotos uploads every item to jobID in flights of up to
// cfg.UploadConcurrency concurrent requests, retrying each individually with
// exponential backoff (base cfg.RetryBaseSeconds, capped at
// cfg.RetryMaxAttempts). The first upload that exhausts its retry budget
// aborts the whole flight via errgroup's context cancellation.
func (c *Client) UploadPhotos(ctx context.Context, jobID string, items []UploadItem) error {
	sem := semaphore.NewWeighted(int64(c.cfg.UploadConcurrency))
	g, gctx := errgroup.WithContext(ctx)

	for _, item := range items {
		item := item
		if err := sem.Acquire(gctx, 1); err != nil {
			return &apperrors.TransportError{Cause: err}
		}
		g.Go(func() error {
			defer sem.Release(1)
			return c.uploadOneWithRetry(gctx, jobID, item)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return nil
}

func (c *Client) uploadOneWithRetry(ctx context.Context, jobID string, item UploadItem) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Duration(c.cfg.RetryBaseSeconds) * time.Second
	// RetryMaxAttempts counts every attempt, the first one included.
	retries := c.cfg.RetryMaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	policy := backoff.WithMaxRetries(b, uint64(retries))

	return backoff.Retry(func() error {
		return c.uploadOne(ctx, jobID, item)
	}, backoff.WithContext(policy, ctx))
}

func (c *Client) uploadOne(ctx context.Context, jobID string, item UploadItem) error {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", item.Filename)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("autoselect: build upload form: %w", err))
	}
	if _, err := part.Write(item.Blob); err != nil {
		return backoff.Permanent(fmt.Errorf("autoselect: write upload body: %w", err))
	}
	if err := w.Close(); err != nil {
		return backoff.Permanent(fmt.Errorf("autoselect: close upload form: %w", err))
	}

	url := fmt.Sprintf("%s/job/%s/upload", c.cfg.BaseURL, jobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("autoselect: build upload request: %w", err))
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return &apperrors.TransportError{Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return &apperrors.TransportError{Cause: fmt.Errorf("upload %s: server error %d", item.PhotoID, resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		return backoff.Permanent(fmt.Errorf("autoselect: upload %s rejected: status %d", item.PhotoID, resp.StatusCode))
	}
	return nil
}

// SubmitItem is one photo's grouping metadata submitted to POST /job/{id}.
type SubmitItem struct {
	ID       string  `json:"id"`
	Filename string  `json:"filename"`
	GroupID  *string `json:"group_id"`
}

// SubmitJob sends grouping metadata for every uploaded photo and starts
// remote processing.
func (c *Client) SubmitJob(ctx context.Context, jobID string, items []SubmitItem) error {
	url := fmt.Sprintf("/job/%s", jobID)
	return c.postJSON(ctx, url, items, nil)
}

// JobStatus is the body of GET /job/{id}.
type JobStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

const (
	JobStatusPending   = "pending"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// PollOnce performs a single GET /job/{id}. A 202 response is reported as
// JobStatusPending; a 500 response body is still parsed for a structured
// error message (§6C).
func (c *Client) PollOnce(ctx context.Context, jobID string) (*JobStatus, error) {
	url := fmt.Sprintf("%s/job/%s", c.cfg.BaseURL, jobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("autoselect: build poll request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &apperrors.TransportError{Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted {
		return &JobStatus{Status: JobStatusPending}, nil
	}

	var status JobStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("autoselect: decode job status: %w", err)
	}
	return &status, nil
}

// WaitForJob polls PollOnce every cfg.PollIntervalSeconds until the job
// leaves JobStatusPending, tolerating up to cfg.MaxConsecutiveTransportErrors
// consecutive transport failures before surfacing a retryable TransportError.
func (c *Client) WaitForJob(ctx context.Context, jobID string) (*JobStatus, error) {
	consecutiveErrors := 0
	interval := time.Duration(c.cfg.PollIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := c.PollOnce(ctx, jobID)
		if err != nil {
			consecutiveErrors++
			if consecutiveErrors > c.cfg.MaxConsecutiveTransportErrors {
				return nil, &apperrors.TransportError{Cause: err}
			}
		} else {
			consecutiveErrors = 0
			if status.Status != JobStatusPending {
				return status, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Refund requests a refund for jobID, used when processing failed or the
// user cancels after payment.
func (c *Client) Refund(ctx context.Context, jobID string) error {
	url := fmt.Sprintf("/job/%s/refund", jobID)
	return c.postJSON(ctx, url, nil, nil)
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("autoselect: marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("autoselect: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("autoselect: build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return &apperrors.TransportError{Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return &apperrors.TransportError{Cause: fmt.Errorf("autoselect: server error %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("autoselect: request rejected: status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("autoselect: decode response: %w", err)
	}
	return nil
}
