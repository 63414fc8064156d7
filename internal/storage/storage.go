package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path"
	"time"

	"github.com/bobarin/beatcut/internal/retry"
	"github.com/google/uuid"
)

// Upload timeout per attempt
const uploadTimeout = 180 * time.Second

// StatusError is a non-2xx answer from the storage API.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed with status %d: %s", e.Op, e.StatusCode, e.Body)
}

type Storage struct {
	url        string
	serviceKey string
	Bucket     string
	Backoff    retry.Backoff
	client     *http.Client

	// SignedURLSeconds makes PublishedURL hand out signed URLs for a
	// private bucket. Zero means the bucket is public.
	SignedURLSeconds int
}

func New(url, serviceKey, bucket string) *Storage {
	return &Storage{
		url:        url,
		serviceKey: serviceKey,
		Bucket:     bucket,
		Backoff: retry.Backoff{
			Attempts: 5,
			Base:     1 * time.Second,
			Max:      30 * time.Second,
			Factor:   2,
			Jitter:   0.25,
		},
		client: &http.Client{
			Timeout: uploadTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// EditPayloadPath is where the payload for an edit job is stored.
func EditPayloadPath(jobID uuid.UUID) string {
	return path.Join("edits", jobID.String(), "payload.json")
}

// Upload uploads a file to Supabase Storage with retries and exponential backoff.
// Uses PUT with Content-Length and x-upsert so re-running a job overwrites.
func (s *Storage) Upload(ctx context.Context, objectPath string, data []byte, contentType string) error {
	url := s.objectURL(objectPath)
	b := s.Backoff
	b.AttemptTimeout = uploadTimeout

	err := retry.Do(ctx, "upload "+objectPath, b, isRetryable, func(ctx context.Context, attempt int) error {
		req, err := http.NewRequestWithContext(ctx, "PUT", url, bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}

		req.Header.Set("Authorization", "Bearer "+s.serviceKey)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("x-upsert", "true")
		req.ContentLength = int64(len(data))

		resp, err := s.client.Do(req)
		if err != nil {
			return fmt.Errorf("failed to upload: %w", err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
			return nil
		}
		return &StatusError{Op: "upload", StatusCode: resp.StatusCode, Body: truncate(string(body), 200)}
	})
	if err != nil {
		return err
	}

	log.Printf("[Storage] Uploaded %s (%d bytes)", objectPath, len(data))
	return nil
}

// UploadJSON marshals v and uploads it as application/json.
func (s *Storage) UploadJSON(ctx context.Context, objectPath string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", objectPath, err)
	}
	return s.Upload(ctx, objectPath, data, "application/json")
}

// PublishedURL is where readers fetch an uploaded object: a signed URL
// when SignedURLSeconds is set, the public URL otherwise.
func (s *Storage) PublishedURL(ctx context.Context, objectPath string) (string, error) {
	if s.SignedURLSeconds > 0 {
		return s.GetSignedURL(ctx, objectPath, s.SignedURLSeconds)
	}
	return s.GetPublicURL(objectPath), nil
}

// GetPublicURL returns the public URL for a file
func (s *Storage) GetPublicURL(objectPath string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.url, s.Bucket, objectPath)
}

// GetSignedURL creates a signed URL for temporary access
func (s *Storage) GetSignedURL(ctx context.Context, objectPath string, expiresIn int) (string, error) {
	url := fmt.Sprintf("%s/storage/v1/object/sign/%s/%s", s.url, s.Bucket, objectPath)

	body := fmt.Sprintf(`{"expiresIn": %d}`, expiresIn)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBufferString(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to get signed URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", &StatusError{Op: "sign", StatusCode: resp.StatusCode, Body: truncate(string(body), 200)}
	}

	var result struct {
		SignedURL string `json:"signedURL"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to parse signed URL response: %w", err)
	}

	return s.url + "/storage/v1" + result.SignedURL, nil
}

func (s *Storage) objectURL(objectPath string) string {
	return fmt.Sprintf("%s/storage/v1/object/%s/%s", s.url, s.Bucket, objectPath)
}

func isRetryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return isRetryableStatus(se.StatusCode)
	}
	return retry.IsNetworkError(err)
}

// isRetryableStatus checks if an HTTP status code is worth retrying
func isRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || // 429
		status == http.StatusRequestTimeout || // 408
		status == http.StatusBadGateway || // 502
		status == http.StatusServiceUnavailable || // 503
		status == http.StatusGatewayTimeout // 504
}

// truncate limits a string to maxLen characters for log output
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
