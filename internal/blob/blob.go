// Package blob uploads binary blobs to the external blob store and returns
// retrievable URLs. The store's wire protocol is treated as opaque RPC.
package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// Uploader stores a blob and returns the URL it can be fetched from.
type Uploader interface {
	Upload(ctx context.Context, name, contentType string, data []byte) (string, error)
}

// HTTPUploader POSTs the blob to the configured endpoint and reads the URL
// from the JSON response.
type HTTPUploader struct {
	baseURL string
	client  *http.Client
}

func NewHTTPUploader(baseURL string) *HTTPUploader {
	return &HTTPUploader{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (u *HTTPUploader) Upload(ctx context.Context, name, contentType string, data []byte) (string, error) {
	endpoint := fmt.Sprintf("%s/upload?name=%s", u.baseURL, url.QueryEscape(name))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to build upload request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to upload blob: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("blob store returned %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode upload response: %w", err)
	}
	if result.URL == "" {
		return "", fmt.Errorf("blob store returned no url")
	}
	return result.URL, nil
}

// MemoryUploader keeps blobs in memory and hands out fake URLs. Used by
// tests and local mode.
type MemoryUploader struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func NewMemoryUploader() *MemoryUploader {
	return &MemoryUploader{blobs: make(map[string][]byte)}
}

func (u *MemoryUploader) Upload(ctx context.Context, name, contentType string, data []byte) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.blobs[name] = append([]byte(nil), data...)
	return "memory://blobs/" + url.PathEscape(name), nil
}

// Blob returns a stored blob by name.
func (u *MemoryUploader) Blob(name string) ([]byte, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()

	data, ok := u.blobs[name]
	return data, ok
}
