// Package pastebin externalizes overflowing message text. Two backends
// mirror the deployment styles seen in the wild: POSTing to a paste service
// and dropping files into a directory served by a web server.
package pastebin

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Uploader stores a text blob and returns a public URL for it. Failures are
// non-fatal to the caller; overflow degrades to hard truncation.
type Uploader interface {
	Upload(ctx context.Context, text string) (string, error)
}

const uploadRetries = 2

// HTTPClient POSTs the text to a paste endpoint and expects the paste URL
// in the response body.
type HTTPClient struct {
	endpoint  string
	authToken string
	hc        *http.Client
	logger    *slog.Logger
}

// NewHTTPClient creates a paste client for the given endpoint.
func NewHTTPClient(endpoint, authToken string, logger *slog.Logger) *HTTPClient {
	return &HTTPClient{
		endpoint:  endpoint,
		authToken: authToken,
		hc:        &http.Client{Timeout: 10 * time.Second},
		logger:    logger,
	}
}

// Upload posts the text. Transient failures (network, 5xx, 429) are retried
// a couple of times with a short linear backoff; the caller treats any
// remaining error as a degrade signal, not a delivery failure.
func (c *HTTPClient) Upload(ctx context.Context, text string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= uploadRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(text))
		if err != nil {
			return "", fmt.Errorf("build paste request: %w", err)
		}
		req.Header.Set("Content-Type", "text/plain; charset=utf-8")
		if c.authToken != "" {
			req.Header.Set("Authorization", "Bearer "+c.authToken)
		}

		resp, err := c.hc.Do(req)
		if err != nil {
			lastErr = err
			c.logger.Warn("paste upload failed, will retry", "attempt", attempt+1, "err", err)
			continue
		}
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("paste service HTTP %d", resp.StatusCode)
			c.logger.Warn("paste service error, will retry", "status", resp.StatusCode)
			continue
		}
		if resp.StatusCode >= 400 {
			return "", fmt.Errorf("paste service HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		if readErr != nil {
			return "", fmt.Errorf("read paste response: %w", readErr)
		}

		pasteURL := strings.TrimSpace(string(body))
		if _, err := url.ParseRequestURI(pasteURL); err != nil {
			return "", fmt.Errorf("paste service returned invalid url %q", pasteURL)
		}
		return pasteURL, nil
	}
	return "", fmt.Errorf("paste upload failed after %d attempts: %w", uploadRetries+1, lastErr)
}

// FileStore writes pastes into a directory served by an external web server
// and links them below a public base URL.
type FileStore struct {
	dir     string
	baseURL string
	logger  *slog.Logger
}

// NewFileStore creates a file-backed paste store.
func NewFileStore(dir, baseURL string, logger *slog.Logger) *FileStore {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &FileStore{dir: dir, baseURL: baseURL, logger: logger}
}

func (s *FileStore) Upload(ctx context.Context, text string) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("paste dir: %w", err)
	}
	name := uuid.New().String() + ".txt"
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("write paste: %w", err)
	}
	return s.baseURL + url.PathEscape(name), nil
}
