package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/trobanga/gdmclip/internal/lib"
	"github.com/trobanga/gdmclip/internal/models"
)

// maxProjectBytes bounds a fetched project document
const maxProjectBytes = 32 << 20

// HTTPProjectStore reads a project document from an HTTP catalogue.
// It is read-only: the pipeline never writes back to its source.
type HTTPProjectStore struct {
	url         string
	client      *http.Client
	retryConfig lib.RetryConfig
	logger      *lib.Logger
}

// NewHTTPProjectStore returns the store for <baseURL>/<projectID>.json
func NewHTTPProjectStore(baseURL, projectID string, timeout time.Duration, retry models.RetryConfig, logger *lib.Logger) *HTTPProjectStore {
	if logger == nil {
		logger = lib.DefaultLogger
	}
	return &HTTPProjectStore{
		url:         strings.TrimRight(baseURL, "/") + "/" + url.PathEscape(projectID) + ".json",
		client:      &http.Client{Timeout: timeout},
		retryConfig: lib.NewRetryConfigFromModel(retry),
		logger:      logger,
	}
}

// Location returns the document URL
func (s *HTTPProjectStore) Location() string {
	return s.url
}

// Save is not supported
func (s *HTTPProjectStore) Save(context.Context, []byte) error {
	return fmt.Errorf("project catalogue %s is read-only", s.url)
}

// Load fetches the document, retrying transient failures.
// 5xx and 429 responses are transient; other 4xx responses fail immediately.
func (s *HTTPProjectStore) Load(ctx context.Context) ([]byte, error) {
	var data []byte

	fetch := func(int) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		start := time.Now()
		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		s.logger.Debug("Catalogue response", "url", s.url, "status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())

		if resp.StatusCode != http.StatusOK {
			return &httpStatusError{status: resp.StatusCode, text: resp.Status}
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxProjectBytes+1))
		if err != nil {
			return fmt.Errorf("failed to read project document: %w", err)
		}
		if len(body) > maxProjectBytes {
			return fmt.Errorf("project document exceeds %d bytes", maxProjectBytes)
		}
		data = body
		return nil
	}

	retrier := lib.Retrier{
		Config:    s.retryConfig,
		Retryable: isTransientHTTPError,
		OnRetry: func(attempt int, err error) {
			lib.LogRetry(s.logger, "fetch "+s.url, attempt, s.retryConfig.MaxAttempts, err)
		},
	}
	if err := retrier.Do(ctx, fetch); err != nil {
		return nil, fmt.Errorf("failed to fetch project %s: %w", s.url, err)
	}
	return data, nil
}

type httpStatusError struct {
	status int
	text   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.status, e.text)
}

func isTransientHTTPError(err error) bool {
	if statusErr, ok := err.(*httpStatusError); ok {
		return statusErr.status >= 500 || statusErr.status == http.StatusTooManyRequests
	}
	return lib.IsNetworkError(err)
}
