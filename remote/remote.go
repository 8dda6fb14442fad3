// Package remote fetches experiment catalogs from a bucket/collection
// style HTTP records endpoint.
//
// The client is the stock CatalogSource implementation for the root
// package: one GET per fetch, raw payload bytes out, no retries.
// Server-requested pauses (Backoff and Retry-After headers) are remembered
// and surface as *BackoffError until they expire; scheduling the next
// attempt is the caller's job, the client just refuses to hit the network
// meanwhile.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Defaults for the record-set address within the settings server.
const (
	DefaultBucket     = "main"
	DefaultCollection = "fieldtrial-experiments"
)

const (
	defaultTimeout = 30 * time.Second

	// maxResponseBytes bounds how much catalog we are willing to buffer.
	maxResponseBytes = 8 << 20
)

// BackoffError reports a server-requested pause. FetchCatalog keeps
// returning it, without touching the network, until RetryAfter has
// elapsed.
type BackoffError struct {
	RetryAfter time.Duration
}

func (e *BackoffError) Error() string {
	return fmt.Sprintf("remote: server requested backoff, retry in %s", e.RetryAfter.Round(time.Second))
}

// StatusError reports a non-success response that carried no backoff
// guidance.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote: %s returned status %d", e.URL, e.StatusCode)
}

// Config describes the settings server a Client talks to.
type Config struct {
	// BaseURL is the server root, e.g. "https://settings.example.net/v1".
	BaseURL string

	// Bucket and Collection address the record set. They default to
	// DefaultBucket and DefaultCollection.
	Bucket     string
	Collection string

	// HTTPClient overrides the transport. Defaults to a client with a
	// 30 second timeout.
	HTTPClient *http.Client

	// Logger receives fetch diagnostics. Defaults to slog.Default().
	Logger *slog.Logger

	// Now is the clock backoff bookkeeping runs on. Defaults to time.Now.
	Now func() time.Time
}

// Client fetches catalog payloads over HTTP. Safe for concurrent use.
type Client struct {
	url    string
	http   *http.Client
	logger *slog.Logger
	now    func() time.Time

	mu           sync.Mutex
	backoffUntil time.Time
}

// NewClient validates cfg and returns a ready client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("remote: BaseURL is required")
	}
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultBucket
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Client{
		url: fmt.Sprintf("%s/buckets/%s/collections/%s/records",
			strings.TrimSuffix(cfg.BaseURL, "/"),
			url.PathEscape(cfg.Bucket),
			url.PathEscape(cfg.Collection)),
		http:   cfg.HTTPClient,
		logger: cfg.Logger,
		now:    cfg.Now,
	}, nil
}

// FetchCatalog performs one GET against the records endpoint and returns
// the raw response payload. Decoding and validation happen elsewhere; the
// client does not look inside the bytes.
func (c *Client) FetchCatalog(ctx context.Context) ([]byte, error) {
	if wait, paused := c.pause(); paused {
		return nil, &BackoffError{RetryAfter: wait}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build catalog request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch catalog: %w", err)
	}
	defer resp.Body.Close()

	// Servers shed load with a Backoff header on otherwise-normal
	// responses; record it before looking at the status.
	if wait, ok := c.headerSeconds(resp.Header, "Backoff"); ok {
		c.setPause(wait)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		if wait, ok := c.headerSeconds(resp.Header, "Retry-After"); ok {
			c.setPause(wait)
			return nil, &BackoffError{RetryAfter: wait}
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, URL: c.url}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read catalog response: %w", err)
	}
	if len(body) > maxResponseBytes {
		return nil, fmt.Errorf("catalog response exceeds %d bytes", maxResponseBytes)
	}
	return body, nil
}

// pause reports the remaining server-requested pause, if one is active.
func (c *Client) pause() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	remaining := c.backoffUntil.Sub(c.now())
	if remaining <= 0 {
		return 0, false
	}
	return remaining, true
}

func (c *Client) setPause(wait time.Duration) {
	c.logger.Warn("server requested backoff", "seconds", int(wait.Seconds()))
	c.mu.Lock()
	defer c.mu.Unlock()
	until := c.now().Add(wait)
	if until.After(c.backoffUntil) {
		c.backoffUntil = until
	}
}

// headerSeconds reads a pause header, accepting both delta-seconds and the
// HTTP-date form Retry-After allows.
func (c *Client) headerSeconds(h http.Header, key string) (time.Duration, bool) {
	v := h.Get(key)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(v); err == nil {
		if wait := at.Sub(c.now()); wait > 0 {
			return wait, true
		}
	}
	return 0, false
}
