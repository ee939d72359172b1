// Package fetch provides the polite, cache-aware HTTP client used by every
// network-facing stage: conditional GETs with ETag/Last-Modified validators,
// per-host pacing, bounded retry with backoff, and a robots.txt gate.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/temoto/robotstxt"

	"newsbrief/internal/logger"
)

const (
	defaultRequestsPerSec = 2.0
	defaultMaxAttempts    = 3
	defaultTimeout        = 20 * time.Second

	baseBackoff = 500 * time.Millisecond
	maxBackoff  = 10 * time.Second
)

// ValidatorCache persists ETag/Last-Modified pairs per URL between runs.
// The SQLite store satisfies this.
type ValidatorCache interface {
	HTTPCache(url string) (etag, lastModified string, err error)
	UpsertHTTPCache(url, etag, lastModified string) error
}

// Result is the outcome of a fetch. NotModified is set on HTTP 304, in which
// case Body is nil and the cached copy is still current.
type Result struct {
	StatusCode   int
	Body         []byte
	NotModified  bool
	ETag         string
	LastModified string
}

// Options configures a Client. Zero values fall back to defaults.
type Options struct {
	UserAgent      string
	RequestsPerSec float64
	MaxAttempts    int
	Timeout        time.Duration
}

type robotsEntry struct {
	etag         string
	lastModified string
	data         *robotstxt.RobotsData
}

// Client is the shared fetch client. It owns the per-host pacing state and
// the robots memo; pass one instance to every component that fetches.
type Client struct {
	httpClient  *http.Client
	cache       ValidatorCache
	userAgent   string
	minInterval time.Duration
	maxAttempts int
	log         zerolog.Logger

	mu          sync.Mutex
	lastRequest map[string]time.Time

	robotsMu sync.Mutex
	robots   map[string]robotsEntry
}

// NewClient builds a Client backed by the given validator cache.
func NewClient(cache ValidatorCache, opts Options) *Client {
	rps := opts.RequestsPerSec
	if rps <= 0 {
		rps = defaultRequestsPerSec
	}
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = "newsbrief/1.0"
	}
	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		cache:       cache,
		userAgent:   ua,
		minInterval: time.Duration(float64(time.Second) / rps),
		maxAttempts: attempts,
		log:         logger.With("fetch"),
		lastRequest: make(map[string]time.Time),
		robots:      make(map[string]robotsEntry),
	}
}

// pace blocks until at least the minimum inter-request interval has elapsed
// for the URL's host. Requests are delayed, never dropped.
func (c *Client) pace(host string) {
	for {
		c.mu.Lock()
		last, seen := c.lastRequest[host]
		now := time.Now()
		if !seen || now.Sub(last) >= c.minInterval {
			c.lastRequest[host] = now
			c.mu.Unlock()
			return
		}
		wait := c.minInterval - now.Sub(last)
		c.mu.Unlock()
		time.Sleep(wait)
	}
}

// Fetch performs a conditional GET. On 200 the stored validators for the URL
// are refreshed; on 304 the cache is left untouched and NotModified is set.
// Transient failures (network errors, 5xx, 429) are retried with exponential
// backoff plus jitter; other 4xx fail immediately.
func (c *Client) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %s: %w", rawURL, err)
	}

	etag, lastModified, err := c.cache.HTTPCache(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to read validator cache for %s: %w", rawURL, err)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.backoffFor(attempt, lastErr)):
			}
		}

		c.pace(u.Host)

		res, retryable, err := c.doOnce(ctx, rawURL, etag, lastModified)
		if err == nil {
			return res, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
		c.log.Warn().Str("url", rawURL).Int("attempt", attempt+1).Err(err).Msg("fetch attempt failed")
	}
	return nil, fmt.Errorf("fetch %s failed after %d attempts: %w", rawURL, c.maxAttempts, lastErr)
}

// retryAfterError carries a server-requested delay from a 429 response.
type retryAfterError struct {
	status int
	delay  time.Duration
}

func (e *retryAfterError) Error() string {
	return fmt.Sprintf("status %d (retry after %s)", e.status, e.delay)
}

func (c *Client) backoffFor(attempt int, lastErr error) time.Duration {
	if ra, ok := lastErr.(*retryAfterError); ok && ra.delay > 0 {
		if ra.delay > maxBackoff {
			return maxBackoff
		}
		return ra.delay
	}
	backoff := baseBackoff << uint(attempt-1)
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	// Full jitter keeps concurrent retries from synchronizing.
	return time.Duration(rand.Int63n(int64(backoff)) + int64(backoff)/2)
}

func (c *Client) doOnce(ctx context.Context, rawURL, etag, lastModified string) (*Result, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request for %s: %w", rawURL, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if lastModified != "" {
		req.Header.Set("If-Modified-Since", lastModified)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("request to %s failed: %w", rawURL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return &Result{StatusCode: resp.StatusCode, NotModified: true}, false, nil

	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, true, fmt.Errorf("failed to read body from %s: %w", rawURL, err)
		}
		newETag := resp.Header.Get("ETag")
		newLastModified := resp.Header.Get("Last-Modified")
		if newETag != "" || newLastModified != "" {
			if err := c.cache.UpsertHTTPCache(rawURL, newETag, newLastModified); err != nil {
				c.log.Warn().Str("url", rawURL).Err(err).Msg("failed to store validators")
			}
		}
		return &Result{
			StatusCode:   resp.StatusCode,
			Body:         body,
			ETag:         newETag,
			LastModified: newLastModified,
		}, false, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		delay := parseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, true, &retryAfterError{status: resp.StatusCode, delay: delay}

	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("server error %d from %s", resp.StatusCode, rawURL)

	default:
		// Remaining 4xx are permanent: retrying will not help.
		return nil, false, &PermanentError{Status: resp.StatusCode, URL: rawURL}
	}
}

// PermanentError is a non-retryable HTTP failure (4xx other than 429).
type PermanentError struct {
	Status int
	URL    string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("status %d from %s", e.Status, e.URL)
}

// IsPermanent reports whether err is a permanent fetch failure, letting
// callers stop reattempting the URL on later runs.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// RobotsAllowed reports whether the user agent may fetch the URL according to
// the host's robots.txt. The robots document is fetched through the same
// client (so it shares pacing, retries and the validator cache) and the
// parsed result is memoized per host keyed by the document's validators.
// Hosts whose robots.txt cannot be fetched are treated as permissive.
func (c *Client) RobotsAllowed(ctx context.Context, rawURL, userAgent string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return true
	}
	robotsURL := u.Scheme + "://" + u.Host + "/robots.txt"

	res, err := c.Fetch(ctx, robotsURL)
	if err != nil {
		return true
	}

	c.robotsMu.Lock()
	defer c.robotsMu.Unlock()

	if res.NotModified {
		if entry, ok := c.robots[u.Host]; ok {
			return entry.data.TestAgent(u.Path, userAgent)
		}
		return true
	}

	data, err := robotstxt.FromStatusAndBytes(res.StatusCode, res.Body)
	if err != nil {
		return true
	}
	c.robots[u.Host] = robotsEntry{etag: res.ETag, lastModified: res.LastModified, data: data}
	return data.TestAgent(u.Path, userAgent)
}

// UserAgent returns the configured user agent string, for callers that need
// to pass it to RobotsAllowed.
func (c *Client) UserAgent() string {
	return c.userAgent
}
