// Package httpfetch implements the shared outbound HTTP pool with conditional
// GET support. Every external request the engine makes (feeds, calendars,
// geocoding, thumbnails, webhooks) flows through one Fetcher so connection
// limits are respected. Conditional requests use ETag/Last-Modified validators
// plus a full-body content hash, both persisted per URL.
package httpfetch

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/spa1teN/tausendsassa/internal/faults"
	"github.com/spa1teN/tausendsassa/internal/models"
)

// CacheStore is the slice of the persistent store the fetcher needs for its
// per-URL cache entries.
type CacheStore interface {
	GetFeedHTTPCache(ctx context.Context, url string) (*models.FeedHTTPCache, error)
	SetFeedHTTPCache(ctx context.Context, c *models.FeedHTTPCache) error
}

// Status describes the outcome of a conditional fetch.
type Status int

const (
	// StatusChanged: 200 with new content; validators were persisted before
	// the result was returned.
	StatusChanged Status = iota
	// StatusUnchanged: 200 but the body hash equals the stored hash. Callers
	// treat it like NotModified except that a body is available.
	StatusUnchanged
	// StatusNotModified: the server answered 304 to our conditional request.
	// No body is available.
	StatusNotModified
)

// Result is a conditional fetch outcome. Body is nil for StatusNotModified.
type Result struct {
	Status Status
	Body   []byte
	Hash   string
}

// Config carries the pool settings from the process configuration.
type Config struct {
	Timeout        time.Duration
	MaxConnections int
	MaxPerHost     int
	UserAgent      string
	Cache          CacheStore
	Logger         *slog.Logger
}

// Fetcher is the process-wide HTTP client. Safe for concurrent use.
type Fetcher struct {
	client    *http.Client
	cache     CacheStore
	userAgent string
	logger    *slog.Logger
}

// New builds the pooled client: connections per host capped at MaxPerHost,
// idle connections capped at MaxConnections (active connections across all
// hosts are not capped), 30 s keepalive, a 5-minute DNS cache, and
// gzip/deflate accepted.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 100
	}
	if cfg.MaxPerHost <= 0 {
		cfg.MaxPerHost = 10
	}

	dialer := &net.Dialer{
		Timeout:   cfg.Timeout / 3,
		KeepAlive: 30 * time.Second,
	}
	resolver := newCachingResolver(5 * time.Minute)

	transport := &http.Transport{
		DialContext:           resolver.dialContext(dialer),
		MaxIdleConns:          cfg.MaxConnections,
		MaxConnsPerHost:       cfg.MaxPerHost,
		MaxIdleConnsPerHost:   cfg.MaxPerHost,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout / 2,
		// The stdlib only decompresses transparently when it added the header
		// itself; we advertise gzip/deflate explicitly and decode in readBody.
		DisableCompression: true,
	}

	return &Fetcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		cache:     cfg.Cache,
		userAgent: cfg.UserAgent,
		logger:    cfg.Logger,
	}
}

// Do performs a plain request through the pool with the system User-Agent.
func (f *Fetcher) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, faults.New(faults.KindTransient, "http request", err)
	}
	return resp, nil
}

// Get performs a plain GET and returns the decoded body. Non-2xx statuses are
// classified into error kinds.
func (f *Fetcher) Get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", url, err)
	}
	req.Header.Set("Accept-Encoding", "gzip, deflate")

	resp, err := f.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, faults.Newf(faults.FromHTTPStatus(resp.StatusCode),
			"fetching "+url, "unexpected status %d", resp.StatusCode)
	}

	body, err := readBody(resp)
	if err != nil {
		return nil, faults.New(faults.KindTransient, "reading "+url, err)
	}
	return body, nil
}

// Fetch performs a conditional GET against url. It sends If-None-Match /
// If-Modified-Since from the stored cache entry, hashes the body on 200, and
// persists new validators before returning a Changed result.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Result, error) {
	var cached *models.FeedHTTPCache
	if f.cache != nil {
		var err error
		cached, err = f.cache.GetFeedHTTPCache(ctx, url)
		if err != nil {
			// Advisory cache (I6): degrade to a full fetch.
			f.logger.Warn("http cache read failed, fetching unconditionally",
				slog.String("url", url),
				slog.String("error", err.Error()),
			)
			cached = nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", url, err)
	}
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, text/calendar, */*")
	req.Header.Set("Accept-Encoding", "gzip, deflate")
	if cached != nil {
		if cached.ETag != "" {
			req.Header.Set("If-None-Match", cached.ETag)
		}
		if cached.LastModified != "" {
			req.Header.Set("If-Modified-Since", cached.LastModified)
		}
	}

	resp, err := f.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		f.touchCache(ctx, url, cached)
		return &Result{Status: StatusNotModified}, nil
	}

	if resp.StatusCode != http.StatusOK {
		return nil, faults.Newf(faults.FromHTTPStatus(resp.StatusCode),
			"fetching "+url, "unexpected status %d", resp.StatusCode)
	}

	body, err := readBody(resp)
	if err != nil {
		return nil, faults.New(faults.KindTransient, "reading "+url, err)
	}

	sum := sha256.Sum256(body)
	hash := hex.EncodeToString(sum[:])

	entry := &models.FeedHTTPCache{
		URL:          url,
		ETag:         resp.Header.Get("Etag"),
		LastModified: resp.Header.Get("Last-Modified"),
		ContentHash:  hash,
	}
	if f.cache != nil {
		if err := f.cache.SetFeedHTTPCache(ctx, entry); err != nil {
			f.logger.Warn("http cache write failed",
				slog.String("url", url),
				slog.String("error", err.Error()),
			)
		}
	}

	if cached != nil && cached.ContentHash == hash {
		return &Result{Status: StatusUnchanged, Body: body, Hash: hash}, nil
	}
	return &Result{Status: StatusChanged, Body: body, Hash: hash}, nil
}

// touchCache refreshes last_check after a 304 so sweeping keeps live entries.
func (f *Fetcher) touchCache(ctx context.Context, url string, cached *models.FeedHTTPCache) {
	if f.cache == nil || cached == nil {
		return
	}
	if err := f.cache.SetFeedHTTPCache(ctx, cached); err != nil {
		f.logger.Warn("http cache touch failed",
			slog.String("url", url),
			slog.String("error", err.Error()),
		)
	}
}

// readBody drains the response, decoding gzip/deflate content encodings.
func readBody(resp *http.Response) ([]byte, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("opening gzip body: %w", err)
		}
		defer zr.Close()
		return io.ReadAll(zr)
	case "deflate":
		fr := flate.NewReader(bytes.NewReader(raw))
		defer fr.Close()
		return io.ReadAll(fr)
	default:
		return raw, nil
	}
}
