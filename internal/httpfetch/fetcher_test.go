package httpfetch

import (
	"compress/gzip"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/spa1teN/tausendsassa/internal/faults"
	"github.com/spa1teN/tausendsassa/internal/models"
)

// memCache is an in-memory CacheStore for tests.
type memCache struct {
	mu      sync.Mutex
	entries map[string]models.FeedHTTPCache
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string]models.FeedHTTPCache)}
}

func (m *memCache) GetFeedHTTPCache(_ context.Context, url string) (*models.FeedHTTPCache, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[url]; ok {
		c := e
		return &c, nil
	}
	return nil, nil
}

func (m *memCache) SetFeedHTTPCache(_ context.Context, c *models.FeedHTTPCache) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.LastCheck = time.Now()
	m.entries[c.URL] = *c
	return nil
}

func testFetcher(cache CacheStore) *Fetcher {
	return New(Config{
		Timeout:        5 * time.Second,
		MaxConnections: 10,
		MaxPerHost:     5,
		UserAgent:      "test-agent/1.0",
		Cache:          cache,
		Logger:         slog.New(slog.NewTextHandler(testWriter{}, nil)),
	})
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestFetch_ChangedThenUnchangedThenNotModified(t *testing.T) {
	const body = `<rss><channel><title>t</title></channel></rss>`
	var requests int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if r.Header.Get("If-None-Match") == `"v1"` && requests >= 3 {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Etag", `"v1"`)
		w.Write([]byte(body))
	}))
	defer srv.Close()

	cache := newMemCache()
	f := testFetcher(cache)
	ctx := context.Background()

	// First fetch: no validators stored yet.
	res, err := f.Fetch(ctx, srv.URL)
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if res.Status != StatusChanged {
		t.Fatalf("first fetch status = %v, want Changed", res.Status)
	}
	if string(res.Body) != body {
		t.Fatalf("first fetch body = %q", res.Body)
	}

	// Second fetch: server answers 200 with identical content.
	res, err = f.Fetch(ctx, srv.URL)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if res.Status != StatusUnchanged {
		t.Fatalf("second fetch status = %v, want Unchanged", res.Status)
	}
	if res.Body == nil {
		t.Fatal("Unchanged result must still carry the body")
	}

	// Third fetch: server honors the validator with 304.
	res, err = f.Fetch(ctx, srv.URL)
	if err != nil {
		t.Fatalf("third fetch: %v", err)
	}
	if res.Status != StatusNotModified {
		t.Fatalf("third fetch status = %v, want NotModified", res.Status)
	}
	if res.Body != nil {
		t.Fatal("NotModified result must not carry a body")
	}
}

func TestFetch_SendsConditionalHeaders(t *testing.T) {
	var gotETag, gotModified string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotETag = r.Header.Get("If-None-Match")
		gotModified = r.Header.Get("If-Modified-Since")
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	cache := newMemCache()
	cache.SetFeedHTTPCache(context.Background(), &models.FeedHTTPCache{
		URL:          srv.URL,
		ETag:         `"abc"`,
		LastModified: "Mon, 02 Jan 2006 15:04:05 GMT",
		ContentHash:  "deadbeef",
	})

	f := testFetcher(cache)
	res, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if res.Status != StatusNotModified {
		t.Fatalf("status = %v, want NotModified", res.Status)
	}
	if gotETag != `"abc"` {
		t.Errorf("If-None-Match = %q, want %q", gotETag, `"abc"`)
	}
	if gotModified != "Mon, 02 Jan 2006 15:04:05 GMT" {
		t.Errorf("If-Modified-Since = %q", gotModified)
	}
}

func TestFetch_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   faults.Kind
	}{
		{"server error", http.StatusInternalServerError, faults.KindTransient},
		{"rate limited", http.StatusTooManyRequests, faults.KindTransient},
		{"gone", http.StatusGone, faults.KindPermanentSource},
		{"forbidden", http.StatusForbidden, faults.KindPermanentSource},
		{"missing", http.StatusNotFound, faults.KindNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			f := testFetcher(newMemCache())
			_, err := f.Fetch(context.Background(), srv.URL)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := faults.KindOf(err); got != tt.want {
				t.Errorf("kind = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGet_DecodesGzip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		zw := gzip.NewWriter(w)
		zw.Write([]byte("hello world"))
		zw.Close()
	}))
	defer srv.Close()

	f := testFetcher(newMemCache())
	body, err := f.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(body) != "hello world" {
		t.Errorf("body = %q, want %q", body, "hello world")
	}
}

func TestFetch_SetsUserAgent(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := testFetcher(newMemCache())
	if _, err := f.Fetch(context.Background(), srv.URL); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotUA != "test-agent/1.0" {
		t.Errorf("User-Agent = %q", gotUA)
	}
}
