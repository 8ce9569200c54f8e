package source

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linksentry/linksentry/internal/cache"
)

func vtServer(t *testing.T, status int, body string, requests *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests != nil {
			requests.Add(1)
		}
		assert.Equal(t, "test-key", r.Header.Get("x-apikey"))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
}

func TestVirusTotal_Flagged(t *testing.T) {
	srv := vtServer(t, http.StatusOK, `{"data":{"attributes":{"last_analysis_stats":{"malicious":7,"harmless":60}}}}`, nil)
	defer srv.Close()

	vt := NewVirusTotal("test-key", cache.NewStore(""), VirusTotalOptions{Endpoint: srv.URL}, nil)
	res := vt.Check(context.Background(), "http://bad.example/")

	assert.Equal(t, OutcomeUnsafe, res.Outcome)
	assert.Equal(t, "VirusTotal (Flagged by 7 vendors)", res.Source)
}

func TestVirusTotal_Clean(t *testing.T) {
	srv := vtServer(t, http.StatusOK, `{"data":{"attributes":{"last_analysis_stats":{"malicious":0,"harmless":70}}}}`, nil)
	defer srv.Close()

	vt := NewVirusTotal("test-key", cache.NewStore(""), VirusTotalOptions{Endpoint: srv.URL}, nil)
	res := vt.Check(context.Background(), "http://ok.example/")

	assert.Equal(t, OutcomeSafe, res.Outcome)
}

func TestVirusTotal_RequestEncoding(t *testing.T) {
	rawURL := "http://ok.example/path?q=1"
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"data":{"attributes":{"last_analysis_stats":{"malicious":0}}}}`))
	}))
	defer srv.Close()

	vt := NewVirusTotal("key", cache.NewStore(""), VirusTotalOptions{Endpoint: srv.URL}, nil)
	vt.Check(context.Background(), rawURL)

	// URL-safe base64 without padding.
	assert.Equal(t, "/"+base64.RawURLEncoding.EncodeToString([]byte(rawURL)), gotPath)
}

func TestVirusTotal_SecondLookupServedFromCache(t *testing.T) {
	var requests atomic.Int64
	srv := vtServer(t, http.StatusOK, `{"data":{"attributes":{"last_analysis_stats":{"malicious":3}}}}`, &requests)
	defer srv.Close()

	vt := NewVirusTotal("test-key", cache.NewStore(""), VirusTotalOptions{Endpoint: srv.URL}, nil)

	first := vt.Check(context.Background(), "http://bad.example/")
	second := vt.Check(context.Background(), "http://bad.example/")

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), requests.Load(), "second lookup must not hit the network")
}

func TestVirusTotal_NotFoundIsUnknownAndUncached(t *testing.T) {
	var requests atomic.Int64
	srv := vtServer(t, http.StatusNotFound, `{"error":{"code":"NotFoundError"}}`, &requests)
	defer srv.Close()

	c := cache.NewStore("")
	vt := NewVirusTotal("test-key", c, VirusTotalOptions{Endpoint: srv.URL}, nil)

	res := vt.Check(context.Background(), "http://unseen.example/")
	assert.Equal(t, OutcomeUnknown, res.Outcome)
	assert.Equal(t, 0, c.Len(), "a not-yet-analyzed response must not be cached")

	// No cache entry means the next lookup goes to the network again.
	vt.Check(context.Background(), "http://unseen.example/")
	assert.Equal(t, int64(2), requests.Load())
}

func TestVirusTotal_UnreachableIsUnknown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := cache.NewStore("")
	vt := NewVirusTotal("test-key", c, VirusTotalOptions{Endpoint: srv.URL}, nil)
	res := vt.Check(context.Background(), "http://ok.example/")

	assert.Equal(t, OutcomeUnknown, res.Outcome)
	assert.Equal(t, 0, c.Len())
}

func TestVirusTotal_CachePersistsDefinitiveResults(t *testing.T) {
	srv := vtServer(t, http.StatusOK, `{"data":{"attributes":{"last_analysis_stats":{"malicious":0}}}}`, nil)
	defer srv.Close()

	c := cache.NewStore("")
	vt := NewVirusTotal("test-key", c, VirusTotalOptions{Endpoint: srv.URL}, nil)
	vt.Check(context.Background(), "http://ok.example/")

	entry, ok := c.Get("http://ok.example/")
	require.True(t, ok)
	assert.True(t, entry.Safe)
}
