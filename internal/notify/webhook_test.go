package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linksentry/linksentry/pkg/types"
)

func TestDispatcher_RegisterDefaults(t *testing.T) {
	d := NewDispatcher()

	err := d.Register(&WebhookConfig{
		Name:    "test",
		URL:     "http://example.com/webhook",
		Events:  []string{types.EventVerdictRecorded, types.EventHistoryCleared},
		Enabled: true,
	})
	require.NoError(t, err)

	got := d.Get("test")
	require.NotNil(t, got)
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, 1, got.BatchSize)
	assert.Equal(t, 5*time.Second, got.FlushInterval)
	assert.Equal(t, 10*time.Second, got.Timeout)
	assert.True(t, got.eventSet[types.EventVerdictRecorded])
}

func TestDispatcher_RegisterInvalidTemplate(t *testing.T) {
	d := NewDispatcher()

	err := d.Register(&WebhookConfig{
		Name:     "test",
		URL:      "http://example.com/webhook",
		Template: `{{.Invalid`,
		Enabled:  true,
	})
	assert.Error(t, err)
}

func TestDispatcher_Unregister(t *testing.T) {
	d := NewDispatcher()
	require.NoError(t, d.Register(&WebhookConfig{Name: "test", URL: "http://example.com", Enabled: true}))

	d.Unregister("test")
	assert.Nil(t, d.Get("test"))
	assert.Empty(t, d.List())
}

func TestWebhookConfig_MatchesEvent(t *testing.T) {
	tests := []struct {
		name      string
		events    []string
		eventType string
		want      bool
	}{
		{"empty events matches all", nil, types.EventVerdictRecorded, true},
		{"wildcard matches all", []string{"*"}, types.EventHistoryCleared, true},
		{"exact match", []string{types.EventVerdictRecorded}, types.EventVerdictRecorded, true},
		{"no match", []string{types.EventVerdictRecorded}, types.EventFavouriteAdded, false},
		{"prefix wildcard match", []string{"history_*"}, types.EventHistoryReconciled, true},
		{"prefix wildcard no match", []string{"history_*"}, types.EventVerdictRecorded, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &WebhookConfig{eventSet: make(map[string]bool)}
			for _, e := range tt.events {
				cfg.eventSet[e] = true
			}
			assert.Equal(t, tt.want, cfg.matchesEvent(tt.eventType))
		})
	}
}

func TestDispatcher_Dispatch(t *testing.T) {
	var mu sync.Mutex
	var received []types.Event

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var ev types.Event
		require.NoError(t, json.Unmarshal(body, &ev))
		mu.Lock()
		received = append(received, ev)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := NewDispatcher()
	require.NoError(t, d.Register(&WebhookConfig{
		Name:      "test",
		URL:       server.URL,
		Events:    []string{types.EventVerdictRecorded},
		BatchSize: 1,
		Enabled:   true,
	}))

	d.Dispatch(context.Background(), types.Event{
		ID:        "ev1",
		Type:      types.EventVerdictRecorded,
		Candidate: "http://a.example/",
	})

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, "ev1", received[0].ID)
	assert.Equal(t, "http://a.example/", received[0].Candidate)
}

func TestDispatcher_DispatchFilteredOut(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := NewDispatcher()
	require.NoError(t, d.Register(&WebhookConfig{
		Name:      "test",
		URL:       server.URL,
		Events:    []string{types.EventVerdictRecorded},
		BatchSize: 1,
		Enabled:   true,
	}))

	d.Dispatch(context.Background(), types.Event{Type: types.EventFavouriteAdded})
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, int32(0), calls.Load())
}

func TestDispatcher_DispatchDisabled(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := NewDispatcher()
	require.NoError(t, d.Register(&WebhookConfig{
		Name:      "test",
		URL:       server.URL,
		Events:    []string{"*"},
		BatchSize: 1,
		Enabled:   false,
	}))

	d.Dispatch(context.Background(), types.Event{Type: types.EventVerdictRecorded})
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, int32(0), calls.Load())
}

func TestDispatcher_Template(t *testing.T) {
	var mu sync.Mutex
	var receivedBody string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		receivedBody = string(body)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := NewDispatcher()
	require.NoError(t, d.Register(&WebhookConfig{
		Name:      "test",
		URL:       server.URL,
		Template:  `{"type": "{{.Event.Type}}", "candidate": "{{.Event.Candidate}}"}`,
		BatchSize: 1,
		Enabled:   true,
	}))

	d.Dispatch(context.Background(), types.Event{
		Type:      types.EventVerdictRecorded,
		Candidate: "http://a.example/",
	})
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	var parsed map[string]string
	require.NoError(t, json.Unmarshal([]byte(receivedBody), &parsed))
	assert.Equal(t, types.EventVerdictRecorded, parsed["type"])
	assert.Equal(t, "http://a.example/", parsed["candidate"])
}

func TestDispatcher_Batching(t *testing.T) {
	var mu sync.Mutex
	var batches [][]types.Event

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var events []types.Event
		require.NoError(t, json.Unmarshal(body, &events))
		mu.Lock()
		batches = append(batches, events)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := NewDispatcher()
	require.NoError(t, d.Register(&WebhookConfig{
		Name:          "test",
		URL:           server.URL,
		BatchSize:     3,
		FlushInterval: time.Hour,
		Enabled:       true,
	}))

	for i := 0; i < 3; i++ {
		d.Dispatch(context.Background(), types.Event{ID: "ev" + string(rune('0'+i)), Type: types.EventVerdictRecorded})
	}
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 3)
}

func TestDispatcher_Flush(t *testing.T) {
	var mu sync.Mutex
	var received int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		received++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := NewDispatcher()
	require.NoError(t, d.Register(&WebhookConfig{
		Name:          "test",
		URL:           server.URL,
		BatchSize:     10,
		FlushInterval: time.Hour,
		Enabled:       true,
	}))

	d.Dispatch(context.Background(), types.Event{ID: "ev1", Type: types.EventVerdictRecorded})
	d.Flush(context.Background())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, received)
}

func TestDispatcher_Retry(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := NewDispatcher()
	require.NoError(t, d.Register(&WebhookConfig{
		Name:       "test",
		URL:        server.URL,
		BatchSize:  1,
		RetryCount: 3,
		RetryDelay: 10 * time.Millisecond,
		Enabled:    true,
	}))

	d.Dispatch(context.Background(), types.Event{Type: types.EventVerdictRecorded})
	time.Sleep(200 * time.Millisecond)

	assert.Equal(t, int32(3), attempts.Load())
}

func TestDispatcher_Headers(t *testing.T) {
	var mu sync.Mutex
	var headers http.Header

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		headers = r.Header.Clone()
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := NewDispatcher()
	require.NoError(t, d.Register(&WebhookConfig{
		Name: "test",
		URL:  server.URL,
		Headers: map[string]string{
			"X-Custom-Header": "custom-value",
			"Authorization":   "Bearer token123",
		},
		BatchSize: 1,
		Enabled:   true,
	}))

	d.Dispatch(context.Background(), types.Event{Type: types.EventVerdictRecorded})
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "custom-value", headers.Get("X-Custom-Header"))
	assert.Equal(t, "Bearer token123", headers.Get("Authorization"))
	assert.Equal(t, "application/json", headers.Get("Content-Type"))
}

func TestSlackWebhook(t *testing.T) {
	cfg := SlackWebhook("slack-alerts", "https://hooks.slack.com/test", []string{"*"})

	assert.Equal(t, "slack-alerts", cfg.Name)
	assert.NotEmpty(t, cfg.Template)
	assert.Equal(t, 1, cfg.BatchSize)
	assert.True(t, cfg.Enabled)
}

func TestGenericWebhook(t *testing.T) {
	cfg := GenericWebhook("generic", "http://example.com/events", []string{"history_*"})

	assert.Equal(t, "generic", cfg.Name)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.FlushInterval)
}
