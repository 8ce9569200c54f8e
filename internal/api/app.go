package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/linksentry/linksentry/internal/config"
	"github.com/linksentry/linksentry/internal/history"
	"github.com/linksentry/linksentry/internal/notify"
	"github.com/linksentry/linksentry/pkg/types"
)

// Classifier produces a verdict for one candidate. Implemented by
// classify.Engine.
type Classifier interface {
	Classify(ctx context.Context, candidate string) types.Verdict
}

type App struct {
	cfg        *config.Config
	classifier Classifier
	store      *history.Store
	reconciler *history.Reconciler
	broker     *notify.Broker
	webhooks   *notify.Dispatcher

	// inFlight guards against concurrent scans of the same candidate.
	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewApp(cfg *config.Config, classifier Classifier, store *history.Store, reconciler *history.Reconciler, broker *notify.Broker, webhooks *notify.Dispatcher) *App {
	return &App{
		cfg:        cfg,
		classifier: classifier,
		store:      store,
		reconciler: reconciler,
		broker:     broker,
		webhooks:   webhooks,
		inFlight:   make(map[string]struct{}),
	}
}

func (a *App) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(a.authMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { writeText(w, http.StatusOK, "ok\n") })
	r.Get("/readyz", a.ready)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/scan", a.scan)

		r.Get("/history", a.listHistory)
		r.Delete("/history", a.clearHistory)
		r.Get("/history/verdict", a.getVerdict)
		r.Delete("/history/verdict", a.deleteVerdict)
		r.Post("/history/reconcile", a.reconcileHistory)

		r.Get("/favourites", a.listFavourites)
		r.Post("/favourites", a.addFavourite)
		r.Delete("/favourites", a.removeFavourite)

		r.Get("/events", a.streamEvents)
	})

	return r
}

func (a *App) authMiddleware(next http.Handler) http.Handler {
	if strings.EqualFold(a.cfg.Auth.Type, "none") {
		return next
	}
	if strings.EqualFold(a.cfg.Auth.Type, "api_key") {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(a.cfg.Auth.APIKey.HeaderName)
			if key == "" || key != a.cfg.Auth.APIKey.Key {
				writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unsupported auth type"})
	})
}

func (a *App) ready(w http.ResponseWriter, r *http.Request) {
	if _, err := a.store.List(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error()})
		return
	}
	writeText(w, http.StatusOK, "ready\n")
}

func (a *App) scan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Candidate string `json:"candidate"`
	}
	if !decodeJSON(w, r, &req, "invalid json") {
		return
	}
	req.Candidate = strings.TrimSpace(req.Candidate)
	if req.Candidate == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "candidate is required"})
		return
	}

	a.mu.Lock()
	if _, busy := a.inFlight[req.Candidate]; busy {
		a.mu.Unlock()
		writeJSON(w, http.StatusConflict, map[string]any{"error": "scan already in progress"})
		return
	}
	a.inFlight[req.Candidate] = struct{}{}
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.inFlight, req.Candidate)
		a.mu.Unlock()
	}()

	v := a.classifier.Classify(r.Context(), req.Candidate)
	if err := a.store.Append(r.Context(), v); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	a.publish(r.Context(), types.Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Type:      types.EventVerdictRecorded,
		Candidate: v.Candidate,
		Fields: map[string]any{
			"is_safe":       v.IsSafe,
			"source":        v.Source,
			"safety_status": v.SafetyStatus,
		},
	})

	writeJSON(w, http.StatusOK, v)
}

func (a *App) listHistory(w http.ResponseWriter, r *http.Request) {
	list, err := a.store.List(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	if list == nil {
		list = []types.Verdict{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"verdicts": list})
}

func (a *App) clearHistory(w http.ResponseWriter, r *http.Request) {
	if err := a.store.Clear(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	a.publish(r.Context(), types.Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Type:      types.EventHistoryCleared,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) getVerdict(w http.ResponseWriter, r *http.Request) {
	candidate := r.URL.Query().Get("candidate")
	if candidate == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "candidate is required"})
		return
	}
	v, ok, err := a.store.Get(r.Context(), candidate)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "verdict not found"})
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *App) deleteVerdict(w http.ResponseWriter, r *http.Request) {
	candidate := r.URL.Query().Get("candidate")
	if candidate == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "candidate is required"})
		return
	}
	if err := a.store.Delete(r.Context(), candidate); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	a.publish(r.Context(), types.Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Type:      types.EventHistoryUpdated,
		Candidate: candidate,
		Fields:    map[string]any{"deleted": true},
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) reconcileHistory(w http.ResponseWriter, r *http.Request) {
	updated, changed, err := a.reconciler.Run(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	if updated == nil {
		updated = []types.Verdict{}
	}
	a.publish(r.Context(), types.Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Type:      types.EventHistoryReconciled,
		Fields: map[string]any{
			"entries": len(updated),
			"changed": changed,
		},
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"changed":  changed,
		"verdicts": updated,
	})
}

func (a *App) listFavourites(w http.ResponseWriter, r *http.Request) {
	list, err := a.store.ListFavourites(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	if list == nil {
		list = []types.Verdict{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"favourites": list})
}

func (a *App) addFavourite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Candidate string `json:"candidate"`
	}
	if !decodeJSON(w, r, &req, "invalid json") {
		return
	}
	if req.Candidate == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "candidate is required"})
		return
	}
	// Only scanned candidates can be favourited.
	if _, ok, err := a.store.Get(r.Context(), req.Candidate); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	} else if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "verdict not found"})
		return
	}
	if err := a.store.AddFavourite(r.Context(), req.Candidate); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	a.publish(r.Context(), types.Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Type:      types.EventFavouriteAdded,
		Candidate: req.Candidate,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) removeFavourite(w http.ResponseWriter, r *http.Request) {
	candidate := r.URL.Query().Get("candidate")
	if candidate == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "candidate is required"})
		return
	}
	if err := a.store.RemoveFavourite(r.Context(), candidate); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	a.publish(r.Context(), types.Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Type:      types.EventFavouriteRemoved,
		Candidate: candidate,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "stream unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := a.broker.Subscribe(200)
	defer a.broker.Unsubscribe(ch)

	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-ch:
			_, _ = w.Write([]byte("data: "))
			if err := enc.Encode(ev); err != nil {
				return
			}
			_, _ = w.Write([]byte("\n"))
			flusher.Flush()
		}
	}
}

// publish fans an event out to SSE subscribers and registered webhooks.
func (a *App) publish(ctx context.Context, ev types.Event) {
	a.broker.Publish(ev)
	if a.webhooks != nil {
		a.webhooks.Dispatch(ctx, ev)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, status int, s string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(s))
}
