package history

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/linksentry/linksentry/pkg/types"
)

// Classifier re-evaluates one candidate. Implemented by classify.Engine.
type Classifier interface {
	Classify(ctx context.Context, candidate string) types.Verdict
}

// Reconciler re-runs classification over every stored verdict to detect
// drift in the upstream sources, and persists the updated list only when
// something actually changed.
type Reconciler struct {
	store      *Store
	classifier Classifier
	workers    int
	logger     *slog.Logger
}

// ReconcilerOptions tune the reconciliation pass; zero values pick defaults.
type ReconcilerOptions struct {
	// Workers bounds how many entries are reclassified concurrently.
	Workers int
}

// NewReconciler creates a reconciler. Pass nil for logger to disable logging.
func NewReconciler(store *Store, classifier Classifier, opts ReconcilerOptions, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	workers := opts.Workers
	if workers < 1 {
		workers = 4
	}
	return &Reconciler{store: store, classifier: classifier, workers: workers, logger: logger}
}

// Run reclassifies every stored verdict and compares the result field by
// field against the stored values. Every entry's check timestamp is
// refreshed; the store is rewritten, in one atomic replace, only when a
// verdict's result fields drifted. A failed rewrite leaves the previous
// list as the last durable state and is returned as a recoverable error.
func (r *Reconciler) Run(ctx context.Context) (updated []types.Verdict, changed bool, err error) {
	stored, err := r.store.List(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("load history: %w", err)
	}
	if len(stored) == 0 {
		return nil, false, nil
	}

	updated = make([]types.Verdict, len(stored))
	var drifted atomic.Bool

	workers := r.workers
	if workers > len(stored) {
		workers = len(stored)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				old := stored[i]
				v := r.classifier.Classify(ctx, old.Candidate)
				if !v.SameResult(old) {
					drifted.Store(true)
					r.logger.Info("verdict drifted",
						"candidate", old.Candidate,
						"was", old.SafetyStatus, "now", v.SafetyStatus)
				}
				updated[i] = v
			}
		}()
	}
	for i := range stored {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	changed = drifted.Load()
	if changed {
		if err := r.store.ReplaceAll(ctx, updated); err != nil {
			return nil, false, fmt.Errorf("persist reconciled history: %w", err)
		}
	}
	r.logger.Info("history reconciled", "entries", len(updated), "changed", changed)
	return updated, changed, nil
}
