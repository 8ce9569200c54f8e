package reputation

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// DatasetEntry is one record of the static reputable-domain dataset
// (a JSON array of {"domain": "..."} objects).
type DatasetEntry struct {
	Domain string `json:"domain"`
}

// Index answers exact-hostname membership queries against a static dataset
// of reputable domains. The build runs once, lazily, on first use; the
// backing dataset is static so a rebuild is never required. A failed build
// leaves the index permanently empty and lookups fail closed.
type Index struct {
	path   string
	logger *slog.Logger

	once sync.Once
	root *trieNode
	size int
	err  error
}

// NewIndex creates an index backed by the dataset file at path. Pass nil
// for logger to disable logging. The dataset is not read until the first
// Build or Contains call.
func NewIndex(path string, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Index{path: path, logger: logger}
}

// NewStaticIndex builds an index directly from a domain list. Intended for
// tests and embedded datasets.
func NewStaticIndex(domains []string) *Index {
	ix := &Index{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	ix.once.Do(func() { ix.build(domains) })
	return ix
}

// Build loads the dataset and constructs the tree. It is idempotent: the
// first call decides the outcome for the process lifetime and later calls
// return the same result without re-reading the dataset.
func (ix *Index) Build() error {
	ix.once.Do(func() {
		domains, err := loadDataset(ix.path)
		if err != nil {
			ix.err = err
			ix.logger.Warn("reputation dataset load failed, index disabled", "path", ix.path, "error", err)
			return
		}
		ix.build(domains)
		ix.logger.Info("reputation index built", "domains", ix.size)
	})
	return ix.err
}

func (ix *Index) build(domains []string) {
	root := &trieNode{}
	n := 0
	for _, d := range domains {
		d = normalizeDomain(d)
		if d == "" {
			continue
		}
		root.insert(d)
		n++
	}
	ix.root = root
	ix.size = n
}

// Contains reports whether host is listed. The match is exact: a listed
// example.com does not cover sub.example.com. When the dataset could not
// be loaded, Contains returns false for every host.
func (ix *Index) Contains(host string) bool {
	if err := ix.Build(); err != nil {
		return false
	}
	host = normalizeDomain(host)
	if host == "" {
		return false
	}
	return ix.root.search(host)
}

// Size returns the number of domains in the index, zero when the build failed.
func (ix *Index) Size() int {
	_ = ix.Build()
	return ix.size
}

func normalizeDomain(d string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(d), "."))
}

func loadDataset(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("reputation dataset path is empty")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	var entries []DatasetEntry
	if err := json.Unmarshal(b, &entries); err != nil {
		return nil, fmt.Errorf("parse dataset: %w", err)
	}
	domains := make([]string, 0, len(entries))
	for _, e := range entries {
		domains = append(domains, e.Domain)
	}
	return domains, nil
}
