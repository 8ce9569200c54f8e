package cache

import (
	"encoding/gob"
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

// Result is the cached portion of a blocklist verdict. Only definitive
// Safe/Unsafe results are stored; "not yet analyzed" responses never enter
// the cache.
type Result struct {
	Safe   bool
	Source string
}

// Store is a thread-safe URL-keyed result cache with disk persistence.
// Entries never expire; cached values are derived facts, so concurrent
// writers to the same key settle on last-writer-wins.
type Store struct {
	mu      sync.RWMutex
	entries map[string]Result
	path    string
}

// NewStore creates a cache persisted at path. An empty path keeps the cache
// purely in memory.
func NewStore(path string) *Store {
	return &Store{entries: make(map[string]Result), path: path}
}

// Get returns the cached result for a raw URL key.
func (s *Store) Get(url string) (Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.entries[url]
	return r, ok
}

// Put records a definitive result for a URL and rewrites the disk file.
func (s *Store) Put(url string, r Result) error {
	s.mu.Lock()
	s.entries[url] = r
	s.mu.Unlock()
	return s.SaveToDisk()
}

// Len returns the number of cached URLs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

type diskCache struct {
	Entries map[string]Result
}

// SaveToDisk persists the cache to a gob-encoded file.
func (s *Store) SaveToDisk() error {
	if s.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	s.mu.RLock()
	out := diskCache{Entries: make(map[string]Result, len(s.entries))}
	for k, v := range s.entries {
		out.Entries[k] = v
	}
	s.mu.RUnlock()

	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := gob.NewEncoder(f).Encode(&out); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	// On Windows, os.Rename fails if the destination exists. Remove it first.
	if runtime.GOOS == "windows" {
		os.Remove(s.path)
	}
	return os.Rename(tmp, s.path)
}

// LoadFromDisk loads a previously persisted cache. A missing file is not an
// error.
func (s *Store) LoadFromDisk() error {
	if s.path == "" {
		return nil
	}
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	var in diskCache
	if err := gob.NewDecoder(f).Decode(&in); err != nil {
		return err
	}
	s.mu.Lock()
	if in.Entries != nil {
		s.entries = in.Entries
	}
	s.mu.Unlock()
	return nil
}
