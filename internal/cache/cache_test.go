package cache

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_GetPut(t *testing.T) {
	s := NewStore("")
	_, ok := s.Get("http://example.com")
	assert.False(t, ok)

	require.NoError(t, s.Put("http://example.com", Result{Safe: true}))
	r, ok := s.Get("http://example.com")
	assert.True(t, ok)
	assert.True(t, r.Safe)
	assert.Equal(t, 1, s.Len())
}

func TestStore_DiskRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vt.cache")

	s1 := NewStore(path)
	require.NoError(t, s1.Put("http://bad.example", Result{Safe: false, Source: "VirusTotal (Flagged by 7 vendors)"}))
	require.NoError(t, s1.Put("http://ok.example", Result{Safe: true}))

	s2 := NewStore(path)
	require.NoError(t, s2.LoadFromDisk())

	r, ok := s2.Get("http://bad.example")
	require.True(t, ok)
	assert.False(t, r.Safe)
	assert.Equal(t, "VirusTotal (Flagged by 7 vendors)", r.Source)

	r, ok = s2.Get("http://ok.example")
	require.True(t, ok)
	assert.True(t, r.Safe)
}

func TestStore_LoadFromDisk_NoFile(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "vt.cache"))
	assert.NoError(t, s.LoadFromDisk())
	assert.Equal(t, 0, s.Len())
}

func TestStore_ConcurrentAccess(t *testing.T) {
	s := NewStore("")
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.Get("http://example.com")
		}()
		go func() {
			defer wg.Done()
			_ = s.Put("http://example.com", Result{Safe: true})
		}()
	}
	wg.Wait()

	r, ok := s.Get("http://example.com")
	require.True(t, ok)
	assert.True(t, r.Safe)
}
