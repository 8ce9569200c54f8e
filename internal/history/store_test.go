package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linksentry/linksentry/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func verdict(candidate string, safe bool, source, status string) types.Verdict {
	return types.Verdict{
		Candidate:     candidate,
		IsSafe:        safe,
		Source:        source,
		SafetyStatus:  status,
		LastCheckedAt: time.Now().UTC(),
	}
}

func TestStore_AppendAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	v := verdict("http://a.example/", false, "Google Safe Browsing", "100% Unsafe")
	require.NoError(t, s.Append(ctx, v))

	got, ok, err := s.Get(ctx, "http://a.example/")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.SameResult(v))

	_, ok, err = s.Get(ctx, "http://unknown.example/")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_AppendReplacesSameCandidate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, verdict("example.com", true, "Tranco Database", "100% Safe")))
	require.NoError(t, s.Append(ctx, verdict("other.com", true, "ML Model", "91% Safe")))
	require.NoError(t, s.Append(ctx, verdict("example.com", false, "Google Safe Browsing", "100% Unsafe")))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2, "the store is a mapping, not a multiset")

	// Re-appending keeps the original scan order.
	assert.Equal(t, "example.com", list[0].Candidate)
	assert.False(t, list[0].IsSafe)
	assert.Equal(t, "other.com", list[1].Candidate)
}

func TestStore_DeleteAndClear(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, verdict("a.com", true, "Tranco Database", "100% Safe")))
	require.NoError(t, s.Append(ctx, verdict("b.com", true, "Tranco Database", "100% Safe")))

	require.NoError(t, s.Delete(ctx, "a.com"))
	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "b.com", list[0].Candidate)

	require.NoError(t, s.Clear(ctx))
	list, err = s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestStore_ReplaceAll(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, verdict("a.com", true, "Tranco Database", "100% Safe")))
	require.NoError(t, s.Append(ctx, verdict("b.com", true, "ML Model", "90% Safe")))

	replacement := []types.Verdict{
		verdict("a.com", false, "VirusTotal (Flagged by 2 vendors)", "100% Unsafe"),
		verdict("b.com", true, "ML Model", "95% Safe"),
	}
	require.NoError(t, s.ReplaceAll(ctx, replacement))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a.com", list[0].Candidate)
	assert.False(t, list[0].IsSafe)
	assert.Equal(t, "95% Safe", list[1].SafetyStatus)
}

func TestStore_ReplaceAllRejectsBadEntryLeavingOldList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, verdict("a.com", true, "Tranco Database", "100% Safe")))

	err := s.ReplaceAll(ctx, []types.Verdict{{Candidate: ""}})
	require.Error(t, err)

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1, "a failed replace must leave the old list intact")
	assert.Equal(t, "a.com", list[0].Candidate)
}

func TestStore_Favourites(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, verdict("a.com", true, "Tranco Database", "100% Safe")))
	require.NoError(t, s.Append(ctx, verdict("b.com", true, "ML Model", "90% Safe")))

	require.NoError(t, s.AddFavourite(ctx, "b.com"))
	require.NoError(t, s.AddFavourite(ctx, "a.com"))
	require.NoError(t, s.AddFavourite(ctx, "a.com"), "re-adding is a no-op")

	fav, err := s.IsFavourite(ctx, "b.com")
	require.NoError(t, err)
	assert.True(t, fav)

	list, err := s.ListFavourites(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b.com", list[0].Candidate, "favourites keep their own order")
	assert.Equal(t, "a.com", list[1].Candidate)

	require.NoError(t, s.RemoveFavourite(ctx, "b.com"))
	list, err = s.ListFavourites(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "a.com", list[0].Candidate)

	// Favourites reflect the live verdict, not a snapshot.
	require.NoError(t, s.Append(ctx, verdict("a.com", false, "Google Safe Browsing", "100% Unsafe")))
	list, err = s.ListFavourites(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.False(t, list[0].IsSafe)
}

func TestStore_DeleteDropsFavouriteMark(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, verdict("a.com", true, "Tranco Database", "100% Safe")))
	require.NoError(t, s.AddFavourite(ctx, "a.com"))
	require.NoError(t, s.Delete(ctx, "a.com"))

	fav, err := s.IsFavourite(ctx, "a.com")
	require.NoError(t, err)
	assert.False(t, fav)
}
