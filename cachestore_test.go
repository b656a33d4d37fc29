package main

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltCacheStore {
	t.Helper()
	store, err := OpenBoltCacheStore(filepath.Join(t.TempDir(), "cache", "offline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func cachedText(body string) CachedResponse {
	return CachedResponse{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"text/plain"}},
		Body:   []byte(body),
	}
}

func TestBoltCacheStore_PopulateAndMatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.Populate(ctx, "v1", []CacheEntry{
		{Key: requestKey(http.MethodGet, "/"), Response: cachedText("home")},
		{Key: requestKey(http.MethodGet, "/static/app.css"), Response: cachedText("body{}")},
	})
	require.NoError(t, err)

	got, ok, err := store.Match(ctx, "v1", "GET /static/app.css")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "body{}", string(got.Body))
	assert.Equal(t, "text/plain", got.Header.Get("Content-Type"))

	resp := got.HTTPResponse()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "body{}", string(body))

	_, ok, err = store.Match(ctx, "v1", "POST /static/app.css")
	require.NoError(t, err)
	assert.False(t, ok, "method is part of the request key")

	_, ok, err = store.Match(ctx, "v0", "GET /")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBoltCacheStore_Generations(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Populate(ctx, "old", []CacheEntry{{Key: "GET /", Response: cachedText("a")}}))
	require.NoError(t, store.Populate(ctx, "new", []CacheEntry{
		{Key: "GET /", Response: cachedText("b")},
		{Key: "GET /x", Response: cachedText("c")},
	}))

	gens, err := store.Generations(ctx)
	require.NoError(t, err)
	require.Len(t, gens, 2)
	assert.Equal(t, "new", gens[0].Tag)
	assert.Equal(t, 2, gens[0].Entries)
	assert.Equal(t, "old", gens[1].Tag)
	assert.Equal(t, 1, gens[1].Entries)
	assert.False(t, gens[0].InstalledAt.IsZero())

	require.NoError(t, store.DeleteGeneration(ctx, "old"))
	assert.ErrorIs(t, store.DeleteGeneration(ctx, "old"), ErrGenerationNotFound)

	gens, err = store.Generations(ctx)
	require.NoError(t, err)
	require.Len(t, gens, 1)
	assert.Equal(t, "new", gens[0].Tag)
}

func TestBoltCacheStore_PopulateReplacesSameTag(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Populate(ctx, "v1", []CacheEntry{{Key: "GET /a", Response: cachedText("a")}}))
	require.NoError(t, store.Populate(ctx, "v1", []CacheEntry{{Key: "GET /b", Response: cachedText("b")}}))

	_, ok, err := store.Match(ctx, "v1", "GET /a")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = store.Match(ctx, "v1", "GET /b")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBoltCacheStore_FailedPopulateLeavesNothing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// bbolt rejects empty keys, failing the transaction halfway through
	err := store.Populate(ctx, "broken", []CacheEntry{
		{Key: "GET /ok", Response: cachedText("ok")},
		{Key: "", Response: cachedText("bad")},
	})
	require.Error(t, err)

	gens, err := store.Generations(ctx)
	require.NoError(t, err)
	assert.Empty(t, gens)
}
