package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testManifest = Manifest{
	Version: "health-bot-test",
	Assets:  []string{"/", "/static/css/style.css", "/static/data/symptom_Description.csv"},
}

// assetFetcher answers from a fixed table and fails for unknown targets.
func assetFetcher(assets map[string]string, status int) Fetcher {
	return fetchFunc(func(_ context.Context, _, target string, _ http.Header, _ io.Reader) (*http.Response, error) {
		body, ok := assets[target]
		if !ok {
			return nil, errOffline
		}
		return &http.Response{
			StatusCode: status,
			Header:     http.Header{"Content-Type": []string{"text/plain"}},
			Body:       io.NopCloser(strings.NewReader(body)),
		}, nil
	})
}

func shellAssets() map[string]string {
	return map[string]string{
		"/":                                    "<html>home</html>",
		"/static/css/style.css":                "body{}",
		"/static/data/symptom_Description.csv": testDescriptions,
	}
}

func TestLifecycle_InstallActivatesWithSkipWaiting(t *testing.T) {
	store := newTestStore(t)
	lc := NewLifecycle(store, assetFetcher(shellAssets(), http.StatusOK), testManifest, true)
	ctx := context.Background()

	assert.Empty(t, lc.Active())

	tag, err := lc.Install(ctx)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(tag, "health-bot-test-"))
	assert.Equal(t, tag, lc.Active())
	assert.Equal(t, tag, lc.Installed())

	got, ok, err := store.Match(ctx, tag, "GET /static/css/style.css")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "body{}", string(got.Body))

	gens, err := store.Generations(ctx)
	require.NoError(t, err)
	require.Len(t, gens, 1)
	assert.Equal(t, len(testManifest.Assets), gens[0].Entries)
}

func TestLifecycle_InstallWaitsWithoutSkipWaiting(t *testing.T) {
	store := newTestStore(t)
	lc := NewLifecycle(store, assetFetcher(shellAssets(), http.StatusOK), testManifest, false)
	ctx := context.Background()

	tag, err := lc.Install(ctx)
	require.NoError(t, err)
	assert.Empty(t, lc.Active())
	assert.Equal(t, tag, lc.Installed())

	_, err = lc.Activate(ctx)
	require.NoError(t, err)
	assert.Equal(t, tag, lc.Active())
}

func TestLifecycle_FailedAssetStoresNothing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	assets := shellAssets()
	delete(assets, "/static/css/style.css")
	lc := NewLifecycle(store, assetFetcher(assets, http.StatusOK), testManifest, true)

	_, err := lc.Install(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/static/css/style.css")
	assert.Empty(t, lc.Active())

	gens, err := store.Generations(ctx)
	require.NoError(t, err)
	assert.Empty(t, gens)
}

func TestLifecycle_ErrorStatusFailsInstall(t *testing.T) {
	store := newTestStore(t)
	lc := NewLifecycle(store, assetFetcher(shellAssets(), http.StatusNotFound), testManifest, true)

	_, err := lc.Install(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 404")

	gens, err := store.Generations(context.Background())
	require.NoError(t, err)
	assert.Empty(t, gens)
}

func TestLifecycle_ActivateDeletesStaleGenerations(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Populate(ctx, "health-bot-v0", []CacheEntry{{Key: "GET /", Response: cachedText("old")}}))

	lc := NewLifecycle(store, assetFetcher(shellAssets(), http.StatusOK), testManifest, false)
	first, err := lc.Install(ctx)
	require.NoError(t, err)
	second, err := lc.Install(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	deleted, err := lc.Activate(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"health-bot-v0", first}, deleted)

	gens, err := store.Generations(ctx)
	require.NoError(t, err)
	require.Len(t, gens, 1)
	assert.Equal(t, second, gens[0].Tag)
	assert.Equal(t, second, lc.Active())
}

func TestLifecycle_ActivateWithoutInstall(t *testing.T) {
	lc := NewLifecycle(newTestStore(t), assetFetcher(nil, http.StatusOK), testManifest, false)
	_, err := lc.Activate(context.Background())
	assert.ErrorIs(t, err, ErrNoPendingGeneration)
}

func TestLifecycle_Resume(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	lc := NewLifecycle(store, assetFetcher(nil, http.StatusOK), testManifest, true)

	_, err := lc.Resume(ctx)
	assert.ErrorIs(t, err, ErrGenerationNotFound)

	require.NoError(t, store.Populate(ctx, "a", []CacheEntry{{Key: "GET /", Response: cachedText("a")}}))
	require.NoError(t, store.Populate(ctx, "b", []CacheEntry{{Key: "GET /", Response: cachedText("b")}}))

	tag, err := lc.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", tag)
	assert.Equal(t, "b", lc.Active())
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: health-bot-v2\nassets:\n  - /\n  - /static/css/style.css\n"), 0o644))

	m, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, "health-bot-v2", m.Version)
	assert.Equal(t, []string{"/", "/static/css/style.css"}, m.Assets)

	require.NoError(t, os.WriteFile(path, []byte("assets: [/]\n"), 0o644))
	_, err = LoadManifest(path)
	assert.Error(t, err)

	_, err = LoadManifest(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestLifecycle_SlowFetchDoesNotBlockActivate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Populate(ctx, "health-bot-v0", []CacheEntry{{Key: "GET /", Response: cachedText("old")}}))

	started := make(chan struct{}, len(testManifest.Assets))
	release := make(chan struct{})
	assets := shellAssets()
	fetcher := fetchFunc(func(ctx context.Context, method, target string, header http.Header, body io.Reader) (*http.Response, error) {
		started <- struct{}{}
		<-release
		return assetFetcher(assets, http.StatusOK).Fetch(ctx, method, target, header, body)
	})
	lc := NewLifecycle(store, fetcher, testManifest, false)
	_, err := lc.Resume(ctx)
	require.NoError(t, err)

	installed := make(chan error, 1)
	go func() {
		_, err := lc.Install(ctx)
		installed <- err
	}()
	<-started

	activated := make(chan error, 1)
	go func() {
		_, err := lc.Activate(ctx)
		activated <- err
	}()
	select {
	case err := <-activated:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("activate blocked behind a pending install")
	}
	assert.Equal(t, "health-bot-v0", lc.Active())
	assert.Equal(t, "health-bot-v0", lc.Installed())

	close(release)
	require.NoError(t, <-installed)
	assert.NotEqual(t, "health-bot-v0", lc.Installed())
}
