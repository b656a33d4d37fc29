package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// ErrNoPendingGeneration is returned by Activate when nothing was installed.
var ErrNoPendingGeneration = errors.New("no installed generation to activate")

// Manifest lists the assets pre-populated into every cache generation.
// Version must change whenever Assets changes.
type Manifest struct {
	Version string   `yaml:"version"`
	Assets  []string `yaml:"assets"`
}

// DefaultManifest mirrors the chatbot's static shell.
var DefaultManifest = Manifest{
	Version: "health-bot-v1",
	Assets: []string{
		"/",
		"/static/css/style.css",
		"/static/manifest.json",
		"/static/js/offline_engine.js",
		"/static/data/symptom_Description.csv",
		"/static/data/symptom_precaution.csv",
		"/static/data/vaccination_schedule.json",
		"https://cdnjs.cloudflare.com/ajax/libs/font-awesome/6.0.0/css/all.min.css",
	},
}

// LoadManifest reads a YAML manifest.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("failed to load manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if m.Version == "" {
		return Manifest{}, errors.New("manifest version is required")
	}
	return m, nil
}

// Lifecycle installs, activates and garbage-collects cache generations.
type Lifecycle struct {
	store       CacheStore
	fetcher     Fetcher
	manifest    Manifest
	skipWaiting bool

	mu        sync.Mutex // guards installed; held while populating and activating
	installed string
	active    atomic.Value
}

func NewLifecycle(store CacheStore, fetcher Fetcher, manifest Manifest, skipWaiting bool) *Lifecycle {
	l := &Lifecycle{store: store, fetcher: fetcher, manifest: manifest, skipWaiting: skipWaiting}
	l.active.Store("")
	return l
}

// Active returns the tag of the generation in control, or "" if none.
func (l *Lifecycle) Active() string {
	return l.active.Load().(string)
}

// Installed returns the tag of the most recently installed generation.
func (l *Lifecycle) Installed() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.installed
}

func (l *Lifecycle) newTag() string {
	return l.manifest.Version + "-" + uuid.NewString()[:8]
}

// Install fetches every manifest asset and stores them as a new generation.
// Any failed asset fails the whole install and nothing is stored. With
// skipWaiting the new generation is activated right away.
func (l *Lifecycle) Install(ctx context.Context) (string, error) {
	tag := l.newTag()
	entries, err := l.fetchManifest(ctx)
	if err != nil {
		return "", fmt.Errorf("install %s: %w", tag, err)
	}

	l.mu.Lock()
	err = l.store.Populate(ctx, tag, entries)
	if err == nil {
		l.installed = tag
	}
	l.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("install %s: %w", tag, err)
	}

	log.Info().Str("generation", tag).Int("assets", len(entries)).Msg("Cache generation installed")

	if l.skipWaiting {
		if _, err := l.Activate(ctx); err != nil {
			return tag, err
		}
	}
	return tag, nil
}

func (l *Lifecycle) fetchManifest(ctx context.Context) ([]CacheEntry, error) {
	entries := make([]CacheEntry, len(l.manifest.Assets))
	g, gctx := errgroup.WithContext(ctx)
	for i, asset := range l.manifest.Assets {
		g.Go(func() error {
			resp, err := l.fetcher.Fetch(gctx, http.MethodGet, asset, nil, nil)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", asset, err)
			}
			defer resp.Body.Close()
			if resp.StatusCode < 200 || resp.StatusCode > 299 {
				return fmt.Errorf("fetch %s: HTTP %d", asset, resp.StatusCode)
			}
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("read %s: %w", asset, err)
			}
			entries[i] = CacheEntry{
				Key: requestKey(http.MethodGet, asset),
				Response: CachedResponse{
					Status: resp.StatusCode,
					Header: resp.Header.Clone(),
					Body:   body,
				},
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Activate hands control to the installed generation, then deletes every
// other generation. It returns the deleted tags.
func (l *Lifecycle) Activate(ctx context.Context) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.installed == "" {
		return nil, ErrNoPendingGeneration
	}
	current := l.installed
	l.active.Store(current)
	log.Info().Str("generation", current).Msg("Cache generation activated")

	gens, err := l.store.Generations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	var deleted []string
	for _, g := range gens {
		if g.Tag == current {
			continue
		}
		if err := l.store.DeleteGeneration(ctx, g.Tag); err != nil && !errors.Is(err, ErrGenerationNotFound) {
			return deleted, fmt.Errorf("delete generation %s: %w", g.Tag, err)
		}
		deleted = append(deleted, g.Tag)
		log.Info().Str("generation", g.Tag).Msg("Stale cache generation deleted")
	}
	return deleted, nil
}

// Resume adopts the most recently installed stored generation as active.
// It is used when a fresh install is not possible, e.g. the backend is down
// at startup.
func (l *Lifecycle) Resume(ctx context.Context) (string, error) {
	gens, err := l.store.Generations(ctx)
	if err != nil {
		return "", fmt.Errorf("list generations: %w", err)
	}
	if len(gens) == 0 {
		return "", ErrGenerationNotFound
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.installed = gens[0].Tag
	l.active.Store(gens[0].Tag)
	log.Info().Str("generation", gens[0].Tag).Msg("Resumed stored cache generation")
	return gens[0].Tag, nil
}
