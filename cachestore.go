package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

// ErrGenerationNotFound is returned when a cache generation does not exist.
var ErrGenerationNotFound = errors.New("cache generation not found")

// installedAtKey holds the install time inside each generation bucket.
// Request keys always start with a method, so it cannot collide.
var installedAtKey = []byte("\x00installed_at")

// CachedResponse is a stored response: status, headers and body.
type CachedResponse struct {
	Status int         `json:"status"`
	Header http.Header `json:"header"`
	Body   []byte      `json:"body"`
}

// HTTPResponse turns the stored response into an *http.Response.
func (c CachedResponse) HTTPResponse() *http.Response {
	status := c.Status
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{
		StatusCode:    status,
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Header:        c.Header.Clone(),
		Body:          io.NopCloser(bytes.NewReader(c.Body)),
		ContentLength: int64(len(c.Body)),
	}
}

// CacheEntry is one stored response keyed by request identity.
type CacheEntry struct {
	Key      string
	Response CachedResponse
}

// Generation describes one stored cache generation.
type Generation struct {
	Tag         string    `json:"tag"`
	Entries     int       `json:"entries"`
	InstalledAt time.Time `json:"installed_at"`
}

// CacheStore holds versioned generations of cached responses.
type CacheStore interface {
	// Populate writes all entries into a new generation in one step. On
	// error nothing of the generation is left behind.
	Populate(ctx context.Context, tag string, entries []CacheEntry) error
	Match(ctx context.Context, tag, key string) (CachedResponse, bool, error)
	Generations(ctx context.Context) ([]Generation, error)
	DeleteGeneration(ctx context.Context, tag string) error
	Close() error
}

// requestKey identifies a request by method and URL.
func requestKey(method, rawURL string) string {
	return method + " " + rawURL
}

// BoltCacheStore keeps each generation in its own bbolt bucket.
type BoltCacheStore struct {
	db *bolt.DB
}

// OpenBoltCacheStore opens or creates the cache database at path.
func OpenBoltCacheStore(path string) (*BoltCacheStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	return &BoltCacheStore{db: db}, nil
}

func (s *BoltCacheStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *BoltCacheStore) Populate(ctx context.Context, tag string, entries []CacheEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(tag)); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		b, err := tx.CreateBucket([]byte(tag))
		if err != nil {
			return fmt.Errorf("create generation %s: %w", tag, err)
		}
		for _, e := range entries {
			data, err := json.Marshal(e.Response)
			if err != nil {
				return fmt.Errorf("encode %s: %w", e.Key, err)
			}
			if err := b.Put([]byte(e.Key), data); err != nil {
				return fmt.Errorf("store %s: %w", e.Key, err)
			}
		}
		stamp, err := time.Now().UTC().MarshalText()
		if err != nil {
			return err
		}
		return b.Put(installedAtKey, stamp)
	})
}

func (s *BoltCacheStore) Match(ctx context.Context, tag, key string) (CachedResponse, bool, error) {
	if err := ctx.Err(); err != nil {
		return CachedResponse{}, false, err
	}
	var (
		resp  CachedResponse
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(tag))
		if b == nil {
			return nil
		}
		data := b.Get([]byte(key))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &resp)
	})
	if err != nil {
		return CachedResponse{}, false, fmt.Errorf("match %s: %w", key, err)
	}
	return resp, found, nil
}

// Generations lists stored generations, most recently installed first.
func (s *BoltCacheStore) Generations(ctx context.Context) ([]Generation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var gens []Generation
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, b *bolt.Bucket) error {
			g := Generation{Tag: string(name), Entries: b.Stats().KeyN}
			if stamp := b.Get(installedAtKey); stamp != nil {
				g.Entries--
				_ = g.InstalledAt.UnmarshalText(stamp)
			}
			gens = append(gens, g)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(gens, func(i, j int) bool {
		return gens[i].InstalledAt.After(gens[j].InstalledAt)
	})
	return gens, nil
}

func (s *BoltCacheStore) DeleteGeneration(ctx context.Context, tag string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.DeleteBucket([]byte(tag))
	})
	if errors.Is(err, bolt.ErrBucketNotFound) {
		return ErrGenerationNotFound
	}
	return err
}
