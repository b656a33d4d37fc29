package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/rs/zerolog/log"
)

// Resource is the outcome of loading one dataset: either the loaded value or
// the reason it is unavailable.
type Resource[T any] struct {
	Value T
	Err   error
}

func loaded[T any](v T) Resource[T] { return Resource[T]{Value: v} }

func unavailable[T any](err error) Resource[T] { return Resource[T]{Err: err} }

// Available reports whether the resource loaded.
func (r Resource[T]) Available() bool { return r.Err == nil }

// OrDefault returns the loaded value, or def when the resource is unavailable.
func (r Resource[T]) OrDefault(def T) T {
	if r.Err != nil {
		return def
	}
	return r.Value
}

// Status is "loaded" or "unavailable: <reason>".
func (r Resource[T]) Status() string {
	if r.Err != nil {
		return "unavailable: " + r.Err.Error()
	}
	return "loaded"
}

// Source opens dataset resources by id.
type Source interface {
	Open(ctx context.Context, id string) (io.ReadCloser, error)
}

// DirSource reads datasets from a file system rooted at a directory.
type DirSource struct {
	fsys fs.FS
	root string
}

func NewDirSource(dir string) *DirSource {
	return &DirSource{fsys: os.DirFS(dir), root: dir}
}

// Root returns the directory the source reads from.
func (s *DirSource) Root() string { return s.root }

func (s *DirSource) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := path.Clean(strings.TrimPrefix(id, "/"))
	return s.fsys.Open(name)
}

// HTTPSource fetches datasets relative to a base URL.
type HTTPSource struct {
	base   *url.URL
	client *http.Client
}

func NewHTTPSource(base string, client *http.Client) (*HTTPSource, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse dataset url: %w", err)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSource{base: u, client: client}, nil
}

func (s *HTTPSource) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	ref, err := url.Parse(id)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base.ResolveReference(ref).String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// DatasetLoader loads raw datasets and never fails: problems are logged and
// reported inside the returned Resource.
type DatasetLoader struct {
	source Source
}

func NewDatasetLoader(source Source) *DatasetLoader {
	return &DatasetLoader{source: source}
}

// FetchText loads a delimited-text resource.
func (l *DatasetLoader) FetchText(ctx context.Context, id string) Resource[string] {
	data, err := l.read(ctx, id)
	if err != nil {
		return unavailable[string](err)
	}
	return loaded(string(data))
}

// LoadText returns the resource text, or "" when it is unavailable.
func (l *DatasetLoader) LoadText(ctx context.Context, id string) string {
	return l.FetchText(ctx, id).OrDefault("")
}

// FetchStructured loads and decodes a JSON resource into T.
func FetchStructured[T any](ctx context.Context, l *DatasetLoader, id string) Resource[T] {
	data, err := l.read(ctx, id)
	if err != nil {
		return unavailable[T](err)
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		err = fmt.Errorf("parse %s: %w", id, err)
		log.Warn().Str("resource", id).Err(err).Msg("dataset unavailable")
		return unavailable[T](err)
	}
	return loaded(v)
}

// LoadStructured returns the decoded resource, or nil when it is unavailable.
func LoadStructured[T any](ctx context.Context, l *DatasetLoader, id string) *T {
	r := FetchStructured[T](ctx, l, id)
	if !r.Available() {
		return nil
	}
	return &r.Value
}

func (l *DatasetLoader) read(ctx context.Context, id string) ([]byte, error) {
	data, err := l.readSource(ctx, id)
	if err != nil {
		log.Warn().Str("resource", id).Err(err).Msg("dataset unavailable")
		return nil, err
	}
	return data, nil
}

func (l *DatasetLoader) readSource(ctx context.Context, id string) ([]byte, error) {
	if l.source == nil {
		return nil, errors.New("no dataset source configured")
	}
	rc, err := l.source.Open(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", id, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", id, err)
	}
	return data, nil
}
