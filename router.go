package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// ErrNoCachedResponse is returned when a navigation request fails on the
// network and the active generation has no copy of the page.
var ErrNoCachedResponse = errors.New("network unavailable and no cached response")

// Route names reported by Classify.
const (
	routeNavigation = "navigation"
	routeChat       = "chat"
	routeAPI        = "api"
	routeStatic     = "static"
)

// Strategy produces a response for an intercepted request.
type Strategy func(ctx context.Context, r *http.Request) (*http.Response, error)

// ActiveGeneration reports the cache generation currently in control.
type ActiveGeneration interface {
	Active() string
}

type rule struct {
	name     string
	matches  func(*http.Request) bool
	strategy Strategy
}

// RouterConfig holds the URL markers used to classify requests.
type RouterConfig struct {
	ChatMarker string
	APIMarker  string
}

// Router intercepts every request and handles it with the strategy of the
// first matching rule:
//  1. Navigation: network first, active generation as fallback
//  2. Chat endpoint: network only, failures propagate
//  3. Auxiliary API: network only, failures become an empty JSON array
//  4. Everything else: active generation first, network on a miss
type Router struct {
	fetcher Fetcher
	store   CacheStore
	active  ActiveGeneration
	rules   []rule
}

func NewRouter(fetcher Fetcher, store CacheStore, active ActiveGeneration, cfg RouterConfig) *Router {
	rt := &Router{fetcher: fetcher, store: store, active: active}
	rt.rules = []rule{
		{name: routeNavigation, matches: isNavigation, strategy: rt.networkFirst},
		{name: routeChat, matches: pathContains(cfg.ChatMarker), strategy: rt.networkOnly},
		{name: routeAPI, matches: pathContains(cfg.APIMarker), strategy: rt.networkOnlyEmptyOnFailure},
		{name: routeStatic, matches: func(*http.Request) bool { return true }, strategy: rt.cacheFirst},
	}
	return rt
}

func isNavigation(r *http.Request) bool {
	return r.Header.Get("Sec-Fetch-Mode") == "navigate"
}

func pathContains(marker string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		return marker != "" && strings.Contains(r.URL.Path, marker)
	}
}

// Classify returns the name of the rule that handles r.
func (rt *Router) Classify(r *http.Request) string {
	return rt.route(r).name
}

func (rt *Router) route(r *http.Request) rule {
	for _, ru := range rt.rules {
		if ru.matches(r) {
			return ru
		}
	}
	return rt.rules[len(rt.rules)-1]
}

// Dispatch classifies r once and runs the selected strategy.
func (rt *Router) Dispatch(r *http.Request) (*http.Response, string, error) {
	ru := rt.route(r)
	resp, err := ru.strategy(r.Context(), r)
	return resp, ru.name, err
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp, route, err := rt.Dispatch(r)
	if err != nil {
		log.Warn().Str("route", route).Str("path", r.URL.Path).Err(err).Msg("request failed")
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for k, vv := range resp.Header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	for _, h := range hopHeaders {
		w.Header().Del(h)
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		log.Debug().Str("route", route).Str("path", r.URL.Path).Err(err).Msg("copy response body")
	}
}

func (rt *Router) fetch(ctx context.Context, r *http.Request) (*http.Response, error) {
	return rt.fetcher.Fetch(ctx, r.Method, r.URL.RequestURI(), r.Header, r.Body)
}

// cached looks r up in the active generation.
func (rt *Router) cached(ctx context.Context, r *http.Request) (*http.Response, bool) {
	if rt.store == nil || rt.active == nil {
		return nil, false
	}
	gen := rt.active.Active()
	if gen == "" {
		return nil, false
	}
	c, ok, err := rt.store.Match(ctx, gen, requestKey(r.Method, r.URL.RequestURI()))
	if err != nil {
		log.Warn().Str("generation", gen).Str("path", r.URL.Path).Err(err).Msg("cache lookup failed")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	return c.HTTPResponse(), true
}

func (rt *Router) networkFirst(ctx context.Context, r *http.Request) (*http.Response, error) {
	resp, err := rt.fetch(ctx, r)
	if err == nil {
		return resp, nil
	}
	if c, ok := rt.cached(ctx, r); ok {
		log.Info().Str("path", r.URL.Path).Msg("network unavailable, serving cached page")
		return c, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrNoCachedResponse, err)
}

func (rt *Router) networkOnly(ctx context.Context, r *http.Request) (*http.Response, error) {
	return rt.fetch(ctx, r)
}

func (rt *Router) networkOnlyEmptyOnFailure(ctx context.Context, r *http.Request) (*http.Response, error) {
	resp, err := rt.fetch(ctx, r)
	if err == nil {
		return resp, nil
	}
	log.Info().Str("path", r.URL.Path).Err(err).Msg("api unavailable, answering with empty list")
	return emptyJSONArray(), nil
}

func (rt *Router) cacheFirst(ctx context.Context, r *http.Request) (*http.Response, error) {
	if c, ok := rt.cached(ctx, r); ok {
		return c, nil
	}
	return rt.fetch(ctx, r)
}

func emptyJSONArray() *http.Response {
	body := []byte("[]")
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Header:        http.Header{"Content-Type": []string{"application/json"}},
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
	}
}
