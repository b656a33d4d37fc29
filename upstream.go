package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// Fetcher performs network requests on behalf of the router and the
// lifecycle manager. A returned error means the network failed; HTTP error
// statuses come back as responses.
type Fetcher interface {
	Fetch(ctx context.Context, method, target string, header http.Header, body io.Reader) (*http.Response, error)
}

// hopHeaders are connection-specific and never forwarded.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Upstream is the chatbot backend the edge sits in front of.
type Upstream struct {
	base   *url.URL
	client *http.Client
}

// NewUpstream creates an upstream rooted at base. Relative targets resolve
// against it; absolute targets (CDN assets) are fetched as-is. The default
// client has no timeout and does not follow redirects; requests end with
// their context.
func NewUpstream(base string, client *http.Client) (*Upstream, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("upstream url %q must be absolute", base)
	}
	if client == nil {
		client = &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	return &Upstream{base: u, client: client}, nil
}

// Resolve returns the absolute URL for target.
func (u *Upstream) Resolve(target string) (string, error) {
	ref, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	return u.base.ResolveReference(ref).String(), nil
}

func (u *Upstream) Fetch(ctx context.Context, method, target string, header http.Header, body io.Reader) (*http.Response, error) {
	full, err := u.Resolve(target)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", target, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, full, body)
	if err != nil {
		return nil, err
	}
	if header != nil {
		req.Header = header.Clone()
		for _, h := range hopHeaders {
			req.Header.Del(h)
		}
	}
	return u.client.Do(req)
}
