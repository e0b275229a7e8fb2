// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package feed fetches RSS feeds and extracts the items that were not
// published yet.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.astrophena.name/tootfeed/internal/errs"
	"go.astrophena.name/tootfeed/internal/logger"
	"go.astrophena.name/tootfeed/internal/profile"
	"go.astrophena.name/tootfeed/internal/version"
)

// maxFeedSize limits how much of a feed body is read.
const maxFeedSize = 16 << 20

// DefaultClient is the HTTP client used when Fetcher has none.
var DefaultClient = &http.Client{Timeout: time.Minute}

// Fetcher downloads feeds, following at most one permanent and one temporary
// redirect.
type Fetcher struct {
	// HTTPClient is used for requests. Its CheckRedirect is ignored, redirects
	// are handled by the Fetcher itself.
	HTTPClient *http.Client
}

// Result is the outcome of a successful fetch.
type Result struct {
	// Body is the raw feed. It is empty when NotModified is set.
	Body []byte
	// URL is the location the body came from.
	URL string
	// NotModified is set when the server answered 304 to a conditional
	// request.
	NotModified bool
}

// hop is the redirect state of a fetch.
type hop int

const (
	hopInitial   hop = iota
	hopPermanent     // a permanent redirect was followed and recorded
	hopTemporary     // a temporary redirect was followed, no more allowed
)

func (h hop) String() string {
	switch h {
	case hopPermanent:
		return "permanent"
	case hopTemporary:
		return "temporary"
	default:
		return "initial"
	}
}

// Fetch downloads the feed of p.
//
// A permanent redirect (301 or 308) rewrites p.FeedURL. The caller decides
// whether to persist it. On 200 the conditional request validators of p are
// updated from the response.
func (f *Fetcher) Fetch(ctx context.Context, p *profile.Profile) (*Result, error) {
	log := logger.Get(ctx)
	client := f.client()

	target, state := p.FeedURL, hopInitial
	for {
		res, err := f.get(ctx, client, target, p)
		if err != nil {
			return nil, err
		}
		log.Debug("fetched feed", "feed", target, "status", res.StatusCode, "hop", state)

		switch res.StatusCode {
		case http.StatusOK:
			body, err := io.ReadAll(io.LimitReader(res.Body, maxFeedSize))
			res.Body.Close()
			if err != nil {
				return nil, errs.E(errs.Network, "fetch", fmt.Errorf("reading %s: %w", target, err))
			}
			p.ETag = res.Header.Get("ETag")
			if lm := res.Header.Get("Last-Modified"); lm != "" {
				p.LastModified = lm
			}
			return &Result{Body: body, URL: target}, nil

		case http.StatusNotModified:
			res.Body.Close()
			log.Debug("unmodified feed", "feed", target)
			return &Result{URL: target, NotModified: true}, nil

		case http.StatusMovedPermanently, http.StatusPermanentRedirect,
			http.StatusFound, http.StatusSeeOther, http.StatusTemporaryRedirect:
			next, err := location(res, target)
			res.Body.Close()
			if err != nil {
				return nil, err
			}
			permanent := res.StatusCode == http.StatusMovedPermanently || res.StatusCode == http.StatusPermanentRedirect
			switch {
			case permanent && state == hopInitial:
				log.Info("feed moved permanently", "from", target, "to", next)
				p.FeedURL = next
				state = hopPermanent
			case state != hopTemporary:
				log.Debug("following temporary redirect", "from", target, "to", next)
				state = hopTemporary
			default:
				return nil, errs.Errorf(errs.Protocol, "fetch", "too many redirects fetching %s", p.FeedURL)
			}
			target = next

		default:
			res.Body.Close()
			return nil, &errs.Error{
				Kind:       errs.Network,
				Op:         "fetch",
				StatusCode: res.StatusCode,
				Err:        fmt.Errorf("%s: want 200, got %s", target, res.Status),
			}
		}
	}
}

func (f *Fetcher) client() *http.Client {
	c := DefaultClient
	if f.HTTPClient != nil {
		c = f.HTTPClient
	}
	nc := *c
	nc.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	return &nc
}

func (f *Fetcher) get(ctx context.Context, client *http.Client, target string, p *profile.Profile) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, errs.E(errs.Configuration, "fetch", err)
	}
	req.Header.Set("User-Agent", version.UserAgent())
	if p.ETag != "" {
		req.Header.Set("If-None-Match", p.ETag)
	}
	if p.LastModified != "" {
		req.Header.Set("If-Modified-Since", p.LastModified)
	}
	res, err := client.Do(req)
	if err != nil {
		return nil, &errs.Error{Kind: errs.Network, Op: "fetch", Code: transportCode(err), Err: err}
	}
	return res, nil
}

// location returns the redirect target of res resolved against base.
func location(res *http.Response, base string) (string, error) {
	loc := res.Header.Get("Location")
	if loc == "" {
		return "", &errs.Error{
			Kind:       errs.Protocol,
			Op:         "fetch",
			StatusCode: res.StatusCode,
			Err:        fmt.Errorf("%s: redirect without Location", base),
		}
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", errs.E(errs.Protocol, "fetch", err)
	}
	next, err := u.Parse(loc)
	if err != nil {
		return "", errs.E(errs.Protocol, "fetch", fmt.Errorf("%s: bad Location %q: %w", base, loc, err))
	}
	return next.String(), nil
}

// transportCode classifies a transport failure.
func transportCode(err error) string {
	var (
		dnsErr *net.DNSError
		netErr net.Error
		opErr  *net.OpError
	)
	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.As(err, &dnsErr):
		return "dns"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	case errors.As(err, &opErr):
		return opErr.Op
	default:
		return ""
	}
}
