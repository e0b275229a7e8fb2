// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package httplogger provides an [http.RoundTripper] middleware that logs
// outgoing requests and their outcome at the debug level.
package httplogger

import (
	"log/slog"
	"net/http"
	"time"
)

// New returns a RoundTripper that logs each request made through t to log.
// A nil t means [http.DefaultTransport].
//
// Only the method, redacted URL, status and timing are logged, never headers
// or bodies, so access tokens do not end up in logs.
func New(t http.RoundTripper, log *slog.Logger) http.RoundTripper {
	if t == nil {
		t = http.DefaultTransport
	}
	return &loggingTransport{transport: t, log: log, now: time.Now}
}

// Wrap returns a copy of c whose transport logs requests to log.
func Wrap(c *http.Client, log *slog.Logger) *http.Client {
	if c == nil {
		c = http.DefaultClient
	}
	cc := *c
	cc.Transport = New(c.Transport, log)
	return &cc
}

type loggingTransport struct {
	transport http.RoundTripper
	log       *slog.Logger
	now       func() time.Time
}

func (t *loggingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	ctx := r.Context()
	start := t.now()
	t.log.DebugContext(ctx, "http request", "method", r.Method, "url", r.URL.Redacted())

	resp, err := t.transport.RoundTrip(r)

	attrs := []any{
		"method", r.Method,
		"url", r.URL.Redacted(),
		"duration", t.now().Sub(start),
	}
	if resp != nil {
		attrs = append(attrs, "status", resp.StatusCode)
	}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	t.log.DebugContext(ctx, "http response", attrs...)

	return resp, err
}
