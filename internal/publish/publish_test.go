// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.astrophena.name/tootfeed/internal/errs"
	"go.astrophena.name/tootfeed/internal/mastodon"
	"go.astrophena.name/tootfeed/internal/profile"
	"go.astrophena.name/tootfeed/internal/status"
	"go.astrophena.name/tootfeed/internal/testutil"
)

type roundTripFunc func(r *http.Request) (*http.Response, error)

func (s roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return s(r)
}

type post struct {
	ID string
	status.Status
}

type fakePoster struct {
	posts  []post
	failAt int // 1-based index of the post that fails, 0 for none
}

func (f *fakePoster) Post(ctx context.Context, st status.Status, id string) (*mastodon.Posted, error) {
	if f.failAt == len(f.posts)+1 {
		return nil, &errs.Error{Kind: errs.Posting, Op: "post", StatusCode: http.StatusUnprocessableEntity, Err: errors.New("rejected")}
	}
	f.posts = append(f.posts, post{ID: id, Status: st})
	return &mastodon.Posted{ID: fmt.Sprint(len(f.posts))}, nil
}

type env struct {
	pb     *Publisher
	poster *fakePoster
	store  *profile.Store
	sleeps []time.Duration
	stdout bytes.Buffer
}

// rss renders items as "id|title|description", newest first.
func rss(items ...string) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0"?><rss version="2.0"><channel><title>T</title>`)
	for _, it := range items {
		parts := strings.SplitN(it, "|", 3)
		for len(parts) < 3 {
			parts = append(parts, "")
		}
		fmt.Fprintf(&sb, "<item><guid>%[1]s</guid><link>https://example.com/%[1]s</link><title>%[2]s</title><description>%[3]s</description></item>",
			parts[0], parts[1], parts[2])
	}
	sb.WriteString(`</channel></rss>`)
	return sb.String()
}

func newEnv(t *testing.T, prof string, routes map[string]http.HandlerFunc) *env {
	t.Helper()
	e := &env{
		poster: &fakePoster{},
		store:  &profile.Store{Dir: t.TempDir()},
	}
	if err := os.WriteFile(e.store.Path("news"), []byte(prof), 0o600); err != nil {
		t.Fatal(err)
	}
	mux := http.NewServeMux()
	for pat, h := range routes {
		mux.HandleFunc(pat, h)
	}
	e.pb = &Publisher{
		Store: e.store,
		HTTPClient: &http.Client{
			Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
				w := httptest.NewRecorder()
				mux.ServeHTTP(w, r)
				return w.Result(), nil
			}),
		},
		NewPoster: func(*profile.Profile) Poster { return e.poster },
		Stdout:    &e.stdout,
		sleep: func(ctx context.Context, d time.Duration) error {
			e.sleeps = append(e.sleeps, d)
			return nil
		},
	}
	return e
}

func feedHandler(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(body)) }
}

const baseProfile = `{
  "instance": "https://social.example",
  "access_token": "token",
  "feed_url": "https://example.com/feed.xml",
  "post_interval_seconds": 5,
  "seen_ids": %s
}`

func profileWith(seen string) string { return fmt.Sprintf(baseProfile, seen) }

func jsonDecode(s string, v any) error { return json.Unmarshal([]byte(s), v) }

func (e *env) load(t *testing.T) *profile.Profile {
	t.Helper()
	p, err := e.store.Load("news")
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestRunPostsNewItems(t *testing.T) {
	t.Parallel()

	e := newEnv(t, profileWith(`["a"]`), map[string]http.HandlerFunc{
		"GET example.com/feed.xml": feedHandler(rss("d|Four|four", "c|Three|three", "b|Two|two", "a|One|one")),
	})
	sum, err := e.pb.Run(context.Background(), "news")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, sum.Scanned, 4)
	testutil.AssertEqual(t, sum.New, 3)
	testutil.AssertEqual(t, sum.Posted, 3)

	var ids []string
	for _, p := range e.poster.posts {
		ids = append(ids, p.ID)
	}
	testutil.AssertEqual(t, ids, []string{"b", "c", "d"})
	testutil.AssertEqual(t, e.poster.posts[0].Text, "Two\n\ntwo\n\nhttps://example.com/b")

	// Sleeps go between posts only.
	testutil.AssertEqual(t, e.sleeps, []time.Duration{5 * time.Second, 5 * time.Second})
	testutil.AssertEqual(t, e.load(t).SeenIDs, profile.SeenIDs{"a", "b", "c", "d"})
}

func TestRunSteadyState(t *testing.T) {
	t.Parallel()

	prof := profileWith(`["a", "b"]`)
	e := newEnv(t, prof, map[string]http.HandlerFunc{
		"GET example.com/feed.xml": feedHandler(rss("b|Two", "a|One")),
	})
	sum, err := e.pb.Run(context.Background(), "news")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, sum.New, 0)
	testutil.AssertEqual(t, len(e.poster.posts), 0)
	testutil.AssertEqual(t, len(e.sleeps), 0)

	want := profile.New("news")
	if err := jsonDecode(prof, want); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, e.load(t), want)
}

func TestRunPermanentRedirect(t *testing.T) {
	t.Parallel()

	e := newEnv(t, profileWith(`["a"]`), map[string]http.HandlerFunc{
		"GET example.com/feed.xml": func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "https://feeds.example.com/feed.xml", http.StatusMovedPermanently)
		},
		"GET feeds.example.com/feed.xml": feedHandler(rss("b|Two", "a|One")),
	})
	if _, err := e.pb.Run(context.Background(), "news"); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, len(e.poster.posts), 1)
	testutil.AssertEqual(t, e.load(t).FeedURL, "https://feeds.example.com/feed.xml")
}

func TestRunFetchFailureSavesNothing(t *testing.T) {
	t.Parallel()

	prof := profileWith(`["a"]`)
	e := newEnv(t, prof, map[string]http.HandlerFunc{
		"GET example.com/feed.xml": func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "https://feeds.example.com/feed.xml", http.StatusMovedPermanently)
		},
		"GET feeds.example.com/feed.xml": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "down", http.StatusBadGateway)
		},
	})
	_, err := e.pb.Run(context.Background(), "news")
	testutil.AssertEqual(t, errs.KindOf(err), errs.Network)
	testutil.AssertEqual(t, errs.StatusCode(err), http.StatusBadGateway)
	testutil.AssertEqual(t, string(testutil.ReadFile(t, e.store.Path("news"))), prof)
}

func TestRunParseFailureSavesNothing(t *testing.T) {
	t.Parallel()

	prof := profileWith(`["a"]`)
	e := newEnv(t, prof, map[string]http.HandlerFunc{
		"GET example.com/feed.xml": feedHandler(`<html>not a feed</html>`),
	})
	_, err := e.pb.Run(context.Background(), "news")
	testutil.AssertEqual(t, errs.KindOf(err), errs.Parse)
	testutil.AssertEqual(t, string(testutil.ReadFile(t, e.store.Path("news"))), prof)
}

func TestRunPostingFailureKeepsPosted(t *testing.T) {
	t.Parallel()

	e := newEnv(t, profileWith(`["a"]`), map[string]http.HandlerFunc{
		"GET example.com/feed.xml": feedHandler(rss("d|Four", "c|Three", "b|Two", "a|One")),
	})
	e.poster.failAt = 2

	sum, err := e.pb.Run(context.Background(), "news")
	testutil.AssertEqual(t, errs.KindOf(err), errs.Posting)
	testutil.AssertEqual(t, errs.ExitCode(err), errs.ExitPosting)
	testutil.AssertEqual(t, sum.Posted, 1)
	testutil.AssertEqual(t, e.load(t).SeenIDs, profile.SeenIDs{"a", "b"})

	// The next run resumes where the failed one stopped.
	e.poster.failAt = 0
	if _, err := e.pb.Run(context.Background(), "news"); err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, p := range e.poster.posts {
		ids = append(ids, p.ID)
	}
	testutil.AssertEqual(t, ids, []string{"b", "c", "d"})
}

func TestRunPostingFailureKeepsFeedValidators(t *testing.T) {
	t.Parallel()

	e := newEnv(t, profileWith(`["a"]`), map[string]http.HandlerFunc{
		"GET example.com/feed.xml": func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("If-None-Match") == `"v1"` {
				w.WriteHeader(http.StatusNotModified)
				return
			}
			w.Header().Set("ETag", `"v1"`)
			w.Header().Set("Last-Modified", "Mon, 05 Oct 2026 10:00:00 GMT")
			w.Write([]byte(rss("d|Four", "c|Three", "b|Two", "a|One")))
		},
	})
	e.poster.failAt = 2

	if _, err := e.pb.Run(context.Background(), "news"); errs.KindOf(err) != errs.Posting {
		t.Fatalf("want posting error, got %v", err)
	}
	p := e.load(t)
	testutil.AssertEqual(t, p.SeenIDs, profile.SeenIDs{"a", "b"})
	testutil.AssertEqual(t, p.ETag, "")
	testutil.AssertEqual(t, p.LastModified, "")

	// The feed is fetched in full again, so the rest of the batch is posted.
	e.poster.failAt = 0
	sum, err := e.pb.Run(context.Background(), "news")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, sum.NotModified, false)
	var ids []string
	for _, p := range e.poster.posts {
		ids = append(ids, p.ID)
	}
	testutil.AssertEqual(t, ids, []string{"b", "c", "d"})
	p = e.load(t)
	testutil.AssertEqual(t, p.ETag, `"v1"`)
	testutil.AssertEqual(t, p.LastModified, "Mon, 05 Oct 2026 10:00:00 GMT")

	sum, err = e.pb.Run(context.Background(), "news")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, sum.NotModified, true)
}

func TestRunDryRun(t *testing.T) {
	t.Parallel()

	prof := profileWith(`["a"]`)
	e := newEnv(t, prof, map[string]http.HandlerFunc{
		"GET example.com/feed.xml": feedHandler(rss("c|Three|three", "b|Two|two", "a|One")),
	})
	e.pb.DryRun = true

	sum, err := e.pb.Run(context.Background(), "news")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, sum.New, 2)
	testutil.AssertEqual(t, sum.Posted, 0)
	testutil.AssertEqual(t, len(e.poster.posts), 0)
	testutil.AssertEqual(t, e.stdout.String(), "=== b\nTwo\n\ntwo\n\nhttps://example.com/b\n\n=== c\nThree\n\nthree\n\nhttps://example.com/c\n\n")
	testutil.AssertEqual(t, string(testutil.ReadFile(t, e.store.Path("news"))), prof)
}

func TestRunReplacementsAndSuffix(t *testing.T) {
	t.Parallel()

	e := newEnv(t, `{
  "instance": "https://social.example",
  "access_token": "token",
  "feed_url": "https://example.com/feed.xml",
  "seen_ids": ["a"],
  "titles_as_cw": true,
  "append": "#news",
  "replacements": [
    {"pattern": "^https://example\\.com/", "replacement": "https://example.org/"},
    {"pattern": "colour", "replacement": "color"}
  ]
}`, map[string]http.HandlerFunc{
		"GET example.com/feed.xml": feedHandler(rss("b|Colour theory|All about colour.", "a|Old")),
	})
	if _, err := e.pb.Run(context.Background(), "news"); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, e.poster.posts, []post{{
		ID: "b",
		Status: status.Status{
			Text:        "All about color.\n\nhttps://example.org/b\n\n#news",
			SpoilerText: "Colour theory",
		},
	}})
}

func TestRunNotModified(t *testing.T) {
	t.Parallel()

	e := newEnv(t, `{
  "instance": "https://social.example",
  "access_token": "token",
  "feed_url": "https://example.com/feed.xml",
  "etag": "\"v1\"",
  "seen_ids": ["a"]
}`, map[string]http.HandlerFunc{
		"GET example.com/feed.xml": func(w http.ResponseWriter, r *http.Request) {
			testutil.AssertEqual(t, r.Header.Get("If-None-Match"), `"v1"`)
			w.WriteHeader(http.StatusNotModified)
		},
	})
	sum, err := e.pb.Run(context.Background(), "news")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, sum.NotModified, true)
	testutil.AssertEqual(t, len(e.poster.posts), 0)
}

func TestRunBoundedHistory(t *testing.T) {
	t.Parallel()

	var seen []string
	for i := range profile.MaxSeenIDs {
		seen = append(seen, fmt.Sprintf(`"old-%d"`, i))
	}
	e := newEnv(t, profileWith("["+strings.Join(seen, ",")+"]"), map[string]http.HandlerFunc{
		"GET example.com/feed.xml": feedHandler(rss("n3|Three", "n2|Two", "n1|One", "old-99|Old")),
	})
	if _, err := e.pb.Run(context.Background(), "news"); err != nil {
		t.Fatal(err)
	}
	got := e.load(t).SeenIDs
	testutil.AssertEqual(t, len(got), profile.MaxSeenIDs)
	testutil.AssertEqual(t, got[0], "old-3")
	testutil.AssertEqual(t, []string(got[len(got)-3:]), []string{"n1", "n2", "n3"})
}

func TestRunLocked(t *testing.T) {
	t.Parallel()

	e := newEnv(t, profileWith(`[]`), nil)
	lock, err := e.store.Lock("news")
	if err != nil {
		t.Fatal(err)
	}
	defer lock.Release()

	_, err = e.pb.Run(context.Background(), "news")
	if !errors.Is(err, profile.ErrLocked) {
		t.Fatalf("want ErrLocked, got %v", err)
	}
}

func TestRunMissingProfile(t *testing.T) {
	t.Parallel()

	e := newEnv(t, profileWith(`[]`), nil)
	_, err := e.pb.Run(context.Background(), "absent")
	testutil.AssertEqual(t, errs.KindOf(err), errs.File)
	if _, err := os.Stat(filepath.Join(e.store.Dir, "config-absent.json")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("profile file created for a failed run: %v", err)
	}
}

func TestSleepCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}
