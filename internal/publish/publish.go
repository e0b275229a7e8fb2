// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package publish runs the feed-to-status pipeline for one profile.
package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.astrophena.name/tootfeed/internal/errs"
	"go.astrophena.name/tootfeed/internal/feed"
	"go.astrophena.name/tootfeed/internal/logger"
	"go.astrophena.name/tootfeed/internal/mastodon"
	"go.astrophena.name/tootfeed/internal/profile"
	"go.astrophena.name/tootfeed/internal/status"
	"go.astrophena.name/tootfeed/internal/textutil"
)

// Poster publishes statuses.
type Poster interface {
	Post(ctx context.Context, st status.Status, id string) (*mastodon.Posted, error)
}

// Publisher fetches the feed of a profile and posts its new items.
type Publisher struct {
	Store *profile.Store
	// HTTPClient is used for the feed and the API. Nil means defaults.
	HTTPClient *http.Client
	// NewPoster returns the Poster for a profile. Nil means a Mastodon client.
	NewPoster func(p *profile.Profile) Poster
	// DryRun prints statuses to Stdout instead of posting them and never
	// saves the profile.
	DryRun bool
	Stdout io.Writer

	// sleep waits between posts. Tests replace it.
	sleep func(ctx context.Context, d time.Duration) error
}

// Summary describes a finished run.
type Summary struct {
	Profile     string
	NotModified bool
	Scanned     int
	New         int
	Posted      int
	Duration    time.Duration
}

// Run runs the pipeline for the named profile.
//
// The profile is saved once, at the end of the run. A failure to fetch or
// parse the feed saves nothing. A failure while posting saves the items
// posted so far as seen, without the new cache validators of the feed, and
// then returns the error.
func (pb *Publisher) Run(ctx context.Context, name string) (*Summary, error) {
	log := logger.Get(ctx)
	sum := &Summary{Profile: name}
	start := time.Now()

	if !pb.DryRun {
		lock, err := pb.Store.Lock(name)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := lock.Release(); err != nil {
				log.Warn("releasing profile lock", "profile", name, "error", err)
			}
		}()
	}

	p, err := pb.Store.Load(name)
	if err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	replacer, err := textutil.CompileReplacements(p.Replacements)
	if err != nil {
		return nil, errs.E(errs.Configuration, "publish", fmt.Errorf("profile %q: %w", name, err))
	}
	var ww *textutil.Watchwords
	if p.AddHashtags {
		ww, err = feed.LoadWatchwords(ctx, pb.Store.WatchwordsPath(), name)
		if err != nil {
			return nil, err
		}
	}
	parser, err := feed.NewParser(p, ww)
	if err != nil {
		return nil, err
	}

	// Validators are committed only with a fully published batch. Otherwise
	// the next run would get 304 and never see the rest of the batch.
	etag, lastModified := p.ETag, p.LastModified

	fetcher := &feed.Fetcher{HTTPClient: pb.HTTPClient}
	res, err := fetcher.Fetch(ctx, p)
	if err != nil {
		return nil, err
	}

	var items []feed.Item
	if res.NotModified {
		sum.NotModified = true
	} else {
		batch, err := parser.Parse(ctx, res.Body)
		if err != nil {
			return nil, err
		}
		sum.Scanned = batch.Scanned
		items = batch.Items
	}
	sum.New = len(items)

	if err := pb.publish(ctx, p, replacer, items, sum); err != nil {
		if sum.Posted > 0 && !pb.DryRun {
			p.ETag, p.LastModified = etag, lastModified
			if saveErr := pb.Store.Save(p); saveErr != nil {
				err = errors.Join(err, saveErr)
			}
		}
		return sum, err
	}

	if !pb.DryRun {
		if err := pb.Store.Save(p); err != nil {
			return sum, err
		}
	}

	sum.Duration = time.Since(start)
	log.Info("run finished",
		"profile", name,
		"not_modified", sum.NotModified,
		"scanned", sum.Scanned,
		"new", sum.New,
		"posted", sum.Posted,
		"duration", sum.Duration,
	)
	return sum, nil
}

func (pb *Publisher) publish(ctx context.Context, p *profile.Profile, replacer textutil.Replacer, items []feed.Item, sum *Summary) error {
	log := logger.Get(ctx)
	poster := pb.poster(p)
	interval := time.Duration(p.PostIntervalSeconds) * time.Second

	for i, item := range items {
		item.Title = replacer.Replace(item.Title)
		item.Link = replacer.Replace(item.Link)
		item.Description = replacer.Replace(item.Description)

		st, err := status.Compose(item, p)
		if err != nil {
			return err
		}
		log.Debug("composed status", "guid", item.ID, "len", st.Len(), "max_size", p.MaxSize)

		if pb.DryRun {
			pb.print(item.ID, st)
			continue
		}

		posted, err := poster.Post(ctx, st, item.ID)
		if err != nil {
			return err
		}
		p.SeenIDs.Add(item.ID)
		sum.Posted++
		if posted != nil {
			log.Info("posted status", "guid", item.ID, "url", posted.URL)
		}

		if i < len(items)-1 && interval > 0 {
			if err := pb.wait(ctx, interval); err != nil {
				return err
			}
		}
	}
	return nil
}

func (pb *Publisher) poster(p *profile.Profile) Poster {
	if pb.NewPoster != nil {
		return pb.NewPoster(p)
	}
	return &mastodon.Client{
		Instance:    p.Instance,
		AccessToken: p.AccessToken,
		Visibility:  p.Visibility,
		HTTPClient:  pb.HTTPClient,
	}
}

func (pb *Publisher) print(id string, st status.Status) {
	w := pb.Stdout
	if w == nil {
		w = io.Discard
	}
	fmt.Fprintf(w, "=== %s\n", id)
	if st.SpoilerText != "" {
		fmt.Fprintf(w, "CW: %s\n", st.SpoilerText)
	}
	fmt.Fprintf(w, "%s\n\n", st.Text)
}

func (pb *Publisher) wait(ctx context.Context, d time.Duration) error {
	if pb.sleep != nil {
		return pb.sleep(ctx, d)
	}
	return sleep(ctx, d)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
