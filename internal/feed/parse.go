// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package feed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"slices"
	"strings"

	"github.com/mmcdole/gofeed"
	"github.com/mmcdole/gofeed/rss"

	"go.astrophena.name/tootfeed/internal/errs"
	"go.astrophena.name/tootfeed/internal/logger"
	"go.astrophena.name/tootfeed/internal/profile"
	"go.astrophena.name/tootfeed/internal/rules"
	"go.astrophena.name/tootfeed/internal/textutil"
)

// MaxScanned is the number of feed items looked at per run.
const MaxScanned = 100

// Item is a feed entry ready to be turned into a status.
type Item struct {
	ID          string
	Title       string
	Link        string
	Description string
}

// Batch is the output of [Parser.Parse].
type Batch struct {
	// Items are the new items, oldest first.
	Items []Item
	// Scanned is the number of feed items looked at.
	Scanned int
}

// Parser extracts new items from a feed for one profile.
type Parser struct {
	seen         profile.SeenIDs
	keepLooking  bool
	skipPrefixes []string
	fixes        textutil.Fixes
	watchwords   *textutil.Watchwords
	blockRule    *rules.Rule
}

// NewParser returns a Parser for p. Watchwords are applied only if
// p.AddHashtags is set. A nil ww disables hashtags.
//
// Invalid fix patterns or an invalid block rule are [errs.Configuration]
// errors.
func NewParser(p *profile.Profile, ww *textutil.Watchwords) (*Parser, error) {
	fixes, err := textutil.CompileFixes(p.Fixes)
	if err != nil {
		return nil, errs.E(errs.Configuration, "parse", fmt.Errorf("profile %q: %w", p.Name, err))
	}
	ps := &Parser{
		seen:         slices.Clone(p.SeenIDs),
		keepLooking:  p.KeepLooking,
		skipPrefixes: p.SkipPrefixes,
		fixes:        fixes,
	}
	if p.AddHashtags {
		ps.watchwords = ww
	}
	if p.BlockRule != "" {
		ps.blockRule, err = rules.Compile(p.BlockRule)
		if err != nil {
			return nil, errs.E(errs.Configuration, "parse", fmt.Errorf("profile %q: block_rule: %w", p.Name, err))
		}
	}
	return ps, nil
}

// LoadWatchwords reads the watchwords of profile from path. A missing file is
// logged and yields no watchwords.
func LoadWatchwords(ctx context.Context, path, profile string) (*textutil.Watchwords, error) {
	ww, err := textutil.LoadWatchwords(path, profile)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Get(ctx).Warn("watchwords file not found, not adding hashtags", "path", path)
		return nil, nil
	}
	if err != nil {
		return nil, errs.E(errs.Configuration, "watchwords", err)
	}
	logger.Get(ctx).Debug("loaded watchwords", "profile", profile, "words", ww.Words())
	return ww, nil
}

// Parse returns the items of an RSS document that were not published yet.
//
// Items are scanned newest first. A seen item ends the scan unless the profile
// keeps looking, in which case it is skipped. On the first run of a profile
// only the newest item is taken.
func (ps *Parser) Parse(ctx context.Context, data []byte) (*Batch, error) {
	log := logger.Get(ctx)

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errs.Errorf(errs.Parse, "parse", "empty feed")
	}
	if typ := gofeed.DetectFeedType(bytes.NewReader(data)); typ != gofeed.FeedTypeRSS {
		return nil, errs.Errorf(errs.Parse, "parse", "not an RSS feed")
	}
	fp := &rss.Parser{}
	doc, err := fp.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, errs.E(errs.Parse, "parse", err)
	}

	firstRun := len(ps.seen) == 0
	found := make(map[string]bool)
	b := &Batch{}
	for i, ri := range doc.Items {
		if i == MaxScanned {
			break
		}
		b.Scanned++

		id := itemID(ri)
		if id == "" {
			return nil, errs.Errorf(errs.Parse, "parse", "item %d (%q) has neither guid nor link", i, ri.Title)
		}
		if ps.seen.Contains(id) {
			if !ps.keepLooking {
				log.Debug("reached seen item", "guid", id)
				break
			}
			continue
		}
		if found[id] {
			log.Debug("duplicate item", "guid", id)
			continue
		}
		title := strings.TrimSpace(ri.Title)
		if ps.skipped(title) {
			log.Debug("skipped item", "guid", id, "title", title)
			continue
		}
		if ps.blocked(log.Logger, ri) {
			log.Debug("blocked item", "guid", id)
			continue
		}

		item := Item{
			ID:          id,
			Title:       title,
			Link:        strings.TrimSpace(ri.Link),
			Description: ps.sanitize(ri.Description),
		}
		log.Debug("found item", "guid", id)
		found[id] = true
		b.Items = slices.Insert(b.Items, 0, item)

		if firstRun && !ps.keepLooking {
			break
		}
	}
	return b, nil
}

func itemID(ri *rss.Item) string {
	if ri.GUID != nil {
		if id := strings.TrimSpace(ri.GUID.Value); id != "" {
			return id
		}
	}
	return strings.TrimSpace(ri.Link)
}

func (ps *Parser) skipped(title string) bool {
	for _, prefix := range ps.skipPrefixes {
		if strings.HasPrefix(title, prefix) {
			return true
		}
	}
	return false
}

func (ps *Parser) blocked(log *slog.Logger, ri *rss.Item) bool {
	if ps.blockRule == nil {
		return false
	}
	item := rules.Item{
		Title:       ri.Title,
		Link:        ri.Link,
		Description: ri.Description,
	}
	for _, c := range ri.Categories {
		item.Categories = append(item.Categories, c.Value)
	}
	blocked, err := ps.blockRule.Match(log, item)
	if err != nil {
		log.Warn("applying block rule", "link", ri.Link, "error", err)
		return false
	}
	return blocked
}

func (ps *Parser) sanitize(description string) string {
	s := ps.fixes.Apply(description)
	s = textutil.RemoveHTML(s)
	return ps.watchwords.AddHashtags(s)
}
