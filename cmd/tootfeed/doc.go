// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

/*
Tootfeed posts new items of an RSS feed to a Mastodon account.

# Usage

	$ tootfeed [flags...] <profile>

Each run fetches the feed of the profile, posts the items that were not posted
before (oldest first, post_interval_seconds apart) and remembers the last 100
posted items. The first run of a profile posts only the newest item.

With -dry-run, statuses are printed instead of posted and the profile is left
untouched. With -schedule, tootfeed keeps running and repeats the run on a cron
schedule, reloading the profile each time. Under systemd with Type=notify it
reports readiness and the outcome of the last run, and pings the watchdog if
WatchdogSec is set.

With -debug, every HTTP request is logged along with its status and duration.

# Configuration

Profiles live in the configuration directory, $XDG_CONFIG_HOME/tootfeed by
default, as config-<profile>.json:

	{
	  "instance": "https://mastodon.example",
	  "access_token": "...",
	  "feed_url": "https://example.com/feed.xml",
	  "visibility": "unlisted",
	  "max_size": 500,
	  "post_interval_seconds": 30,
	  "titles_only": false,
	  "titles_as_cw": false,
	  "add_hashtags": true,
	  "append": "#bot",
	  "skip_prefixes": ["[Sponsored]"],
	  "fixes": ["The post .* appeared first on .*\\."],
	  "replacements": [{"pattern": "^http://", "replacement": "https://"}],
	  "block_rule": "lambda item: 'podcast' in item.categories",
	  "keep_looking": false,
	  "seen_ids": []
	}

Only instance, access_token and feed_url are required. A feed that moved
permanently is remembered in feed_url.

Hashtags are added from watchwords.json in the same directory. The first
occurrence of each word becomes a hashtag:

	{"<profile>": {"tags": ["linux"]}, "global": {"tags": ["fediverse"]}}

# Exit Codes

	0  success
	1  no profile given or invalid arguments
	2  network or protocol error
	3  profile file missing or unreadable
	4  status rejected by the server
	5  invalid configuration
	6  feed is not RSS or has items without guid and link
	9  unknown error
*/
package main

import (
	_ "embed"

	"go.astrophena.name/tootfeed/internal/cli"
)

//go:embed doc.go
var doc []byte

func init() { cli.SetDocComment(doc) }
