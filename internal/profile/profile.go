// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package profile loads and saves per-profile configuration and
// de-duplication state.
package profile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"go.astrophena.name/tootfeed/internal/atomicio"
	"go.astrophena.name/tootfeed/internal/errs"
	"go.astrophena.name/tootfeed/internal/filelock"
	"go.astrophena.name/tootfeed/internal/textutil"
)

// MaxSeenIDs is the number of item identifiers remembered per profile.
const MaxSeenIDs = 100

// Defaults for optional fields.
const (
	DefaultMaxSize             = 500
	DefaultPostIntervalSeconds = 30
)

// Visibilities are the accepted values of the visibility field.
var Visibilities = []string{"public", "unlisted", "private", "direct"}

// Profile is the configuration and state of one feed-to-account mapping.
type Profile struct {
	// Name is the profile name. It isn't stored in the file.
	Name string `json:"-"`

	Instance    string `json:"instance"`
	AccessToken string `json:"access_token"`
	Visibility  string `json:"visibility,omitempty"`

	FeedURL      string `json:"feed_url"`
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"last_modified,omitempty"`

	SeenIDs     SeenIDs `json:"seen_ids"`
	KeepLooking bool    `json:"keep_looking,omitempty"`

	SkipPrefixes []string               `json:"skip_prefixes,omitempty"`
	Fixes        []string               `json:"fixes,omitempty"`
	Replacements []textutil.Replacement `json:"replacements,omitempty"`
	BlockRule    string                 `json:"block_rule,omitempty"`

	TitlesOnly  bool   `json:"titles_only,omitempty"`
	TitlesAsCW  bool   `json:"titles_as_cw,omitempty"`
	AddHashtags bool   `json:"add_hashtags,omitempty"`
	Append      string `json:"append,omitempty"`
	MaxSize     int    `json:"max_size"`

	PostIntervalSeconds int `json:"post_interval_seconds"`
}

// New returns a Profile named name with defaults filled in.
func New(name string) *Profile {
	return &Profile{
		Name:                name,
		MaxSize:             DefaultMaxSize,
		PostIntervalSeconds: DefaultPostIntervalSeconds,
	}
}

// Validate reports whether p has everything needed to run.
func (p *Profile) Validate() error {
	var missing []string
	if p.Instance == "" {
		missing = append(missing, "instance")
	}
	if p.AccessToken == "" {
		missing = append(missing, "access_token")
	}
	if p.FeedURL == "" {
		missing = append(missing, "feed_url")
	}
	if len(missing) > 0 {
		return errs.Errorf(errs.Configuration, "validate", "profile %q: missing %s", p.Name, strings.Join(missing, ", "))
	}
	if p.MaxSize <= 0 {
		return errs.Errorf(errs.Configuration, "validate", "profile %q: max_size must be positive, got %d", p.Name, p.MaxSize)
	}
	if p.Visibility != "" && !slices.Contains(Visibilities, p.Visibility) {
		return errs.Errorf(errs.Configuration, "validate", "profile %q: visibility must be one of %s, got %q", p.Name, strings.Join(Visibilities, ", "), p.Visibility)
	}
	if p.PostIntervalSeconds < 0 {
		return errs.Errorf(errs.Configuration, "validate", "profile %q: post_interval_seconds must not be negative", p.Name)
	}
	return nil
}

// SeenIDs is an ordered list of already published item identifiers, oldest
// first. It never holds more than [MaxSeenIDs] entries.
type SeenIDs []string

// Contains reports whether id was seen.
func (s SeenIDs) Contains(id string) bool { return slices.Contains(s, id) }

// Add appends id, evicting the oldest entries to stay within [MaxSeenIDs].
func (s *SeenIDs) Add(id string) {
	*s = append(*s, id)
	if over := len(*s) - MaxSeenIDs; over > 0 {
		*s = slices.Delete(*s, 0, over)
	}
}

// MarshalJSON encodes an empty list as [] rather than null.
func (s SeenIDs) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(s))
}

// UnmarshalJSON trims an oversized persisted list to its newest entries.
func (s *SeenIDs) UnmarshalJSON(b []byte) error {
	var ids []string
	if err := json.Unmarshal(b, &ids); err != nil {
		return err
	}
	if over := len(ids) - MaxSeenIDs; over > 0 {
		ids = ids[over:]
	}
	*s = ids
	return nil
}

// Store reads and writes profiles in a configuration directory.
type Store struct {
	Dir string
}

// Path returns the file path of the named profile.
func (s *Store) Path(name string) string {
	return filepath.Join(s.Dir, "config-"+name+".json")
}

// WatchwordsPath returns the file path of the watchwords list.
func (s *Store) WatchwordsPath() string {
	return filepath.Join(s.Dir, "watchwords.json")
}

// Load reads the named profile.
//
// A missing or unreadable file is an [errs.File] error. Invalid contents are an
// [errs.Configuration] error.
func (s *Store) Load(name string) (*Profile, error) {
	path := s.Path(name)
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errs.Errorf(errs.File, "load", "profile %q not found, create %s", name, path)
	}
	if err != nil {
		return nil, errs.E(errs.File, "load", err)
	}

	p := New(name)
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(p); err != nil {
		return nil, errs.E(errs.Configuration, "load", fmt.Errorf("malformed %s: %w", path, err))
	}
	return p, nil
}

// Save writes p atomically, keeping a backup of the previous version.
func (s *Store) Save(p *Profile) error {
	b, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return errs.E(errs.Configuration, "save", err)
	}
	b = append(b, '\n')
	if err := os.MkdirAll(s.Dir, 0o700); err != nil {
		return errs.E(errs.File, "save", err)
	}
	if err := atomicio.WriteFile(s.Path(p.Name), b, 0o600); err != nil {
		return errs.E(errs.File, "save", err)
	}
	return nil
}

// ErrLocked is returned by [Store.Lock] when another run holds the profile.
var ErrLocked = errors.New("profile is used by another run")

// Lock acquires an exclusive lock on the named profile. The caller must
// release it when the run is over.
func (s *Store) Lock(name string) (filelock.Lock, error) {
	if err := os.MkdirAll(s.Dir, 0o700); err != nil {
		return nil, errs.E(errs.File, "lock", err)
	}
	l, err := filelock.Acquire(s.Path(name)+".lock", fmt.Sprintf("%d\n", os.Getpid()))
	if errors.Is(err, filelock.ErrAlreadyLocked) {
		return nil, errs.E(errs.File, "lock", fmt.Errorf("%q: %w", name, ErrLocked))
	}
	if err != nil {
		return nil, errs.E(errs.File, "lock", err)
	}
	return l, nil
}
