// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package textutil

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
)

// boundary matches whitespace, ASCII and Unicode punctuation, and the
// zero-width space.
const boundary = `[[:space:][:punct:]\p{P}\x{200B}]`

// Watchwords turns the first occurrence of each keyword into a hashtag.
type Watchwords struct {
	words []string
	res   []*regexp.Regexp
}

// NewWatchwords compiles words into Watchwords. Words are matched literally and
// case-insensitively.
func NewWatchwords(words []string) *Watchwords {
	w := &Watchwords{}
	for _, word := range words {
		if word == "" {
			continue
		}
		w.words = append(w.words, word)
		w.res = append(w.res, regexp.MustCompile(
			`(?i)(?:^|`+boundary+`)(`+regexp.QuoteMeta(word)+`)(?:`+boundary+`|$)`,
		))
	}
	return w
}

// Words returns the watchwords in matching order.
func (w *Watchwords) Words() []string {
	if w == nil {
		return nil
	}
	return w.words
}

// AddHashtags prefixes the first case-insensitive, boundary-delimited
// occurrence of each watchword in s with '#'. Later occurrences are left as
// they are.
func (w *Watchwords) AddHashtags(s string) string {
	if w == nil {
		return s
	}
	for _, re := range w.res {
		m := re.FindStringSubmatchIndex(s)
		if m == nil {
			continue
		}
		start := m[2]
		s = s[:start] + "#" + s[start:]
	}
	return s
}

// watchwordsFile is the on-disk format of the watchwords list:
//
//	{"<profile>": {"tags": ["word", ...]}, "global": {"tags": [...]}}
type watchwordsFile map[string]struct {
	Tags []string `json:"tags"`
}

// GlobalWatchwords is the name of the section shared by all profiles.
const GlobalWatchwords = "global"

// LoadWatchwords reads the watchwords file at path and returns the words for
// profile followed by the global ones. A missing file is reported as an error
// wrapping [os.ErrNotExist].
func LoadWatchwords(path, profile string) (*Watchwords, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f watchwordsFile
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	var words []string
	words = append(words, f[profile].Tags...)
	if profile != GlobalWatchwords {
		words = append(words, f[GlobalWatchwords].Tags...)
	}
	return NewWatchwords(words), nil
}
