// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package status composes status text from feed items within a character
// budget.
package status

import (
	"strings"
	"unicode/utf8"

	"go.astrophena.name/tootfeed/internal/errs"
	"go.astrophena.name/tootfeed/internal/feed"
	"go.astrophena.name/tootfeed/internal/profile"
)

// Omission is appended to truncated bodies.
const Omission = " […]"

// separator goes between the parts of a status.
const separator = "\n\n"

// Status is a composed status.
type Status struct {
	// Text is the status body including link and suffix.
	Text string
	// SpoilerText is the content warning, if any.
	SpoilerText string
}

// Len returns the number of characters the status counts against the limit.
func (s Status) Len() int {
	return utf8.RuneCountInString(s.Text) + utf8.RuneCountInString(s.SpoilerText)
}

// Compose turns item into a status following the layout switches of p.
//
// Lengths are counted in characters. When the body does not fit, it is cut at
// the last space within the budget and [Omission] is appended. When not even
// the marker fits, the body is left out. If the link,
// suffix and content warning alone do not fit into p.MaxSize, Compose returns
// an [errs.Configuration] error.
func Compose(item feed.Item, p *profile.Profile) (Status, error) {
	var (
		st    Status
		parts []string
	)
	if p.TitlesAsCW {
		st.SpoilerText = item.Title
	} else if item.Title != "" {
		parts = append(parts, item.Title)
	}
	if !p.TitlesOnly && item.Description != "" {
		parts = append(parts, item.Description)
	}
	body := strings.Join(parts, separator)

	budget := p.MaxSize - (runeLen(item.Link) + len(separator))
	if p.Append != "" {
		budget -= runeLen(p.Append) + len(separator)
	}
	budget -= runeLen(st.SpoilerText)
	if budget < 0 {
		return Status{}, errs.Errorf(errs.Configuration, "compose",
			"max_size %d is too small for link, suffix and content warning of %q", p.MaxSize, item.Link)
	}

	if runeLen(body) > budget {
		if cut := budget - runeLen(Omission); cut >= 0 {
			body = strings.TrimLeft(truncate(body, cut)+Omission, " ")
		} else {
			// Not even the omission marker fits, so only the link is posted.
			body = ""
		}
	}

	var text []string
	if body != "" {
		text = append(text, body)
	}
	text = append(text, item.Link)
	if p.Append != "" {
		text = append(text, p.Append)
	}
	st.Text = strings.Join(text, separator)
	return st, nil
}

// truncate returns the longest prefix of s with at most n characters that
// does not end inside a word.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	// A cut right before a space keeps the last word whole.
	if r[n] == ' ' {
		return strings.TrimRight(string(r[:n]), " ")
	}
	prefix := string(r[:n])
	if i := strings.LastIndexByte(prefix, ' '); i >= 0 {
		return strings.TrimRight(prefix[:i], " ")
	}
	return ""
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }
