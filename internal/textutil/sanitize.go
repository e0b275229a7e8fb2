// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package textutil turns feed item HTML into plain status text.
package textutil

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

// stripPolicy drops every tag and keeps text.
var stripPolicy = bluemonday.StrictPolicy()

var (
	paragraphRe = sync.OnceValue(func() *regexp.Regexp {
		return regexp.MustCompile(`(?i)<p(?:\s[^>]*)?>`)
	})
	cdataRe = sync.OnceValue(func() *regexp.Regexp {
		return regexp.MustCompile(`<!\[CDATA\[|\]\]>`)
	})
	blankLineRe   = sync.OnceValue(func() *regexp.Regexp { return regexp.MustCompile(`\n[ \t\x{00a0}]+\n`) })
	leadingNLRe   = sync.OnceValue(func() *regexp.Regexp { return regexp.MustCompile(`^\n+`) })
	excessiveNLRe = sync.OnceValue(func() *regexp.Regexp { return regexp.MustCompile(`\n{3,}`) })
)

// RemoveHTML converts an HTML fragment into plain text.
//
// Paragraph tags become blank lines, and all other markup is dropped. Wrapped
// lines are joined with a space. Paragraph breaks are kept.
func RemoveHTML(s string) string {
	s = html.UnescapeString(s)

	// Paragraphs must become newlines before tags are stripped.
	s = paragraphRe().ReplaceAllString(s, "\n\n")
	s = cdataRe().ReplaceAllString(s, "")
	// The policy escapes the text it keeps, and a lone < or > in text is kept.
	s = html.UnescapeString(stripPolicy.Sanitize(s))
	s = strings.ReplaceAll(s, "\r", "")

	// Repeat so that runs of blank lines sharing a newline all collapse.
	for blankLineRe().MatchString(s) {
		s = blankLineRe().ReplaceAllString(s, "\n\n")
	}
	s = leadingNLRe().ReplaceAllString(s, "")
	s = excessiveNLRe().ReplaceAllString(s, "\n\n")
	s = joinLines(s)

	return strings.TrimRight(s, " \t\n")
}

// joinLines replaces every newline that has a non-newline character on both
// sides with a space.
func joinLines(s string) string {
	b := []byte(s)
	for i := 1; i < len(b)-1; i++ {
		if b[i] == '\n' && b[i-1] != '\n' && b[i+1] != '\n' {
			b[i] = ' '
		}
	}
	return string(b)
}

// Fixes is an ordered list of patterns removed from text.
type Fixes []*regexp.Regexp

// CompileFixes compiles patterns into Fixes.
func CompileFixes(patterns []string) (Fixes, error) {
	fixes := make(Fixes, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid fix %q: %w", p, err)
		}
		fixes = append(fixes, re)
	}
	return fixes, nil
}

// Apply removes every match of each pattern from s, in order.
func (f Fixes) Apply(s string) string {
	for _, re := range f {
		s = re.ReplaceAllString(s, "")
	}
	return s
}

// Replacement is a single pattern and its replacement template.
type Replacement struct {
	Pattern     string `json:"pattern"`
	Replacement string `json:"replacement"`
}

type compiledReplacement struct {
	re   *regexp.Regexp
	repl string
}

// Replacer applies an ordered list of replacements.
type Replacer []compiledReplacement

// CompileReplacements compiles rr into a Replacer.
func CompileReplacements(rr []Replacement) (Replacer, error) {
	out := make(Replacer, 0, len(rr))
	for _, r := range rr {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid replacement pattern %q: %w", r.Pattern, err)
		}
		out = append(out, compiledReplacement{re: re, repl: r.Replacement})
	}
	return out, nil
}

// Replace applies every replacement to s, in order. Replacement templates may
// refer to submatches as $1 or ${name}.
func (r Replacer) Replace(s string) string {
	for _, cr := range r {
		s = cr.re.ReplaceAllString(s, cr.repl)
	}
	return s
}
