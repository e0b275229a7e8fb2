// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package rules evaluates per-profile Starlark rules against feed items.
//
// A rule is a Starlark expression that evaluates to a callable taking one
// argument, the item, and returning a boolean:
//
//	lambda item: "sponsored" in item.title.lower()
//
// The item has the fields title, link, description and categories.
package rules

import (
	"fmt"
	"log/slog"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"
)

// Item is what a rule sees.
type Item struct {
	Title       string
	Link        string
	Description string
	Categories  []string
}

// Rule is a compiled rule.
type Rule struct {
	src string
	fn  starlark.Callable
}

// Compile compiles src. It fails if src does not evaluate to a callable.
func Compile(src string) (*Rule, error) {
	thread := &starlark.Thread{Name: "compile"}
	v, err := starlark.EvalOptions(&syntax.FileOptions{}, thread, "rule", src, nil)
	if err != nil {
		return nil, err
	}
	fn, ok := v.(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("rule must be callable, got %s", v.Type())
	}
	return &Rule{src: src, fn: fn}, nil
}

func (r *Rule) String() string { return r.src }

// Match calls the rule with item. Print output of the rule goes to logger at
// info level.
func (r *Rule) Match(logger *slog.Logger, item Item) (bool, error) {
	categories := make([]starlark.Value, 0, len(item.Categories))
	for _, c := range item.Categories {
		categories = append(categories, starlark.String(c))
	}
	thread := &starlark.Thread{
		Name:  "rule",
		Print: func(_ *starlark.Thread, msg string) { logger.Info(msg, "link", item.Link) },
	}
	val, err := starlark.Call(thread, r.fn, starlark.Tuple{starlarkstruct.FromStringDict(
		starlarkstruct.Default,
		starlark.StringDict{
			"title":       starlark.String(item.Title),
			"link":        starlark.String(item.Link),
			"description": starlark.String(item.Description),
			"categories":  starlark.NewList(categories),
		},
	)}, nil)
	if err != nil {
		return false, err
	}
	ret, ok := val.(starlark.Bool)
	if !ok {
		return false, fmt.Errorf("rule returned %s, want bool", val.Type())
	}
	return bool(ret), nil
}
