// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package errs defines the kinds of errors tootfeed distinguishes and the exit
// codes they map to.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error.
type Kind int

// Error kinds.
const (
	Unknown       Kind = iota
	Network            // transport failure or unexpected status reaching the feed or the server
	Protocol           // missing redirect target, redirect chain too long
	Parse              // not an RSS feed, item without usable identifier
	Configuration      // impossible status geometry, malformed persisted state
	Posting            // server rejected the status
	File               // config file missing or unreadable
)

func (k Kind) String() string {
	switch k {
	case Network:
		return "network error"
	case Protocol:
		return "protocol error"
	case Parse:
		return "parse error"
	case Configuration:
		return "configuration error"
	case Posting:
		return "posting error"
	case File:
		return "file error"
	default:
		return "unknown error"
	}
}

// Exit codes.
const (
	ExitNoProfile     = 1
	ExitNetwork       = 2
	ExitFile          = 3
	ExitPosting       = 4
	ExitConfiguration = 5
	ExitParse         = 6
	ExitUnknown       = 9
)

// Error is an error of a particular kind.
type Error struct {
	Kind Kind
	// Op is the operation that failed, like "fetch" or "post".
	Op string
	// StatusCode is the HTTP status code, if any.
	StatusCode int
	// Code is a transport-level error code, if any.
	Code string
	Err  error
}

func (e *Error) Error() string {
	var sb strings.Builder
	if e.Op != "" {
		sb.WriteString(e.Op + ": ")
	}
	sb.WriteString(e.Kind.String())
	if e.StatusCode != 0 {
		fmt.Fprintf(&sb, " (status %d)", e.StatusCode)
	}
	if e.Code != "" {
		fmt.Fprintf(&sb, " (code %s)", e.Code)
	}
	if e.Err != nil {
		sb.WriteString(": " + e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error { return e.Err }

// ExitCode returns the process exit code for this error.
func (e *Error) ExitCode() int { return ExitCode(e) }

// E returns a new error of kind k for operation op wrapping err.
func E(k Kind, op string, err error) *Error {
	return &Error{Kind: k, Op: op, Err: err}
}

// Errorf is like E, but builds the wrapped error with fmt.Errorf.
func Errorf(k Kind, op, format string, args ...any) *Error {
	return E(k, op, fmt.Errorf(format, args...))
}

// KindOf returns the kind of the first *Error in err's chain, or Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// StatusCode returns the HTTP status code carried by err, or 0.
func StatusCode(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode
	}
	return 0
}

// ExitCode maps err to a process exit code. A nil error maps to 0.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch KindOf(err) {
	case Network, Protocol:
		return ExitNetwork
	case File:
		return ExitFile
	case Posting:
		return ExitPosting
	case Configuration:
		return ExitConfiguration
	case Parse:
		return ExitParse
	default:
		return ExitUnknown
	}
}
