// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package mastodon is a minimal client for publishing statuses through the
// Mastodon API.
package mastodon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"go.astrophena.name/tootfeed/internal/errs"
	"go.astrophena.name/tootfeed/internal/request"
	"go.astrophena.name/tootfeed/internal/status"
)

// idempotencyNamespace scopes idempotency keys derived from item identifiers.
var idempotencyNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://go.astrophena.name/tootfeed"))

// Client posts statuses on behalf of one account.
type Client struct {
	// Instance is the base URL of the server, like "https://mastodon.social".
	Instance    string
	AccessToken string
	// Visibility of posted statuses. Empty means the account default.
	Visibility string
	HTTPClient *http.Client
}

type postRequest struct {
	Status      string `json:"status"`
	SpoilerText string `json:"spoiler_text,omitempty"`
	Sensitive   bool   `json:"sensitive,omitempty"`
	Visibility  string `json:"visibility,omitempty"`
}

// Posted is the part of the API response tootfeed uses.
type Posted struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// IdempotencyKey returns the key sent with the status for the item
// identified by id. Retrying the same item within the server's idempotency
// window does not create a second status.
func IdempotencyKey(id string) string {
	return uuid.NewSHA1(idempotencyNamespace, []byte(id)).String()
}

// Post publishes st. id identifies the feed item the status was made from.
//
// Transport failures are [errs.Network] errors. A rejection by the server is
// an [errs.Posting] error carrying the HTTP status code.
func (c *Client) Post(ctx context.Context, st status.Status, id string) (*Posted, error) {
	posted, err := request.Make[Posted](ctx, request.Params{
		Method: http.MethodPost,
		URL:    strings.TrimSuffix(c.Instance, "/") + "/api/v1/statuses",
		Headers: map[string]string{
			"Authorization":   "Bearer " + c.AccessToken,
			"Idempotency-Key": IdempotencyKey(id),
		},
		Body: postRequest{
			Status:      st.Text,
			SpoilerText: st.SpoilerText,
			Sensitive:   st.SpoilerText != "",
			Visibility:  c.Visibility,
		},
		HTTPClient: c.HTTPClient,
		Scrubber:   c.scrubber(),
	})
	if err == nil {
		return &posted, nil
	}

	var statusErr *request.StatusError
	if errors.As(err, &statusErr) {
		return nil, &errs.Error{
			Kind:       errs.Posting,
			Op:         "post",
			StatusCode: statusErr.StatusCode,
			Err:        c.apiError(err, statusErr.Body),
		}
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return nil, errs.E(errs.Posting, "post", fmt.Errorf("decoding response: %w", err))
	}
	var (
		netErr net.Error
		opErr  *net.OpError
		code   string
	)
	switch {
	case errors.As(err, &netErr) && netErr.Timeout():
		code = "timeout"
	case errors.As(err, &opErr):
		code = opErr.Op
	}
	return nil, &errs.Error{Kind: errs.Network, Op: "post", Code: code, Err: err}
}

// apiError extracts the error message of a Mastodon error response.
func (c *Client) apiError(err error, body []byte) error {
	var resp struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &resp) != nil || resp.Error == "" {
		return err
	}
	msg := resp.Error
	if sc := c.scrubber(); sc != nil {
		msg = sc.Replace(msg)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func (c *Client) scrubber() *strings.Replacer {
	if c.AccessToken == "" {
		return nil
	}
	return strings.NewReplacer(c.AccessToken, "[EXPUNGED]")
}
