// Package api provides the JSON HTTP client for the Grimoire team server.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// TokenSource supplies the bearer token attached to outgoing requests.
// An empty token means no Authorization header is sent.
type TokenSource interface {
	Token() string
}

// StatusError is a non-2xx HTTP response from the server. Msg carries the
// server-supplied message body field when one is present.
type StatusError struct {
	Code int
	Msg  string
}

func (e *StatusError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("server returned %d: %s", e.Code, e.Msg)
	}
	return fmt.Sprintf("server returned %d", e.Code)
}

// Client is a JSON HTTP client bound to a team server base URL. Every request
// carries the current session token, and 401 responses trigger the registered
// auth-expired hook before the error is returned to the caller.
type Client struct {
	base    string
	http    *http.Client
	log     zerolog.Logger
	tokens  TokenSource
	expired func()
}

// New returns a Client for the given base URL with a fixed request timeout.
func New(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: timeout},
		log:  log,
	}
}

// SetTokenSource installs the session token provider. Requests made with no
// token source, or with an empty token, go out unauthenticated.
func (c *Client) SetTokenSource(ts TokenSource) {
	c.tokens = ts
}

// OnAuthExpired registers the hook invoked whenever the server answers 401.
// The hook runs once per 401 response, for every endpoint alike.
func (c *Client) OnAuthExpired(fn func()) {
	c.expired = fn
}

// Get issues a GET request and decodes the JSON response into out (ignored
// when out is nil).
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// Post issues a POST request with a JSON body and decodes the JSON response
// into out (ignored when out is nil).
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("building request %s %s: %w", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.log.Warn().Str("path", path).Msg("Authentication expired")
		if c.expired != nil {
			c.expired()
		}
		return &StatusError{Code: resp.StatusCode, Msg: serverMessage(resp.Body)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, Msg: serverMessage(resp.Body)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response from %s: %w", path, err)
	}
	return nil
}

// serverMessage extracts the message field the server puts on error bodies.
// The Grimoire API is not consistent about the key, so both are accepted.
func serverMessage(r io.Reader) string {
	var body struct {
		Msg   string `json:"msg"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(r).Decode(&body); err != nil {
		return ""
	}
	if body.Msg != "" {
		return body.Msg
	}
	return body.Error
}
