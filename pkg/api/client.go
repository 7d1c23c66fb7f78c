// Package api is the REST client for the parley server: thread resolution,
// message history, and sends. The message store itself lives server-side;
// this client only synchronizes with it.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/tinyland-inc/parley/pkg/wire"
)

// ErrNoThread means no thread exists yet between the two parties; the
// first successful send will mint one.
var ErrNoThread = errors.New("api: no existing thread")

// ErrUnauthorized means the ambient session credential was rejected and the
// user must re-authenticate. Callers must not retry silently.
var ErrUnauthorized = errors.New("api: session unauthorized")

// Client talks to the parley REST API.
type Client struct {
	base       string
	httpClient *http.Client
	tokens     oauth2.TokenSource
}

// NewClient creates an API client for the given base URL.
func NewClient(base string, tokens oauth2.TokenSource) *Client {
	return &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		tokens:     tokens,
	}
}

// SetHTTPClient overrides the transport, mainly for tests.
func (c *Client) SetHTTPClient(hc *http.Client) { c.httpClient = hc }

type threadResponse struct {
	ThreadID string `json:"thread_id"`
}

// ResolveThread asks the server which thread connects the viewer and the
// counterpart. Returns ErrNoThread when none exists yet.
func (c *Client) ResolveThread(ctx context.Context, counterpartID string) (string, error) {
	var tr threadResponse
	path := "/threads/with/" + url.PathEscape(counterpartID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &tr); err != nil {
		return "", err
	}
	if tr.ThreadID == "" {
		return "", ErrNoThread
	}
	return tr.ThreadID, nil
}

// FetchMessages returns the messages in a thread, ordered by created_at.
func (c *Client) FetchMessages(ctx context.Context, threadID string) ([]wire.Message, error) {
	var msgs []wire.Message
	path := "/threads/" + url.PathEscape(threadID) + "/messages"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// SendRequest is one outgoing send. CorrelationID is client-generated and
// echoed back by the server so the optimistic copy can be reconciled; if
// empty, SendMessage fills it in.
type SendRequest struct {
	RecipientID   string `json:"recipient_id"`
	Content       string `json:"content"`
	ThreadID      string `json:"thread_id,omitempty"`
	CorrelationID string `json:"correlation_id"`
}

// SendMessage submits a message for persistence and fan-out. The server
// mints a thread id when the request carries none.
func (c *Client) SendMessage(ctx context.Context, req SendRequest) (wire.Message, error) {
	if req.CorrelationID == "" {
		req.CorrelationID = uuid.New().String()
	}
	var msg wire.Message
	if err := c.doJSON(ctx, http.MethodPost, "/messages", req, &msg); err != nil {
		return wire.Message{}, err
	}
	return msg, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body *bytes.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		tok, err := c.tokens.Token()
		if err != nil {
			return fmt.Errorf("credential: %w", err)
		}
		tok.SetAuthHeader(req)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return ErrNoThread
	case resp.StatusCode >= 300:
		return fmt.Errorf("%s %s: server returned %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
