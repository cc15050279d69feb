// Package connector proxies session and outbound-send calls to the
// WhatsApp bridge process. The relay never interprets these payloads;
// it forwards the bridge's status code and JSON body to the caller.
package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/relaykit/whatsrelay/internal/metrics"
)

// ErrUnavailable indicates the bridge could not be reached at the
// transport level. HTTP error statuses from the bridge are not errors;
// they are forwarded as-is.
var ErrUnavailable = errors.New("connector unavailable")

// Send kinds accepted by the bridge.
var sendKinds = map[string]bool{
	"text":     true,
	"image":    true,
	"buttons":  true,
	"list":     true,
	"template": true,
	"reaction": true,
}

// Interaction kinds accepted by the bridge.
var interactKinds = map[string]bool{
	"button-click": true,
	"list-click":   true,
}

// KnownSendKind reports whether kind is a valid outbound message kind.
func KnownSendKind(kind string) bool { return sendKinds[kind] }

// KnownInteractKind reports whether kind is a valid interaction kind.
func KnownInteractKind(kind string) bool { return interactKinds[kind] }

// Response is a forwarded bridge reply.
type Response struct {
	StatusCode int
	Body       json.RawMessage
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Status returns the bridge's session status.
func (c *Client) Status(ctx context.Context) (*Response, error) {
	return c.do(ctx, http.MethodGet, "/status", nil)
}

// QRCode returns the pairing QR payload for an unauthenticated session.
func (c *Client) QRCode(ctx context.Context) (*Response, error) {
	return c.do(ctx, http.MethodGet, "/qrcode", nil)
}

// Logout tears down the bridge's session.
func (c *Client) Logout(ctx context.Context) (*Response, error) {
	return c.do(ctx, http.MethodDelete, "/logout", nil)
}

// Send forwards an outbound message of the given kind. The body is the
// caller's raw JSON, passed through untouched.
func (c *Client) Send(ctx context.Context, kind string, body json.RawMessage) (*Response, error) {
	if !KnownSendKind(kind) {
		return nil, fmt.Errorf("unknown send kind %q", kind)
	}
	return c.do(ctx, http.MethodPost, "/send/"+kind, body)
}

// Contacts looks up contacts on the bridge. rawQuery is the caller's
// query string (q, limit) forwarded untouched.
func (c *Client) Contacts(ctx context.Context, rawQuery string) (*Response, error) {
	path := "/contacts"
	if rawQuery != "" {
		path += "?" + rawQuery
	}
	return c.do(ctx, http.MethodGet, path, nil)
}

// ContactsCount returns the bridge's contact count.
func (c *Client) ContactsCount(ctx context.Context) (*Response, error) {
	return c.do(ctx, http.MethodGet, "/contacts/count", nil)
}

// Interact forwards a button or list interaction. The bridge exposes
// interactions under its /send/ prefix.
func (c *Client) Interact(ctx context.Context, kind string, body json.RawMessage) (*Response, error) {
	if !KnownInteractKind(kind) {
		return nil, fmt.Errorf("unknown interaction kind %q", kind)
	}
	return c.do(ctx, http.MethodPost, "/send/"+kind, body)
}

func (c *Client) do(ctx context.Context, method, path string, body json.RawMessage) (*Response, error) {
	if c == nil {
		return nil, fmt.Errorf("connector client not configured")
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(request)
	if err != nil {
		metrics.ConnectorErrors.Inc()
		return nil, fmt.Errorf("%s %s: %w: %v", method, path, ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.ConnectorErrors.Inc()
		return nil, fmt.Errorf("%s %s: %w: %v", method, path, ErrUnavailable, err)
	}
	return &Response{StatusCode: resp.StatusCode, Body: respBody}, nil
}
