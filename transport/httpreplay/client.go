// Package httpreplay implements the network replay client for the offline
// sync engine. Each pending operation maps to one HTTP request: create to
// POST, update to PUT, delete to DELETE, against entity-specific endpoints
// resolved from an injected routes table.
package httpreplay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	offsync "github.com/c0deZ3R0/go-offline-sync"
	syncErrors "github.com/c0deZ3R0/go-offline-sync/errors"
	"github.com/c0deZ3R0/go-offline-sync/logging"
)

// Limits defines response size limits for the replay client.
type Limits struct {
	// MaxBodyBytes caps how much of an error response body is read back.
	MaxBodyBytes int64
}

// Client implements offsync.Replayer over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	routes  offsync.Routes
	limits  Limits
	logger  *logging.Logger
}

// Compile-time check that Client satisfies the Replayer interface.
var _ offsync.Replayer = (*Client)(nil)

// ClientOption configures a Client using the functional options pattern.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(cl *http.Client) ClientOption {
	return func(c *Client) {
		if cl != nil {
			c.http = cl
		}
	}
}

// WithRoutes sets the entity routes table.
func WithRoutes(r offsync.Routes) ClientOption {
	return func(c *Client) {
		if r != nil {
			c.routes = r
		}
	}
}

// WithLimits sets the response size limits.
func WithLimits(l Limits) ClientOption {
	return func(c *Client) { c.limits = l }
}

// WithClientLogger sets the structured logger.
func WithClientLogger(l *logging.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a replay client for the remote store at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		routes:  offsync.DefaultRoutes(),
		limits:  Limits{MaxBodyBytes: 1 << 20}, // 1MB
		logger:  logging.WithComponent(logging.Component("http-replay")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the base URL for the client.
func (c *Client) BaseURL() string { return c.baseURL }

// Replay performs one network attempt for the operation. Any network error
// or non-2xx status comes back as a retryable network error; the caller's
// context bounds the attempt, and expiry is indistinguishable from a network
// failure.
func (c *Client) Replay(ctx context.Context, op offsync.PendingOperation) error {
	method, path, err := c.resolve(op)
	if err != nil {
		return err
	}

	var body io.Reader
	if method != http.MethodDelete && len(op.Payload) > 0 {
		body = bytes.NewReader(op.Payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return syncErrors.NewWithComponent(syncErrors.OpReplay, "transport",
			fmt.Errorf("failed to create request: %w", err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("replaying operation",
		slog.String("operation_id", op.ID),
		slog.String("method", method),
		slog.String("path", path))

	resp, err := c.http.Do(req)
	if err != nil {
		return syncErrors.NewNetworkError(syncErrors.OpReplay,
			fmt.Errorf("network error: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, c.limits.MaxBodyBytes))
		c.logger.Warn("replay rejected by remote",
			slog.String("operation_id", op.ID),
			slog.Int("status_code", resp.StatusCode))
		return syncErrors.NewNetworkError(syncErrors.OpReplay,
			fmt.Errorf("server error (status %d): %s", resp.StatusCode, string(detail)))
	}

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, c.limits.MaxBodyBytes))

	return nil
}

// resolve maps the operation's action onto an HTTP verb and endpoint.
func (c *Client) resolve(op offsync.PendingOperation) (method, path string, err error) {
	routes, ok := c.routes.For(op.EntityType)
	if !ok {
		return "", "", syncErrors.NewValidationError(syncErrors.OpReplay,
			fmt.Errorf("no routes configured for entity type %q", op.EntityType))
	}

	switch op.Action {
	case offsync.ActionCreate:
		return http.MethodPost, routes.CreatePath, nil
	case offsync.ActionUpdate:
		return http.MethodPut, routes.UpdatePath(entityID(op)), nil
	case offsync.ActionDelete:
		return http.MethodDelete, routes.DeletePath(entityID(op)), nil
	}
	return "", "", syncErrors.NewValidationError(syncErrors.OpReplay,
		fmt.Errorf("unknown action %q", op.Action))
}

// entityID extracts the domain record id from the payload. Updates and
// deletes address /api/{entityType}s/{id}; falling back to the operation id
// keeps the request well-formed when the payload omits one.
func entityID(op offsync.PendingOperation) string {
	var partial struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(op.Payload, &partial); err == nil && partial.ID != "" {
		return partial.ID
	}
	return op.ID
}
