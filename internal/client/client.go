// Package client is the HTTP implementation of the editing session's remote.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/starford/piko/internal/apperr"
	"github.com/starford/piko/internal/identity"
	"github.com/starford/piko/internal/models"
)

// Client talks to the /api routes of a Piko server.
type Client struct {
	base   string
	http   *http.Client
	authFn func(*http.Request)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithBearer authenticates every request with a JWT.
func WithBearer(token string) Option {
	return func(c *Client) {
		c.authFn = func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
	}
}

// WithUser authenticates in header mode.
func WithUser(userID string) Option {
	return func(c *Client) {
		c.authFn = func(r *http.Request) { r.Header.Set(identity.HeaderUserID, userID) }
	}
}

// New creates a client for the server at baseURL, e.g. "http://localhost:8080".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		base: strings.TrimRight(baseURL, "/") + "/api",
		http: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Project returns the project view, including the caller's capabilities.
func (c *Client) Project(ctx context.Context, projectID string) (models.ProjectView, error) {
	var v models.ProjectView
	_, err := c.do(ctx, http.MethodGet, projectPath(projectID), nil, nil, &v)
	return v, err
}

// CreateProject creates a project owned by the caller.
func (c *Client) CreateProject(ctx context.Context, name string) (models.Project, error) {
	var p models.Project
	_, err := c.do(ctx, http.MethodPost, "/projects", nil, map[string]string{"name": name}, &p)
	return p, err
}

// RenameProject sets the project name.
func (c *Client) RenameProject(ctx context.Context, projectID, name string) error {
	_, err := c.do(ctx, http.MethodPatch, projectPath(projectID), nil, map[string]string{"name": name}, nil)
	return err
}

// DeleteProject removes the project.
func (c *Client) DeleteProject(ctx context.Context, projectID string) error {
	_, err := c.do(ctx, http.MethodDelete, projectPath(projectID), nil, nil, nil)
	return err
}

// LoadGraph returns the stored graph.
func (c *Client) LoadGraph(ctx context.Context, projectID string) (models.Graph, error) {
	g, _, err := c.LoadGraphTagged(ctx, projectID)
	return g, err
}

// LoadGraphTagged returns the stored graph and its checksum tag.
func (c *Client) LoadGraphTagged(ctx context.Context, projectID string) (models.Graph, string, error) {
	var g models.Graph
	h, err := c.do(ctx, http.MethodGet, projectPath(projectID)+"/graph", nil, nil, &g)
	if err != nil {
		return models.Graph{}, "", err
	}
	return g.Normalize(), strings.Trim(h.Get("ETag"), `"`), nil
}

// SaveGraph replaces the stored graph, last writer wins.
func (c *Client) SaveGraph(ctx context.Context, projectID string, g models.Graph) error {
	_, err := c.SaveGraphIfMatch(ctx, projectID, g, "")
	return err
}

// SaveGraphIfMatch replaces the stored graph only if its tag is still
// ifMatch, returning apperr.ErrConflict otherwise. The new tag is returned.
func (c *Client) SaveGraphIfMatch(ctx context.Context, projectID string, g models.Graph, ifMatch string) (string, error) {
	hdr := http.Header{}
	if ifMatch != "" {
		hdr.Set("If-Match", `"`+ifMatch+`"`)
	}
	h, err := c.do(ctx, http.MethodPut, projectPath(projectID)+"/graph", hdr, g.Normalize(), nil)
	if err != nil {
		return "", err
	}
	return strings.Trim(h.Get("ETag"), `"`), nil
}

// PutMember grants role to userID.
func (c *Client) PutMember(ctx context.Context, projectID, userID string, role models.Role) error {
	_, err := c.do(ctx, http.MethodPut, projectPath(projectID)+"/members/"+url.PathEscape(userID), nil,
		map[string]string{"role": string(role)}, nil)
	return err
}

func projectPath(id string) string {
	return "/projects/" + url.PathEscape(id)
}

func (c *Client) do(ctx context.Context, method, path string, hdr http.Header, body, out any) (http.Header, error) {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("client: encode body: %w", err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return nil, fmt.Errorf("client: build request: %w", err)
	}
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authFn != nil {
		c.authFn(req)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("%w: %w", apperr.ErrTransportAborted, err)
		}
		return nil, fmt.Errorf("%w: %v", apperr.ErrTransportFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, statusError(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %w", apperr.ErrTransportAborted, ctx.Err())
			}
			return nil, fmt.Errorf("%w: decode response: %v", apperr.ErrTransportFailed, err)
		}
	}
	return resp.Header, nil
}

func statusError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body)
	msg := body.Error
	if msg == "" {
		msg = resp.Status
	}

	var kind error
	switch resp.StatusCode {
	case http.StatusBadRequest:
		kind = apperr.ErrValidation
	case http.StatusUnauthorized:
		kind = apperr.ErrUnauthenticated
	case http.StatusForbidden:
		kind = apperr.ErrForbidden
	case http.StatusNotFound:
		kind = apperr.ErrNotFound
	case http.StatusConflict, http.StatusPreconditionFailed:
		kind = apperr.ErrConflict
	default:
		kind = apperr.ErrTransportFailed
	}
	return fmt.Errorf("%w: %s", kind, msg)
}
