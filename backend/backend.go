// Package backend talks to a PostgREST-style REST API: one path per table,
// equality filters as query parameters ("user_id=eq.u1") and JSON rows.
//
// Loaders and remote mutation operations in the consumers package are built on
// this client. It knows nothing about caching.
package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

var ErrUnfiltered = errors.New("backend: refusing to modify a table without a filter")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend: %s %s: http %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// Temporary reports whether retrying the request later may succeed.
func (e *StatusError) Temporary() bool {
	return e.Status == 429 || e.Status >= 500
}

type Config struct {
	BaseURL string // e.g. https://project.example.com/rest/v1
	APIKey  string // sent as the "apikey" header when set
	Token   string // bearer token
	Timeout time.Duration
	Retries int // retries on network errors and 5xx
}

type Client struct {
	rc *resty.Client
}

func New(cfg Config) *Client {
	rc := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("Accept", "application/json")
	if cfg.Timeout > 0 {
		rc.SetTimeout(cfg.Timeout)
	}
	if cfg.APIKey != "" {
		rc.SetHeader("apikey", cfg.APIKey)
	}
	if t := strings.TrimSpace(cfg.Token); t != "" {
		rc.SetAuthToken(t)
	}
	if cfg.Retries > 0 {
		rc.SetRetryCount(cfg.Retries).
			SetRetryWaitTime(100 * time.Millisecond).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				return err != nil || r.StatusCode() >= 500
			})
	}
	return &Client{rc: rc}
}

// Filter is a set of column equality constraints.
type Filter map[string]string

func (f Filter) apply(r *resty.Request) {
	for col, v := range f {
		r.SetQueryParam(col, "eq."+v)
	}
}

// RequestOption customizes a single request.
type RequestOption func(*resty.Request)

// OrderBy sorts List results by col.
func OrderBy(col string, desc bool) RequestOption {
	return func(r *resty.Request) {
		dir := "asc"
		if desc {
			dir = "desc"
		}
		r.SetQueryParam("order", col+"."+dir)
	}
}

// Columns restricts the selected columns (PostgREST "select").
func Columns(cols ...string) RequestOption {
	return func(r *resty.Request) {
		r.SetQueryParam("select", strings.Join(cols, ","))
	}
}

// WithBearer overrides the client token for one request, e.g. a user's session.
func WithBearer(token string) RequestOption {
	return func(r *resty.Request) {
		if token = strings.TrimSpace(token); token != "" {
			r.SetAuthToken(token)
		}
	}
}

// List fetches rows of table matching f into out (a pointer to a slice).
func (c *Client) List(ctx context.Context, table string, f Filter, out any, opts ...RequestOption) error {
	req := c.rc.R().SetContext(ctx).SetResult(out)
	f.apply(req)
	return c.do(req, resty.MethodGet, table, opts)
}

// Insert creates row. When out is non-nil the stored rows are decoded into it.
func (c *Client) Insert(ctx context.Context, table string, row any, out any, opts ...RequestOption) error {
	req := c.rc.R().SetContext(ctx).SetBody(row)
	if out != nil {
		req.SetHeader("Prefer", "return=representation").SetResult(out)
	}
	return c.do(req, resty.MethodPost, table, opts)
}

// Patch updates the rows matching f with the non-zero fields of patch.
func (c *Client) Patch(ctx context.Context, table string, f Filter, patch any, out any, opts ...RequestOption) error {
	if len(f) == 0 {
		return ErrUnfiltered
	}
	req := c.rc.R().SetContext(ctx).SetBody(patch)
	f.apply(req)
	if out != nil {
		req.SetHeader("Prefer", "return=representation").SetResult(out)
	}
	return c.do(req, resty.MethodPatch, table, opts)
}

// Delete removes the rows matching f.
func (c *Client) Delete(ctx context.Context, table string, f Filter, opts ...RequestOption) error {
	if len(f) == 0 {
		return ErrUnfiltered
	}
	req := c.rc.R().SetContext(ctx)
	f.apply(req)
	return c.do(req, resty.MethodDelete, table, opts)
}

func (c *Client) do(req *resty.Request, method, table string, opts []RequestOption) error {
	for _, opt := range opts {
		if opt != nil {
			opt(req)
		}
	}
	path := "/" + strings.TrimLeft(table, "/")
	resp, err := req.Execute(method, path)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return &StatusError{
			Method: method,
			Path:   path,
			Status: resp.StatusCode(),
			Body:   strings.TrimSpace(resp.String()),
		}
	}
	return nil
}
