// Package postgrest implements store.Store over a PostgREST endpoint such as
// the REST API of a hosted Supabase project.
package postgrest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/mentosming/splitmate-migrate/internal/logger"
	"github.com/mentosming/splitmate-migrate/internal/store"
)

// DefaultPageSize is the number of rows requested per page when Config
// leaves PageSize unset.
const DefaultPageSize = 1000

const restPath = "/rest/v1"

// Config describes one PostgREST endpoint.
type Config struct {
	// BaseURL is either the project URL (https://ref.supabase.co) or the
	// REST root itself (https://ref.supabase.co/rest/v1).
	BaseURL string
	// APIKey is sent both as apikey and as the bearer token.
	APIKey string

	PageSize int
	Timeout  time.Duration

	// MaxAttempts counts the first try; 1 disables retries.
	MaxAttempts  int
	RetryWait    time.Duration
	RetryMaxWait time.Duration

	// RequestsPerSecond paces outgoing requests; 0 means unlimited.
	RequestsPerSecond float64

	// OrderBy gives the columns used to page each table in a stable order.
	// Tables not listed are ordered by "id".
	OrderBy map[string][]string
}

// Client talks to one PostgREST endpoint.
type Client struct {
	http     *resty.Client
	pageSize int
	orderBy  map[string][]string
	log      *slog.Logger
}

var _ store.Store = (*Client)(nil)

// apiError is the error body PostgREST returns.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

// New builds a client. It does not contact the server.
func New(cfg Config, log *slog.Logger) (*Client, error) {
	base, err := NormalizeBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	if cfg.APIKey == "" {
		return nil, errors.New("postgrest: api key is required")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	log = log.With(logger.Scope("postgrest"), slog.String("endpoint", RedactURL(base)))

	hc := resty.New().
		SetBaseURL(base).
		SetTimeout(cfg.Timeout).
		SetHeader("apikey", cfg.APIKey).
		SetAuthToken(cfg.APIKey).
		SetHeader("Accept", "application/json").
		SetRetryCount(cfg.MaxAttempts - 1).
		AddRetryCondition(retryable)
	if cfg.RetryWait > 0 {
		hc.SetRetryWaitTime(cfg.RetryWait)
	}
	if cfg.RetryMaxWait > 0 {
		hc.SetRetryMaxWaitTime(cfg.RetryMaxWait)
	}
	if cfg.MaxAttempts > 1 {
		hc.AddRetryHook(func(resp *resty.Response, err error) {
			var attrs []any
			if resp != nil && resp.Request != nil {
				attrs = append(attrs, slog.Int("attempt", resp.Request.Attempt))
			}
			if err != nil {
				attrs = append(attrs, logger.Error(err))
			} else if resp != nil {
				attrs = append(attrs, slog.Int("status", resp.StatusCode()))
			}
			log.Warn("retrying request", attrs...)
		})
	}
	if cfg.RequestsPerSecond > 0 {
		limiter := rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
		hc.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
			return limiter.Wait(r.Context())
		})
	}

	return &Client{
		http:     hc,
		pageSize: cfg.PageSize,
		orderBy:  cfg.OrderBy,
		log:      log,
	}, nil
}

// retryable reports whether a failed attempt is worth repeating: transport
// errors, 429 and 5xx. Client errors are permanent.
func retryable(resp *resty.Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	if resp == nil {
		return false
	}
	code := resp.StatusCode()
	return code == http.StatusTooManyRequests || code >= 500
}

// Fetch pages through table until an empty page comes back. The server may
// cap a page below PageSize (max-rows), so a short page is not the end.
func (c *Client) Fetch(ctx context.Context, table string, filters ...store.Filter) ([]store.Record, error) {
	var all []store.Record
	offset := 0
	for {
		req := c.http.R().
			SetContext(ctx).
			SetQueryParam("select", "*").
			SetQueryParam("order", c.order(table)).
			SetQueryParam("limit", strconv.Itoa(c.pageSize)).
			SetQueryParam("offset", strconv.Itoa(offset))
		for _, f := range filters {
			req.SetQueryParam(f.Column, "eq."+f.Value)
		}

		resp, err := req.Get("/" + url.PathEscape(table))
		if err != nil {
			return nil, &store.RemoteReadError{Table: table, Err: err}
		}
		if resp.IsError() {
			return nil, &store.RemoteReadError{Table: table, Status: resp.StatusCode(), Err: decodeError(resp)}
		}

		var page []store.Record
		dec := json.NewDecoder(bytes.NewReader(resp.Body()))
		dec.UseNumber()
		if err := dec.Decode(&page); err != nil {
			return nil, &store.RemoteReadError{Table: table, Status: resp.StatusCode(), Err: fmt.Errorf("decode rows: %w", err)}
		}

		if len(page) == 0 {
			break
		}
		all = append(all, page...)
		c.log.Debug("fetched page",
			slog.String("table", table),
			slog.Int("offset", offset),
			slog.Int("rows", len(page)),
		)
		offset += len(page)
	}
	return all, nil
}

// Upsert posts rows with merge-duplicates resolution.
func (c *Client) Upsert(ctx context.Context, table string, rows []store.Record, opts store.UpsertOptions) error {
	if len(rows) == 0 {
		return nil
	}

	req := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Prefer", "resolution=merge-duplicates,return=minimal").
		SetQueryParam("columns", strings.Join(columnsOf(rows), ",")).
		SetBody(rows)
	if len(opts.OnConflict) > 0 {
		req.SetQueryParam("on_conflict", strings.Join(opts.OnConflict, ","))
	}

	resp, err := req.Post("/" + url.PathEscape(table))
	if err != nil {
		return &store.RemoteWriteError{Table: table, Batch: -1, Rows: len(rows), Err: err}
	}
	if resp.IsError() {
		return &store.RemoteWriteError{Table: table, Batch: -1, Rows: len(rows), Status: resp.StatusCode(), Err: decodeError(resp)}
	}
	return nil
}

// Count asks PostgREST for an exact count without transferring rows.
func (c *Client) Count(ctx context.Context, table string) (int64, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Prefer", "count=exact").
		SetQueryParam("select", "*").
		Head("/" + url.PathEscape(table))
	if err != nil {
		return 0, &store.RemoteReadError{Table: table, Err: err}
	}
	if resp.IsError() {
		return 0, &store.RemoteReadError{Table: table, Status: resp.StatusCode(), Err: errors.New(http.StatusText(resp.StatusCode()))}
	}
	n, err := ParseContentRange(resp.Header().Get("Content-Range"))
	if err != nil {
		return 0, &store.RemoteReadError{Table: table, Status: resp.StatusCode(), Err: err}
	}
	return n, nil
}

// Close is a no-op; the HTTP transport is shared.
func (c *Client) Close() {}

func (c *Client) order(table string) string {
	cols := c.orderBy[table]
	if len(cols) == 0 {
		cols = []string{"id"}
	}
	parts := make([]string, len(cols))
	for i, col := range cols {
		parts[i] = col + ".asc"
	}
	return strings.Join(parts, ",")
}

// columnsOf returns the sorted union of keys across rows so PostgREST
// accepts rows whose key sets differ.
func columnsOf(rows []store.Record) []string {
	seen := make(map[string]struct{})
	for _, row := range rows {
		for k := range row {
			seen[k] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

func decodeError(resp *resty.Response) error {
	var e apiError
	if err := json.Unmarshal(resp.Body(), &e); err == nil && e.Message != "" {
		msg := e.Message
		if e.Code != "" {
			msg = e.Code + ": " + msg
		}
		if e.Details != "" {
			msg += " (" + e.Details + ")"
		}
		return errors.New(msg)
	}
	body := strings.TrimSpace(resp.String())
	if body == "" {
		body = http.StatusText(resp.StatusCode())
	}
	return errors.New(body)
}

// ParseContentRange extracts the total from a PostgREST Content-Range header
// such as "0-24/3573" or "*/0".
func ParseContentRange(h string) (int64, error) {
	i := strings.LastIndex(h, "/")
	if i < 0 {
		return 0, fmt.Errorf("malformed Content-Range %q", h)
	}
	total := h[i+1:]
	if total == "*" {
		return 0, fmt.Errorf("server did not report a count in Content-Range %q", h)
	}
	n, err := strconv.ParseInt(total, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed Content-Range %q: %w", h, err)
	}
	return n, nil
}

// NormalizeBaseURL appends the REST root to a bare project URL.
func NormalizeBaseURL(raw string) (string, error) {
	if raw == "" {
		return "", errors.New("postgrest: base url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("postgrest: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("postgrest: base url %q must be http or https", raw)
	}
	path := strings.TrimRight(u.Path, "/")
	if path == "" {
		path = restPath
	}
	u.Path = path
	return u.String(), nil
}

// RedactURL drops userinfo and query from a URL for logging.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.User = nil
	u.RawQuery = ""
	return u.String()
}
