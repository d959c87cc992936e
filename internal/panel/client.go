// Package panel implements the hosting-control-panel API client:
// roster retrieval with truncation compensation, usage reset and
// quota update, with layered response validation.
package panel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hostops/bwcarry/internal/metrics"
)

// Config configures the panel client. Credentials travel as query
// parameters on every request, per the panel's API convention.
type Config struct {
	BaseURL        string
	APIKey         string
	APIPass        string
	ConnectTimeout time.Duration
	Timeout        time.Duration
}

// Client is a typed client for the panel's HTTP API.
type Client struct {
	base    *url.URL
	apiKey  string
	apiPass string
	http    *http.Client
	log     *slog.Logger
}

// NewClient creates a panel client from configuration.
func NewClient(cfg Config) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse panel base URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("panel base URL %q must be absolute", cfg.BaseURL)
	}

	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Client{
		base:    base,
		apiKey:  cfg.APIKey,
		apiPass: cfg.APIPass,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: connectTimeout,
				}).DialContext,
			},
		},
		log: slog.With("component", "panel"),
	}, nil
}

// buildURL merges the base URL's query, credentials, and per-call
// parameters into a request URL.
func (c *Client) buildURL(params url.Values) string {
	u := *c.base
	q := u.Query()
	if c.apiKey != "" {
		q.Set("apikey", c.apiKey)
	}
	if c.apiPass != "" {
		q.Set("apipass", c.apiPass)
	}
	q.Set("api", "json")
	for key, vals := range params {
		for _, v := range vals {
			q.Set(key, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// do performs one panel call and applies the first three validation
// layers: transport completion, HTTP success status, and not-HTML.
// JSON parsing and per-endpoint success flags are the caller's layers.
func (c *Client) do(ctx context.Context, method, endpoint string, params, form url.Values) ([]byte, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.buildURL(params), body)
	if err != nil {
		return nil, c.callError(&CallError{Err: ErrTransport, Endpoint: endpoint, Detail: err.Error()})
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.callError(&CallError{Err: ErrTransport, Endpoint: endpoint, Detail: err.Error()})
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.callError(&CallError{Err: ErrTransport, Endpoint: endpoint, Detail: "read body: " + err.Error()})
	}

	if m := metrics.Get(); m != nil {
		m.ObserveAPICall(endpoint, time.Since(start).Seconds())
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.callError(&CallError{
			Err:      ErrTransport,
			Endpoint: endpoint,
			Detail:   fmt.Sprintf("http %d %s", resp.StatusCode, resp.Status),
			Excerpt:  excerpt(raw),
		})
	}

	if looksLikeHTML(raw) {
		return nil, c.callError(&CallError{
			Err:      ErrMalformedResponse,
			Endpoint: endpoint,
			Detail:   "html page where json expected",
			Excerpt:  excerpt(raw),
		})
	}

	return raw, nil
}

// callError counts the failed call before handing the error back.
func (c *Client) callError(ce *CallError) error {
	if m := metrics.Get(); m != nil {
		m.IncAPICallError(ce.Endpoint, errorKind(ce.Err))
	}
	return ce
}

// looksLikeHTML detects an HTML error page masquerading as an API
// response. The panel serves login and error pages with a 200 status.
func looksLikeHTML(body []byte) bool {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return false
	}
	lower := strings.ToLower(trimmed)
	return strings.HasPrefix(lower, "<!doctype") ||
		strings.HasPrefix(lower, "<html") ||
		strings.HasPrefix(lower, "<head") ||
		strings.HasPrefix(lower, "<body")
}

// fetchPage retrieves one roster page. reslen 0 asks for all records;
// page < 0 omits the page parameter. extra carries optional roster
// filters such as a status restriction.
func (c *Client) fetchPage(ctx context.Context, reslen, page int, extra url.Values) (map[string]Snapshot, error) {
	params := url.Values{}
	params.Set("act", "vs")
	params.Set("reslen", strconv.Itoa(reslen))
	if page >= 0 {
		params.Set("page", strconv.Itoa(page))
	}
	for key, vals := range extra {
		for _, v := range vals {
			params.Set(key, v)
		}
	}

	raw, err := c.do(ctx, http.MethodGet, "vs", params, nil)
	if err != nil {
		return nil, err
	}

	var payload rosterResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, c.callError(&CallError{
			Err:      ErrMalformedResponse,
			Endpoint: "vs",
			Detail:   err.Error(),
			Excerpt:  excerpt(raw),
		})
	}
	if payload.VS == nil {
		return nil, c.callError(&CallError{
			Err:      ErrSchema,
			Endpoint: "vs",
			Detail:   `missing "vs" field`,
			Excerpt:  excerpt(raw),
		})
	}

	return payload.VS.items, nil
}

// ResetBandwidth issues the usage-reset call for one VPS and validates
// the {"done": 1} success flag.
func (c *Client) ResetBandwidth(ctx context.Context, vpsID string) error {
	params := url.Values{}
	params.Set("act", "vs")
	params.Set("bwreset", vpsID)

	raw, err := c.do(ctx, http.MethodPost, "bwreset", params, nil)
	if err != nil {
		if ce, ok := err.(*CallError); ok {
			ce.VPSID = vpsID
		}
		return err
	}

	var payload resetResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return c.callError(&CallError{
			Err:      ErrMalformedResponse,
			Endpoint: "bwreset",
			VPSID:    vpsID,
			Detail:   err.Error(),
			Excerpt:  excerpt(raw),
		})
	}
	if payload.Done == nil {
		return c.callError(&CallError{
			Err:      ErrSchema,
			Endpoint: "bwreset",
			VPSID:    vpsID,
			Detail:   `missing "done" field`,
			Excerpt:  excerpt(raw),
		})
	}
	if !bool(*payload.Done) {
		return c.callError(&CallError{
			Err:      ErrSemanticFailure,
			Endpoint: "bwreset",
			VPSID:    vpsID,
			Excerpt:  excerpt(raw),
		})
	}

	return nil
}

// UpdateBandwidth issues the quota-update call for one VPS, carrying
// the new limit and the unchanged plan id, and validates the nested
// {"done": {"done": true}} success flag.
func (c *Client) UpdateBandwidth(ctx context.Context, vpsID string, newLimit int64, planID string) error {
	params := url.Values{}
	params.Set("act", "managevps")
	params.Set("vpsid", vpsID)

	form := url.Values{}
	form.Set("editvps", "1")
	form.Set("bandwidth", strconv.FormatInt(newLimit, 10))
	form.Set("plid", planID)

	raw, err := c.do(ctx, http.MethodPost, "managevps", params, form)
	if err != nil {
		if ce, ok := err.(*CallError); ok {
			ce.VPSID = vpsID
		}
		return err
	}

	var payload updateResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return c.callError(&CallError{
			Err:      ErrMalformedResponse,
			Endpoint: "managevps",
			VPSID:    vpsID,
			Detail:   err.Error(),
			Excerpt:  excerpt(raw),
		})
	}

	done, present := payload.completed()
	if !present {
		return c.callError(&CallError{
			Err:      ErrSchema,
			Endpoint: "managevps",
			VPSID:    vpsID,
			Detail:   `missing nested "done" flag`,
			Excerpt:  excerpt(raw),
		})
	}
	if !done {
		return c.callError(&CallError{
			Err:      ErrSemanticFailure,
			Endpoint: "managevps",
			VPSID:    vpsID,
			Excerpt:  excerpt(raw),
		})
	}

	return nil
}
