// Package backfill drives the time-cursor pagination loop that imports
// historical flash items from the upstream API.
package backfill

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/quantfeed/flashcrawl/internal/flash"
	"github.com/quantfeed/flashcrawl/internal/retry"
)

// ErrMalformedResponse marks a body the upstream returned that is not the
// expected JSON shape. It is fatal for the page, never retried.
var ErrMalformedResponse = errors.New("malformed upstream response")

// Item is one element of a history page.
type Item struct {
	Important int      `json:"important"`
	Time      string   `json:"time"`
	Data      ItemData `json:"data"`
}

// ItemData carries the nested content payload.
type ItemData struct {
	Content string `json:"content"`
}

// Flagged reports whether the upstream marked the item as important. Only
// flagged items are considered for ingestion from the historical path.
func (i Item) Flagged() bool { return i.Important == 1 }

type page struct {
	Data []Item `json:"data"`
}

// ClientConfig identifies the deployment against the upstream API.
type ClientConfig struct {
	BaseURL   string
	Channel   string
	VIP       string
	AppID     string
	Version   string
	UserAgent string
	Cookie    string
	Timeout   time.Duration
}

// Client fetches history pages. The transport is plain net/http because the
// max_time parameter must carry a literal '+' that url.Values would
// percent-encode.
type Client struct {
	cfg  ClientConfig
	http *http.Client
}

// NewClient builds an upstream history client.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
	}
}

// FetchPage requests one page of items strictly older than max. An empty
// slice means the upstream is exhausted at this boundary.
func (c *Client) FetchPage(ctx context.Context, max flash.Boundary) ([]Item, error) {
	rawURL := fmt.Sprintf("%s?channel=%s&vip=%s&max_time=%s",
		c.cfg.BaseURL,
		url.QueryEscape(c.cfg.Channel),
		url.QueryEscape(c.cfg.VIP),
		max.Wire(),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build history request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch history page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck
		return nil, &retry.HTTPStatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read history body: %w", err)
	}

	var p page
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return p.Data, nil
}

// setHeaders shapes the request like the browser the upstream expects; the
// x-app-id / x-version pair is checked by its edge.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("Referer", "https://www.jin10.com/")
	req.Header.Set("Origin", "https://www.jin10.com")
	req.Header.Set("handleerror", "true")
	if c.cfg.AppID != "" {
		req.Header.Set("x-app-id", c.cfg.AppID)
	}
	if c.cfg.Version != "" {
		req.Header.Set("x-version", c.cfg.Version)
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	if c.cfg.Cookie != "" {
		req.Header.Set("Cookie", c.cfg.Cookie)
	}
}
