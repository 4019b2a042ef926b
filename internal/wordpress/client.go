package wordpress

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"wprag/internal/provider"
)

const invalidPageCode = "rest_post_invalid_page_number"

// Rendered is a WordPress field that is either a plain string or an object
// carrying the HTML under "rendered".
type Rendered string

func (r *Rendered) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*r = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = Rendered(s)
		return nil
	}
	var obj struct {
		Rendered string `json:"rendered"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*r = Rendered(obj.Rendered)
	return nil
}

// Post is one item of the posts endpoint.
type Post struct {
	ID          int64    `json:"id"`
	Slug        string   `json:"slug"`
	Status      string   `json:"status"`
	Link        string   `json:"link"`
	ModifiedGMT string   `json:"modified_gmt"`
	Title       Rendered `json:"title"`
	Content     Rendered `json:"content"`
}

type Options struct {
	BaseURL     string
	PostsPath   string
	PerPage     int
	MaxPosts    int // 0 = unlimited
	Username    string
	AppPassword string
	Timeout     time.Duration
}

// Client pages through the WordPress REST posts endpoint.
type Client struct {
	opts Options
	http *http.Client
}

// NewClient builds a client. A nil httpClient gets a default one with the
// configured timeout and an instrumented transport.
func NewClient(opts Options, httpClient *http.Client) *Client {
	if opts.PerPage <= 0 {
		opts.PerPage = 100
	}
	if opts.PostsPath == "" {
		opts.PostsPath = "/wp-json/wp/v2/posts"
	}
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &Client{opts: opts, http: httpClient}
}

// FetchPosts returns every published post modified after modifiedAfter (all
// posts when empty) in upstream pagination order. Pagination ends on an empty
// page or the out-of-range page error.
func (c *Client) FetchPosts(ctx context.Context, modifiedAfter string) ([]Post, error) {
	endpoint := strings.TrimRight(c.opts.BaseURL, "/") + c.opts.PostsPath

	var out []Post
	for page := 1; ; page++ {
		items, done, err := c.fetchPage(ctx, endpoint, page, modifiedAfter)
		if err != nil {
			return nil, fmt.Errorf("fetch page %d: %w", page, err)
		}
		if done || len(items) == 0 {
			break
		}

		out = append(out, items...)
		if c.opts.MaxPosts > 0 && len(out) >= c.opts.MaxPosts {
			out = out[:c.opts.MaxPosts]
			break
		}
	}

	slog.InfoContext(ctx, "wordpress posts fetched", "count", len(out), "modified_after", modifiedAfter)
	return out, nil
}

func (c *Client) fetchPage(ctx context.Context, endpoint string, page int, modifiedAfter string) ([]Post, bool, error) {
	params := url.Values{}
	params.Set("page", strconv.Itoa(page))
	params.Set("per_page", strconv.Itoa(c.opts.PerPage))
	params.Set("status", "publish")
	if modifiedAfter != "" {
		params.Set("modified_after", modifiedAfter)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Accept", "application/json")
	if c.opts.Username != "" && c.opts.AppPassword != "" {
		req.SetBasicAuth(c.opts.Username, c.opts.AppPassword)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, false, &provider.RequestError{Provider: "wordpress", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, &provider.RequestError{Provider: "wordpress", StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode == http.StatusBadRequest && bytes.Contains(body, []byte(invalidPageCode)) {
		return nil, true, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, false, &provider.RequestError{Provider: "wordpress", StatusCode: resp.StatusCode, Body: string(body)}
	}

	var items []Post
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, false, fmt.Errorf("decode posts: %w", err)
	}
	return items, false, nil
}
