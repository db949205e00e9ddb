package hostqueue

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cockroachdb/errors"
)

// DefaultMaxBodySize caps how much of a response body Client reads.
const DefaultMaxBodySize = 10 << 20

// Response is a fully read HTTP response.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client issues HTTP requests through host queues, so that requests to one
// host never overlap.
type Client struct {
	HTTP        *http.Client
	UserAgent   string
	MaxBodySize int64

	standard *Pool
	fast     *Pool
}

// NewClient creates a client over a standard and a fast pool. Nil pools get
// the defaults.
func NewClient(standard, fast *Pool) *Client {
	if standard == nil {
		standard = NewPool("standard", WithQueueOptions(MaxDelay(DefaultMaxDelay)))
	}
	if fast == nil {
		fast = NewPool("fast", WithQueueOptions(MaxDelay(FastMaxDelay)))
	}
	return &Client{
		HTTP:        &http.Client{Timeout: 30 * time.Second},
		UserAgent:   "serial-jobs",
		MaxBodySize: DefaultMaxBodySize,
		standard:    standard,
		fast:        fast,
	}
}

// Standard returns the pool used by Get.
func (c *Client) Standard() *Pool { return c.standard }

// Fast returns the pool used by GetFast.
func (c *Client) Fast() *Pool { return c.fast }

// Get fetches rawURL through the standard pool.
func (c *Client) Get(ctx context.Context, rawURL string) (*Response, error) {
	return c.get(ctx, c.standard, rawURL)
}

// GetFast fetches rawURL through the fast pool.
func (c *Client) GetFast(ctx context.Context, rawURL string) (*Response, error) {
	return c.get(ctx, c.fast, rawURL)
}

func (c *Client) get(ctx context.Context, pool *Pool, rawURL string) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrapf(err, "hostqueue: parse %q", rawURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Newf("hostqueue: unsupported scheme %q", u.Scheme)
	}
	host, err := HostOf(rawURL)
	if err != nil {
		return nil, err
	}

	return Do(ctx, pool.Queue(host), func(ctx context.Context) (*Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, errors.Wrap(err, "hostqueue: build request")
		}
		if c.UserAgent != "" {
			req.Header.Set("User-Agent", c.UserAgent)
		}

		resp, err := c.HTTP.Do(req)
		if err != nil {
			return nil, errors.Wrapf(err, "hostqueue: get %s", rawURL)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, c.MaxBodySize))
		if err != nil {
			return nil, errors.Wrapf(err, "hostqueue: read %s", rawURL)
		}
		return &Response{
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       body,
		}, nil
	})
}
