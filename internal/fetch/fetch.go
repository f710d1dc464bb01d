package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"source_recovery/internal/logger"
	"source_recovery/internal/sourceurl"

	"github.com/gocolly/colly"
	"github.com/temoto/robotstxt"
	"golang.org/x/net/html/charset"
)

// ErrDisallowed is returned for URLs the host's robots.txt forbids.
var ErrDisallowed = errors.New("disallowed by robots.txt")

type Response struct {
	StatusCode int
	URL        string
	Header     http.Header
	Body       []byte
}

// Fetcher issues a single GET. Non-2xx statuses come back as a Response,
// not an error; errors are transport failures.
type Fetcher interface {
	Get(ctx context.Context, url string, hdr http.Header) (*Response, error)
}

type Options struct {
	UserAgent     string
	Timeout       time.Duration
	MaxRedirects  int
	RespectRobots bool
}

// Collector is a Fetcher backed by a synchronous colly collector.
type Collector struct {
	base *colly.Collector
	opts Options
	log  *logger.Logger

	mu     sync.Mutex
	robots map[string]*robotstxt.RobotsData
}

func NewCollector(opts Options, log *logger.Logger) *Collector {
	c := colly.NewCollector(
		colly.UserAgent(opts.UserAgent),
		colly.AllowURLRevisit(),
	)
	c.ParseHTTPErrorResponse = true
	if opts.Timeout > 0 {
		c.SetRequestTimeout(opts.Timeout)
	}
	if opts.MaxRedirects > 0 {
		max := opts.MaxRedirects
		c.RedirectHandler = func(req *http.Request, via []*http.Request) error {
			if len(via) > max {
				return fmt.Errorf("stopped after %d redirects", max)
			}
			return nil
		}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Collector{
		base:   c,
		opts:   opts,
		log:    log,
		robots: make(map[string]*robotstxt.RobotsData),
	}
}

// colly has no per-request context, so ctx is only checked before the
// request goes out; the collector timeout bounds the call itself.
func (c *Collector) Get(ctx context.Context, url string, hdr http.Header) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.opts.RespectRobots && !c.allowed(url) {
		return nil, ErrDisallowed
	}
	return c.do(url, hdr)
}

func (c *Collector) do(url string, hdr http.Header) (*Response, error) {
	col := c.base.Clone()
	col.ParseHTTPErrorResponse = true
	col.AllowURLRevisit = true

	var resp *Response
	col.OnResponse(func(r *colly.Response) {
		resp = &Response{
			StatusCode: r.StatusCode,
			URL:        r.Request.URL.String(),
			Body:       r.Body,
		}
		if r.Headers != nil {
			resp.Header = r.Headers.Clone()
		}
	})

	h := http.Header{}
	for k, v := range hdr {
		h[k] = v
	}
	if h.Get("User-Agent") == "" {
		h.Set("User-Agent", c.opts.UserAgent)
	}

	err := col.Request(http.MethodGet, url, nil, nil, h)
	if resp == nil {
		if err == nil {
			err = errors.New("no response")
		}
		return nil, fmt.Errorf("get %s: %w", url, err)
	}
	resp.Body = decodeBody(resp.Body, resp.Header.Get("Content-Type"))
	return resp, nil
}

// decodeBody converts legacy encodings to UTF-8. Bodies that are already
// valid UTF-8 are returned as is.
func decodeBody(body []byte, contentType string) []byte {
	if utf8.Valid(body) {
		return body
	}
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return body
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return body
	}
	return out
}

func (c *Collector) allowed(url string) bool {
	root, path, ok := sourceurl.HostPath(url)
	if !ok {
		return true
	}

	c.mu.Lock()
	data, cached := c.robots[root]
	c.mu.Unlock()

	if !cached {
		resp, err := c.do(root+"/robots.txt", nil)
		if err != nil {
			c.log.Debug("robots.txt unavailable", "host", root, "error", err)
		} else if data, err = robotstxt.FromStatusAndBytes(resp.StatusCode, resp.Body); err != nil {
			c.log.Debug("robots.txt unparsable", "host", root, "error", err)
			data = nil
		}
		c.mu.Lock()
		c.robots[root] = data
		c.mu.Unlock()
	}
	if data == nil {
		return true
	}
	return data.TestAgent(path, c.opts.UserAgent)
}

// ErrRateLimited means the provider asked us to slow down.
var ErrRateLimited = errors.New("rate limited by provider")

// IsRateLimited reports whether resp is a 429.
func IsRateLimited(resp *Response) bool {
	return resp != nil && resp.StatusCode == http.StatusTooManyRequests
}

// IsThrottlePage is IsRateLimited plus a body check for providers that
// answer 200 with a "too many requests" page. Only the first 4 KB are
// looked at.
func IsThrottlePage(resp *Response) bool {
	if resp == nil {
		return false
	}
	if IsRateLimited(resp) {
		return true
	}
	n := len(resp.Body)
	if n > 4096 {
		n = 4096
	}
	return bytes.Contains(bytes.ToLower(resp.Body[:n]), []byte("too many requests"))
}
