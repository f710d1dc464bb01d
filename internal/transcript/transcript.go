package transcript

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strings"

	"source_recovery/internal/fetch"
	"source_recovery/internal/textclean"

	"github.com/microcosm-cc/bluemonday"
)

// ErrNotFound means no language produced a usable transcript.
var ErrNotFound = errors.New("no transcript available")

type timedText struct {
	XMLName xml.Name  `xml:"transcript"`
	Lines   []segment `xml:"text"`
}

type segment struct {
	Start string `xml:"start,attr"`
	Dur   string `xml:"dur,attr"`
	Text  string `xml:",chardata"`
}

type Options struct {
	BaseURL   string
	Languages []string
	MaxLength int
}

// Client pulls caption tracks from a timedtext endpoint, trying each
// preferred language and then the video's default track.
type Client struct {
	fetcher fetch.Fetcher
	opts    Options
	strip   *bluemonday.Policy
}

func NewClient(f fetch.Fetcher, opts Options) *Client {
	return &Client{fetcher: f, opts: opts, strip: bluemonday.StrictPolicy()}
}

func (c *Client) trackURL(videoID, lang string) string {
	q := url.Values{}
	q.Set("v", videoID)
	if lang != "" {
		q.Set("lang", lang)
	}
	return c.opts.BaseURL + "?" + q.Encode()
}

// Fetch returns the cleaned transcript for videoID. A throttling response
// stops immediately with fetch.ErrRateLimited; transport and server errors
// are returned for the caller to retry.
func (c *Client) Fetch(ctx context.Context, videoID string) (string, error) {
	langs := append(append([]string{}, c.opts.Languages...), "")
	for _, lang := range langs {
		resp, err := c.fetcher.Get(ctx, c.trackURL(videoID, lang), nil)
		if err != nil {
			return "", err
		}
		if fetch.IsThrottlePage(resp) {
			return "", fetch.ErrRateLimited
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return "", fmt.Errorf("transcript %s: server returned %d", videoID, resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			continue
		}
		text := c.parse(resp.Body)
		if text != "" {
			return textclean.Truncate(text, c.opts.MaxLength), nil
		}
	}
	return "", ErrNotFound
}

func (c *Client) parse(body []byte) string {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return ""
	}
	var tt timedText
	if err := xml.Unmarshal(body, &tt); err != nil {
		return ""
	}
	parts := make([]string, 0, len(tt.Lines))
	for _, l := range tt.Lines {
		t := html.UnescapeString(c.strip.Sanitize(html.UnescapeString(l.Text)))
		if t = strings.TrimSpace(t); t != "" {
			parts = append(parts, t)
		}
	}
	return textclean.Transcript(strings.Join(parts, " "))
}
