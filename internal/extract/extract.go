package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"source_recovery/internal/fetch"
	"source_recovery/internal/sourceurl"
	"source_recovery/internal/textclean"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
)

// ErrNoContent means every candidate page was fetched or skipped and none
// held enough article text.
var ErrNoContent = errors.New("no article content found")

const minParagraph = 20

var blockTags = func() []*regexp.Regexp {
	var out []*regexp.Regexp
	for _, tag := range []string{"div", "p", "br", "li", "td", "tr", "h1", "h2", "h3", "h4", "h5", "h6"} {
		out = append(out, regexp.MustCompile(`<`+tag+`[^>]*>`), regexp.MustCompile(`</`+tag+`>`))
	}
	return out
}()

// addSpacesBeforeParsing pads block elements so goquery's Text() does not
// glue neighbouring paragraphs together.
func addSpacesBeforeParsing(html string) string {
	for i := 0; i < len(blockTags); i += 2 {
		html = blockTags[i].ReplaceAllString(html, " $0")
		html = blockTags[i+1].ReplaceAllString(html, "$0 ")
	}
	return html
}

type Options struct {
	BaseURL      string
	PathPrefixes []string
	Selectors    []string
	Boilerplate  []string
	MinLength    int
	MaxLength    int
}

type Extractor struct {
	fetcher     fetch.Fetcher
	opts        Options
	boilerplate []*regexp.Regexp
}

func NewExtractor(f fetch.Fetcher, opts Options) (*Extractor, error) {
	bp, err := textclean.CompileBoilerplate(opts.Boilerplate)
	if err != nil {
		return nil, fmt.Errorf("boilerplate pattern: %w", err)
	}
	return &Extractor{fetcher: f, opts: opts, boilerplate: bp}, nil
}

var pageHeaders = http.Header{
	"Accept":          {"text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"},
	"Accept-Language": {"en-US,en;q=0.5"},
}

// Fetch tries each candidate URL for articleID in order and returns the
// first page that yields content. A throttling response aborts the
// remaining URLs with fetch.ErrRateLimited. If nothing was found and some
// URL failed in transport, that error is returned so the caller retries.
func (e *Extractor) Fetch(ctx context.Context, articleID string) (string, error) {
	urls := sourceurl.ArticleURLs(e.opts.BaseURL, e.opts.PathPrefixes, articleID)
	var lastErr error
	for _, u := range urls {
		resp, err := e.fetcher.Get(ctx, u, pageHeaders)
		switch {
		case errors.Is(err, fetch.ErrDisallowed):
			continue
		case err != nil:
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			lastErr = err
			continue
		}
		if fetch.IsRateLimited(resp) {
			return "", fetch.ErrRateLimited
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			lastErr = fmt.Errorf("article %s: server returned %d", u, resp.StatusCode)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			continue
		}
		if text := e.Extract(resp.Body, resp.URL); text != "" {
			return textclean.Truncate(text, e.opts.MaxLength), nil
		}
	}
	if lastErr != nil {
		return "", lastErr
	}
	return "", ErrNoContent
}

// Extract pulls article text from a page: the first configured selector
// with enough text wins, then leaf paragraphs, then readability.
func (e *Extractor) Extract(body []byte, pageURL string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(addSpacesBeforeParsing(string(body))))
	if err != nil {
		return ""
	}
	doc.Find("script, style, noscript").Remove()

	for _, sel := range e.opts.Selectors {
		s := doc.Find(sel).First()
		if s.Length() == 0 {
			continue
		}
		if text := e.clean(s.Text()); e.longEnough(text) {
			return text
		}
	}

	var paragraphs []string
	doc.Find("p, div").Each(func(_ int, s *goquery.Selection) {
		if s.Children().Length() > 0 {
			return
		}
		if t := textclean.NormalizeSpace(s.Text()); utf8.RuneCountInString(t) > minParagraph {
			paragraphs = append(paragraphs, t)
		}
	})
	if text := e.clean(strings.Join(paragraphs, " ")); e.longEnough(text) {
		return text
	}

	return e.readable(body, pageURL)
}

func (e *Extractor) readable(body []byte, pageURL string) string {
	parsedURL, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	article, err := readability.FromReader(bytes.NewReader(body), parsedURL)
	if err != nil {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(addSpacesBeforeParsing(article.Content)))
	if err != nil {
		return ""
	}
	if text := e.clean(doc.Text()); e.longEnough(text) {
		return text
	}
	return ""
}

func (e *Extractor) clean(text string) string {
	return textclean.Article(text, e.boilerplate)
}

func (e *Extractor) longEnough(text string) bool {
	return utf8.RuneCountInString(text) > e.opts.MinLength
}
