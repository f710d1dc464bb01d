package transcript

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"source_recovery/internal/fetch"
)

type stubFetcher struct {
	pages map[string]*fetch.Response // keyed by lang param
	err   error
	urls  []string
}

func (s *stubFetcher) Get(_ context.Context, raw string, _ http.Header) (*fetch.Response, error) {
	s.urls = append(s.urls, raw)
	if s.err != nil {
		return nil, s.err
	}
	u, _ := url.Parse(raw)
	if r, ok := s.pages[u.Query().Get("lang")]; ok {
		return r, nil
	}
	return &fetch.Response{StatusCode: http.StatusNotFound}, nil
}

func ok(body string) *fetch.Response {
	return &fetch.Response{StatusCode: http.StatusOK, Body: []byte(body)}
}

const track = `<?xml version="1.0" encoding="utf-8" ?><transcript>
<text start="0.0" dur="1.5">[Music]</text>
<text start="1.5" dur="2.0">Cells are the the basic unit</text>
<text start="3.5" dur="2.0">of life &amp;amp; it&amp;#39;s &lt;font color=&quot;#fff&quot;&gt;everywhere&lt;/font&gt;</text>
</transcript>`

func TestClient_FallsBackThroughLanguages(t *testing.T) {
	f := &stubFetcher{pages: map[string]*fetch.Response{
		"en":    ok(""),
		"en-GB": ok(track),
	}}
	c := NewClient(f, Options{BaseURL: "https://captions.test/api", Languages: []string{"en", "en-US", "en-GB"}})

	text, err := c.Fetch(context.Background(), "dQw4w9WgXcQ")
	if err != nil {
		t.Fatal(err)
	}
	want := "Cells are the basic unit of life & it's everywhere"
	if text != want {
		t.Fatalf("got %q want %q", text, want)
	}
	if len(f.urls) != 3 || !strings.Contains(f.urls[0], "v=dQw4w9WgXcQ") {
		t.Fatalf("unexpected request sequence %v", f.urls)
	}
}

func TestClient_DefaultTrackLast(t *testing.T) {
	f := &stubFetcher{pages: map[string]*fetch.Response{"": ok(track)}}
	c := NewClient(f, Options{BaseURL: "https://captions.test/api", Languages: []string{"en"}})
	if _, err := c.Fetch(context.Background(), "abc"); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(f.urls[1], "lang=") {
		t.Fatalf("default track request must omit lang: %s", f.urls[1])
	}
}

func TestClient_RateLimitStopsImmediately(t *testing.T) {
	f := &stubFetcher{pages: map[string]*fetch.Response{
		"en": {StatusCode: http.StatusTooManyRequests},
	}}
	c := NewClient(f, Options{BaseURL: "https://captions.test/api", Languages: []string{"en", "en-US"}})
	if _, err := c.Fetch(context.Background(), "abc"); !errors.Is(err, fetch.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if len(f.urls) != 1 {
		t.Fatalf("kept going after a 429: %v", f.urls)
	}
}

func TestClient_ThrottlePageCountsAsRateLimit(t *testing.T) {
	f := &stubFetcher{pages: map[string]*fetch.Response{
		"en": ok("<html><body>Sorry, too many requests from your network.</body></html>"),
	}}
	c := NewClient(f, Options{BaseURL: "https://captions.test/api", Languages: []string{"en", "en-US"}})
	if _, err := c.Fetch(context.Background(), "abc"); !errors.Is(err, fetch.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestClient_NotFoundAndTransportError(t *testing.T) {
	c := NewClient(&stubFetcher{}, Options{BaseURL: "https://captions.test/api", Languages: []string{"en"}})
	if _, err := c.Fetch(context.Background(), "abc"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	boom := errors.New("connection reset")
	c = NewClient(&stubFetcher{err: boom}, Options{BaseURL: "https://captions.test/api"})
	if _, err := c.Fetch(context.Background(), "abc"); !errors.Is(err, boom) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestClient_Truncates(t *testing.T) {
	var words []string
	for i := 0; i < 50; i++ {
		words = append(words, fmt.Sprintf("w%d", i))
	}
	body := `<transcript><text start="0" dur="1">` + strings.Join(words, " ") + `</text></transcript>`
	f := &stubFetcher{pages: map[string]*fetch.Response{"en": ok(body)}}
	c := NewClient(f, Options{BaseURL: "https://captions.test/api", Languages: []string{"en"}, MaxLength: 20})
	text, err := c.Fetch(context.Background(), "abc")
	if err != nil {
		t.Fatal(err)
	}
	if len([]rune(text)) != 23 || !strings.HasSuffix(text, "...") {
		t.Fatalf("got %q", text)
	}
}
