package sourceurl

import (
	"net/url"
	"strings"
)

func NormalizeURL(urlStr string) string {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return urlStr
	}

	parsed.Fragment = ""
	parsed.Host = strings.TrimPrefix(parsed.Host, "www.")
	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	return parsed.String()
}

// IsCanonicalVideoID reports whether id has the usual video id shape:
// exactly 11 ASCII letters or digits.
func IsCanonicalVideoID(id string) bool {
	if len(id) != 11 {
		return false
	}
	for _, c := range id {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}

func ContainsAny(s string, markers []string) bool {
	for _, m := range markers {
		if m != "" && strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// VideoID pulls the video id out of a watch, embed or short link.
// It returns "" when the link has none.
func VideoID(link string) string {
	link = strings.TrimSpace(link)
	cut := func(s, sep string) string {
		_, after, ok := strings.Cut(s, sep)
		if !ok {
			return ""
		}
		if i := strings.IndexAny(after, "?&#/"); i >= 0 {
			after = after[:i]
		}
		return after
	}
	switch {
	case strings.Contains(link, "youtu.be/"):
		return cut(link, "youtu.be/")
	case strings.Contains(link, "youtube.com"):
		if id := cut(link, "v="); id != "" {
			return id
		}
		if id := cut(link, "/embed/"); id != "" {
			return id
		}
		return cut(link, "/watch/")
	}
	return ""
}

// ArticleURLs lists the pages an article id may live under, in the order
// they should be tried. An absolute URL is tried first and alone among
// duplicates.
func ArticleURLs(base string, prefixes []string, id string) []string {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}
	var (
		out  []string
		seen = map[string]bool{}
	)
	add := func(u string) {
		n := NormalizeURL(u)
		if !seen[n] {
			seen[n] = true
			out = append(out, u)
		}
	}
	if strings.HasPrefix(id, "http://") || strings.HasPrefix(id, "https://") {
		add(id)
		return out
	}
	base = strings.TrimRight(base, "/")
	escaped := url.PathEscape(strings.Trim(id, "/"))
	for _, p := range prefixes {
		p = strings.Trim(p, "/")
		if p == "" {
			add(base + "/" + escaped)
			continue
		}
		add(base + "/" + p + "/" + escaped)
	}
	return out
}

// HostPath splits a URL into its scheme+host root and path, for robots
// lookups.
func HostPath(rawURL string) (root, path string, ok bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", "", false
	}
	path = u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return u.Scheme + "://" + u.Host, path, true
}
