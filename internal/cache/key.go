package cache

import (
	"net/http"
	"net/url"
	"strings"
)

// FormatParam is the query parameter that selects the response format.
const FormatParam = "format"

// IsCacheable reports whether responses to the method may be cached.
func IsCacheable(method string) bool {
	return method == http.MethodGet
}

// Key derives the cache key for a request. It returns false when the method
// is not cacheable or the URL cannot be parsed, in which case the request
// must bypass the cache.
func Key(method, rawURL string) (string, bool) {
	if !IsCacheable(method) {
		return "", false
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}

	query, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return "", false
	}

	var b strings.Builder
	b.WriteString(method)
	b.WriteByte(':')
	b.WriteString(normalizePath(u.EscapedPath()))

	if canonical := canonicalQuery(query); canonical != "" {
		b.WriteByte('?')
		b.WriteString(canonical)
	}

	return b.String(), true
}

func normalizePath(p string) string {
	p = strings.TrimRight(p, "/")
	if p == "" {
		return "/"
	}
	return p
}

func canonicalQuery(query url.Values) string {
	parts := make([]string, 0, 2)

	for _, format := range query[FormatParam] {
		parts = append(parts, FormatParam+"="+url.QueryEscape(format))
	}
	delete(query, FormatParam)

	// Encode sorts by parameter name and keeps value order.
	if rest := query.Encode(); rest != "" {
		parts = append(parts, rest)
	}

	return strings.Join(parts, "&")
}
