package requestkey

import (
	"net/http"
	"net/url"
	"sort"
	"strings"
)

const methodSeparator = ":"

// ForRequest returns the cache identity of a request: method plus normalized URL.
// Two requests with the same identity are interchangeable cache-wise.
func ForRequest(r *http.Request) string {
	return r.Method + methodSeparator + NormalizeURL(r.URL)
}

// NormalizeURL canonicalizes a URL for use in a cache key.
// The fragment is dropped, the host is lowercased, default ports are stripped
// and query parameters are sorted by name.
func NormalizeURL(u *url.URL) string {
	n := *u
	n.Fragment = ""
	n.Host = strings.ToLower(n.Host)
	if (n.Scheme == "http" && strings.HasSuffix(n.Host, ":80")) ||
		(n.Scheme == "https" && strings.HasSuffix(n.Host, ":443")) {
		n.Host = n.Host[:strings.LastIndex(n.Host, ":")]
	}
	if n.Path == "" {
		n.Path = "/"
	}
	if n.RawQuery != "" {
		n.RawQuery = sortQuery(n.RawQuery)
	}
	return n.String()
}

func sortQuery(rawQuery string) string {
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return rawQuery
	}
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, name := range names {
		for _, value := range values[name] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(name))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(value))
		}
	}
	return b.String()
}

// Method extracts the method part of a previously generated key.
func Method(key string) string {
	method, _, found := strings.Cut(key, methodSeparator)
	if !found {
		return ""
	}
	return method
}
