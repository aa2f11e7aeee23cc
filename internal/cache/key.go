package cache

import (
	"net/url"
	"strings"
)

// BuildKey is the exact identity of a request: method plus absolute URL
// without fragment. No prefix or vary matching is applied.
func BuildKey(method string, target *url.URL) string {
	if target == nil {
		return ""
	}
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = "GET"
	}

	path := target.EscapedPath()
	if path == "" {
		path = "/"
	}

	var builder strings.Builder
	builder.Grow(len(method) + len(target.Host) + len(path) + len(target.RawQuery) + 16)
	builder.WriteString(method)
	builder.WriteString(" ")
	builder.WriteString(strings.ToLower(target.Scheme))
	builder.WriteString("://")
	builder.WriteString(strings.ToLower(target.Host))
	builder.WriteString(path)
	if target.RawQuery != "" {
		builder.WriteString("?")
		builder.WriteString(target.RawQuery)
	}
	return builder.String()
}

// KeyURL returns the URL half of a key built by BuildKey.
func KeyURL(key string) string {
	if idx := strings.IndexByte(key, ' '); idx >= 0 {
		return key[idx+1:]
	}
	return key
}
