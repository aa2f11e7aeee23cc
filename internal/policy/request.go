package policy

import (
	"net/http"
	"net/url"
	"path"
	"strings"

	"offline_coordinator/internal/cache"
)

type Destination string

const (
	DestinationDocument Destination = "document"
	DestinationImage    Destination = "image"
	DestinationOther    Destination = "other"
)

var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".webp": true, ".svg": true, ".ico": true, ".avif": true,
}

// Request is one intercepted request on its way through a strategy.
type Request struct {
	Method      string
	URL         *url.URL
	Key         string
	Destination Destination
	Header      http.Header
}

// NewRequest resolves r against origin. Absolute-form request URIs keep
// their own scheme and host; origin-form URIs are treated as same-origin.
func NewRequest(r *http.Request, origin *url.URL) *Request {
	target := &url.URL{}
	if r.URL != nil {
		clone := *r.URL
		target = &clone
	}
	if !target.IsAbs() && origin != nil {
		target.Scheme = origin.Scheme
		target.Host = origin.Host
	}
	target.Fragment = ""
	if target.Path == "" {
		target.Path = "/"
	}

	method := strings.ToUpper(r.Method)
	if method == "" {
		method = http.MethodGet
	}
	return &Request{
		Method:      method,
		URL:         target,
		Key:         cache.BuildKey(method, target),
		Destination: destinationOf(r.Header, target),
		Header:      r.Header,
	}
}

func destinationOf(header http.Header, target *url.URL) Destination {
	switch strings.ToLower(header.Get("Sec-Fetch-Dest")) {
	case "document", "iframe", "frame":
		return DestinationDocument
	case "image":
		return DestinationImage
	case "", "empty":
	default:
		return DestinationOther
	}
	if strings.EqualFold(header.Get("Sec-Fetch-Mode"), "navigate") {
		return DestinationDocument
	}
	accept := strings.ToLower(header.Get("Accept"))
	if strings.Contains(accept, "text/html") {
		return DestinationDocument
	}
	if strings.HasPrefix(accept, "image/") {
		return DestinationImage
	}
	if imageExtensions[strings.ToLower(path.Ext(target.Path))] {
		return DestinationImage
	}
	return DestinationOther
}
