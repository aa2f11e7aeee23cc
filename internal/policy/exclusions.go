package policy

import (
	"net/http"
	"net/url"
	"strings"
)

const (
	ReasonNonGET       = "non_get"
	ReasonPseudoOrigin = "pseudo_origin"
	ReasonDenylisted   = "denylisted"
	ReasonCrossOrigin  = "cross_origin"
)

var pseudoSchemes = map[string]bool{
	"chrome-extension":     true,
	"moz-extension":        true,
	"safari-extension":     true,
	"ms-browser-extension": true,
}

// Exclusions decides which requests skip the serving strategy entirely.
// Excluded requests go straight to the network and are never cached.
type Exclusions struct {
	Origin    *url.URL
	DenyHosts []string
}

// Intercept reports whether req should be handled by a strategy, and if not,
// why.
func (e Exclusions) Intercept(req *Request) (bool, string) {
	if req == nil || req.URL == nil {
		return false, ReasonCrossOrigin
	}
	if pseudoSchemes[strings.ToLower(req.URL.Scheme)] {
		return false, ReasonPseudoOrigin
	}
	host := strings.ToLower(req.URL.Hostname())
	for _, deny := range e.DenyHosts {
		deny = strings.ToLower(strings.TrimSpace(deny))
		if deny == "" {
			continue
		}
		if host == deny || strings.HasSuffix(host, "."+deny) {
			return false, ReasonDenylisted
		}
	}
	if e.Origin != nil && !sameOrigin(req.URL, e.Origin) {
		return false, ReasonCrossOrigin
	}
	if req.Method != http.MethodGet {
		return false, ReasonNonGET
	}
	return true, ""
}

func sameOrigin(a *url.URL, b *url.URL) bool {
	if !strings.EqualFold(a.Scheme, b.Scheme) {
		return false
	}
	return strings.EqualFold(hostPort(a), hostPort(b))
}

func hostPort(u *url.URL) string {
	port := u.Port()
	if port == "" {
		switch strings.ToLower(u.Scheme) {
		case "https":
			port = "443"
		default:
			port = "80"
		}
	}
	return u.Hostname() + ":" + port
}
