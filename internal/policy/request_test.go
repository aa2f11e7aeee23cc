package policy

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func TestNewRequestResolvesAgainstOrigin(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/index.html?x=1", nil)
	req := NewRequest(r, testOrigin)
	if req.URL.String() != "http://app.local/index.html?x=1" {
		t.Fatalf("unexpected url %s", req.URL)
	}
	if req.Key != "GET http://app.local/index.html?x=1" {
		t.Fatalf("unexpected key %s", req.Key)
	}

	abs := httptest.NewRequest(http.MethodGet, "http://cdn.example.com/font.woff2", nil)
	req = NewRequest(abs, testOrigin)
	if req.URL.Host != "cdn.example.com" {
		t.Fatalf("absolute-form host lost: %s", req.URL)
	}
}

func TestDestinationClassification(t *testing.T) {
	cases := []struct {
		path    string
		headers map[string]string
		want    Destination
	}{
		{"/", map[string]string{"Sec-Fetch-Dest": "document"}, DestinationDocument},
		{"/x.png", map[string]string{"Sec-Fetch-Dest": "script"}, DestinationOther},
		{"/x", map[string]string{"Sec-Fetch-Dest": "image"}, DestinationImage},
		{"/x", map[string]string{"Sec-Fetch-Mode": "navigate"}, DestinationDocument},
		{"/x", map[string]string{"Accept": "text/html,application/xhtml+xml"}, DestinationDocument},
		{"/x", map[string]string{"Accept": "image/avif,image/webp"}, DestinationImage},
		{"/icons/icon-192.PNG", nil, DestinationImage},
		{"/app.js", nil, DestinationOther},
	}
	for _, tc := range cases {
		req := newRequest(t, tc.path, tc.headers)
		if req.Destination != tc.want {
			t.Fatalf("%s %v: expected %s, got %s", tc.path, tc.headers, tc.want, req.Destination)
		}
	}
}

func TestMatcherFirstMatchWins(t *testing.T) {
	m := NewMatcher([]Pattern{
		{Class: "fonts", Prefixes: []string{"/fonts/"}},
		{Class: "static", Extensions: []string{".css", "woff2"}},
		{Class: "api", Prefixes: []string{"/api/"}},
	})
	cases := map[string]string{
		"/fonts/inter.woff2": "fonts",
		"/assets/app.CSS":    "static",
		"/api/notes":         "api",
	}
	for path, want := range cases {
		class, ok := m.Match(path)
		if !ok || class != want {
			t.Fatalf("%s: expected %s, got %s (%v)", path, want, class, ok)
		}
	}
	if _, ok := m.Match("/about"); ok {
		t.Fatalf("unexpected match")
	}
	var empty *Matcher
	if _, ok := empty.Match("/a.css"); ok {
		t.Fatalf("nil matcher should not match")
	}
}

func TestExclusions(t *testing.T) {
	exclusions := Exclusions{Origin: testOrigin, DenyHosts: []string{"retagro.com"}}
	build := func(method string, raw string) *Request {
		u, err := url.Parse(raw)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		r := &http.Request{Method: method, URL: u, Header: http.Header{}}
		return NewRequest(r, testOrigin)
	}

	cases := []struct {
		method string
		raw    string
		ok     bool
		reason string
	}{
		{http.MethodGet, "/index.html", true, ""},
		{http.MethodGet, "http://app.local:80/index.html", true, ""},
		{http.MethodPost, "/api/notes", false, ReasonNonGET},
		{http.MethodGet, "chrome-extension://abc/script.js", false, ReasonPseudoOrigin},
		{http.MethodGet, "https://stats.retagro.com/pixel", false, ReasonDenylisted},
		{http.MethodGet, "https://cdn.example.com/lib.js", false, ReasonCrossOrigin},
		{http.MethodGet, "https://app.local/index.html", false, ReasonCrossOrigin},
	}
	for _, tc := range cases {
		ok, reason := exclusions.Intercept(build(tc.method, tc.raw))
		if ok != tc.ok || reason != tc.reason {
			t.Fatalf("%s %s: expected (%v,%q), got (%v,%q)", tc.method, tc.raw, tc.ok, tc.reason, ok, reason)
		}
	}
}
