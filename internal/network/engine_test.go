package network

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"offline_coordinator/internal/breaker"
	"offline_coordinator/internal/policy"
	"offline_coordinator/internal/testutil"
)

func requestFor(t *testing.T, rawURL string, header http.Header) *policy.Request {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, rawURL, nil)
	for key, values := range header {
		r.Header[key] = values
	}
	return policy.NewRequest(r, nil)
}

func TestFetchReturnsWholeResponse(t *testing.T) {
	origin := testutil.StartOrigin(t)
	origin.Set("/app.js", testutil.Page{
		Status:      http.StatusOK,
		ContentType: "application/javascript",
		Body:        "console.log(1)",
		Header:      http.Header{"Etag": {`"v1"`}},
	})

	fetcher := NewFetcher(Options{}, nil)
	entry, err := fetcher.Fetch(context.Background(), requestFor(t, origin.URL+"/app.js", nil))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if entry.Status != http.StatusOK {
		t.Fatalf("expected 200, got %d", entry.Status)
	}
	if string(entry.Body) != "console.log(1)" {
		t.Fatalf("unexpected body %q", entry.Body)
	}
	if entry.Header.Get("Content-Type") != "application/javascript" {
		t.Fatalf("unexpected content type %q", entry.Header.Get("Content-Type"))
	}
	if entry.Header.Get("ETag") != `"v1"` {
		t.Fatalf("expected etag to be kept")
	}
	if entry.URL != origin.URL+"/app.js" {
		t.Fatalf("unexpected url %q", entry.URL)
	}
}

func TestFetchNonOKIsNotAnError(t *testing.T) {
	origin := testutil.StartOrigin(t)
	fetcher := NewFetcher(Options{}, nil)

	entry, err := fetcher.Fetch(context.Background(), requestFor(t, origin.URL+"/missing", nil))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if entry.Status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", entry.Status)
	}
}

func TestFetchStripsConditionalHeaders(t *testing.T) {
	seen := make(chan http.Header, 1)
	addr, closeFn := testutil.StartUpstream(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer closeFn()

	fetcher := NewFetcher(Options{}, nil)
	header := http.Header{
		"If-None-Match": {`"abc"`},
		"Range":         {"bytes=0-10"},
		"Accept":        {"text/html"},
	}
	if _, err := fetcher.Fetch(context.Background(), requestFor(t, "http://"+addr+"/", header)); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	got := <-seen
	if got.Get("If-None-Match") != "" || got.Get("Range") != "" {
		t.Fatalf("conditional headers leaked: %v", got)
	}
	if got.Get("Accept") != "text/html" {
		t.Fatalf("expected accept header to be forwarded")
	}
}

func TestFetchOffline(t *testing.T) {
	origin := testutil.StartOrigin(t)
	origin.SetText("/", "hello")
	origin.SetOffline(true)

	fetcher := NewFetcher(Options{}, nil)
	if _, err := fetcher.Fetch(context.Background(), requestFor(t, origin.URL+"/", nil)); err == nil {
		t.Fatalf("expected error while origin is offline")
	}
}

func TestFetchTooLarge(t *testing.T) {
	origin := testutil.StartOrigin(t)
	origin.SetText("/big", strings.Repeat("x", 64))

	fetcher := NewFetcher(Options{MaxObjectBytes: 16}, nil)
	_, err := fetcher.Fetch(context.Background(), requestFor(t, origin.URL+"/big", nil))
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
	if Category(err) != "too_large" {
		t.Fatalf("unexpected category %q", Category(err))
	}
}

func TestFetchTimeout(t *testing.T) {
	release := make(chan struct{})
	addr, closeFn := testutil.StartUpstream(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer closeFn()
	defer close(release)

	fetcher := NewFetcher(Options{FetchTimeout: 50 * time.Millisecond}, nil)
	_, err := fetcher.Fetch(context.Background(), requestFor(t, "http://"+addr+"/slow", nil))
	if err == nil {
		t.Fatalf("expected timeout")
	}
	if Category(err) != "timeout" {
		t.Fatalf("expected timeout category, got %q (%v)", Category(err), err)
	}
}

func TestForwardStreamsResponse(t *testing.T) {
	addr, closeFn := testutil.StartUpstream(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Method", r.Method)
		w.Header().Set("X-Forwarded-Seen", r.Header.Get("X-Forwarded-For"))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write(body)
	}))
	defer closeFn()

	fetcher := NewFetcher(Options{}, nil)
	req := httptest.NewRequest(http.MethodPost, "http://app.local/api/items", strings.NewReader(`{"a":1}`))
	req.RemoteAddr = "10.0.0.9:5555"
	rec := httptest.NewRecorder()
	target, _ := url.Parse("http://" + addr + "/api/items")
	fetcher.Forward(rec, req, target, "req-1")

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if rec.Body.String() != `{"a":1}` {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
	if rec.Header().Get("X-Method") != http.MethodPost {
		t.Fatalf("expected POST to be forwarded")
	}
	if rec.Header().Get("X-Forwarded-Seen") != "10.0.0.9" {
		t.Fatalf("unexpected forwarded for %q", rec.Header().Get("X-Forwarded-Seen"))
	}
	if rec.Header().Get(RequestIDHeader) != "req-1" {
		t.Fatalf("expected request id header")
	}
}

func TestForwardWritesJSONErrorWhenOffline(t *testing.T) {
	origin := testutil.StartOrigin(t)
	origin.SetOffline(true)

	fetcher := NewFetcher(Options{}, nil)
	req := httptest.NewRequest(http.MethodPost, "http://app.local/api", nil)
	rec := httptest.NewRecorder()
	recorder := NewResponseRecorder(rec)
	target, _ := url.Parse(origin.URL + "/api")
	fetcher.Forward(recorder, req, target, "req-2")

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	var body ErrorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.RequestID != "req-2" || body.Status != http.StatusBadGateway {
		t.Fatalf("unexpected error body %+v", body)
	}
	if recorder.ErrorCategory() == "" {
		t.Fatalf("expected error category on recorder")
	}
}

func TestRequestIDContext(t *testing.T) {
	id := NewRequestID()
	if len(id) != 32 {
		t.Fatalf("unexpected request id %q", id)
	}
	ctx := WithRequestID(context.Background(), id)
	got, ok := RequestIDFromContext(ctx)
	if !ok || got != id {
		t.Fatalf("request id not carried by context")
	}
}

func TestFetchFailsFastWhenBreakerOpen(t *testing.T) {
	origin := testutil.StartOrigin(t)
	origin.SetText("/data.json", "{}")
	origin.SetOffline(true)

	fetcher := NewFetcher(Options{
		FetchTimeout: time.Second,
		Breaker:      breaker.Config{FailureRatePercent: 100, MinimumRequests: 2, OpenFor: time.Minute},
	}, nil)
	req := requestFor(t, origin.URL+"/data.json", nil)
	for i := 0; i < 2; i++ {
		if _, err := fetcher.Fetch(context.Background(), req); err == nil {
			t.Fatalf("expected failure from offline origin")
		}
	}
	if fetcher.BreakerState() != "open" {
		t.Fatalf("expected breaker open, got %s", fetcher.BreakerState())
	}

	origin.SetOffline(false)
	_, err := fetcher.Fetch(context.Background(), req)
	if !errors.Is(err, ErrOriginUnavailable) {
		t.Fatalf("expected ErrOriginUnavailable, got %v", err)
	}
	if Category(err) != "breaker_open" {
		t.Fatalf("unexpected category %q", Category(err))
	}
	if origin.Hits("/data.json") != 0 {
		t.Fatalf("open breaker must not reach the origin")
	}
}
