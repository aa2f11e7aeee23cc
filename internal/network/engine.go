package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"offline_coordinator/internal/breaker"
	"offline_coordinator/internal/cache"
	"offline_coordinator/internal/obs"
	"offline_coordinator/internal/policy"
)

const defaultMaxObjectBytes = cache.DefaultMaxObjectBytes

var (
	ErrTooLarge          = errors.New("response body exceeds max object bytes")
	ErrOriginUnavailable = errors.New("origin breaker open")
)

// Headers that describe one hop, or that make the origin answer with a
// partial or conditional response the bucket cannot use.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

var conditionalHeaders = []string{
	"If-None-Match",
	"If-Modified-Since",
	"If-Match",
	"If-Unmodified-Since",
	"If-Range",
	"Range",
}

// Fetcher talks to the real network on behalf of strategies and
// passthrough requests.
type Fetcher struct {
	transport *http.Transport
	opts      Options
	metrics   *obs.Metrics
	breaker   *breaker.Breaker
}

func NewFetcher(opts Options, metrics *obs.Metrics) *Fetcher {
	opts = normalizeOptions(opts)
	f := &Fetcher{transport: newTransport(opts), opts: opts, metrics: metrics}
	if opts.Breaker.Enabled() {
		f.breaker = breaker.New(opts.Breaker, func(state breaker.State) {
			metrics.SetBreakerState(state.String())
		})
	}
	return f
}

// BreakerState reports the origin breaker, "closed" when it is disabled.
func (f *Fetcher) BreakerState() string {
	return f.breaker.State().String()
}

// Fetch performs a buffered GET-style round trip and returns the whole
// response as an entry. Any completed response, whatever its status, is a
// success; only transport failures are errors.
func (f *Fetcher) Fetch(ctx context.Context, req *policy.Request) (cache.Entry, error) {
	if req == nil || req.URL == nil {
		return cache.Entry{}, errors.New("fetch: nil request")
	}
	if !f.breaker.Allow() {
		f.metrics.ObserveNetworkFetch(Category(ErrOriginUnavailable), 0)
		return cache.Entry{}, fmt.Errorf("fetch %s: %w", req.URL.Redacted(), ErrOriginUnavailable)
	}
	entry, err := f.fetch(ctx, req)
	f.breaker.Report(err == nil && entry.Status < http.StatusInternalServerError || errors.Is(err, context.Canceled))
	return entry, err
}

func (f *Fetcher) fetch(ctx context.Context, req *policy.Request) (cache.Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, f.opts.FetchTimeout)
	defer cancel()

	outbound, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), nil)
	if err != nil {
		return cache.Entry{}, err
	}
	if req.Header != nil {
		outbound.Header = req.Header.Clone()
	}
	removeHeaders(outbound.Header, hopHeaders)
	removeHeaders(outbound.Header, conditionalHeaders)

	start := time.Now()
	resp, err := f.transport.RoundTrip(outbound)
	if err != nil {
		f.metrics.ObserveNetworkFetch(Category(err), time.Since(start))
		return cache.Entry{}, fmt.Errorf("fetch %s: %w", req.URL.Redacted(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxObjectBytes+1))
	if err == nil && int64(len(body)) > f.opts.MaxObjectBytes {
		err = ErrTooLarge
	}
	if err != nil {
		f.metrics.ObserveNetworkFetch(Category(err), time.Since(start))
		return cache.Entry{}, fmt.Errorf("read %s: %w", req.URL.Redacted(), err)
	}
	f.metrics.ObserveNetworkFetch("ok", time.Since(start))

	header := resp.Header.Clone()
	removeHeaders(header, hopHeaders)
	header.Del("Content-Length")
	return cache.Entry{
		Status: resp.StatusCode,
		Header: header,
		Body:   body,
		URL:    req.URL.String(),
	}, nil
}

// Forward streams r to target untouched by any bucket. It is used for every
// request the coordinator does not intercept.
func (f *Fetcher) Forward(w http.ResponseWriter, r *http.Request, target *url.URL, requestID string) {
	body := r.Body
	if r.Body != nil && r.ContentLength == 0 {
		body = http.NoBody
	}
	outbound, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), body)
	if err != nil {
		WriteError(w, requestID, http.StatusBadGateway, "bad_gateway", "invalid passthrough target")
		return
	}
	outbound.Header = r.Header.Clone()
	removeHeaders(outbound.Header, hopHeaders)
	outbound.ContentLength = r.ContentLength
	setForwardedHeaders(outbound, r)

	start := time.Now()
	resp, err := f.transport.RoundTrip(outbound)
	if err != nil {
		category := Category(err)
		f.metrics.ObserveNetworkFetch(category, time.Since(start))
		switch {
		case errors.Is(r.Context().Err(), context.Canceled):
			return
		case category == "timeout":
			WriteError(w, requestID, http.StatusGatewayTimeout, "upstream_timeout", "upstream timeout")
		case category == "connect_failed":
			WriteError(w, requestID, http.StatusBadGateway, "upstream_connect_failed", "upstream connect failed")
		default:
			WriteError(w, requestID, http.StatusBadGateway, "bad_gateway", "upstream request failed")
		}
		return
	}
	defer resp.Body.Close()
	f.metrics.ObserveNetworkFetch("ok", time.Since(start))

	removeHeaders(resp.Header, hopHeaders)
	copyHeaders(w.Header(), resp.Header)
	w.Header().Set(RequestIDHeader, requestID)
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func (f *Fetcher) CloseIdleConnections() {
	if f == nil {
		return
	}
	f.transport.CloseIdleConnections()
}

func setForwardedHeaders(outbound *http.Request, inbound *http.Request) {
	clientIP := inbound.RemoteAddr
	if host, _, err := net.SplitHostPort(inbound.RemoteAddr); err == nil {
		clientIP = host
	}

	if clientIP != "" {
		prior := outbound.Header.Get("X-Forwarded-For")
		if prior != "" {
			clientIP = prior + ", " + clientIP
		}
		outbound.Header.Set("X-Forwarded-For", clientIP)
	}

	proto := "http"
	if inbound.TLS != nil {
		proto = "https"
	}
	outbound.Header.Set("X-Forwarded-Proto", proto)
}

func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

func removeHeaders(header http.Header, names []string) {
	for _, name := range names {
		header.Del(name)
	}
}
