package coordinator

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"offline_coordinator/internal/cache"
	"offline_coordinator/internal/network"
	"offline_coordinator/internal/obs"
	"offline_coordinator/internal/policy"
)

const strategyPassthrough = "passthrough"

// ServeHTTP intercepts one request. Excluded requests are forwarded
// untouched; everything else is answered by the worker's strategy and
// always gets a response.
func (w *Worker) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := r.Header.Get(network.RequestIDHeader)
	if requestID == "" {
		requestID = network.NewRequestID()
	}
	r = r.WithContext(network.WithRequestID(r.Context(), requestID))
	recorder := network.NewResponseRecorder(rw)
	req := policy.NewRequest(r, w.origin)

	rc := obs.RequestContext{
		RequestID:   requestID,
		Method:      req.Method,
		Host:        req.URL.Host,
		Path:        req.URL.Path,
		Version:     w.version,
		Destination: string(req.Destination),
		UserAgent:   r.UserAgent(),
		RemoteAddr:  r.RemoteAddr,
	}
	defer func() {
		rc.Status = recorder.Status()
		rc.BytesOut = recorder.BytesWritten()
		rc.Duration = time.Since(start)
		if rc.ErrorCategory == "" {
			rc.ErrorCategory = recorder.ErrorCategory()
		}
		obs.LogAccess(rc)
		w.deps.Metrics.ObserveRequest(rc.Strategy, rc.Source, rc.Status, rc.Duration)
	}()

	if ok, reason := w.exclusions.Intercept(req); !ok {
		rc.Strategy = strategyPassthrough
		rc.Source = string(policy.SourceNetwork)
		rc.CacheStatus = policy.CacheStatusBypass
		rc.PassthroughReason = reason
		w.deps.Metrics.RecordPassthrough(reason)
		w.deps.Upstream.Forward(recorder, r, req.URL, requestID)
		return
	}

	strategy := w.strategy
	if w.forceUpdate.Load() {
		strategy = policy.ForceUpdateBypass{}
	}
	rc.Strategy = strategy.Name()

	result := w.respond(r.Context(), strategy, req)
	rc.Source = string(result.Source)
	rc.CacheStatus = result.CacheStatus
	if result.Source == policy.SourceOffline {
		rc.ErrorCategory = "offline"
	}
	w.writeEntry(recorder, r, result, requestID)
}

func (w *Worker) respond(ctx context.Context, strategy policy.Strategy, req *policy.Request) (result policy.Result) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("coordinator: responder panic version=%s strategy=%s url=%s: %v", w.version, strategy.Name(), req.URL.Redacted(), rec)
			w.deps.Metrics.RecordResponderPanic()
			result = policy.Result{Entry: w.env.Synthetic(), Source: policy.SourceOffline, CacheStatus: policy.CacheStatusMiss}
		}
	}()
	return strategy.Decide(req)(ctx, w.env)
}

func (w *Worker) writeEntry(rw http.ResponseWriter, r *http.Request, result policy.Result, requestID string) {
	entry := result.Entry
	header := rw.Header()
	for key, values := range entry.Header {
		header[key] = append([]string(nil), values...)
	}
	header.Set(network.RequestIDHeader, requestID)
	header.Set(VersionHeader, w.version)
	header.Set(SourceHeader, string(result.Source))

	status := entry.Status
	if status == 0 {
		status = http.StatusOK
	}
	if status == http.StatusOK && result.Source != policy.SourceOffline {
		etag := entry.ETag()
		header.Set("ETag", etag)
		if etagMatches(r.Header.Get("If-None-Match"), etag) {
			header.Del("Content-Length")
			rw.WriteHeader(http.StatusNotModified)
			return
		}
	}
	header.Set("Content-Length", strconv.Itoa(len(entry.Body)))
	rw.WriteHeader(status)
	_, _ = rw.Write(entry.Body)
}

func etagMatches(ifNoneMatch string, etag string) bool {
	if ifNoneMatch == "" {
		return false
	}
	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == strings.TrimPrefix(etag, "W/") {
			return true
		}
	}
	return false
}

// Lookup reads key from the worker's bucket without touching the network.
func (w *Worker) Lookup(key string) (cache.Entry, bool) {
	return w.env.Bucket.Get(key)
}
