package policy

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"offline_coordinator/internal/cache"
)

const (
	DefaultFallbackStatus  = http.StatusServiceUnavailable
	DefaultFallbackMessage = "content not available offline"
	notFoundOfflineMessage = "not found offline"
)

var errNoNetwork = errors.New("network unavailable")

type Network interface {
	Fetch(ctx context.Context, req *Request) (cache.Entry, error)
}

type Fallback struct {
	ShellKey string
	ImageKey string
	Status   int
	Message  string
}

// Env is what a Responder may touch while answering a request.
type Env struct {
	Bucket      cache.Store
	Network     Network
	Fallback    Fallback
	Coalescer   *cache.Coalescer
	OnStoreFail func(key string, err error)
}

func (e *Env) lookup(req *Request) (cache.Entry, bool) {
	if e.Bucket == nil || req.Key == "" {
		return cache.Entry{}, false
	}
	return e.Bucket.Get(req.Key)
}

func (e *Env) fetch(ctx context.Context, req *Request) (cache.Entry, error) {
	if e.Network == nil {
		return cache.Entry{}, errNoNetwork
	}
	return e.Network.Fetch(ctx, req)
}

// fetchShared collapses concurrent fetches of the same key. Only the caller
// that performed the fetch writes the bucket; stored reports that write.
// A shared fetch ignores the leader's cancellation; the network timeout bounds it.
func (e *Env) fetchShared(ctx context.Context, req *Request) (cache.Entry, bool, error) {
	flight, leader := e.Coalescer.Start(req.Key)
	if flight != nil && !leader {
		entry, err := e.Coalescer.Wait(ctx, flight)
		return entry, false, err
	}
	if flight != nil {
		ctx = context.WithoutCancel(ctx)
	}
	entry, err := e.fetch(ctx, req)
	stored := false
	if err == nil {
		stored = e.store(req, entry)
	}
	if flight != nil {
		e.Coalescer.Finish(req.Key, flight, entry, err)
	}
	return entry, stored, err
}

// store is best effort: failures are reported and swallowed.
func (e *Env) store(req *Request, entry cache.Entry) bool {
	if e.Bucket == nil || !Storable(req, entry) {
		return false
	}
	entry.URL = req.URL.String()
	if err := e.Bucket.Set(req.Key, entry); err != nil {
		if e.OnStoreFail != nil {
			e.OnStoreFail(req.Key, err)
		}
		return false
	}
	return true
}

func (e *Env) fallback(req *Request) Result {
	switch req.Destination {
	case DestinationDocument:
		if entry, ok := e.lookupKey(e.Fallback.ShellKey); ok {
			return Result{Entry: entry, Source: SourceFallback, CacheStatus: CacheStatusHit}
		}
	case DestinationImage:
		if entry, ok := e.lookupKey(e.Fallback.ImageKey); ok {
			return Result{Entry: entry, Source: SourceFallback, CacheStatus: CacheStatusHit}
		}
	}
	return Result{Entry: e.Synthetic(), Source: SourceOffline, CacheStatus: CacheStatusMiss}
}

func (e *Env) lookupKey(key string) (cache.Entry, bool) {
	if e.Bucket == nil || key == "" {
		return cache.Entry{}, false
	}
	return e.Bucket.Get(key)
}

// Synthetic is the last-resort offline response.
func (e *Env) Synthetic() cache.Entry {
	status := e.Fallback.Status
	if status == 0 {
		status = DefaultFallbackStatus
	}
	message := e.Fallback.Message
	if message == "" {
		message = DefaultFallbackMessage
	}
	return textEntry(status, message)
}

func textEntry(status int, message string) cache.Entry {
	header := http.Header{}
	header.Set("Content-Type", "text/plain; charset=utf-8")
	header.Set("Cache-Control", "no-store")
	return cache.Entry{Status: status, Header: header, Body: []byte(message)}
}

// Storable reports whether a network response may be written to a bucket.
func Storable(req *Request, entry cache.Entry) bool {
	if req == nil || req.Method != http.MethodGet {
		return false
	}
	if entry.Status != http.StatusOK {
		return false
	}
	if entry.Header != nil && strings.Contains(strings.ToLower(entry.Header.Get("Cache-Control")), "no-store") {
		return false
	}
	return true
}
