package policy

import (
	"context"
	"net/http"
)

// NetworkFirst always asks the network and falls back to the bucket, then
// to the offline fallback chain.
type NetworkFirst struct {
	CacheResponses bool
}

func (NetworkFirst) Name() string { return NameNetworkFirst }

func (s NetworkFirst) Decide(req *Request) Responder {
	return func(ctx context.Context, env *Env) Result {
		return networkThenCache(ctx, env, req, s.CacheResponses, CacheStatusRevalidated)
	}
}

// Selective is network-first but only writes responses whose path matches
// one of the configured patterns.
type Selective struct {
	Matcher *Matcher
}

func (Selective) Name() string { return NameSelective }

func (s Selective) Decide(req *Request) Responder {
	_, cacheable := s.Matcher.Match(req.URL.Path)
	return func(ctx context.Context, env *Env) Result {
		return networkThenCache(ctx, env, req, cacheable, CacheStatusRevalidated)
	}
}

// StaticCacheFirst serves static paths read-through and delegates the rest.
type StaticCacheFirst struct {
	Static  *Matcher
	Dynamic Strategy
}

func (StaticCacheFirst) Name() string { return NameStaticCacheFirst }

func (s StaticCacheFirst) Decide(req *Request) Responder {
	if _, ok := s.Static.Match(req.URL.Path); ok {
		return func(ctx context.Context, env *Env) Result {
			return readThrough(ctx, env, req)
		}
	}
	dynamic := s.Dynamic
	if dynamic == nil {
		dynamic = NetworkFirst{CacheResponses: true}
	}
	return dynamic.Decide(req)
}

type CacheFirst struct{}

func (CacheFirst) Name() string { return NameCacheFirst }

func (CacheFirst) Decide(req *Request) Responder {
	return func(ctx context.Context, env *Env) Result {
		return readThrough(ctx, env, req)
	}
}

// CacheOnly never consults the network.
type CacheOnly struct{}

func (CacheOnly) Name() string { return NameCacheOnly }

func (CacheOnly) Decide(req *Request) Responder {
	return func(_ context.Context, env *Env) Result {
		if entry, ok := env.lookup(req); ok {
			return Result{Entry: entry, Source: SourceCache, CacheStatus: CacheStatusHit}
		}
		return Result{Entry: textEntry(http.StatusNotFound, notFoundOfflineMessage), Source: SourceOffline, CacheStatus: CacheStatusMiss}
	}
}

// ForceUpdateBypass ignores cached content while a force update is pending
// and refreshes the bucket with whatever the network returns.
type ForceUpdateBypass struct{}

func (ForceUpdateBypass) Name() string { return NameForceUpdate }

func (ForceUpdateBypass) Decide(req *Request) Responder {
	return func(ctx context.Context, env *Env) Result {
		return networkThenCache(ctx, env, req, true, CacheStatusBypass)
	}
}

func networkThenCache(ctx context.Context, env *Env, req *Request, write bool, status string) Result {
	entry, err := env.fetch(ctx, req)
	if err == nil {
		result := Result{Entry: entry, Source: SourceNetwork, CacheStatus: status}
		if write {
			result.Stored = env.store(req, entry)
		}
		return result
	}
	if cached, ok := env.lookup(req); ok {
		return Result{Entry: cached, Source: SourceCache, CacheStatus: CacheStatusHit}
	}
	return env.fallback(req)
}

func readThrough(ctx context.Context, env *Env, req *Request) Result {
	if cached, ok := env.lookup(req); ok {
		return Result{Entry: cached, Source: SourceCache, CacheStatus: CacheStatusHit}
	}
	entry, stored, err := env.fetchShared(ctx, req)
	if err != nil {
		return env.fallback(req)
	}
	return Result{Entry: entry, Source: SourceNetwork, CacheStatus: CacheStatusMiss, Stored: stored}
}
