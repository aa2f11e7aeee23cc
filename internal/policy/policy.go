package policy

import (
	"context"
	"fmt"

	"offline_coordinator/internal/cache"
)

type Source string

const (
	SourceCache    Source = "cache"
	SourceNetwork  Source = "network"
	SourceFallback Source = "fallback"
	SourceOffline  Source = "offline"
)

const (
	CacheStatusHit         = "hit"
	CacheStatusMiss        = "miss"
	CacheStatusRevalidated = "revalidated"
	CacheStatusBypass      = "bypass"
)

const (
	NameNetworkFirst     = "network-first"
	NameSelective        = "selective"
	NameStaticCacheFirst = "static-cache-first"
	NameCacheFirst       = "cache-first"
	NameCacheOnly        = "cache-only"
	NameForceUpdate      = "force-update"
)

type Result struct {
	Entry       cache.Entry
	Source      Source
	CacheStatus string
	Stored      bool
}

// Responder produces the response for one request. It must always return a
// usable entry.
type Responder func(ctx context.Context, env *Env) Result

type Strategy interface {
	Name() string
	Decide(req *Request) Responder
}

type Options struct {
	Patterns *Matcher
	Static   *Matcher
}

// New returns the named strategy. Force-update bypass is not selectable
// here; it is switched in at runtime.
func New(name string, opts Options) (Strategy, error) {
	switch name {
	case NameNetworkFirst:
		return NetworkFirst{CacheResponses: true}, nil
	case NameSelective:
		return Selective{Matcher: opts.Patterns}, nil
	case NameStaticCacheFirst:
		return StaticCacheFirst{Static: opts.Static, Dynamic: NetworkFirst{CacheResponses: true}}, nil
	case NameCacheFirst:
		return CacheFirst{}, nil
	case NameCacheOnly:
		return CacheOnly{}, nil
	default:
		return nil, fmt.Errorf("unknown serving policy %q", name)
	}
}

func Names() []string {
	return []string{NameNetworkFirst, NameSelective, NameStaticCacheFirst, NameCacheFirst, NameCacheOnly}
}
