package bench

import (
	"path/filepath"
	"testing"

	"offline_coordinator/internal/cache"
)

func BenchmarkCacheFirstHitMemory(b *testing.B) {
	origin := startOrigin(b)
	server, client := startCoordinator(b, origin.URL, "cache-first", cache.NewMemoryStorage(0))
	runGET(b, client, server.URL+"/index.html")
}

func BenchmarkCacheFirstHitBolt(b *testing.B) {
	origin := startOrigin(b)
	storage, err := cache.OpenBolt(filepath.Join(b.TempDir(), "bench.db"), 0)
	if err != nil {
		b.Fatalf("open bolt: %v", err)
	}
	server, client := startCoordinator(b, origin.URL, "cache-first", storage)
	runGET(b, client, server.URL+"/index.html")
}

func BenchmarkNetworkFirst(b *testing.B) {
	origin := startOrigin(b)
	server, client := startCoordinator(b, origin.URL, "network-first", cache.NewMemoryStorage(0))
	runGET(b, client, server.URL+"/index.html")
}
