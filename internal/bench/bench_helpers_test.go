package bench

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"offline_coordinator/internal/cache"
	"offline_coordinator/internal/config"
	"offline_coordinator/internal/coordinator"
	"offline_coordinator/internal/network"
	"offline_coordinator/internal/obs"
)

func TestMain(m *testing.M) {
	obs.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func startOrigin(b *testing.B) *httptest.Server {
	b.Helper()
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>benchmark</html>"))
	}))
	b.Cleanup(origin.Close)
	return origin
}

func startCoordinator(b *testing.B, originURL string, policyName string, storage cache.Storage) (*httptest.Server, *http.Client) {
	b.Helper()
	reg := coordinator.NewRegistration(coordinator.Deps{
		Storage:  storage,
		Upstream: network.NewFetcher(network.Options{FetchTimeout: 2 * time.Second}, nil),
	}, coordinator.Options{})
	cfg := &config.Config{
		AppName:  "bench",
		Version:  "v1",
		Origin:   originURL,
		Manifest: []string{"/", "/index.html"},
		Policy:   policyName,
	}
	if _, err := reg.Register(context.Background(), cfg); err != nil {
		b.Fatalf("register: %v", err)
	}
	server := httptest.NewServer(reg)
	b.Cleanup(func() {
		server.Close()
		reg.Close()
		_ = storage.Close()
	})
	client := &http.Client{Transport: &http.Transport{MaxIdleConnsPerHost: 64}}
	return server, client
}

func runGET(b *testing.B, client *http.Client, target string) {
	b.Helper()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		resp, err := client.Get(target)
		if err != nil {
			b.Fatalf("request: %v", err)
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			b.Fatalf("unexpected status %d", resp.StatusCode)
		}
	}
}
