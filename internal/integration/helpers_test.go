package integration

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"offline_coordinator/internal/cache"
	"offline_coordinator/internal/config"
	"offline_coordinator/internal/coordinator"
	"offline_coordinator/internal/health"
	"offline_coordinator/internal/message"
	"offline_coordinator/internal/network"
	"offline_coordinator/internal/obs"
	"offline_coordinator/internal/provider"
	"offline_coordinator/internal/runtime"
	"offline_coordinator/internal/server"
	"offline_coordinator/internal/testutil"
	"offline_coordinator/internal/watch"
)

const controlPrefix = "/__coordinator"

// stack is a coordinator wired the way the serve command wires it.
type stack struct {
	URL        string
	ConfigPath string
	Origin     *testutil.Origin
	Storage    cache.Storage
	Reg        *coordinator.Registration
	Hub        *message.Hub
	Metrics    *obs.Metrics
	Health     *health.Server
	HealthAddr string
	Server     *server.Server
}

func seededOrigin(t *testing.T) *testutil.Origin {
	t.Helper()
	origin := testutil.StartOrigin(t)
	origin.Set("/", testutil.Page{ContentType: "text/html", Body: "<html>shell</html>"})
	origin.Set("/index.html", testutil.Page{ContentType: "text/html", Body: "<html>index</html>"})
	origin.Set("/manifest.json", testutil.Page{ContentType: "application/json", Body: `{"name":"notes"}`})
	origin.Set("/icon-192.png", testutil.Page{ContentType: "image/png", Body: "png"})
	return origin
}

func baseConfig(origin *testutil.Origin, version string) *config.Config {
	return &config.Config{
		ListenAddr: "127.0.0.1:0",
		AppName:    "app-cache",
		Version:    version,
		Origin:     origin.URL,
		Manifest:   []string{"/", "/index.html", "/manifest.json"},
		Policy:     "cache-first",
		Shutdown:   config.ShutdownConfig{DrainMS: 10, GracefulTimeoutMS: 2000, ForceCloseMS: 10},
	}
}

func writeConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, fs.FileMode(0o644)); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("rename config: %v", err)
	}
}

func startCoordinator(t *testing.T, origin *testutil.Origin, cfg *config.Config, storage cache.Storage) *stack {
	t.Helper()
	path := filepath.Join(t.TempDir(), "coordinator.json")
	writeConfig(t, path, cfg)

	source := provider.NewFileProvider(path)
	loaded, err := source.Load(context.Background())
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if storage == nil {
		storage = cache.NewMemoryStorage(0)
	}
	metrics := obs.NewMetrics()
	fetcher := network.NewFetcher(network.Options{FetchTimeout: 2 * time.Second}, metrics)
	healthServer := health.NewServer()
	healthAddr, err := healthServer.Start("127.0.0.1:0")
	if err != nil {
		t.Fatalf("start health: %v", err)
	}
	hub := message.NewHub(metrics)
	if originURL, err := cfg.OriginURL(); err == nil {
		hub.AllowOrigins(originURL.Host)
	}

	reg := coordinator.NewRegistration(coordinator.Deps{
		Storage:  storage,
		Upstream: fetcher,
		Metrics:  metrics,
	}, coordinator.Options{
		Pages:     hub,
		Provider:  source,
		Observers: []coordinator.Observer{healthServer},
	})
	hub.SetDispatcher(reg)
	hub.OnEmpty(reg.PagesGone)

	if _, err := reg.Register(context.Background(), loaded); err != nil {
		t.Fatalf("register: %v", err)
	}

	watchCtx, stopWatch := context.WithCancel(context.Background())
	watcher, err := watch.New(path, 20*time.Millisecond, func() {
		if _, err := reg.Update(watchCtx); err != nil {
			t.Logf("update check: %v", err)
		}
	})
	if err != nil {
		t.Fatalf("watch config: %v", err)
	}
	go watcher.Run(watchCtx)

	shutdown, err := runtime.ShutdownFromConfig(loaded.Shutdown)
	if err != nil {
		t.Fatalf("shutdown config: %v", err)
	}
	srv, err := server.StartServer(coordinator.NewHandler(reg, hub, metrics, loaded.ControlPath()), loaded.ListenAddr, server.Options{
		Shutdown: shutdown,
		Inflight: runtime.NewInflightTracker(),
		Stoppers: []server.Stopper{server.StopFunc(func(context.Context) error {
			stopWatch()
			hub.Close()
			return nil
		})},
		CloseIdle: []func(){fetcher.CloseIdleConnections},
	})
	if err != nil {
		t.Fatalf("start server: %v", err)
	}

	t.Cleanup(func() {
		_ = srv.Shutdown()
		reg.Close()
		healthServer.Shutdown(time.Second)
		_ = storage.Close()
	})

	return &stack{
		URL:        "http://" + srv.Addr,
		ConfigPath: path,
		Origin:     origin,
		Storage:    storage,
		Reg:        reg,
		Hub:        hub,
		Metrics:    metrics,
		Health:     healthServer,
		HealthAddr: healthAddr,
		Server:     srv,
	}
}

func (s *stack) get(t *testing.T, path string, headers map[string]string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, s.URL+path, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("get %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return resp, string(body)
}

func (s *stack) status(t *testing.T) coordinator.Status {
	t.Helper()
	_, body := s.get(t, controlPrefix+"/status", nil)
	var status coordinator.Status
	if err := json.Unmarshal([]byte(body), &status); err != nil {
		t.Fatalf("decode status %q: %v", body, err)
	}
	return status
}

func (s *stack) socketURL() string {
	return s.URL + controlPrefix + "/ws"
}

func fetchMetrics(t *testing.T, s *stack) string {
	t.Helper()
	_, body := s.get(t, controlPrefix+"/metrics", nil)
	return body
}

func metricValue(text string, metric string, labels map[string]string) (float64, bool) {
	total := 0.0
	found := false
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.HasPrefix(line, metric+"{") && !strings.HasPrefix(line, metric+" ") {
			continue
		}
		match := true
		for key, value := range labels {
			if !strings.Contains(line, key+"=\""+value+"\"") {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		value, err := strconv.ParseFloat(parts[len(parts)-1], 64)
		if err != nil {
			return 0, false
		}
		found = true
		total += value
	}
	return total, found
}

// logBuffer collects access log lines for the duration of a test.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) lines(t *testing.T) []map[string]interface{} {
	t.Helper()
	b.mu.Lock()
	data := append([]byte(nil), b.buf.Bytes()...)
	b.mu.Unlock()

	var out []map[string]interface{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var payload map[string]interface{}
		if err := json.Unmarshal([]byte(line), &payload); err != nil {
			t.Fatalf("decode log line %q: %v", line, err)
		}
		out = append(out, payload)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan logs: %v", err)
	}
	return out
}

func captureAccessLog(t *testing.T) *logBuffer {
	t.Helper()
	buf := &logBuffer{}
	obs.SetOutput(buf)
	t.Cleanup(func() { obs.SetOutput(io.Discard) })
	return buf
}

func TestMain(m *testing.M) {
	obs.SetOutput(io.Discard)
	os.Exit(m.Run())
}
