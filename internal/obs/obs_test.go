package obs

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLogAccessWritesJSONLine(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(nil)

	LogAccess(RequestContext{
		Method:      "GET",
		Path:        "/index.html",
		Version:     "v6",
		Strategy:    "cache-first",
		Source:      "cache",
		CacheStatus: "hit",
		Status:      200,
		Duration:    3 * time.Millisecond,
	})

	var entry map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("parse log line %q: %v", buf.String(), err)
	}
	if entry["cache_status"] != "hit" || entry["strategy"] != "cache-first" {
		t.Fatalf("unexpected entry %v", entry)
	}
	if entry["request_id"] != "none" || entry["destination"] != "other" {
		t.Fatalf("defaults not applied: %v", entry)
	}
	if _, ok := entry["passthrough_reason"]; ok {
		t.Fatalf("empty passthrough reason should be omitted")
	}
}

func TestOpenLogFileRoutesOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "access.log")
	closer := OpenLogFile(LogFileConfig{Path: path, MaxSizeMB: 1})
	LogAccess(RequestContext{Method: "GET", Path: "/"})
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	SetOutput(nil)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"path":"/"`) {
		t.Fatalf("log file missing entry: %s", data)
	}
}

func TestMetricsExposition(t *testing.T) {
	metrics := NewMetrics()
	metrics.ObserveRequest("cache-only", "offline", 404, time.Millisecond)
	metrics.RecordPassthrough("non_get")
	metrics.RecordInstallSeed("v6", false)
	metrics.RecordControlMessage("FORCE_UPDATE", "inbound")
	metrics.SetActiveVersion("v5")
	metrics.SetActiveVersion("v6")

	server := httptest.NewServer(metrics.Handler())
	defer server.Close()
	resp, err := server.Client().Get(server.URL)
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	text := string(body)
	for _, want := range []string{
		`coordinator_requests_total{source="offline",status_class="4xx",strategy="cache-only"} 1`,
		`coordinator_passthrough_total{reason="non_get"} 1`,
		`coordinator_install_seeds_total{result="failed",version="v6"} 1`,
		`coordinator_control_messages_total{direction="inbound",type="FORCE_UPDATE"} 1`,
		`coordinator_active_version_info{version="v5"} 0`,
		`coordinator_active_version_info{version="v6"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics missing %s\n%s", want, text)
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var metrics *Metrics
	metrics.ObserveRequest("x", "y", 200, time.Second)
	metrics.RecordLifecycle("activated")
	metrics.SetConnectedPages(3)
	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != 503 {
		t.Fatalf("expected 503 from nil metrics handler, got %d", rec.Code)
	}
}
