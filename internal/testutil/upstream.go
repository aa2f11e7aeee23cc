package testutil

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
)

func StartUpstream(t *testing.T, handler http.Handler) (string, func()) {
	t.Helper()
	if handler == nil {
		handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	}

	server := httptest.NewServer(handler)
	return server.Listener.Addr().String(), server.Close
}

type Page struct {
	Status      int
	ContentType string
	Body        string
	Header      http.Header
}

// Origin is a test origin whose pages and reachability can change while a
// test runs. Unknown paths answer 404. While offline every connection is
// dropped before a response is written.
type Origin struct {
	URL string

	server  *httptest.Server
	mu      sync.Mutex
	pages   map[string]Page
	hits    map[string]int
	offline atomic.Bool
}

func StartOrigin(t *testing.T) *Origin {
	t.Helper()
	origin := &Origin{pages: make(map[string]Page), hits: make(map[string]int)}
	origin.server = httptest.NewServer(http.HandlerFunc(origin.serve))
	origin.URL = origin.server.URL
	t.Cleanup(origin.server.Close)
	return origin
}

func (o *Origin) Addr() string {
	return o.server.Listener.Addr().String()
}

func (o *Origin) Set(path string, page Page) {
	o.mu.Lock()
	o.pages[path] = page
	o.mu.Unlock()
}

func (o *Origin) SetText(path string, body string) {
	o.Set(path, Page{Status: http.StatusOK, ContentType: "text/plain; charset=utf-8", Body: body})
}

func (o *Origin) SetOffline(offline bool) {
	o.offline.Store(offline)
}

func (o *Origin) Hits(path string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hits[path]
}

func (o *Origin) serve(w http.ResponseWriter, r *http.Request) {
	if o.offline.Load() {
		if hijacker, ok := w.(http.Hijacker); ok {
			if conn, _, err := hijacker.Hijack(); err == nil {
				_ = conn.Close()
				return
			}
		}
		panic(http.ErrAbortHandler)
	}

	o.mu.Lock()
	o.hits[r.URL.Path]++
	page, ok := o.pages[r.URL.Path]
	o.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	for key, values := range page.Header {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	if page.ContentType != "" {
		w.Header().Set("Content-Type", page.ContentType)
	}
	status := page.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(page.Body))
}
