package message

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"offline_coordinator/internal/obs"
)

const (
	writeTimeout   = 5 * time.Second
	maxMessageSize = 64 * 1024
)

type Dispatcher interface {
	Dispatch(ctx context.Context, msg Message)
}

type DispatchFunc func(ctx context.Context, msg Message)

func (f DispatchFunc) Dispatch(ctx context.Context, msg Message) {
	f(ctx, msg)
}

// Hub tracks connected pages and carries messages both ways.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*websocket.Conn]struct{}
	dispatcher Dispatcher
	onEmpty    func()
	origins    []string
	metrics    *obs.Metrics
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

func NewHub(metrics *obs.Metrics) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients: make(map[*websocket.Conn]struct{}),
		metrics: metrics,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (h *Hub) SetDispatcher(dispatcher Dispatcher) {
	h.mu.Lock()
	h.dispatcher = dispatcher
	h.mu.Unlock()
}

// AllowOrigins adds host patterns whose pages may send control messages.
// Pages served from the request's own host are always allowed.
func (h *Hub) AllowOrigins(patterns ...string) {
	h.mu.Lock()
	for _, pattern := range patterns {
		if pattern != "" {
			h.origins = append(h.origins, strings.ToLower(pattern))
		}
	}
	h.mu.Unlock()
}

func (h *Hub) allowedOrigins() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]string(nil), h.origins...)
}

// originAllowed applies the same rule as the websocket handshake: no Origin
// header, the request's own host, or a configured pattern.
func (h *Hub) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	host := strings.ToLower(u.Host)
	for _, pattern := range h.allowedOrigins() {
		if ok, _ := path.Match(pattern, host); ok {
			return true
		}
	}
	return false
}

// OnEmpty registers fn to run each time the last page disconnects.
func (h *Hub) OnEmpty(fn func()) {
	h.mu.Lock()
	h.onEmpty = fn
	h.mu.Unlock()
}

func (h *Hub) ClientCount() int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades a page connection and reads its messages until it
// closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.allowedOrigins(),
	})
	if err != nil {
		log.Printf("message: websocket upgrade failed: %v", err)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	h.metrics.SetConnectedPages(count)

	h.wg.Add(1)
	defer h.wg.Done()
	h.readLoop(conn)
}

func (h *Hub) readLoop(conn *websocket.Conn) {
	defer h.removeClient(conn)

	for {
		kind, data, err := conn.Read(h.ctx)
		if err != nil {
			return
		}
		if kind != websocket.MessageText {
			continue
		}
		h.deliver(data)
	}
}

// HandlePost accepts one message per request for pages without a socket.
func (h *Hub) HandlePost(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.originAllowed(r) {
		h.metrics.RecordControlMessage("rejected", "in")
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxMessageSize))
	if err != nil {
		http.Error(w, "read body failed", http.StatusBadRequest)
		return
	}
	accepted := h.deliver(data)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]bool{"accepted": accepted})
}

func (h *Hub) deliver(data []byte) bool {
	msg, ok := Decode(data)
	if !ok || !msg.Type.Inbound() {
		h.metrics.RecordControlMessage("ignored", "in")
		return false
	}
	h.metrics.RecordControlMessage(string(msg.Type), "in")

	h.mu.RLock()
	dispatcher := h.dispatcher
	h.mu.RUnlock()
	if dispatcher == nil {
		return false
	}
	dispatcher.Dispatch(h.ctx, msg)
	return true
}

// Broadcast writes msg to every connected page and returns how many
// received it. Pages whose write fails are dropped.
func (h *Hub) Broadcast(msg Message) int {
	if h == nil {
		return 0
	}
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("message: marshal %s: %v", msg.Type, err)
		return 0
	}
	h.metrics.RecordControlMessage(string(msg.Type), "out")

	h.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		clients = append(clients, conn)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, conn := range clients {
		ctx, cancel := context.WithTimeout(h.ctx, writeTimeout)
		err := conn.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Printf("message: drop page after failed write: %v", err)
			}
			h.removeClient(conn)
			continue
		}
		delivered++
	}
	return delivered
}

func (h *Hub) removeClient(conn *websocket.Conn) {
	h.mu.Lock()
	if _, exists := h.clients[conn]; !exists {
		h.mu.Unlock()
		return
	}
	delete(h.clients, conn)
	count := len(h.clients)
	onEmpty := h.onEmpty
	h.mu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	h.metrics.SetConnectedPages(count)
	if count == 0 && onEmpty != nil {
		onEmpty()
	}
}

// Close disconnects every page and waits for their read loops to exit.
func (h *Hub) Close() {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.onEmpty = nil
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		clients = append(clients, conn)
	}
	h.mu.Unlock()

	for _, conn := range clients {
		_ = conn.Close(websocket.StatusGoingAway, "coordinator shutting down")
	}
	h.cancel()
	h.wg.Wait()
}
