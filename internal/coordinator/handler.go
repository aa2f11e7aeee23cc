package coordinator

import (
	"encoding/json"
	"net/http"
	"strings"

	"offline_coordinator/internal/message"
	"offline_coordinator/internal/obs"
	"offline_coordinator/internal/push"
)

type Status struct {
	Active             string   `json:"active,omitempty"`
	ActiveState        State    `json:"active_state,omitempty"`
	Strategy           string   `json:"strategy,omitempty"`
	ForceUpdatePending bool     `json:"force_update_pending"`
	Waiting            string   `json:"waiting,omitempty"`
	Pages              int      `json:"pages"`
	Buckets            []string `json:"buckets"`
	Draining           bool     `json:"draining"`
}

// Handler serves the control endpoints under Prefix and intercepts
// everything else.
type Handler struct {
	Registration *Registration
	Hub          *message.Hub
	Metrics      *obs.Metrics
	Prefix       string

	mux *http.ServeMux
}

func NewHandler(reg *Registration, hub *message.Hub, metrics *obs.Metrics, prefix string) *Handler {
	h := &Handler{Registration: reg, Hub: hub, Metrics: metrics, Prefix: strings.TrimRight(prefix, "/")}
	mux := http.NewServeMux()
	mux.HandleFunc(h.Prefix+"/ws", hub.ServeWS)
	mux.HandleFunc(h.Prefix+"/message", hub.HandlePost)
	mux.Handle(h.Prefix+"/push", &push.Handler{Hub: hub, BasePath: h.activeBasePath})
	mux.Handle(h.Prefix+"/metrics", metrics.Handler())
	mux.HandleFunc(h.Prefix+"/status", h.serveStatus)
	h.mux = mux
	return h
}

func (h *Handler) activeBasePath() string {
	if active := h.Registration.Active(); active != nil {
		return active.BasePath()
	}
	return ""
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.isControl(r) {
		h.mux.ServeHTTP(w, r)
		return
	}
	h.Registration.ServeHTTP(w, r)
}

// Control endpoints are only reachable with origin-form request URIs so a
// forward-proxied request for another host never lands on them.
func (h *Handler) isControl(r *http.Request) bool {
	if r.URL == nil || r.URL.IsAbs() {
		return false
	}
	return r.URL.Path == h.Prefix || strings.HasPrefix(r.URL.Path, h.Prefix+"/")
}

func (h *Handler) Status() Status {
	status := Status{Pages: h.Hub.ClientCount(), Draining: h.Registration.Draining()}
	if active := h.Registration.Active(); active != nil {
		status.Active = active.Version()
		status.ActiveState = active.State()
		status.Strategy = active.Strategy()
		status.ForceUpdatePending = active.ForceUpdatePending()
	}
	if waiting := h.Registration.Waiting(); waiting != nil {
		status.Waiting = waiting.Version()
	}
	if names, err := h.Registration.deps.Storage.Names(); err == nil {
		status.Buckets = names
	}
	if status.Buckets == nil {
		status.Buckets = []string{}
	}
	return status
}

func (h *Handler) serveStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(h.Status())
}
