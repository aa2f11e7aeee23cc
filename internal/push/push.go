package push

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"offline_coordinator/internal/message"
)

const (
	DefaultTitle = "Notification"
	DefaultIcon  = "/icon-192.png"
	DefaultBadge = "/badge-72.png"

	maxPayloadBytes = 16 * 1024
)

var actions = []message.Action{
	{Action: "open", Title: "Open"},
	{Action: "close", Title: "Close"},
}

type payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
}

// Broadcaster is the part of message.Hub a notification needs.
type Broadcaster interface {
	Broadcast(msg message.Message) int
}

// Display turns a push payload into the notification pages show. basePath
// prefixes the fixed icon and badge.
func Display(data []byte, basePath string) (message.Notification, error) {
	var p payload
	if len(strings.TrimSpace(string(data))) > 0 {
		if err := json.Unmarshal(data, &p); err != nil {
			return message.Notification{}, fmt.Errorf("decode push payload: %w", err)
		}
	}
	if p.Title == "" {
		p.Title = DefaultTitle
	}
	return message.Notification{
		Title:   p.Title,
		Body:    p.Body,
		URL:     p.URL,
		Icon:    basePath + DefaultIcon,
		Badge:   basePath + DefaultBadge,
		Actions: append([]message.Action(nil), actions...),
	}, nil
}

// Handler accepts a push payload over HTTP and shows it on every page.
// BasePath is resolved per request; nil means no prefix.
type Handler struct {
	Hub      Broadcaster
	BasePath func() string
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes+1))
	if err == nil && len(data) > maxPayloadBytes {
		err = errors.New("payload too large")
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}
	basePath := ""
	if h.BasePath != nil {
		basePath = h.BasePath()
	}
	notification, err := Display(data, basePath)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	delivered := 0
	if h.Hub != nil {
		delivered = h.Hub.Broadcast(message.Message{Type: message.TypeShowNotification, Notification: &notification})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]int{"delivered": delivered})
}
