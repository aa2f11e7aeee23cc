package message

import "encoding/json"

type Type string

const (
	TypeSkipWaiting      Type = "SKIP_WAITING"
	TypeForceUpdate      Type = "FORCE_UPDATE"
	TypeCacheCleared     Type = "CACHE_CLEARED"
	TypeControllerChange Type = "CONTROLLER_CHANGE"
	TypeShowNotification Type = "SHOW_NOTIFICATION"
)

var knownTypes = map[Type]bool{
	TypeSkipWaiting:      true,
	TypeForceUpdate:      true,
	TypeCacheCleared:     true,
	TypeControllerChange: true,
	TypeShowNotification: true,
}

// Message is the JSON envelope exchanged between pages and the coordinator.
type Message struct {
	Type         Type          `json:"type"`
	Version      string        `json:"version,omitempty"`
	Notification *Notification `json:"notification,omitempty"`
}

type Notification struct {
	Title   string   `json:"title"`
	Body    string   `json:"body"`
	URL     string   `json:"url,omitempty"`
	Icon    string   `json:"icon,omitempty"`
	Badge   string   `json:"badge,omitempty"`
	Actions []Action `json:"actions,omitempty"`
}

type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// Decode parses one message. Malformed payloads and unknown types report
// false; callers drop them without replying.
func Decode(data []byte) (Message, bool) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, false
	}
	if !knownTypes[msg.Type] {
		return Message{}, false
	}
	return msg, true
}

// Inbound reports whether pages may send t to the coordinator.
func (t Type) Inbound() bool {
	return t == TypeSkipWaiting || t == TypeForceUpdate
}
