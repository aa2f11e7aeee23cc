package message

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Send connects to a coordinator's message socket as a page, delivers msg
// and, when waitFor is set, returns the first broadcast of that type.
func Send(ctx context.Context, socketURL string, msg Message, waitFor Type) (Message, error) {
	target, err := websocketURL(socketURL)
	if err != nil {
		return Message{}, err
	}
	conn, _, err := websocket.Dial(ctx, target, &websocket.DialOptions{HTTPClient: http.DefaultClient})
	if err != nil {
		return Message{}, fmt.Errorf("dial %s: %w", target, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if err := wsjson.Write(ctx, conn, msg); err != nil {
		return Message{}, fmt.Errorf("send %s: %w", msg.Type, err)
	}
	if waitFor == "" {
		return Message{}, nil
	}
	for {
		var reply Message
		if err := wsjson.Read(ctx, conn, &reply); err != nil {
			return Message{}, fmt.Errorf("wait for %s: %w", waitFor, err)
		}
		if reply.Type == waitFor {
			return reply, nil
		}
	}
}

func websocketURL(raw string) (string, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse socket url: %w", err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported socket scheme %q", parsed.Scheme)
	}
	return parsed.String(), nil
}
