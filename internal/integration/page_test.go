package integration

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"offline_coordinator/internal/message"
)

// page is a connected foreground page listening on the control socket.
type page struct {
	conn     *websocket.Conn
	messages chan message.Message
	cancel   context.CancelFunc
}

func connectPage(t *testing.T, s *stack) *page {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	target := "ws" + strings.TrimPrefix(s.socketURL(), "http")
	dialCtx, dialCancel := context.WithTimeout(ctx, 2*time.Second)
	defer dialCancel()
	conn, _, err := websocket.Dial(dialCtx, target, nil)
	if err != nil {
		cancel()
		t.Fatalf("dial %s: %v", target, err)
	}
	p := &page{conn: conn, messages: make(chan message.Message, 16), cancel: cancel}
	go func() {
		defer close(p.messages)
		for {
			var msg message.Message
			if err := wsjson.Read(ctx, conn, &msg); err != nil {
				return
			}
			p.messages <- msg
		}
	}()
	t.Cleanup(p.close)
	return p
}

func (p *page) send(t *testing.T, msg message.Message) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, p.conn, msg); err != nil {
		t.Fatalf("send %s: %v", msg.Type, err)
	}
}

func (p *page) await(t *testing.T, msgType message.Type) message.Message {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case msg, ok := <-p.messages:
			if !ok {
				t.Fatalf("socket closed while waiting for %s", msgType)
			}
			if msg.Type == msgType {
				return msg
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", msgType)
		}
	}
}

func (p *page) close() {
	_ = p.conn.Close(websocket.StatusNormalClosure, "")
	p.cancel()
}

func waitForPages(t *testing.T, s *stack, count int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.Hub.ClientCount() != count {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d pages, got %d", count, s.Hub.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
