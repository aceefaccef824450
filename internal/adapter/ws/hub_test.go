package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/Strob0t/QueryWarden/internal/port/broadcast"
)

func TestNewHub(t *testing.T) {
	hub := NewHub("", nil)
	if hub.ConnectionCount() != 0 {
		t.Fatalf("expected 0 connections, got %d", hub.ConnectionCount())
	}
}

func TestHubBroadcastNoConnections(t *testing.T) {
	hub := NewHub("", nil)
	hub.Broadcast(context.Background(), "s1", Message{Type: "test", Payload: []byte(`{}`)})
}

func TestHubBroadcastEventMarshalError(t *testing.T) {
	hub := NewHub("", nil)
	hub.BroadcastEvent(context.Background(), "bad", make(chan int))
}

func TestHubRemoveNonexistent(t *testing.T) {
	hub := NewHub("", nil)
	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub.remove(&conn{cancel: cancel})
}

func newServer(hub *Hub) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.HandleWS)
	return httptest.NewServer(mux)
}

func dial(t *testing.T, ctx context.Context, srvURL, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srvURL, "http") + "/ws" + query
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.CloseNow() })
	return c
}

func waitForConns(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ConnectionCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d connections, got %d", n, hub.ConnectionCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHub_SessionFilter(t *testing.T) {
	hub := NewHub("*", nil)
	srv := newServer(hub)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	all := dial(t, ctx, srv.URL, "")
	only := dial(t, ctx, srv.URL, "?session_id=s2")
	waitForConns(t, hub, 2)

	hub.BroadcastEvent(ctx, broadcast.EventFlowStatus, broadcast.FlowStatusEvent{
		SessionID: "s1", Stage: "analyzing", Status: "running",
	})
	hub.BroadcastEvent(ctx, broadcast.EventFlowStatus, broadcast.FlowStatusEvent{
		SessionID: "s2", Stage: "executing", Status: "running",
	})

	// The unfiltered client sees both events in order.
	for _, want := range []string{"s1", "s2"} {
		if got := readSession(t, ctx, all); got != want {
			t.Fatalf("all-flows client: expected %s, got %s", want, got)
		}
	}
	// The filtered client sees only s2.
	if got := readSession(t, ctx, only); got != "s2" {
		t.Fatalf("filtered client: expected s2, got %s", got)
	}
}

func TestHub_Close(t *testing.T) {
	hub := NewHub("", nil)
	srv := newServer(hub)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dial(t, ctx, srv.URL, "")
	waitForConns(t, hub, 1)

	hub.Close()
	if hub.ConnectionCount() != 0 {
		t.Fatalf("expected no connections after Close, got %d", hub.ConnectionCount())
	}
}

func TestHub_BroadcastNeverWaitsOnSlowClient(t *testing.T) {
	hub := NewHub("", nil)
	// No writer drains this client, as if its socket had stalled.
	stuck := &conn{cancel: func() {}, send: make(chan []byte, sendBuffer)}
	hub.conns[stuck] = struct{}{}

	start := time.Now()
	for i := 0; i < sendBuffer+10; i++ {
		hub.BroadcastEvent(context.Background(), broadcast.EventFlowStatus, broadcast.FlowStatusEvent{SessionID: "s1"})
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("broadcast waited on a stalled client for %s", elapsed)
	}
	if got := len(stuck.send); got != sendBuffer {
		t.Fatalf("expected the client buffer to be full at %d, got %d", sendBuffer, got)
	}
}

func readSession(t *testing.T, ctx context.Context, c *websocket.Conn) string {
	t.Helper()
	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Type != broadcast.EventFlowStatus {
		t.Fatalf("unexpected type %s", msg.Type)
	}
	var ev broadcast.FlowStatusEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	return ev.SessionID
}
