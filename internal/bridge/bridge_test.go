package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{}

// echoBackend accepts one connection and, for every llm_request it
// receives, immediately streams back a delta then a terminal response
// carrying the same request_id.
func echoBackend(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req map[string]any
			if err := json.Unmarshal(data, &req); err != nil {
				continue
			}
			id, _ := req["request_id"].(string)
			delta, _ := json.Marshal(Message{Type: "llm_stream", RequestID: id, Delta: "好"})
			conn.WriteMessage(websocket.TextMessage, delta)
			final, _ := json.Marshal(Message{Type: "llm_response", RequestID: id, Reply: "好的", Final: true})
			conn.WriteMessage(websocket.TextMessage, final)
		}
	}))
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func newTestBridge(t *testing.T, url string) *Bridge {
	t.Helper()
	b := New(Config{
		URL:          url,
		ConnTimeout:  2 * time.Second,
		Reconnect:    50 * time.Millisecond,
		PingInterval: 10 * time.Second,
	}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go b.Run(ctx)
	return b
}

func TestRequestStreamDeliversDeltaThenTerminal(t *testing.T) {
	srv := echoBackend(t)
	defer srv.Close()

	b := newTestBridge(t, wsURL(srv.URL))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ch, release, err := b.RequestStream(ctx, map[string]any{"type": "llm_request", "request_id": "r1", "text": "帮我关灯"})
	if err != nil {
		t.Fatalf("RequestStream error: %v", err)
	}
	defer release()

	msg1 := <-ch
	if msg1.Type != "llm_stream" || msg1.Delta != "好" {
		t.Errorf("first message = %+v, want stream delta", msg1)
	}

	msg2 := <-ch
	if msg2.Type != "llm_response" || !msg2.Final {
		t.Errorf("second message = %+v, want final response", msg2)
	}
}

func TestOrphanResponseDoesNotCrash(t *testing.T) {
	srv := echoBackend(t)
	defer srv.Close()
	b := newTestBridge(t, wsURL(srv.URL))

	time.Sleep(100 * time.Millisecond) // let the connection establish
	b.dispatch([]byte(`{"type":"llm_response","request_id":"no-such-request","final":true}`))
	// no panic means the orphan was tolerated (invariant I6)
}

// stallBackend upgrades the connection and reads requests but never
// responds, so the test can sever the connection mid-request and observe
// the Bridge's synthetic disconnect terminal.
func stallBackend(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

// severConn closes the Bridge's live connection from the client side.
// httptest's CloseClientConnections does not reach upgraded (hijacked)
// WebSocket connections, so the tests cut the link here instead.
func severConn(b *Bridge) {
	b.connMu.Lock()
	defer b.connMu.Unlock()
	if b.conn != nil {
		b.conn.Close()
	}
}

func TestDisconnectPushesSyntheticTerminal(t *testing.T) {
	srv := stallBackend(t)
	b := newTestBridge(t, wsURL(srv.URL))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ch, release, err := b.RequestStream(ctx, map[string]any{"type": "llm_request", "request_id": "r2"})
	if err != nil {
		t.Fatalf("RequestStream error: %v", err)
	}
	defer release()

	severConn(b)

	select {
	case msg := <-ch:
		if msg.Type != "llm_error" || !msg.Final || msg.Error != "backend bridge disconnected" {
			t.Errorf("got %+v, want synthetic disconnect terminal", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for synthetic disconnect terminal")
	}
}

func TestBridgeReconnectsAfterDisconnect(t *testing.T) {
	srv := echoBackend(t)
	defer srv.Close()
	b := newTestBridge(t, wsURL(srv.URL))

	time.Sleep(100 * time.Millisecond)
	severConn(b)
	time.Sleep(300 * time.Millisecond) // allow the reconnect loop to redial

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ch, release, err := b.RequestStream(ctx, map[string]any{"type": "llm_request", "request_id": "r3"})
	if err != nil {
		t.Fatalf("RequestStream error after reconnect: %v", err)
	}
	defer release()

	select {
	case msg := <-ch:
		if msg.Type != "llm_stream" {
			t.Errorf("got %+v, want stream delta after reconnect", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no response after reconnect")
	}
}
