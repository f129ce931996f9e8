package queue

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxbridge/broker/internal/bridge"
	"github.com/voxbridge/broker/internal/classify"
)

var upgrader = websocket.Upgrader{}

// recordingSink captures every EventSink call for assertions.
type recordingSink struct {
	mu     sync.Mutex
	states []string
}

func (r *recordingSink) BackendState(stage, requestID string, extra map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, stage)
}
func (r *recordingSink) BackendStream(requestID, delta string)              {}
func (r *recordingSink) BackendResult(requestID, reply string, interrupted bool) {}
func (r *recordingSink) Warn(message, requestID string)                     {}

func (r *recordingSink) has(stage string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.states {
		if s == stage {
			return true
		}
	}
	return false
}

func wsURL(httpURL string) string { return "ws" + strings.TrimPrefix(httpURL, "http") }

// scriptedBackend replies to every request with the given message sequence,
// one message per entry, each tagged with the inbound request_id.
func scriptedBackend(t *testing.T, messages ...bridge.Message) *httptest.Server {
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
			json.Unmarshal(data, &req)
			id, _ := req["request_id"].(string)
			for _, m := range messages {
				m.RequestID = id
				out, _ := json.Marshal(m)
				conn.WriteMessage(websocket.TextMessage, out)
			}
		}
	}))
}

// stallingBackend never responds, so requests time out or must be cancelled.
func stallingBackend(t *testing.T) *httptest.Server {
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

func newTestBridge(t *testing.T, url string) *bridge.Bridge {
	t.Helper()
	b := bridge.New(bridge.Config{
		URL:          url,
		ConnTimeout:  2 * time.Second,
		Reconnect:    50 * time.Millisecond,
		PingInterval: 10 * time.Second,
	}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go b.Run(ctx)
	time.Sleep(50 * time.Millisecond) // let the first connection establish
	return b
}

func TestDispatcherCompletesRequest(t *testing.T) {
	srv := scriptedBackend(t,
		bridge.Message{Type: "llm_stream", Delta: "hi"},
		bridge.Message{Type: "llm_response", Reply: "hi there", Final: true},
	)
	defer srv.Close()

	b := newTestBridge(t, wsURL(srv.URL))
	q := NewQueue(4)
	sink := &recordingSink{}
	d := NewDispatcher(DispatcherConfig{SessionID: "s1", ReqTimeout: 2 * time.Second}, q, b, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	q.TryPut(BackendRequest{RequestID: "r1", SessionID: "s1", Text: "hello"})

	deadline := time.After(2 * time.Second)
	for !sink.has("completed") {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for completed state")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if !sink.has("streaming") || !sink.has("thinking") {
		t.Errorf("states = %v, want thinking and streaming before completed", sink.states)
	}
}

func TestDispatcherTimeout(t *testing.T) {
	srv := stallingBackend(t)
	defer srv.Close()

	b := newTestBridge(t, wsURL(srv.URL))
	q := NewQueue(4)
	sink := &recordingSink{}
	d := NewDispatcher(DispatcherConfig{SessionID: "s1", ReqTimeout: 100 * time.Millisecond}, q, b, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	q.TryPut(BackendRequest{RequestID: "r1", SessionID: "s1", Text: "hello"})

	deadline := time.After(2 * time.Second)
	for !sink.has("timeout") {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for timeout state")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestDispatcherUnknownMessageTypeTolerated(t *testing.T) {
	srv := scriptedBackend(t,
		bridge.Message{Type: "some_future_type"},
		bridge.Message{Type: "llm_response", Reply: "ok", Final: true},
	)
	defer srv.Close()

	b := newTestBridge(t, wsURL(srv.URL))
	q := NewQueue(4)
	sink := &recordingSink{}
	d := NewDispatcher(DispatcherConfig{SessionID: "s1", ReqTimeout: 2 * time.Second}, q, b, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	q.TryPut(BackendRequest{RequestID: "r1", SessionID: "s1", Text: "hello"})

	deadline := time.After(2 * time.Second)
	for !sink.has("completed") {
		select {
		case <-deadline:
			t.Fatal("unknown message type should not block the eventual completed state")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestTryInterruptPreTokenStealsBackOriginalText(t *testing.T) {
	srv := stallingBackend(t)
	defer srv.Close()

	b := newTestBridge(t, wsURL(srv.URL))
	q := NewQueue(4)
	sink := &recordingSink{}
	d := NewDispatcher(DispatcherConfig{
		SessionID:  "s1",
		ReqTimeout: 2 * time.Second,
		Interrupt:  InterruptConfig{PreToken: true},
	}, q, b, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	q.TryPut(BackendRequest{RequestID: "r1", SessionID: "s1", Text: "original question"})
	time.Sleep(100 * time.Millisecond) // let the request become inflight, no tokens yet

	result := d.TryInterrupt(classify.Normal, "new utterance")
	if !result.Interrupted || result.Kind != "pre_token" || result.StolenText != "original question" {
		t.Errorf("TryInterrupt result = %+v, want pre_token interrupt stealing original text", result)
	}

	deadline := time.After(2 * time.Second)
	for !sink.has("interrupted") {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for interrupted state")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestTryInterruptPostTokenAlways(t *testing.T) {
	srv := scriptedBackend(t, bridge.Message{Type: "llm_stream", Delta: "partial"})
	defer srv.Close()

	b := newTestBridge(t, wsURL(srv.URL))
	q := NewQueue(4)
	sink := &recordingSink{}
	d := NewDispatcher(DispatcherConfig{
		SessionID:  "s1",
		ReqTimeout: 2 * time.Second,
		Interrupt:  InterruptConfig{PostTokenMode: "always"},
	}, q, b, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	q.TryPut(BackendRequest{RequestID: "r1", SessionID: "s1", Text: "original"})

	deadline := time.After(2 * time.Second)
	for !sink.has("streaming") {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for first token")
		case <-time.After(10 * time.Millisecond):
		}
	}

	result := d.TryInterrupt(classify.Normal, "a much longer follow up utterance")
	if !result.Interrupted || result.Kind != "post_token" {
		t.Errorf("TryInterrupt result = %+v, want post_token interrupt", result)
	}
}

func TestTryInterruptNoInflightIsNoop(t *testing.T) {
	q := NewQueue(4)
	sink := &recordingSink{}
	d := NewDispatcher(DispatcherConfig{SessionID: "s1"}, q, nil, sink)

	result := d.TryInterrupt(classify.Normal, "text")
	if result.Interrupted {
		t.Errorf("TryInterrupt with no inflight request = %+v, want zero value", result)
	}
}
