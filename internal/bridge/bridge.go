// Package bridge implements the Backend Bridge (spec §4.7): a singleton,
// process-wide, auto-reconnecting full-duplex WebSocket connection to the
// LLM backend, multiplexing concurrent requests from every session over one
// physical connection by request_id.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/voxbridge/broker/internal/metrics"
)

// Message is one decoded backend-channel message (spec §6.2): a tagged
// variant over {llm_stream, llm_response, llm_error}.
type Message struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	Final     bool   `json:"final"`
	Delta     string `json:"delta,omitempty"`
	Reply     string `json:"reply,omitempty"`
	Error     string `json:"error,omitempty"`
	Emotion   string `json:"emotion,omitempty"`
	Event     string `json:"event,omitempty"`
}

const streamBuffer = 32

// Config tunes Bridge timing (spec §6.3).
type Config struct {
	URL           string
	ConnTimeout   time.Duration
	Reconnect     time.Duration
	PingInterval  time.Duration
	PingTimeout   time.Duration // 0 disables the pong deadline
}

// Bridge is the process-wide singleton. Construct one per process with New
// and call Run in a background goroutine before any session calls
// RequestStream.
type Bridge struct {
	cfg    Config
	dialer *websocket.Dialer
	log    *slog.Logger

	connMu    sync.Mutex
	conn      *websocket.Conn
	connected *latch

	sendMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan Message

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a Bridge. Call Run to start the reconnecting background
// runner before issuing RequestStream calls.
func New(cfg Config, log *slog.Logger) *Bridge {
	if log == nil {
		log = slog.Default()
	}
	return &Bridge{
		cfg:       cfg,
		dialer:    &websocket.Dialer{HandshakeTimeout: cfg.ConnTimeout},
		log:       log,
		connected: newLatch(),
		pending:   make(map[string]chan Message),
		stopCh:    make(chan struct{}),
	}
}

// Run drives the reconnect loop until ctx is cancelled or Stop is called.
// Intended to be launched once as `go bridge.Run(ctx)`.
func (b *Bridge) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopCh:
			return
		default:
		}

		if err := b.runOnce(ctx); err != nil {
			b.log.Warn("bridge connection cycle ended", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-b.stopCh:
			return
		case <-time.After(b.cfg.Reconnect):
			metrics.BridgeReconnects.Inc()
		}
	}
}

func (b *Bridge) runOnce(ctx context.Context) error {
	conn, _, err := b.dialer.DialContext(ctx, b.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("bridge: dial: %w", err)
	}

	b.connMu.Lock()
	b.conn = conn
	b.connMu.Unlock()
	b.connected.set()

	defer func() {
		b.connMu.Lock()
		b.conn = nil
		b.connMu.Unlock()
		b.connected.reset()
		conn.Close()
		b.dropAllPending("backend bridge disconnected")
	}()

	stopPing := make(chan struct{})
	defer close(stopPing)
	go b.pingLoop(conn, stopPing)

	if b.cfg.PingTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(b.cfg.PingInterval + b.cfg.PingTimeout))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(b.cfg.PingInterval + b.cfg.PingTimeout))
			return nil
		})
	}

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("bridge: read: %w", err)
		}
		if msgType != websocket.TextMessage {
			continue
		}
		b.dispatch(data)
	}
}

func (b *Bridge) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(b.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			b.sendMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			b.sendMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (b *Bridge) dispatch(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		b.log.Warn("bridge: malformed message", "error", err)
		return
	}
	if msg.RequestID == "" {
		return
	}

	b.pendingMu.Lock()
	ch, ok := b.pending[msg.RequestID]
	b.pendingMu.Unlock()

	if !ok {
		metrics.BridgeOrphanResponses.Inc()
		return
	}

	select {
	case ch <- msg:
	default:
		b.log.Warn("bridge: pending stream full, dropping message", "request_id", msg.RequestID)
	}
}

func (b *Bridge) dropAllPending(reason string) {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	for id, ch := range b.pending {
		terminal := Message{Type: "llm_error", RequestID: id, Error: reason, Final: true}
		select {
		case ch <- terminal:
		default:
		}
	}
}

// RequestStream registers payload (which must already carry request_id,
// session_id, text and the other §6.2 fields) and returns a channel of
// backend messages for it. The channel receives zero or more llm_stream
// deltas followed by exactly one terminal message, then the caller must call
// the returned release func (spec §9: the Bridge runner never removes an
// entry it did not create).
func (b *Bridge) RequestStream(ctx context.Context, payload map[string]any) (<-chan Message, func(), error) {
	requestID, _ := payload["request_id"].(string)
	if requestID == "" {
		requestID = uuid.NewString()
		payload["request_id"] = requestID
	}

	ch := make(chan Message, streamBuffer)
	b.pendingMu.Lock()
	b.pending[requestID] = ch
	b.pendingMu.Unlock()

	release := func() {
		b.pendingMu.Lock()
		delete(b.pending, requestID)
		b.pendingMu.Unlock()
	}

	select {
	case <-b.connected.wait():
	case <-time.After(b.cfg.ConnTimeout):
		release()
		return nil, nil, fmt.Errorf("backend websocket not ready")
	case <-ctx.Done():
		release()
		return nil, nil, ctx.Err()
	}

	data, err := json.Marshal(payload)
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("bridge: marshal request: %w", err)
	}

	b.connMu.Lock()
	conn := b.conn
	b.connMu.Unlock()
	if conn == nil {
		release()
		return nil, nil, fmt.Errorf("backend websocket not ready")
	}

	b.sendMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	b.sendMu.Unlock()
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("bridge: send: %w", err)
	}

	return ch, release, nil
}

// IsConnected reports whether the backend connection is currently live,
// without blocking.
func (b *Bridge) IsConnected() bool {
	select {
	case <-b.connected.wait():
		return true
	default:
		return false
	}
}

// Stop closes the current connection, halts the runner, and pushes a
// "backend bridge stopped" terminal to every pending stream.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
		b.connMu.Lock()
		if b.conn != nil {
			b.conn.Close()
		}
		b.connMu.Unlock()
		b.dropAllPending("backend bridge stopped")
	})
}
