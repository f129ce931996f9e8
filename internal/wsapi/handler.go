// Package wsapi is the Client Link transport (spec §4.1): it upgrades
// inbound HTTP connections to full-duplex WebSocket, owns one Session per
// connection, and is the only place that writes to the client socket.
package wsapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/voxbridge/broker/internal/asr"
	"github.com/voxbridge/broker/internal/bridge"
	"github.com/voxbridge/broker/internal/config"
	"github.com/voxbridge/broker/internal/metrics"
	"github.com/voxbridge/broker/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16384,
	WriteBufferSize: 16384,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler upgrades connections and runs one Session per client.
type Handler struct {
	cfg          config.Config
	collaborator asr.Collaborator
	bridge       *bridge.Bridge
}

// NewHandler creates a Client Link handler sharing the collaborator and the
// process-wide Bridge across all sessions.
func NewHandler(cfg config.Config, collaborator asr.Collaborator, br *bridge.Bridge) *Handler {
	return &Handler{cfg: cfg, collaborator: collaborator, bridge: br}
}

// controlMessage is the shape of inbound text control frames (spec §6.1).
type controlMessage struct {
	Event string `json:"event"`
}

// ServeHTTP upgrades the connection and runs the session until the client
// disconnects.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sessionID := uuid.NewString()
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// ASR/VAD model not ready at session start: warn once and close (spec
	// §7). STRICT_MODEL's fatal behavior is checked once at startup instead
	// (cmd/broker/main.go), since it gates the whole process, not one
	// connection.
	if rc, ok := h.collaborator.(asr.ReadinessChecker); ok {
		readyCtx, readyCancel := context.WithTimeout(ctx, 3*time.Second)
		err := rc.Ready(readyCtx)
		readyCancel()
		if err != nil {
			slog.Warn("asr/vad collaborator not ready, closing client connection", "session_id", sessionID, "error", err)
			conn.WriteJSON(map[string]any{
				"event":      "warn",
				"session_id": sessionID,
				"message":    "asr/vad model not ready",
			})
			return
		}
	}

	metrics.SessionsTotal.Inc()
	metrics.SessionsActive.Inc()
	defer metrics.SessionsActive.Dec()

	// gorilla/websocket connections are not safe for concurrent writers;
	// this mutex is the only thing that writes to conn.
	var writeMu sync.Mutex
	sess := session.New(sessionID, h.cfg, h.collaborator, h.bridge, func(ev session.Event) {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(ev); err != nil {
			slog.Warn("client write failed", "error", err)
		}
	})

	sess.Connected(h.bridge.IsConnected())

	go sess.Run(ctx)

	h.readLoop(ctx, conn, sess)
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, sess *session.Session) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			sess.IngestPCM(ctx, data)
		case websocket.TextMessage:
			var ctrl controlMessage
			if err := json.Unmarshal(data, &ctrl); err != nil {
				slog.Warn("bad control frame", "error", err)
				continue
			}
			switch ctrl.Event {
			case "flush":
				sess.Flush(ctx)
			case "ping":
				sess.Pong()
			default:
				slog.Warn("unknown control event", "event", ctrl.Event)
			}
		}
	}
}
