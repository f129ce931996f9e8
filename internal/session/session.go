// Package session implements the per-client Session (spec §2, §3): it owns
// the Audio Ingestion, Segmenter, Classifier & Admission Filter, Merge
// Buffer and Backend Queue + Dispatcher stages and wires them together. The
// Client Link transport itself (the WebSocket connection) lives in
// internal/wsapi; Session only needs a send callback and raw inbound bytes.
package session

import (
	"context"
	"sync"

	"github.com/voxbridge/broker/internal/asr"
	"github.com/voxbridge/broker/internal/bridge"
	"github.com/voxbridge/broker/internal/config"
	"github.com/voxbridge/broker/internal/merge"
	"github.com/voxbridge/broker/internal/queue"
)

// Session is one client connection's complete pipeline state.
type Session struct {
	id  string
	cfg config.Config

	collaborator asr.Collaborator

	sendMu sync.Mutex
	sendFn func(Event)

	audioMu   sync.Mutex
	pending   []float32
	history   []float32
	segment   []float32
	inSegment bool

	submitMu     sync.Mutex
	lastSubmitMs int64

	seqMu sync.Mutex
	seq   int64

	window     *merge.Window
	queue      *queue.Queue
	dispatcher *queue.Dispatcher
}

// New creates a Session. send is called for every outbound event; Session
// guarantees it is never called concurrently with itself (spec §4.1's
// single send-mutex).
func New(id string, cfg config.Config, collaborator asr.Collaborator, br *bridge.Bridge, send func(Event)) *Session {
	s := &Session{
		id:           id,
		cfg:          cfg,
		collaborator: collaborator,
		sendFn:       send,
	}

	s.window = merge.New(merge.Config{GapMs: cfg.FinalMergeGapMs, MaxMs: cfg.FinalMergeMaxMs}, s.onMergeCommit)
	s.queue = queue.NewQueue(cfg.BackendMaxPending)
	s.dispatcher = queue.NewDispatcher(queue.DispatcherConfig{
		SessionID:  id,
		ReqTimeout: cfg.BackendReqTimeout,
		Interrupt: queue.InterruptConfig{
			PreToken:      cfg.InterruptPreToken,
			PostTokenMode: cfg.InterruptPostTokenMode,
			MinChars:      cfg.InterruptMinChars,
		},
	}, s.queue, br, dispatcherSink{s})

	return s
}

// ID returns the session's opaque identifier.
func (s *Session) ID() string { return s.id }

// Run starts the session's dispatcher goroutine (spec §5: one dispatcher per
// session) and blocks until ctx ends (client disconnect or fatal error).
func (s *Session) Run(ctx context.Context) {
	s.dispatcher.Run(ctx)
}

// Connected emits the initial status event (spec §4.1).
func (s *Session) Connected(backendConnected bool) {
	ev := newEvent("status", s.id)
	ev["message"] = "connected"
	ev["backend_connected"] = backendConnected
	s.emit(ev)
}

// Pong responds to a client ping (spec §4.1).
func (s *Session) Pong() {
	s.emit(newEvent("pong", s.id))
}

func (s *Session) emit(ev Event) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	s.sendFn(ev)
}

func (s *Session) nextRequestSeq() int64 {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	s.seq++
	return s.seq
}
