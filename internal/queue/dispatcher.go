package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/voxbridge/broker/internal/bridge"
	"github.com/voxbridge/broker/internal/classify"
	"github.com/voxbridge/broker/internal/metrics"
)

// EventSink is how the Dispatcher reports lifecycle transitions back to the
// Client Link (spec §4.1, §4.5). Implementations must be safe to call from
// the dispatcher's own goroutine; ordering across calls is the sink's
// responsibility (the session keeps a single send-mutex, per spec §4.1).
type EventSink interface {
	BackendState(stage, requestID string, extra map[string]any)
	BackendStream(requestID, delta string)
	BackendResult(requestID, reply string, interrupted bool)
	Warn(message, requestID string)
}

// InterruptConfig is the subset of configuration the interruption decision
// consults (spec §4.6).
type InterruptConfig struct {
	PreToken      bool
	PostTokenMode string // "always" | "off"/"none"/"never"/"0" | "conditional"
	MinChars      int
}

// DispatcherConfig bundles the Dispatcher's tunables.
type DispatcherConfig struct {
	SessionID      string
	ReqTimeout     time.Duration
	Interrupt      InterruptConfig
}

type inflightState struct {
	mu             sync.Mutex
	requestID      string
	originalText   string
	firstTokenSeen bool
	accumulated    strings.Builder
	cancel         context.CancelFunc
}

// Dispatcher is the single consumer of one session's Backend Queue (spec
// §4.5). It translates Bridge responses into Client Link events and
// implements interruption (spec §4.6).
type Dispatcher struct {
	cfg    DispatcherConfig
	queue  *Queue
	bridge *bridge.Bridge
	events EventSink

	mu       sync.Mutex
	inflight *inflightState
}

// NewDispatcher creates a Dispatcher bound to one session's queue and the
// process-wide Bridge.
func NewDispatcher(cfg DispatcherConfig, q *Queue, br *bridge.Bridge, events EventSink) *Dispatcher {
	return &Dispatcher{cfg: cfg, queue: q, bridge: br, events: events}
}

// Run drains the queue one request at a time until ctx ends (client
// disconnect, spec §5).
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		req, ok := d.queue.Get(ctx)
		if !ok {
			return
		}
		d.process(ctx, req)
	}
}

func (d *Dispatcher) process(parent context.Context, req BackendRequest) {
	reqCtx, cancel := context.WithTimeout(parent, d.cfg.ReqTimeout)
	defer cancel()

	inf := &inflightState{requestID: req.RequestID, originalText: req.Text, cancel: cancel}
	d.mu.Lock()
	d.inflight = inf
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		if d.inflight == inf {
			d.inflight = nil
		}
		d.mu.Unlock()
	}()

	d.events.BackendState("thinking", req.RequestID, nil)

	payload := map[string]any{
		"type":        "llm_request",
		"request_id":  req.RequestID,
		"session_id":  req.SessionID,
		"text":        req.Text,
		"emotion":     req.Emotion,
		"event":       req.AudioEvent,
		"final":       true,
		"ts_ms":       req.TsMs,
		"_merge_reason": req.MergeReason,
		"_merge_count":  req.MergeCount,
	}

	ch, release, err := d.bridge.RequestStream(reqCtx, payload)
	if err != nil {
		d.events.Warn(err.Error(), req.RequestID)
		d.events.BackendState("failed", req.RequestID, nil)
		return
	}
	defer release()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if done := d.handleMessage(inf, msg); done {
				return
			}
		case <-reqCtx.Done():
			d.handleDone(inf, parent.Err() != nil, reqCtx.Err())
			return
		}
	}
}

func (d *Dispatcher) handleMessage(inf *inflightState, msg bridge.Message) (terminal bool) {
	switch msg.Type {
	case "llm_stream":
		if msg.Delta != "" {
			inf.mu.Lock()
			first := !inf.firstTokenSeen
			inf.firstTokenSeen = true
			inf.accumulated.WriteString(msg.Delta)
			inf.mu.Unlock()
			if first {
				d.events.BackendState("streaming", inf.requestID, nil)
			}
			d.events.BackendStream(inf.requestID, msg.Delta)
		}
		return false
	case "llm_response":
		d.events.BackendResult(inf.requestID, msg.Reply, false)
		if msg.Final {
			d.events.BackendState("completed", inf.requestID, nil)
			return true
		}
		return false
	case "llm_error":
		d.events.Warn(msg.Error, inf.requestID)
		d.events.BackendState("failed", inf.requestID, nil)
		return true
	default:
		metrics.Errors.WithLabelValues("bridge", "unknown_message_type").Inc()
		return false
	}
}

func (d *Dispatcher) handleDone(inf *inflightState, sessionEnding bool, ctxErr error) {
	if ctxErr == context.DeadlineExceeded {
		d.events.Warn("backend request timed out", inf.requestID)
		d.events.BackendState("timeout", inf.requestID, nil)
		return
	}

	// context.Canceled: either an interruption (§4.6) or session teardown.
	inf.mu.Lock()
	firstTokenSeen := inf.firstTokenSeen
	partial := inf.accumulated.String()
	inf.mu.Unlock()

	if sessionEnding {
		return
	}

	if firstTokenSeen {
		d.events.BackendResult(inf.requestID, partial, true)
	}
	d.events.BackendState("interrupted", inf.requestID, nil)
}

// InterruptResult reports what TryInterrupt decided.
type InterruptResult struct {
	Interrupted bool
	Kind        string // "pre_token" | "post_token"
	StolenText  string // non-empty only for pre_token
}

// TryInterrupt applies the interruption decision (spec §4.6) against the
// currently inflight request, if any, for a newly admitted utterance of
// class cls with clean text cleanText. Must be called before the utterance
// is appended to the Merge Buffer.
func (d *Dispatcher) TryInterrupt(cls classify.Class, cleanText string) InterruptResult {
	d.mu.Lock()
	inf := d.inflight
	d.mu.Unlock()
	if inf == nil {
		return InterruptResult{}
	}

	inf.mu.Lock()
	firstTokenSeen := inf.firstTokenSeen
	originalText := inf.originalText
	inf.mu.Unlock()

	if cls == classify.Normal && !firstTokenSeen && d.cfg.Interrupt.PreToken {
		inf.cancel()
		d.events.BackendState("interrupting", inf.requestID, map[string]any{"reason": "pre_token"})
		d.events.Warn(fmt.Sprintf("llm interrupted: %s", "pre_token"), inf.requestID)
		metrics.Interruptions.WithLabelValues("pre_token").Inc()
		return InterruptResult{Interrupted: true, Kind: "pre_token", StolenText: originalText}
	}

	if firstTokenSeen && postTokenAllowed(d.cfg.Interrupt, cls, cleanText) {
		inf.cancel()
		d.events.BackendState("interrupting", inf.requestID, map[string]any{"reason": "post_token"})
		d.events.Warn(fmt.Sprintf("llm interrupted: %s", "post_token"), inf.requestID)
		metrics.Interruptions.WithLabelValues("post_token").Inc()
		return InterruptResult{Interrupted: true, Kind: "post_token"}
	}

	return InterruptResult{}
}

func postTokenAllowed(cfg InterruptConfig, cls classify.Class, cleanText string) bool {
	switch cfg.PostTokenMode {
	case "always":
		return cls != classify.DropFiller && cls != classify.KeepShort
	case "off", "none", "never", "0":
		return false
	default: // "conditional"
		trimmed := strings.TrimSpace(cleanText)
		if len([]rune(trimmed)) >= cfg.MinChars {
			return true
		}
		for _, marker := range []string{"?", "？", "吗", "呢"} {
			if strings.Contains(cleanText, marker) {
				return true
			}
		}
		return false
	}
}
