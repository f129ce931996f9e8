package session

// Event is one JSON message emitted to the Client Link (spec §4.1, §6.1).
// A map keeps the representation flexible across the handful of event
// shapes (asr, filtered, backend_state, backend_stream, backend_result,
// warn, status, pong) without a type per shape; every event carries at
// least "event" and "session_id".
type Event map[string]any

func newEvent(name, sessionID string) Event {
	return Event{"event": name, "session_id": sessionID}
}

// dispatcherSink adapts Session to the queue.EventSink interface the
// Dispatcher reports lifecycle transitions through.
type dispatcherSink struct{ s *Session }

func (d dispatcherSink) BackendState(stage, requestID string, extra map[string]any) {
	ev := newEvent("backend_state", d.s.id)
	ev["stage"] = stage
	if requestID != "" {
		ev["request_id"] = requestID
	}
	for k, v := range extra {
		ev[k] = v
	}
	d.s.emit(ev)
}

func (d dispatcherSink) BackendStream(requestID, delta string) {
	ev := newEvent("backend_stream", d.s.id)
	ev["request_id"] = requestID
	ev["delta"] = delta
	ev["final"] = false
	d.s.emit(ev)
}

func (d dispatcherSink) BackendResult(requestID, reply string, interrupted bool) {
	ev := newEvent("backend_result", d.s.id)
	ev["request_id"] = requestID
	ev["reply"] = reply
	ev["final"] = true
	if interrupted {
		ev["interrupted"] = true
	}
	d.s.emit(ev)
}

func (d dispatcherSink) Warn(message, requestID string) {
	ev := newEvent("warn", d.s.id)
	ev["message"] = message
	if requestID != "" {
		ev["request_id"] = requestID
	}
	d.s.emit(ev)
}
