// Package merge implements the debounced Merge Buffer (spec §4.4): it
// coalesces admissible utterances that arrive close together in time into a
// single composite BackendRequest, guarding the commit timer against races
// with a monotone version counter (spec §9) rather than timer
// cancel/wait symmetry.
package merge

import (
	"strings"
	"sync"
	"time"
)

// CommitReason names why a MergeWindow committed.
type CommitReason string

const (
	// ReasonGap: no new utterance arrived within FINAL_MERGE_GAP_MS.
	ReasonGap CommitReason = "gap"
	// ReasonMaxWindow: the window's total span reached FINAL_MERGE_MAX_MS.
	ReasonMaxWindow CommitReason = "max_window"
	// ReasonFlush: a client `flush` control message forced the commit.
	ReasonFlush CommitReason = "flush"
)

// Commit is the composite request produced when a MergeWindow closes.
type Commit struct {
	Text       string
	Reason     CommitReason
	StartedMs  int64
	LastMs     int64
	Count      int
	Emotion    string
	AudioEvent string
}

// Config carries the two timing parameters the window needs.
type Config struct {
	GapMs int
	MaxMs int
}

// Window is a single session's in-progress merge aggregation. At most one
// exists per session (spec data model). Safe for concurrent use: Append and
// the internal timer callback both go through the same mutex, and OnCommit
// may be invoked from the timer's own goroutine — callers must treat it as
// concurrent with their own event loop (e.g. hand the Commit off through a
// channel).
type Window struct {
	mu sync.Mutex

	cfg Config

	texts      []string
	startedMs  int64
	lastMs     int64
	emotion    string
	audioEvent string
	version    int
	timer      *time.Timer

	OnCommit func(Commit)
}

// New creates an empty MergeWindow.
func New(cfg Config, onCommit func(Commit)) *Window {
	return &Window{cfg: cfg, OnCommit: onCommit}
}

// Empty reports whether the window holds no pending text (invariant I4).
func (w *Window) Empty() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.texts) == 0 && w.startedMs == 0 && w.lastMs == 0
}

// Append adds one admitted utterance's clean text to the window at nowMs,
// (re)arming the debounce timer or committing immediately if the window has
// reached its maximum span (spec §4.4 steps 2-4).
func (w *Window) Append(nowMs int64, text, emotion, audioEvent string) {
	w.mu.Lock()

	// startedMs is still 0 when the only text so far came from StealBack.
	if len(w.texts) == 0 || w.startedMs == 0 {
		w.startedMs = nowMs
	}
	w.lastMs = nowMs
	w.emotion = emotion
	w.audioEvent = audioEvent
	w.texts = append(w.texts, text)

	if nowMs-w.startedMs >= int64(w.cfg.MaxMs) {
		commit := w.snapshotAndResetLocked(ReasonMaxWindow)
		w.mu.Unlock()
		w.emit(commit)
		return
	}

	w.armLocked(nowMs)
	w.mu.Unlock()
}

// StealBack inserts text at the front of the merge window (spec §4.6), used
// when a pre-token interrupt reclaims the cancelled inflight request's
// original text. It does not touch timing fields; the caller always follows
// a steal-back with an Append for the utterance that triggered it.
func (w *Window) StealBack(text string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.texts = append([]string{text}, w.texts...)
}

// Flush force-commits the window regardless of gap/max thresholds (spec
// §4.2, §4.4). A no-op if the window is already empty.
func (w *Window) Flush() {
	w.mu.Lock()
	if len(w.texts) == 0 {
		w.mu.Unlock()
		return
	}
	commit := w.snapshotAndResetLocked(ReasonFlush)
	w.mu.Unlock()
	w.emit(commit)
}

// armLocked (re)schedules the debounce timer. Must be called with mu held.
func (w *Window) armLocked(nowMs int64) {
	w.version++
	version := w.version

	gapDeadline := w.lastMs + int64(w.cfg.GapMs)
	maxDeadline := w.startedMs + int64(w.cfg.MaxMs)
	deadlineMs := gapDeadline
	if maxDeadline < deadlineMs {
		deadlineMs = maxDeadline
	}

	delay := time.Duration(deadlineMs-nowMs) * time.Millisecond
	if delay < 0 {
		delay = 0
	}

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(delay, func() { w.fire(version) })
}

// fire runs on the timer's own goroutine. It only commits if no later
// Append/Flush has moved the version past the snapshot it was armed with.
func (w *Window) fire(version int) {
	w.mu.Lock()
	if version != w.version || len(w.texts) == 0 {
		w.mu.Unlock()
		return
	}
	commit := w.snapshotAndResetLocked(ReasonGap)
	w.mu.Unlock()
	w.emit(commit)
}

// snapshotAndResetLocked builds the Commit and clears the window state
// (invariant I4). Must be called with mu held.
func (w *Window) snapshotAndResetLocked(reason CommitReason) Commit {
	commit := Commit{
		Text:       strings.TrimSpace(strings.Join(w.texts, " ")),
		Reason:     reason,
		StartedMs:  w.startedMs,
		LastMs:     w.lastMs,
		Count:      len(w.texts),
		Emotion:    w.emotion,
		AudioEvent: w.audioEvent,
	}
	w.texts = nil
	w.startedMs = 0
	w.lastMs = 0
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.version++
	return commit
}

// Restore re-seeds the window with a single already-merged text after a
// failed commit attempt (queue full, spec §4.4), re-arming the timer as if
// it were a fresh utterance arriving at nowMs.
func (w *Window) Restore(nowMs int64, text, emotion, audioEvent string) {
	w.mu.Lock()
	w.texts = []string{text}
	w.startedMs = nowMs
	w.lastMs = nowMs
	w.emotion = emotion
	w.audioEvent = audioEvent
	w.armLocked(nowMs)
	w.mu.Unlock()
}

func (w *Window) emit(commit Commit) {
	if w.OnCommit != nil {
		w.OnCommit(commit)
	}
}
