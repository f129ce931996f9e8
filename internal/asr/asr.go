// Package asr models the external speech recognizer / voice-activity
// detector as an opaque collaborator: feed it mono 16kHz PCM, get back
// tagged utterance finals. The collaborator itself (the model) is out of
// scope; this package only defines the contract and a reference HTTP-backed
// implementation that talks to a whisper.cpp-style inference server.
package asr

import (
	"context"
	"time"
)

// ParsedUtterance is one finalized ASR output, produced once per detected
// speech segment.
type ParsedUtterance struct {
	RawText    string
	CleanText  string
	Language   string
	Emotion    string
	AudioEvent string
	ITN        string
	Timestamp  time.Time
}

// Collaborator is the external VAD+ASR contract. Implementations must be
// safe for concurrent use by multiple sessions.
type Collaborator interface {
	// DetectBoundary examines one audio chunk and reports a speech
	// boundary local to that chunk. beginMs >= 0 means speech started
	// within the chunk; endMs >= 0 means speech ended within the chunk.
	// A value of -1 means no such boundary was observed. Both may be -1
	// (silence continues, or speech continues) or both may be >= 0 only
	// in the degenerate case of a single chunk containing an entire
	// utterance shorter than the chunk window.
	DetectBoundary(chunk []float32) (beginMs, endMs int)

	// Transcribe finalizes a speech segment into a ParsedUtterance. The
	// segment is the accumulated pre-roll + in-progress audio handed to
	// it by the Segmenter; Transcribe does not retain it.
	Transcribe(ctx context.Context, segment []float32) (ParsedUtterance, error)
}

// ReadinessChecker is implemented by collaborators that can report whether
// the external model they front is currently reachable (spec §7: fatal
// startup check under STRICT_MODEL, warn-and-close at session start
// otherwise). Not part of Collaborator itself so fakes used in tests aren't
// forced to implement it.
type ReadinessChecker interface {
	Ready(ctx context.Context) error
}
