// Package segment turns per-speaker streams of inbound audio frames into
// discrete speech segments.
//
// A [Segmenter] buffers raw frames per speaker until enough contiguous audio
// has arrived to count as speech, promotes the buffer to an open [Segment],
// and closes the segment after a configurable silence gap. Segments are
// emitted at promotion time — before the utterance ends — so downstream
// recognition can start on partial audio.
package segment

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Hooks are the per-segment lifecycle callbacks. All fields are optional and
// must be registered (via [Segment.SetHooks]) before the segment is handed to
// a recognizer. Callbacks are invoked on pipeline goroutines and must not
// block.
type Hooks struct {
	// OnStart fires once when a recognizer session begins capturing this
	// segment.
	OnStart func()

	// OnResult fires for every transcript chunk, interim and final.
	OnResult func(text string, final bool)

	// OnEnd fires once when recognition finished and the full transcript is
	// available via [Segment.Transcript]. Mutually exclusive with OnAbort.
	OnEnd func()

	// OnAbort fires once if the segment was aborted before completing.
	OnAbort func()
}

// Segment is one continuous utterance attempt by one speaker: an append-only
// audio stream plus the transcript accumulated by recognition.
//
// Lifecycle: created by the [Segmenter] once the speaker is confirmed to be
// speaking; frames append to the stream as they arrive; the stream closes
// after the configured silence gap. The segment itself ends when recognition
// delivers its outcome — [Segment.End] on success, [Segment.Abort] otherwise.
// Once ended or aborted the transcript never mutates again.
//
// Segment is safe for concurrent use.
type Segment struct {
	// ID uniquely identifies this segment.
	ID string

	// Speaker is the identity of the participant who produced the audio.
	Speaker string

	stream *Stream

	mu          sync.Mutex
	hooks       Hooks
	results     []string
	transcript  string
	destination string
	started     bool
	done        bool
	aborted     bool
	abortCh     chan struct{}
}

// New creates an open segment for speaker. The destination defaults to the
// speaker's own channel identity; owners may redirect results with
// [Segment.SetDestination].
func New(speaker string) *Segment {
	return &Segment{
		ID:          uuid.NewString(),
		Speaker:     speaker,
		stream:      NewStream(),
		destination: speaker,
		abortCh:     make(chan struct{}),
	}
}

// Stream returns the segment's audio byte stream.
func (s *Segment) Stream() *Stream { return s.stream }

// SetHooks registers the lifecycle callbacks. Must be called before the
// segment is handed to a recognizer; later calls replace the registration.
func (s *Segment) SetHooks(h Hooks) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = h
}

// SetDestination redirects where results for this segment should be
// delivered.
func (s *Segment) SetDestination(dest string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destination = dest
}

// Destination returns where results for this segment should be delivered.
func (s *Segment) Destination() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destination
}

// Append writes audio bytes to the stream. Bytes arriving after an abort are
// dropped.
func (s *Segment) Append(p []byte) {
	s.mu.Lock()
	aborted := s.aborted
	s.mu.Unlock()
	if aborted {
		return
	}
	s.stream.Write(p)
}

// Start marks the beginning of recognition capture and fires OnStart once.
func (s *Segment) Start() {
	s.mu.Lock()
	if s.started || s.done || s.aborted {
		s.mu.Unlock()
		return
	}
	s.started = true
	cb := s.hooks.OnStart
	s.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// Result delivers a transcript chunk. Final chunks are appended to the
// finalized-transcript list; interim chunks are forwarded only. Results
// arriving after End or Abort are dropped.
func (s *Segment) Result(text string, final bool) {
	s.mu.Lock()
	if s.done || s.aborted {
		s.mu.Unlock()
		return
	}
	if final {
		s.results = append(s.results, text)
	}
	cb := s.hooks.OnResult
	s.mu.Unlock()
	if cb != nil {
		cb(text, final)
	}
}

// End marks recognition as successfully finished: the full transcript is
// computed from the finalized chunks and OnEnd fires once. End is a no-op on
// an aborted or already-ended segment.
func (s *Segment) End() {
	s.mu.Lock()
	if s.done || s.aborted {
		s.mu.Unlock()
		return
	}
	s.done = true
	s.transcript = strings.Join(s.results, "\n")
	cb := s.hooks.OnEnd
	s.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// Abort marks the segment as unsuccessful. Idempotent and irreversible: no
// further bytes append, no further results record, and OnAbort fires exactly
// once. The audio stream still closes on its own timing.
func (s *Segment) Abort() {
	s.mu.Lock()
	if s.done || s.aborted {
		s.mu.Unlock()
		return
	}
	s.aborted = true
	close(s.abortCh)
	cb := s.hooks.OnAbort
	s.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// AbortSignal returns a channel closed when the segment is aborted.
func (s *Segment) AbortSignal() <-chan struct{} { return s.abortCh }

// Aborted reports whether the segment was aborted.
func (s *Segment) Aborted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aborted
}

// Ended reports whether recognition finished successfully.
func (s *Segment) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Results returns a copy of the finalized transcript chunks accumulated so
// far.
func (s *Segment) Results() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.results))
	copy(out, s.results)
	return out
}

// Transcript returns the joined finalized transcript. Empty until
// [Segment.End].
func (s *Segment) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript
}
