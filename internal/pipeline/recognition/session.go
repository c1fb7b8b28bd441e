// Package recognition turns finished speech segments into text. A pool of
// workers distributes transcription requests across recognition sessions;
// each worker processes its requests strictly in order on a single session.
package recognition

import (
	"context"
	"time"
)

// DefaultLocale is the recognition language used when a request names none.
const DefaultLocale = "en-US"

// DefaultReadyTimeout bounds how long a session's setup handshake may take.
const DefaultReadyTimeout = 5 * time.Second

// SessionHooks are the event callbacks of a [Session]. All fields are
// optional. Callbacks run on internal goroutines and must not block.
type SessionHooks struct {
	// OnStart fires when the engine has actually begun recognizing.
	OnStart func()

	// OnStop fires when recognition for the current request has fully ended.
	OnStop func()

	// OnResult delivers a transcript. final marks it as a confirmed portion;
	// non-final results are interim and may be revised.
	OnResult func(text string, final bool)

	// OnError receives session-level failures.
	OnError func(err error)
}

// Session is one recognition engine endpoint. Exactly one transcription is
// active at a time; the owning worker serializes requests onto it.
//
// Implementations must be safe for concurrent use. Feed, Finalize, and Stop
// outside an active transcription are no-ops.
type Session interface {
	// Active reports whether the engine endpoint is connected and usable.
	Active() bool

	// Setup establishes the endpoint and waits for its ready handshake.
	Setup(ctx context.Context) error

	// SetHooks registers the event callbacks. Must be called before Setup.
	SetHooks(h SessionHooks)

	// Start begins a transcription in the given locale. interim requests
	// delivery of provisional results in addition to final ones.
	Start(locale string, interim bool) error

	// Feed pushes mono 48kHz PCM samples into the active transcription.
	Feed(pcm []float32) error

	// Finalize signals that no more audio is coming. The engine drains pending
	// audio, emits remaining results, and then fires OnStop.
	Finalize() error

	// Stop aborts the active transcription immediately, discarding pending
	// audio. OnStop fires once the engine has halted.
	Stop() error

	// Close tears the endpoint down for good.
	Close() error
}
