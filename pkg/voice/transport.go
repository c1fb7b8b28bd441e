// Package voice defines the interfaces and types for voice-call connectivity
// within Vocifer.
//
// The two primary abstractions are:
//
//   - [Transport] — dials a voice channel and returns a [Conn].
//   - [Conn] — represents one live call connection: per-speaker inbound
//     [AudioFrame] delivery, a single outbound playback [Sink], and the
//     signaling-state transitions the call pipeline's state machine reacts to.
//
// Implementations are provided by platform-specific adapter packages
// (e.g. voice/discord). The interfaces are intentionally narrow so the call
// pipeline stays decoupled from provider details.
//
// This package lives under pkg/ because external code (third-party platform
// adapters) is expected to implement [Transport] and [Conn].
package voice

import (
	"context"
	"io"
)

// ConnState classifies the signaling state of a [Conn].
type ConnState int

const (
	// StateConnecting means the transport is performing its initial handshake.
	StateConnecting ConnState = iota

	// StateReady means the connection is fully established and carrying audio.
	StateReady

	// StateSignalling means the transport is renegotiating — typically an
	// endpoint move or a transient network blip. May resolve back to Ready.
	StateSignalling

	// StateDisconnected means the transport has lost the connection. It may
	// still recover by re-entering Signalling or Connecting shortly after.
	StateDisconnected

	// StateDestroyed means the connection has been torn down for good.
	StateDestroyed
)

// String returns the human-readable name of the state.
func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateSignalling:
		return "signalling"
	case StateDisconnected:
		return "disconnected"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Sink is the single outbound audio channel of a [Conn]. It is owned
// exclusively by the playback queue; no other component writes to it.
//
// Implementations must be safe for concurrent use.
type Sink interface {
	// Play starts emitting the audio read from r, replacing any stream that is
	// currently playing. Returns an error if the sink cannot accept audio
	// (e.g. the connection is gone).
	Play(r io.Reader) error

	// Stop halts the current stream, if any. A halted stream still produces an
	// idle notification.
	Stop()

	// OnIdle registers cb to be invoked whenever the sink finishes or halts a
	// stream and becomes idle. Only one callback may be registered; subsequent
	// calls replace the previous one. cb is invoked on an internal goroutine
	// and must not block.
	OnIdle(cb func())
}

// Conn represents one live connection to a voice channel.
//
// A Conn is obtained from [Transport.Dial] and remains valid until
// [Conn.Destroy] is called. Implementations must be safe for concurrent use.
type Conn interface {
	// Target returns the channel currently joined. The value may change after
	// an endpoint move resolves (the platform moved the session elsewhere).
	Target() string

	// Options returns the join options as currently reported by the transport.
	Options() JoinOptions

	// WaitState blocks until the connection enters state s or ctx is done.
	// Returns ctx.Err() on timeout or cancellation.
	WaitState(ctx context.Context, s ConnState) error

	// OnState registers cb to be invoked on every state transition. Only one
	// callback may be registered; subsequent calls replace the previous one.
	// cb is invoked on an internal goroutine and must not block.
	OnState(cb func(ConnState))

	// Frames returns the channel delivering inbound per-speaker audio frames.
	// The channel is closed when the connection is destroyed.
	Frames() <-chan AudioFrame

	// Sink returns the single outbound playback sink for this connection.
	Sink() Sink

	// Rejoin asks the transport to re-establish the session with new options
	// (e.g. moving to another channel). Reports whether the request was
	// accepted; the outcome arrives as state transitions.
	Rejoin(opts JoinOptions) bool

	// Disconnect signals a graceful leave. The transport transitions to
	// Disconnected; resources are released by [Conn.Destroy].
	Disconnect()

	// Destroy tears the connection down for good and closes the frame channel.
	// Safe to call more than once.
	Destroy()
}

// Transport is the entry point for a voice-call provider. Dial starts a join
// attempt and returns a [Conn] that is typically still in [StateConnecting];
// callers use [Conn.WaitState] to await readiness.
//
// Implementations must be safe for concurrent use.
type Transport interface {
	Dial(ctx context.Context, opts JoinOptions) (Conn, error)
}
