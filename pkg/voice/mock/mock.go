// Package mock provides in-memory [voice.Transport], [voice.Conn], and
// [voice.Sink] implementations for tests. The mock transport never touches the
// network; tests drive state transitions and inbound frames directly.
package mock

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/vocifer/vocifer/pkg/voice"
)

// Compile-time interface assertions.
var (
	_ voice.Transport = (*Transport)(nil)
	_ voice.Conn      = (*Conn)(nil)
	_ voice.Sink      = (*Sink)(nil)
)

// Transport is a mock [voice.Transport]. Each Dial call returns a fresh
// [Conn] in the state configured by DialState (default [voice.StateReady],
// so tests that don't care about the connecting phase succeed immediately).
type Transport struct {
	mu sync.Mutex

	// DialErr, when non-nil, is returned by Dial instead of a connection.
	DialErr error

	// DialState is the initial state of dialed connections.
	// The zero value ([voice.StateConnecting]) means tests must call
	// [Conn.SetState] themselves to make the connection ready.
	DialState voice.ConnState

	conns []*Conn
}

// Dial returns a new mock connection for opts.
func (t *Transport) Dial(_ context.Context, opts voice.JoinOptions) (voice.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.DialErr != nil {
		return nil, t.DialErr
	}
	c := NewConn(opts)
	c.SetState(t.DialState)
	t.conns = append(t.conns, c)
	return c, nil
}

// Conns returns all connections handed out so far, in dial order.
func (t *Transport) Conns() []*Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Conn, len(t.conns))
	copy(out, t.conns)
	return out
}

// Conn is a mock [voice.Conn]. Tests drive it with [Conn.SetState],
// [Conn.SetTarget], and [Conn.Deliver].
type Conn struct {
	mu        sync.Mutex
	state     voice.ConnState
	opts      voice.JoinOptions
	stateCb   func(voice.ConnState)
	waiters   map[voice.ConnState][]chan struct{}
	frames    chan voice.AudioFrame
	sink      *Sink
	destroyed bool

	// RejoinResult is returned by Rejoin. Defaults to true.
	RejoinResult bool

	// Disconnects counts Disconnect calls.
	Disconnects int
}

// NewConn creates a mock connection in [voice.StateConnecting].
func NewConn(opts voice.JoinOptions) *Conn {
	return &Conn{
		opts:         opts,
		frames:       make(chan voice.AudioFrame, 64),
		sink:         &Sink{},
		waiters:      make(map[voice.ConnState][]chan struct{}),
		RejoinResult: true,
	}
}

// SetState transitions the connection to s, notifying the state callback and
// releasing any WaitState callers waiting for s.
func (c *Conn) SetState(s voice.ConnState) {
	c.mu.Lock()
	c.state = s
	cb := c.stateCb
	waiting := c.waiters[s]
	delete(c.waiters, s)
	c.mu.Unlock()

	for _, ch := range waiting {
		close(ch)
	}
	if cb != nil {
		cb(s)
	}
}

// SetTarget changes the reported channel, simulating an endpoint move.
func (c *Conn) SetTarget(channelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opts.ChannelID = channelID
}

// Deliver pushes an inbound frame to the Frames channel.
func (c *Conn) Deliver(f voice.AudioFrame) {
	c.mu.Lock()
	destroyed := c.destroyed
	c.mu.Unlock()
	if destroyed {
		return
	}
	select {
	case c.frames <- f:
	default:
	}
}

// Target returns the currently joined channel.
func (c *Conn) Target() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts.ChannelID
}

// Options returns the current join options.
func (c *Conn) Options() voice.JoinOptions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts
}

// WaitState blocks until the connection enters s or ctx is done.
func (c *Conn) WaitState(ctx context.Context, s voice.ConnState) error {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	c.waiters[s] = append(c.waiters[s], ch)
	c.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnState registers the state-transition callback.
func (c *Conn) OnState(cb func(voice.ConnState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateCb = cb
}

// Frames returns the inbound frame channel.
func (c *Conn) Frames() <-chan voice.AudioFrame { return c.frames }

// Sink returns the mock playback sink.
func (c *Conn) Sink() voice.Sink { return c.sink }

// MockSink returns the sink with its concrete type for test assertions.
func (c *Conn) MockSink() *Sink { return c.sink }

// Rejoin records the new options and returns RejoinResult.
func (c *Conn) Rejoin(opts voice.JoinOptions) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.RejoinResult {
		return false
	}
	c.opts = opts
	return true
}

// DisconnectCount returns the number of Disconnect calls so far.
func (c *Conn) DisconnectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Disconnects
}

// Disconnect counts the call and transitions to [voice.StateDisconnected].
func (c *Conn) Disconnect() {
	c.mu.Lock()
	c.Disconnects++
	c.mu.Unlock()
	c.SetState(voice.StateDisconnected)
}

// Destroy closes the frame channel. Safe to call more than once.
func (c *Conn) Destroy() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	close(c.frames)
	c.mu.Unlock()
	c.SetState(voice.StateDestroyed)
}

// Sink is a mock [voice.Sink]. Playback does not consume the reader; tests
// call [Sink.FinishCurrent] to simulate the end of playback.
type Sink struct {
	mu      sync.Mutex
	idleCb  func()
	current io.Reader

	// PlayErr, when non-nil, is returned by Play.
	PlayErr error

	// Played records every reader handed to Play, in order.
	Played []io.Reader

	// Stops counts Stop calls.
	Stops int
}

// Play records r as the current stream.
func (s *Sink) Play(r io.Reader) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PlayErr != nil {
		return s.PlayErr
	}
	if r == nil {
		return errors.New("mock: nil resource")
	}
	s.current = r
	s.Played = append(s.Played, r)
	return nil
}

// Stop halts the current stream and fires the idle callback.
func (s *Sink) Stop() {
	s.mu.Lock()
	s.Stops++
	playing := s.current != nil
	s.current = nil
	cb := s.idleCb
	s.mu.Unlock()
	if playing && cb != nil {
		cb()
	}
}

// OnIdle registers the idle callback.
func (s *Sink) OnIdle(cb func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idleCb = cb
}

// PlayedReaders returns a copy of every reader handed to Play so far.
func (s *Sink) PlayedReaders() []io.Reader {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]io.Reader, len(s.Played))
	copy(out, s.Played)
	return out
}

// PlayedCount returns the number of Play calls so far.
func (s *Sink) PlayedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Played)
}

// StopCount returns the number of Stop calls so far.
func (s *Sink) StopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Stops
}

// FinishCurrent simulates natural completion of the current stream.
// Reports whether a stream was actually playing.
func (s *Sink) FinishCurrent() bool {
	s.mu.Lock()
	playing := s.current != nil
	s.current = nil
	cb := s.idleCb
	s.mu.Unlock()
	if playing && cb != nil {
		cb()
	}
	return playing
}
