// Package call manages the lifecycle of one voice-call connection: joining,
// surviving transport reconnects, automatic rejoin after an unexpected drop,
// and serialized audio playback through the connection's sink.
package call

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vocifer/vocifer/pkg/voice"
)

// Default lifecycle timeouts. The initial handshake must reach ready within
// [DefaultConnectTimeout]; a transport-driven reconnect gets
// [DefaultReconnectTimeout]; a sudden drop gets [DefaultDisconnectWait] to
// re-enter the handshake before it counts as a real disconnect; and after a
// real disconnect a fresh join is attempted [DefaultRejoinWait] later.
const (
	DefaultConnectTimeout   = 5 * time.Second
	DefaultReconnectTimeout = 30 * time.Second
	DefaultDisconnectWait   = 5 * time.Second
	DefaultRejoinWait       = 10 * time.Second
)

// Status classifies the lifecycle state of a [Connection].
type Status int

const (
	// StatusDisconnected means no call is active.
	StatusDisconnected Status = iota

	// StatusConnecting means a join is in flight.
	StatusConnecting

	// StatusConnected means the call is live and carrying audio.
	StatusConnected

	// StatusReconnecting means the transport dropped and recovery is being
	// attempted.
	StatusReconnecting
)

// String returns the human-readable name of the status.
func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Hooks are the lifecycle notifications of a [Connection]. All fields are
// optional. Callbacks run on internal goroutines and must not block.
type Hooks struct {
	// OnJoin fires after a join completes, and again when a reconnecting call
	// resolves back to connected. rejoin is true in both automatic cases: a
	// re-attempt after a drop and a recovered reconnect.
	OnJoin func(conn voice.Conn, rejoin bool)

	// OnLeave fires after the call ends. willRejoin is true when an automatic
	// rejoin has been scheduled.
	OnLeave func(willRejoin bool)

	// OnError receives recovered errors (failed rejoins, playback failures).
	OnError func(error)
}

// Config holds tuning knobs for a [Connection]. Zero-value fields are replaced
// with the package defaults.
type Config struct {
	ConnectTimeout   time.Duration
	ReconnectTimeout time.Duration
	DisconnectWait   time.Duration
	RejoinWait       time.Duration
	PlayTimeout      time.Duration
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.ReconnectTimeout <= 0 {
		c.ReconnectTimeout = DefaultReconnectTimeout
	}
	if c.DisconnectWait <= 0 {
		c.DisconnectWait = DefaultDisconnectWait
	}
	if c.RejoinWait <= 0 {
		c.RejoinWait = DefaultRejoinWait
	}
	if c.PlayTimeout <= 0 {
		c.PlayTimeout = DefaultPlayTimeout
	}
	return c
}

// Connection drives one voice call from join to leave.
//
// The lifecycle is a four-state machine (disconnected, connecting, connected,
// reconnecting). Transport state transitions feed it: a renegotiation while
// connected enters reconnecting and is given the reconnect timeout to reach
// ready again; a sudden drop is given a short grace period to re-enter the
// handshake (the transport does this when the session merely moved) before
// the call is torn down and an automatic rejoin is scheduled.
//
// Connection is safe for concurrent use.
type Connection struct {
	transport voice.Transport
	hooks     Hooks
	cfg       Config

	mu          sync.Mutex
	status      Status
	conn        voice.Conn
	queue       *Queue
	opts        voice.JoinOptions
	gen         int
	rejoinTimer *time.Timer
	closed      bool
}

// New creates a Connection that dials through transport.
func New(transport voice.Transport, cfg Config, hooks Hooks) *Connection {
	return &Connection{
		transport: transport,
		hooks:     hooks,
		cfg:       cfg.withDefaults(),
	}
}

// Status returns the current lifecycle state.
func (c *Connection) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Conn returns the live transport connection, or nil when disconnected.
func (c *Connection) Conn() voice.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// Target returns the channel of the live call, or "" when disconnected.
func (c *Connection) Target() string {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ""
	}
	return conn.Target()
}

// Join dials the channel in opts and waits for the call to become ready,
// bounded by the connect timeout. Fails when a call is already active.
func (c *Connection) Join(ctx context.Context, opts voice.JoinOptions) error {
	return c.join(ctx, opts, false)
}

func (c *Connection) join(ctx context.Context, opts voice.JoinOptions, rejoin bool) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("call: connection closed")
	}
	if c.status != StatusDisconnected {
		status := c.status
		c.mu.Unlock()
		return fmt.Errorf("call: cannot join while %s", status)
	}
	c.status = StatusConnecting
	c.opts = opts
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	conn, err := c.transport.Dial(ctx, opts)
	if err != nil {
		c.setDisconnected(gen)
		return fmt.Errorf("call: dial: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()
	if err := conn.WaitState(waitCtx, voice.StateReady); err != nil {
		conn.Destroy()
		c.setDisconnected(gen)
		return fmt.Errorf("call: not ready within %s: %w", c.cfg.ConnectTimeout, err)
	}

	queue := NewQueue(conn.Sink(), c.reportErr)
	queue.playTimeout = c.cfg.PlayTimeout

	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		queue.Close()
		conn.Destroy()
		return fmt.Errorf("call: connection closed during join")
	}
	c.conn = conn
	c.queue = queue
	c.status = StatusConnected
	c.mu.Unlock()

	conn.OnState(func(s voice.ConnState) { c.handleState(gen, conn, s) })

	slog.Info("joined voice channel", "channel", conn.Target(), "rejoin", rejoin)
	if c.hooks.OnJoin != nil {
		c.hooks.OnJoin(conn, rejoin)
	}
	return nil
}

// Move asks the transport to shift the live call to the channel in opts.
// Reports whether the request was accepted.
func (c *Connection) Move(opts voice.JoinOptions) bool {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil || !conn.Rejoin(opts) {
		return false
	}
	c.mu.Lock()
	c.opts = opts
	c.mu.Unlock()
	return true
}

// Leave ends the call deliberately. No rejoin is scheduled.
func (c *Connection) Leave() {
	c.teardown(false)
}

// Close ends the call and permanently rejects further joins.
func (c *Connection) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.teardown(true)
}

// Play enqueues item for playback on the live call. Returns false when no
// call is connected.
func (c *Connection) Play(item *Item) bool {
	c.mu.Lock()
	queue := c.queue
	connected := c.status == StatusConnected
	c.mu.Unlock()
	if !connected || queue == nil {
		return false
	}
	return queue.Enqueue(item)
}

// Next skips the currently playing item. Reports whether something was
// playing.
func (c *Connection) Next() bool {
	c.mu.Lock()
	queue := c.queue
	c.mu.Unlock()
	if queue == nil {
		return false
	}
	return queue.Next()
}

// Stop halts playback and clears the whole queue. Reports whether a queue
// was active.
func (c *Connection) Stop() bool {
	c.mu.Lock()
	queue := c.queue
	c.mu.Unlock()
	if queue == nil {
		return false
	}
	return queue.Stop()
}

// Len returns the number of items in the playback queue, or 0 when
// disconnected.
func (c *Connection) Len() int {
	c.mu.Lock()
	queue := c.queue
	c.mu.Unlock()
	if queue == nil {
		return 0
	}
	return queue.Len()
}

// handleState reacts to transport state transitions. Transitions from an
// older connection generation are stale and dropped.
func (c *Connection) handleState(gen int, conn voice.Conn, s voice.ConnState) {
	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	switch s {
	case voice.StateReady:
		// Recovery back to connected is resolved by awaitRecovery, which owns
		// the status flip and the join notification.
		c.mu.Unlock()
	case voice.StateConnecting, voice.StateSignalling:
		if c.status != StatusConnected {
			c.mu.Unlock()
			return
		}
		// The transport is renegotiating underneath a live call.
		c.status = StatusReconnecting
		c.mu.Unlock()
		slog.Warn("voice connection renegotiating", "channel", conn.Target())
		go c.awaitRecovery(gen, conn, conn.Target())
	case voice.StateDisconnected:
		if c.status != StatusConnected && c.status != StatusReconnecting {
			c.mu.Unlock()
			return
		}
		c.status = StatusReconnecting
		queue := c.queue
		c.mu.Unlock()
		if queue != nil {
			queue.Stop()
		}
		go c.handleDrop(gen, conn)
	case voice.StateDestroyed:
		c.mu.Unlock()
		c.reset(gen, true)
	default:
		c.mu.Unlock()
	}
}

// handleDrop gives a dropped transport a short grace period to re-enter the
// handshake. Transports re-signal within moments when the session merely
// moved or changed endpoint; anything slower is a real disconnect.
func (c *Connection) handleDrop(gen int, conn voice.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DisconnectWait)
	defer cancel()

	recovering := make(chan struct{}, 3)
	for _, s := range []voice.ConnState{voice.StateSignalling, voice.StateConnecting, voice.StateReady} {
		go func(s voice.ConnState) {
			if conn.WaitState(ctx, s) == nil {
				recovering <- struct{}{}
			}
		}(s)
	}

	select {
	case <-recovering:
		c.awaitRecovery(gen, conn, "")
	case <-ctx.Done():
		slog.Warn("voice connection lost", "channel", conn.Target())
		c.reset(gen, true)
	}
}

// awaitRecovery waits for a reconnecting transport to reach ready again,
// bounded by the reconnect timeout, then flips the status back to connected
// and emits the join notification with the rejoin flag. priorTarget, when
// non-empty, is the channel before renegotiation began; resolving onto a
// different channel clears the playback queue so queued audio does not follow
// the call there.
func (c *Connection) awaitRecovery(gen int, conn voice.Conn, priorTarget string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ReconnectTimeout)
	defer cancel()
	if err := conn.WaitState(ctx, voice.StateReady); err != nil {
		slog.Warn("voice connection did not recover", "err", err)
		c.reset(gen, true)
		return
	}

	c.mu.Lock()
	if c.closed || gen != c.gen || c.status != StatusReconnecting {
		c.mu.Unlock()
		return
	}
	c.status = StatusConnected
	queue := c.queue
	moved := priorTarget != "" && conn.Target() != priorTarget
	if moved {
		c.opts.ChannelID = conn.Target()
	}
	c.mu.Unlock()

	if moved {
		slog.Info("voice call moved", "from", priorTarget, "to", conn.Target())
		if queue != nil {
			queue.Stop()
		}
	}
	slog.Info("voice connection recovered", "channel", conn.Target())
	if c.hooks.OnJoin != nil {
		c.hooks.OnJoin(conn, true)
	}
}

// reset tears down the current call after an unexpected drop and, when
// willRejoin is set, schedules a fresh join attempt.
func (c *Connection) reset(gen int, willRejoin bool) {
	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.gen++
	conn := c.conn
	queue := c.queue
	opts := c.opts
	c.conn = nil
	c.queue = nil
	c.status = StatusDisconnected
	if willRejoin {
		gen := c.gen
		c.rejoinTimer = time.AfterFunc(c.cfg.RejoinWait, func() { c.rejoin(gen, opts) })
	}
	c.mu.Unlock()

	if queue != nil {
		queue.Close()
	}
	if conn != nil {
		conn.Destroy()
	}
	if c.hooks.OnLeave != nil {
		c.hooks.OnLeave(willRejoin)
	}
}

// teardown ends the call deliberately, cancelling any pending rejoin.
func (c *Connection) teardown(closing bool) {
	c.mu.Lock()
	c.gen++
	if c.rejoinTimer != nil {
		c.rejoinTimer.Stop()
		c.rejoinTimer = nil
	}
	conn := c.conn
	queue := c.queue
	wasActive := c.status != StatusDisconnected
	c.conn = nil
	c.queue = nil
	c.status = StatusDisconnected
	c.mu.Unlock()

	if queue != nil {
		queue.Close()
	}
	if conn != nil {
		conn.Disconnect()
		conn.Destroy()
	}
	if wasActive && c.hooks.OnLeave != nil {
		c.hooks.OnLeave(false)
	}
	if closing {
		slog.Debug("call connection closed")
	}
}

// rejoin is the deferred re-attempt after an unexpected drop. A deliberate
// leave in the meantime bumps the generation and voids it.
func (c *Connection) rejoin(gen int, opts voice.JoinOptions) {
	c.mu.Lock()
	stale := c.closed || gen != c.gen
	c.mu.Unlock()
	if stale {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
	defer cancel()
	if err := c.join(ctx, opts, true); err != nil {
		c.reportErr(fmt.Errorf("call: rejoin %q: %w", opts.ChannelID, err))
	}
}

func (c *Connection) setDisconnected(gen int) {
	c.mu.Lock()
	if gen == c.gen {
		c.status = StatusDisconnected
	}
	c.mu.Unlock()
}

func (c *Connection) reportErr(err error) {
	if err == nil {
		return
	}
	slog.Error("call error", "err", err)
	if c.hooks.OnError != nil {
		c.hooks.OnError(err)
	}
}
