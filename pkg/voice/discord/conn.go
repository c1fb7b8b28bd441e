package discord

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/vocifer/vocifer/pkg/voice"
)

// Compile-time interface assertion.
var _ voice.Conn = (*Conn)(nil)

const frameChannelBuffer = 64

// Conn wraps a discordgo.VoiceConnection and adapts it to the [voice.Conn]
// interface. Incoming Opus packets are attributed to speakers via the voice
// connection's speaking updates and delivered on a single frame channel;
// outgoing playback goes through the connection's [Sink].
//
// Conn is safe for concurrent use.
type Conn struct {
	vc      *discordgo.VoiceConnection
	session *discordgo.Session
	guildID string

	frames chan voice.AudioFrame
	sink   *Sink

	mu       sync.Mutex
	opts     voice.JoinOptions
	target   string
	state    voice.ConnState
	changed  chan struct{}
	stateCb  func(voice.ConnState)
	speakers map[uint32]string

	done        chan struct{}
	destroyOnce sync.Once

	removeHandler func() // removes the VoiceStateUpdate handler

	// disconnectVC tears down the underlying voice connection. Defaults to
	// vc.Disconnect; overridden in tests.
	disconnectVC func() error
}

// newConn initialises a Conn for an already-joined voice channel and starts
// the receive loop.
func newConn(vc *discordgo.VoiceConnection, session *discordgo.Session, guildID string, opts voice.JoinOptions) *Conn {
	c := &Conn{
		vc:           vc,
		session:      session,
		guildID:      guildID,
		frames:       make(chan voice.AudioFrame, frameChannelBuffer),
		opts:         opts,
		target:       opts.ChannelID,
		state:        voice.StateReady,
		changed:      make(chan struct{}),
		speakers:     make(map[uint32]string),
		done:         make(chan struct{}),
		disconnectVC: vc.Disconnect,
	}
	c.sink = newSink(vc.OpusSend, c.setSpeaking, c.done)

	// Speaking updates carry the SSRC to user mapping for inbound packets.
	vc.AddHandler(c.handleSpeakingUpdate)

	// The bot's own VoiceStateUpdate events signal drops and channel moves.
	c.removeHandler = session.AddHandler(c.handleVoiceStateUpdate)

	go c.recvLoop()
	return c
}

// Target implements [voice.Conn].
func (c *Conn) Target() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

// Options implements [voice.Conn].
func (c *Conn) Options() voice.JoinOptions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts
}

// WaitState implements [voice.Conn].
func (c *Conn) WaitState(ctx context.Context, s voice.ConnState) error {
	for {
		c.mu.Lock()
		if c.state == s {
			c.mu.Unlock()
			return nil
		}
		ch := c.changed
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// OnState implements [voice.Conn].
func (c *Conn) OnState(cb func(voice.ConnState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateCb = cb
}

// Frames implements [voice.Conn].
func (c *Conn) Frames() <-chan voice.AudioFrame { return c.frames }

// Sink implements [voice.Conn].
func (c *Conn) Sink() voice.Sink { return c.sink }

// Rejoin re-establishes the session with new options, typically a move to
// another channel. The outcome arrives as state transitions: Signalling while
// the move is in flight, then Ready or Disconnected.
func (c *Conn) Rejoin(opts voice.JoinOptions) bool {
	c.mu.Lock()
	if c.state == voice.StateDestroyed {
		c.mu.Unlock()
		return false
	}
	c.opts = opts
	c.mu.Unlock()

	c.setState(voice.StateSignalling)
	go func() {
		_, err := c.session.ChannelVoiceJoin(c.guildID, opts.ChannelID, opts.SelfMute, opts.SelfDeaf)
		if err != nil {
			c.setState(voice.StateDisconnected)
			return
		}
		c.mu.Lock()
		c.target = opts.ChannelID
		c.mu.Unlock()
		c.setState(voice.StateReady)
	}()
	return true
}

// Disconnect implements [voice.Conn].
func (c *Conn) Disconnect() {
	if c.disconnectVC != nil {
		_ = c.disconnectVC()
	}
	c.setState(voice.StateDisconnected)
}

// Destroy implements [voice.Conn]. Safe to call more than once.
func (c *Conn) Destroy() {
	c.destroyOnce.Do(func() {
		close(c.done)
		if c.removeHandler != nil {
			c.removeHandler()
		}
		if c.disconnectVC != nil {
			_ = c.disconnectVC()
		}
		c.setState(voice.StateDestroyed)
		close(c.frames)
	})
}

// setState applies a state transition, waking waiters and notifying the
// registered callback. Transitions out of Destroyed are ignored.
func (c *Conn) setState(s voice.ConnState) {
	c.mu.Lock()
	if c.state == s || c.state == voice.StateDestroyed {
		c.mu.Unlock()
		return
	}
	c.state = s
	close(c.changed)
	c.changed = make(chan struct{})
	cb := c.stateCb
	c.mu.Unlock()

	if cb != nil {
		go cb(s)
	}
}

// recvLoop reads Opus packets from the voice connection, attributes them to
// speakers, and delivers them as frames. A closed packet channel means the
// underlying connection is gone.
func (c *Conn) recvLoop() {
	for {
		select {
		case <-c.done:
			return
		case pkt, ok := <-c.vc.OpusRecv:
			if !ok {
				c.setState(voice.StateDisconnected)
				return
			}
			if pkt == nil {
				continue
			}
			frame := voice.AudioFrame{
				Speaker: c.speakerFor(pkt.SSRC),
				Data:    pkt.Opus,
				Arrived: time.Now(),
			}
			select {
			case c.frames <- frame:
			default:
				// Consumer is behind. Drop rather than block the receive path.
			}
		}
	}
}

// speakerFor resolves an SSRC to a user ID, falling back to the SSRC itself
// until a speaking update has provided the mapping.
func (c *Conn) speakerFor(ssrc uint32) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if userID, ok := c.speakers[ssrc]; ok {
		return userID
	}
	return strconv.FormatUint(uint64(ssrc), 10)
}

// handleSpeakingUpdate records the SSRC to user mapping Discord announces
// whenever a participant starts or stops speaking.
func (c *Conn) handleSpeakingUpdate(_ *discordgo.VoiceConnection, vs *discordgo.VoiceSpeakingUpdate) {
	if vs == nil || vs.UserID == "" {
		return
	}
	c.mu.Lock()
	c.speakers[uint32(vs.SSRC)] = vs.UserID
	c.mu.Unlock()
}

// handleVoiceStateUpdate watches the bot's own voice state in this guild. An
// empty channel means the session was dropped or kicked; a differing channel
// means the platform moved the session.
func (c *Conn) handleVoiceStateUpdate(s *discordgo.Session, vsu *discordgo.VoiceStateUpdate) {
	if vsu.GuildID != c.guildID {
		return
	}
	if s.State == nil || s.State.User == nil || vsu.UserID != s.State.User.ID {
		return
	}

	if vsu.ChannelID == "" {
		c.setState(voice.StateDisconnected)
		return
	}

	c.mu.Lock()
	moved := vsu.ChannelID != c.target
	c.target = vsu.ChannelID
	c.mu.Unlock()
	if moved {
		c.setState(voice.StateReady)
	}
}

// setSpeaking forwards the speaking notification to Discord.
func (c *Conn) setSpeaking(b bool) error {
	return c.vc.Speaking(b)
}
