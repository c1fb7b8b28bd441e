// Package discord provides a [voice.Transport] implementation backed by
// Discord voice channels via the bwmarrin/discordgo library. Inbound audio is
// delivered as per-speaker Opus frame payloads; outbound playback accepts the
// 48 kHz mono PCM the synthesis engines produce and encodes it to Opus on the
// fly.
//
// The transport requires an active *discordgo.Session (owned by the bot
// layer) and is scoped to one guild: Discord allows at most one voice
// connection per guild and session, so each guild gets its own Transport.
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/vocifer/vocifer/pkg/voice"
)

// Compile-time interface assertion.
var _ voice.Transport = (*Transport)(nil)

// Transport implements [voice.Transport] for one guild of a discordgo
// session.
//
// Transport is safe for concurrent use.
type Transport struct {
	session *discordgo.Session
	guildID string
}

// New creates a Transport for the given session and guild.
func New(session *discordgo.Session, guildID string) *Transport {
	return &Transport{
		session: session,
		guildID: guildID,
	}
}

// Dial joins the voice channel named in opts and returns the live connection.
// The discordgo library bounds the join handshake itself, so a connection
// returned here is already in [voice.StateReady]; ctx is unused beyond early
// cancellation checks.
func (t *Transport) Dial(ctx context.Context, opts voice.JoinOptions) (voice.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vc, err := t.session.ChannelVoiceJoin(t.guildID, opts.ChannelID, opts.SelfMute, opts.SelfDeaf)
	if err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", opts.ChannelID, err)
	}
	return newConn(vc, t.session, t.guildID, opts), nil
}
