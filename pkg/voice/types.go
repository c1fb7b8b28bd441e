package voice

import "time"

// AudioFrame is one fixed-cadence chunk of encoded audio from a single
// speaker on the call. Frames are the atomic unit of inbound audio transport:
// the platform adapter produces them, the segmenter consumes each one
// exactly once.
type AudioFrame struct {
	// Speaker is the platform-specific identity of the participant who
	// produced this frame.
	Speaker string

	// Data is the encoded audio payload (e.g. one Opus packet). The codec is
	// opaque to the pipeline; recognizer adapters decode it with a
	// platform-provided decode function.
	Data []byte

	// Arrived records when the frame was received from the transport.
	// Adapters may leave it zero; consumers fill it with the local clock.
	Arrived time.Time
}

// JoinOptions describes the target of a voice-channel join.
type JoinOptions struct {
	// ChannelID identifies the voice channel to join.
	ChannelID string

	// SelfMute suppresses outbound audio while joined.
	SelfMute bool

	// SelfDeaf suppresses inbound audio while joined.
	SelfDeaf bool
}
