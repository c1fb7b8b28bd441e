// Package engine defines the pluggable speech-engine contracts of Vocifer:
// a [Recognizer] turns speech segments into transcripts, a [Synthesizer]
// turns text into playable audio. Engines are registered by logical name in
// a [Registry]; the assistant picks one per request via ranked lookup.
package engine

import (
	"context"
	"io"

	"github.com/vocifer/vocifer/internal/pipeline/segment"
)

// Voice identifies one synthesizer voice.
type Voice struct {
	// ID is the engine-specific voice identifier (e.g. a speaker id).
	ID string

	// Locale is the BCP-47 locale the voice speaks, if known.
	Locale string
}

// RecognitionRequest asks a recognizer to transcribe one speech segment.
type RecognitionRequest struct {
	// Segment is the utterance to transcribe. Results and lifecycle events
	// are delivered through the segment's hooks.
	Segment *segment.Segment

	// Locale selects the transcription language. Empty means the engine's
	// default.
	Locale string

	// Interim forwards in-progress results in addition to final ones.
	Interim bool
}

// Recognizer transcribes speech segments. Implementations must be safe for
// concurrent use.
type Recognizer interface {
	// Name is the logical engine name used for registry lookups.
	Name() string

	// Active reports whether the engine can currently accept work.
	Active() bool

	// Locales lists the locales the engine supports. An empty list means
	// any locale is accepted.
	Locales() []string

	// Transcribe submits req for asynchronous transcription. Reports whether
	// the request was accepted; false means no capacity, and the segment is
	// left untouched so the caller can abort or retry it.
	Transcribe(req RecognitionRequest) bool

	// Close releases the engine's resources.
	Close() error
}

// SpeechRequest asks a synthesizer for one utterance of audio.
type SpeechRequest struct {
	// Text is the utterance to speak.
	Text string

	// Voice is the engine-specific voice id. Empty means the engine's
	// default voice for Locale.
	Voice string

	// Locale hints the language of Text, for engines with per-locale
	// default voices.
	Locale string

	// Speed adjusts speaking rate; 0 means the engine default.
	Speed float64

	// Pitch adjusts voice pitch; 0 means the engine default. Engines without
	// native pitch control approximate it and say so in their docs.
	Pitch float64
}

// Synthesizer turns text into playable audio. Generated audio is 48 kHz mono
// little-endian 16-bit PCM, the format the playback sink consumes.
// Implementations must be safe for concurrent use.
type Synthesizer interface {
	// Name is the logical engine name used for registry lookups.
	Name() string

	// Active reports whether the engine can currently accept work.
	Active() bool

	// Voices lists the voices the engine offers.
	Voices(ctx context.Context) ([]Voice, error)

	// DefaultVoice returns the voice used when a request names none. The
	// locale narrows the choice where the engine has per-locale defaults;
	// empty input returns the engine-wide default.
	DefaultVoice(locale string) string

	// Generate synthesizes req and returns a reader over the PCM audio.
	Generate(ctx context.Context, req SpeechRequest) (io.Reader, error)

	// Close releases the engine's resources.
	Close() error
}
